package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chyon8/AI-consultant-sub001/internal/server"
)

var (
	submitType  string
	submitModel string
	noWatch     bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <prompt>",
	Short: "Submit a generation job",
	Long: `Submit a generation job and watch its progress.

The session groups related jobs; at most one job per session runs at a time.
If the session already has an active job, its id is printed instead of
starting a new one.

Examples:
  consultant submit -s proj1 "Build an e-commerce platform for ceramics"
  consultant submit -s proj1 -t generate-document "Write the project brief"`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitType, "type", "t", "analyze", "job type: analyze, generate-document, chat")
	submitCmd.Flags().StringVarP(&submitModel, "model", "m", "", "override the server's default model")
	submitCmd.Flags().BoolVar(&noWatch, "no-watch", false, "print the job id and exit instead of watching")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	session := sessionID
	if session == "" {
		session = uuid.New().String()[:8]
		fmt.Printf("Session: %s\n", session)
	}

	job, created, err := apiClient.Submit(ctx, server.CreateJobRequest{
		SessionID: session,
		Type:      submitType,
		Prompt:    args[0],
		Model:     submitModel,
	})
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}

	if !created {
		fmt.Printf("Session %s already has an active job: %s (%s)\n", session, job.ID, job.Status)
	} else {
		fmt.Printf("Job %s submitted\n", job.ID)
	}

	if noWatch {
		fmt.Printf("Use 'consultant watch %s' to follow progress.\n", job.ID)
		return nil
	}

	// The animated UI needs a terminal; fall back to line output otherwise.
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return RunJobProgress(apiClient, job.ID)
	}
	return watchPlain(ctx, job.ID)
}
