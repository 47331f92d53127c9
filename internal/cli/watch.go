package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chyon8/AI-consultant-sub001/internal/jobs"
	"github.com/chyon8/AI-consultant-sub001/internal/models"
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job's progress live",
	Long: `Follow a running job. On a terminal an animated progress view is shown;
otherwise events are printed line by line as they arrive over the live feed.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return RunJobProgress(apiClient, args[0])
	}
	return watchPlain(context.Background(), args[0])
}

// watchPlain streams job events over the websocket feed and prints them as
// plain lines, replaying the full chunk log first.
func watchPlain(ctx context.Context, jobID string) error {
	events, errs, err := apiClient.Watch(ctx, jobID, jobs.FullLog)
	if err != nil {
		return fmt.Errorf("watch job: %w", err)
	}

	for ev := range events {
		switch ev.Type {
		case jobs.EventChunk:
			if ev.Chunk == nil {
				continue
			}
			switch ev.Chunk.Kind {
			case models.ChunkKindStage:
				fmt.Printf("\n[stage] %s\n", ev.Chunk.Text)
			case models.ChunkKindError:
				fmt.Printf("\n[error] %s\n", ev.Chunk.Text)
			default:
				fmt.Print(ev.Chunk.Text)
			}
		case jobs.EventStatus:
			if !ev.Status.Terminal() {
				continue
			}
			fmt.Printf("\n[%s]", ev.Status)
			if ev.Error != "" {
				fmt.Printf(" %s", ev.Error)
			}
			fmt.Println()
			if ev.Status == models.JobStatusFailed {
				return fmt.Errorf("%s", ev.Error)
			}
			return nil
		}
	}

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}
