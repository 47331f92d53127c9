package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or running job",
	Long: `Request cancellation of a job. Cancellation is cooperative: the server
stops the generation at the next fragment boundary. Already-finished jobs
cannot be cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	cancelled, err := apiClient.Cancel(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if !cancelled {
		fmt.Printf("Job %s is already finished\n", args[0])
		return nil
	}
	fmt.Printf("Job %s cancelled\n", args[0])
	return nil
}
