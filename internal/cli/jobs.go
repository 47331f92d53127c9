package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List session jobs or inspect a specific job",
	Long: `List all jobs in a session or inspect a specific job by ID.

Examples:
  consultant jobs -s mysession    # List jobs in session "mysession"
  consultant jobs abc123          # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}

	if sessionID == "" {
		return fmt.Errorf("either a job id or --session is required")
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient.ListSessionJobs(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-10s %-18s %-12s %-10s %s\n", "ID", "TYPE", "STATUS", "PROGRESS", "CREATED")
	fmt.Println("------------------------------------------------------------------------")

	for _, job := range jobs {
		created := job.CreatedAt.Format("15:04:05")
		fmt.Printf("%-10s %-18s %-12s %-10s %s\n",
			job.ID, job.Type, job.Status, fmt.Sprintf("%d%%", job.Progress), created)
	}

	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient.GetJob(ctx, id, nil)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", id)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Session: %s\n", job.SessionID)
	fmt.Printf("  Type: %s\n", job.Type)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Progress: %d%%\n", job.Progress)
	fmt.Printf("  Chunks: %d\n", job.ChunkCount)
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		duration := job.CompletedAt.Sub(job.CreatedAt)
		fmt.Printf("  Duration: %s\n", duration.Round(time.Second))
	}

	if job.Error != "" {
		fmt.Printf("  Error: %s\n", job.Error)
	}

	if len(job.StagedResults) > 0 {
		fmt.Println("\nStages:")
		for _, sr := range job.StagedResults {
			fmt.Printf("  %-18s %s\n", sr.Stage, sr.CompletedAt.Format("15:04:05"))
		}
	}

	if job.Result != nil {
		fmt.Println("\nResult:")
		pretty, err := json.MarshalIndent(job.Result, "  ", "  ")
		if err != nil {
			return fmt.Errorf("format result: %w", err)
		}
		fmt.Printf("  %s\n", pretty)
	}

	return nil
}
