// Package cli provides the command-line interface for the consultant server.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/chyon8/AI-consultant-sub001/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	sessionID string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "consultant",
	Short: "AI consulting proposal generator",
	Long: `Consultant submits analysis and document-generation jobs to the
consultant server and streams their progress.

Jobs run in the background on the server; stages of the consulting proposal
(overview, modules, estimates, schedule, summary) become available as the
generation progresses.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		apiClient = client.New(serverURL)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default CONSULTANT_SERVER_URL or http://localhost:8090)")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "session id grouping related jobs")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
