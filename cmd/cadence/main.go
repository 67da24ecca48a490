package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/cadence/cmd/cadence/commands"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "cadence - background job runner and recurring-campaign scheduler",
	Long: `cadence runs background jobs from a SQLite-backed queue and fires
recurring message campaigns on their schedule.

Available commands:
  am        - Manage configuration ("I am")
  db        - Database migrations
  pulse     - Run the scheduler (once, or as a daemon)
  job       - Enqueue and inspect jobs
  campaign  - Apply and inspect recurring campaigns
  webhook   - Record and inspect webhook events
  version   - Show build information

Examples:
  cadence am init                       # Write a default am.toml
  cadence campaign apply -f spring.yaml # Create campaigns from YAML
  cadence job enqueue recurring_messages
  cadence pulse run-once                # One scheduler pass, JSON summary
  cadence pulse start                   # Ticker or cron daemon`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.CampaignCmd)
	rootCmd.AddCommand(commands.WebhookCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
