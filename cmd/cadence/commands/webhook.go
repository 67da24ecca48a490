package commands

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/webhook"
)

// WebhookCmd represents the webhook command
var WebhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Record and inspect webhook events",
	Long: `Record and inspect stored webhook events. Replays run as
webhook_replay jobs:

  cadence webhook record --source billing --target https://... < payload.json
  cadence webhook ls --status failed
  cadence job enqueue webhook_replay --params '{"source":"billing"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var webhookRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Store a webhook payload read from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		target, _ := cmd.Flags().GetString("target")

		payload, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
		if err != nil {
			return err
		}

		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		e := &webhook.Event{
			Source:     source,
			TargetURL:  target,
			Payload:    json.RawMessage(payload),
			ReceivedAt: time.Now(),
		}
		if err := webhook.NewStore(database).Record(cmd.Context(), e); err != nil {
			return err
		}
		pterm.Success.Printfln("Recorded webhook event %s", e.ID)
		return nil
	},
}

var webhookLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List webhook events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		events, err := webhook.NewStore(database).List(cmd.Context(), webhook.Status(status), limit)
		if err != nil {
			return err
		}
		data := pterm.TableData{{"ID", "Source", "Target", "Status", "Attempts", "Received", "Last error"}}
		for _, e := range events {
			data = append(data, []string{
				e.ID,
				e.Source,
				e.TargetURL,
				string(e.Status),
				strconv.Itoa(e.Attempts),
				e.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
				truncate(e.LastError, 50),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	webhookRecordCmd.Flags().String("source", "", "Sending system")
	webhookRecordCmd.Flags().String("target", "", "URL the payload is replayed to")
	_ = webhookRecordCmd.MarkFlagRequired("source")
	_ = webhookRecordCmd.MarkFlagRequired("target")

	webhookLsCmd.Flags().String("status", "", "Filter by status: received, replayed, failed")
	webhookLsCmd.Flags().Int("limit", 20, "Maximum events to show")

	WebhookCmd.AddCommand(webhookRecordCmd)
	WebhookCmd.AddCommand(webhookLsCmd)
}
