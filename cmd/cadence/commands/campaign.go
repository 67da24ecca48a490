package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/campaign"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

// CampaignCmd represents the campaign command
var CampaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: logger.SymbolCampaign + " Manage recurring campaigns",
	Long: logger.SymbolCampaign + ` Recurring campaigns.

A campaign fires one instance per interval. Each instance renders the
message for every active recipient and hands it to the delivery service.
Recipients who paid, replied or reached max_messages are stopped for good
when the campaign lists that stop condition.

Examples:
  cadence campaign apply -f spring.yaml
  cadence campaign ls
  cadence campaign instances <campaign-id>
  cadence campaign outcomes <instance-id>
  cadence campaign recipient paid <recipient-id>
  cadence campaign pause <campaign-id>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var campaignApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create campaigns from a YAML definitions file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		defs, err := campaign.LoadDefinitions(f)
		if err != nil {
			return err
		}

		store, closeFn, err := openCampaignStore()
		if err != nil {
			return err
		}
		defer closeFn()

		now := time.Now()
		for _, def := range defs {
			c, first, err := store.Apply(cmd.Context(), def, now)
			if err != nil {
				return errors.Wrapf(err, "campaign %q", def.Name)
			}
			pterm.Success.Printfln("%s %s (%s): %d recipients, first instance %s",
				logger.SymbolCampaign, c.Name, c.ID, len(def.Recipients), first.ScheduledFor.Local().Format(time.RFC3339))
		}
		return nil
	},
}

var campaignLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openCampaignStore()
		if err != nil {
			return err
		}
		defer closeFn()

		campaigns, err := store.ListCampaigns(cmd.Context())
		if err != nil {
			return err
		}
		if len(campaigns) == 0 {
			pterm.Info.Println("No campaigns")
			return nil
		}

		data := pterm.TableData{{"ID", "Name", "Channel", "Every", "Active", "Stops", "Next"}}
		for _, c := range campaigns {
			next := "-"
			if inst, err := store.ScheduledInstance(cmd.Context(), c.ID); err != nil {
				return err
			} else if inst != nil {
				next = inst.ScheduledFor.Local().Format("2006-01-02 15:04")
			}
			data = append(data, []string{
				c.ID,
				c.Name,
				string(c.Channel),
				fmt.Sprintf("%d %s", c.IntervalValue, c.Interval),
				strconv.FormatBool(c.IsActive),
				c.StopConditions.String(),
				next,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var campaignInstancesCmd = &cobra.Command{
	Use:   "instances <campaign-id>",
	Short: "List a campaign's instances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openCampaignStore()
		if err != nil {
			return err
		}
		defer closeFn()

		if _, err := store.GetCampaign(cmd.Context(), args[0]); err != nil {
			return err
		}
		instances, err := store.ListInstances(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		data := pterm.TableData{{"ID", "Scheduled", "Status", "Sent at", "Recipients", "OK", "Failed"}}
		for _, inst := range instances {
			sentAt := "-"
			if inst.ActualSentAt != nil {
				sentAt = inst.ActualSentAt.Local().Format("2006-01-02 15:04")
			}
			data = append(data, []string{
				inst.ID,
				inst.ScheduledFor.Local().Format("2006-01-02 15:04"),
				string(inst.Status),
				sentAt,
				strconv.Itoa(inst.RecipientCount),
				strconv.Itoa(inst.SuccessCount),
				strconv.Itoa(inst.FailureCount),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var campaignOutcomesCmd = &cobra.Command{
	Use:   "outcomes <instance-id>",
	Short: "Show per-recipient outcomes of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openCampaignStore()
		if err != nil {
			return err
		}
		defer closeFn()

		outcomes, err := store.ListOutcomes(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		data := pterm.TableData{{"Recipient", "Status", "Reason", "Reference"}}
		for _, o := range outcomes {
			data = append(data, []string{o.RecipientID, string(o.Status), truncate(o.Reason, 60), o.MessageRef})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var campaignPauseCmd = &cobra.Command{
	Use:   "pause <campaign-id>",
	Short: "Pause a campaign; its pending instance is cancelled when due",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openCampaignStore()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := store.SetActive(cmd.Context(), args[0], false, time.Now()); err != nil {
			return err
		}
		pterm.Success.Printfln("Paused campaign %s", args[0])
		return nil
	},
}

var campaignResumeCmd = &cobra.Command{
	Use:   "resume <campaign-id>",
	Short: "Resume a paused campaign and schedule its next instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openCampaignStore()
		if err != nil {
			return err
		}
		defer closeFn()

		now := time.Now()
		if err := store.SetActive(cmd.Context(), args[0], true, now); err != nil {
			return err
		}
		inst, err := campaign.NewEngine(store, logger.Logger).ScheduleNext(cmd.Context(), args[0], now)
		if err != nil {
			return err
		}
		if inst != nil {
			pterm.Success.Printfln("Resumed campaign %s, next instance %s", args[0], inst.ScheduledFor.Local().Format(time.RFC3339))
		} else {
			pterm.Success.Printfln("Resumed campaign %s", args[0])
		}
		return nil
	},
}

var campaignStatsCmd = &cobra.Command{
	Use:   "stats [campaign-id]",
	Short: "Show delivery totals per campaign",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openCampaignStore()
		if err != nil {
			return err
		}
		defer closeFn()

		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		stats, err := store.CampaignStats(cmd.Context(), id)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(stats)
		}

		data := pterm.TableData{{"Campaign", "Active", "Sent", "Cancelled", "Scheduled", "OK", "Failed", "Recipients", "Stopped"}}
		for _, st := range stats {
			stopped := 0
			for _, n := range st.StoppedRecipients {
				stopped += n
			}
			data = append(data, []string{
				st.Name,
				strconv.FormatBool(st.IsActive),
				strconv.Itoa(st.Instances[campaign.InstanceSent]),
				strconv.Itoa(st.Instances[campaign.InstanceCancelled]),
				strconv.Itoa(st.Instances[campaign.InstanceScheduled]),
				strconv.Itoa(st.Successes),
				strconv.Itoa(st.Failures),
				strconv.Itoa(st.ActiveRecipients),
				strconv.Itoa(stopped),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var campaignRecipientCmd = &cobra.Command{
	Use:   "recipient",
	Short: "Record recipient signals used by stop conditions",
}

var recipientPaidCmd = &cobra.Command{
	Use:   "paid <recipient-id>",
	Short: "Mark that the recipient completed payment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openCampaignStore()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := store.MarkPaymentCompleted(cmd.Context(), args[0], time.Now()); err != nil {
			return err
		}
		pterm.Success.Printfln("Recorded payment for recipient %s", args[0])
		return nil
	},
}

var recipientRespondedCmd = &cobra.Command{
	Use:   "responded <recipient-id>",
	Short: "Mark that the recipient replied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openCampaignStore()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := store.MarkResponseReceived(cmd.Context(), args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("Recorded response from recipient %s", args[0])
		return nil
	},
}

func init() {
	campaignApplyCmd.Flags().StringP("file", "f", "", "YAML definitions file")
	_ = campaignApplyCmd.MarkFlagRequired("file")
	campaignStatsCmd.Flags().Bool("json", false, "Print as JSON")

	campaignRecipientCmd.AddCommand(recipientPaidCmd)
	campaignRecipientCmd.AddCommand(recipientRespondedCmd)

	CampaignCmd.AddCommand(campaignApplyCmd)
	CampaignCmd.AddCommand(campaignLsCmd)
	CampaignCmd.AddCommand(campaignInstancesCmd)
	CampaignCmd.AddCommand(campaignOutcomesCmd)
	CampaignCmd.AddCommand(campaignPauseCmd)
	CampaignCmd.AddCommand(campaignResumeCmd)
	CampaignCmd.AddCommand(campaignStatsCmd)
	CampaignCmd.AddCommand(campaignRecipientCmd)
}

func openCampaignStore() (*campaign.Store, func(), error) {
	database, err := openDatabase("")
	if err != nil {
		return nil, nil, err
	}
	return campaign.NewStore(database), func() { database.Close() }, nil
}
