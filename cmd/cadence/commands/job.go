package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/async"
)

// JobCmd represents the job command
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: "Enqueue and inspect background jobs",
	Long: `Enqueue and inspect background jobs.

Job types:
  recurring_messages   {"campaign_id": "..."}                  (campaign_id optional)
  webhook_replay       {"event_ids": [...], "source": "...", "limit": 50}
  insight_generation   {"subject_type": "...", "subject_id": "...", "prompt": "..."}
  retention_cleanup    {"older_than_days": 90}
  report_generation    {"kind": "jobs|campaigns|full", "campaign_id": "..."}

Examples:
  cadence job enqueue recurring_messages
  cadence job enqueue report_generation --params '{"kind":"full"}'
  cadence job enqueue retention_cleanup --at 2025-04-01T03:00:00Z
  cadence job ls --status failed
  cadence job status <id>
  cadence job logs <id>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobEnqueueCmd = &cobra.Command{
	Use:   "enqueue <type>",
	Short: "Enqueue a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobEnqueue,
}

var jobLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, newest first",
	RunE:  runJobLs,
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show one job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		job, err := async.NewStore(database).GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(job)
	},
}

var jobLogsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Show a job's execution log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		entries, err := async.NewStore(database).ListLogs(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			pterm.Info.Printfln("No log entries for job %s", args[0])
			return nil
		}

		data := pterm.TableData{{"Time", "Level", "Message", "Metadata"}}
		for _, e := range entries {
			meta := ""
			if len(e.Metadata) > 0 {
				raw, _ := json.Marshal(e.Metadata)
				meta = string(raw)
			}
			data = append(data, []string{
				e.Timestamp.Local().Format("2006-01-02 15:04:05"),
				string(e.Level),
				e.Message,
				meta,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	jobEnqueueCmd.Flags().String("params", "", "Job parameters as JSON")
	jobEnqueueCmd.Flags().Int("priority", async.DefaultPriority, "Priority (lower runs first)")
	jobEnqueueCmd.Flags().String("at", "", "Earliest run time, RFC3339 (default: now)")
	jobEnqueueCmd.Flags().Int("max-retries", -1, "Retries before the job fails (default: pulse.max_retries)")

	jobLsCmd.Flags().String("status", "", "Filter by status: pending, running, completed, failed")
	jobLsCmd.Flags().String("type", "", "Filter by job type")
	jobLsCmd.Flags().Int("limit", 20, "Maximum jobs to show")

	JobCmd.AddCommand(jobEnqueueCmd)
	JobCmd.AddCommand(jobLsCmd)
	JobCmd.AddCommand(jobStatusCmd)
	JobCmd.AddCommand(jobLogsCmd)
}

func runJobEnqueue(cmd *cobra.Command, args []string) error {
	rawParams, _ := cmd.Flags().GetString("params")
	priority, _ := cmd.Flags().GetInt("priority")
	at, _ := cmd.Flags().GetString("at")
	maxRetries, _ := cmd.Flags().GetInt("max-retries")

	params, err := async.ParseParams(async.JobType(args[0]), json.RawMessage(rawParams))
	if err != nil {
		return err
	}

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	opts := async.EnqueueOptions{Priority: &priority}
	if maxRetries < 0 {
		maxRetries = cfg.Pulse.MaxRetries
	}
	opts.MaxRetries = &maxRetries
	if at != "" {
		if opts.ScheduledFor, err = time.Parse(time.RFC3339, at); err != nil {
			return errors.Wrap(err, "invalid --at")
		}
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := async.NewStore(database).Enqueue(cmd.Context(), params, opts)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Enqueued %s job %s (scheduled %s)", job.Type, job.ID, job.ScheduledFor.Local().Format(time.RFC3339))
	return nil
}

func runJobLs(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	jobType, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")

	if status != "" && !async.IsValidStatus(status) {
		return errors.Newf("unknown status %q", status)
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	jobs, err := async.NewStore(database).ListJobs(cmd.Context(), async.ListFilter{
		Status: async.JobStatus(status),
		Type:   async.JobType(jobType),
		Limit:  limit,
	})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		pterm.Info.Println("No jobs found")
		return nil
	}

	data := pterm.TableData{{"ID", "Type", "Status", "Pri", "Progress", "Retries", "Scheduled", "Error"}}
	for _, j := range jobs {
		data = append(data, []string{
			j.ID,
			string(j.Type),
			string(j.Status),
			strconv.Itoa(j.Priority),
			fmt.Sprintf("%d%%", j.Progress),
			fmt.Sprintf("%d/%d", j.RetryCount, j.MaxRetries),
			j.ScheduledFor.Local().Format("2006-01-02 15:04:05"),
			truncate(j.ErrorMessage, 60),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
