package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/scheduler"
	"github.com/sells-group/outreach-cli/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and cancel enrichment jobs",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := env.Store.ListJobs(ctx, store.JobFilter{
			UserID: user,
			Status: model.JobStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(cmd.OutOrStdout(), jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job with its progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Store.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		records, err := env.Store.ListRecords(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		withRecords, _ := cmd.Flags().GetBool("records")
		out := struct {
			Job      *model.Job     `json:"job"`
			Progress model.Progress `json:"progress"`
			Records  []model.Record `json:"records,omitempty"`
		}{
			Job:      job,
			Progress: scheduler.EstimateProgress(*job, records, cfg.Scheduler.BatchSize),
		}
		if withRecords {
			out.Records = records
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// -- jobs cancel --

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Stop scheduling a job's remaining records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.CancelJob(ctx, args[0]); err != nil {
			return eris.Wrap(err, "jobs cancel")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by job status (pending, processing, completed, ...)")
	jobsListCmd.Flags().String("user", "", "filter by owner")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsShowCmd.Flags().Bool("records", false, "include every record in the output")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILE\tOWNER\tSTATUS\tPROCESSED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t------\t---------\t-------")

	for _, j := range jobs {
		file := j.Filename
		if len(file) > 30 {
			file = file[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			truncateID(j.ID),
			file,
			j.UserID,
			j.Status,
			j.ProcessedRecords,
			j.TotalRecords,
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
