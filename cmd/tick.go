package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/scheduler"
)

var (
	tickUntilDone bool
	tickMaxTicks  int
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Process one batch of pending records",
	Long:  "Runs a single scheduler tick: claims up to batch_size pending records, enriches them and updates job status. With --until-done, ticks until nothing is pending.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModePipeline)
		if err != nil {
			return err
		}
		defer env.Close()

		var total scheduler.Result
		for i := 0; tickMaxTicks <= 0 || i < tickMaxTicks; i++ {
			res, err := env.Scheduler.ProcessPendingRecords(ctx)
			if err != nil {
				return eris.Wrap(err, "tick")
			}
			total = addResults(total, res)
			if !tickUntilDone || res.RecordsProcessed == 0 {
				break
			}
			zap.L().Info("tick complete",
				zap.Int("tick", i+1),
				zap.Int("records", res.RecordsProcessed),
				zap.Int("failed", res.Failed),
			)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(total)
	},
}

func addResults(a, b scheduler.Result) scheduler.Result {
	return scheduler.Result{
		JobsProcessed:    a.JobsProcessed + b.JobsProcessed,
		RecordsProcessed: a.RecordsProcessed + b.RecordsProcessed,
		Failed:           a.Failed + b.Failed,
		Degraded:         a.Degraded + b.Degraded,
		Released:         a.Released + b.Released,
	}
}

func init() {
	tickCmd.Flags().BoolVar(&tickUntilDone, "until-done", false, "keep ticking until no pending records remain")
	tickCmd.Flags().IntVar(&tickMaxTicks, "max-ticks", 0, "stop after this many ticks (0 = no limit)")
	rootCmd.AddCommand(tickCmd)
}
