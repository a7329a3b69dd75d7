package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/pipeline"
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <record-id>",
	Short: "Redraft the messages of a completed record",
	Long:  "Redrafts one message (--message 1-3) or all three from the record's stored research, optionally restricted to chosen news items and cases and with a different regional tone.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req := pipeline.RegenerateRequest{RecordID: args[0]}
		req.MessageNumber, _ = cmd.Flags().GetInt("message")
		req.ToneOverride, _ = cmd.Flags().GetString("tone")
		if cmd.Flags().Changed("news") {
			req.SelectedNewsIndices, _ = cmd.Flags().GetIntSlice("news")
		}
		if cmd.Flags().Changed("cases") {
			req.SelectedCaseIndices, _ = cmd.Flags().GetIntSlice("cases")
		}

		env, err := initEnv(ctx, config.ModePipeline)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Processor.Regenerate(ctx, req)
		if err != nil {
			return eris.Wrap(err, "regenerate")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	regenerateCmd.Flags().Int("message", 0, "message number to redraft (0 = all)")
	regenerateCmd.Flags().String("tone", "", "regional tone override (uk, usa, mena, eu, dach)")
	regenerateCmd.Flags().IntSlice("news", nil, "news indices to reference (default all)")
	regenerateCmd.Flags().IntSlice("cases", nil, "case indices to reference (default all)")
	rootCmd.AddCommand(regenerateCmd)
}
