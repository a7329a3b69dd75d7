package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/sheet"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <job-id>",
	Short: "Write a job's records and drafted messages to an XLSX workbook",
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
			return eris.Wrap(err, "export")
		}
		records, err := env.Store.ListRecords(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		var buf bytes.Buffer
		if err := sheet.WriteExport(&buf, records); err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = sheet.ExportFilename(job.Filename)
		}
		if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
			return eris.Wrapf(err, "write %s", out)
		}

		zap.L().Info("export complete",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Int("records", len(records)),
		)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default <upload>_enriched.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
