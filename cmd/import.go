package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/sheet"
)

var importUser string

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create a job from an XLSX or CSV lead sheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "read %s", path)
		}
		leads, err := sheet.ReadLeads(data, path)
		if err != nil {
			return eris.Wrapf(err, "parse %s", path)
		}

		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Store.CreateJob(ctx, importUser, filepath.Base(path), leads)
		if err != nil {
			return eris.Wrap(err, "create job")
		}

		zap.L().Info("import complete",
			zap.String("job_id", job.ID),
			zap.Int("records", job.TotalRecords),
			zap.String("file", path),
		)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), job.ID)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importUser, "user", "cli", "owner recorded on the job")
	rootCmd.AddCommand(importCmd)
}
