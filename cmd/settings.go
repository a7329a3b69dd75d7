package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and edit prompt templates and regional tones",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		all := env.Settings.GetAll(ctx)
		if len(all) == 0 {
			fmt.Fprintln(os.Stderr, "No settings stored. Run `outreach-cli settings seed` to add defaults.")
			return nil
		}
		formatSettingsList(cmd.OutOrStdout(), all)
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a setting, falling back to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		v, ok := env.Settings.Lookup(ctx, args[0])
		if !ok {
			return eris.Errorf("setting %q not found", args[0])
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a setting value, from the argument or --file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		value, err := settingValue(args, file)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Settings.Update(ctx, args[0], value); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
		return nil
	},
}

var settingsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert default templates for keys not yet stored",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Settings.Seed(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d settings\n", n)
		return nil
	},
}

// settingValue takes the value from the second argument or from a file,
// but not both.
func settingValue(args []string, file string) (string, error) {
	switch {
	case len(args) == 2 && file != "":
		return "", eris.New("pass a value or --file, not both")
	case len(args) == 2:
		return args[1], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", eris.Wrapf(err, "read %s", file)
		}
		return strings.TrimRight(string(data), "\n"), nil
	default:
		return "", eris.New("a value or --file is required")
	}
}

// formatSettingsList writes settings as a table with values cut to one line.
func formatSettingsList(out io.Writer, all []model.Setting) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tCATEGORY\tVALUE")
	_, _ = fmt.Fprintln(w, "---\t--------\t-----")
	for _, s := range all {
		v := strings.Join(strings.Fields(s.Value), " ")
		if len(v) > 60 {
			v = v[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Category, v)
	}
	_ = w.Flush()
}

func init() {
	settingsSetCmd.Flags().String("file", "", "read the value from a file")

	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsSeedCmd)
	rootCmd.AddCommand(settingsCmd)
}
