package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Manage and test the case study catalog",
}

var casesMatchCmd = &cobra.Command{
	Use:   "match",
	Short: "Pick case studies for a company",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		company, _ := cmd.Flags().GetString("company")
		industry, _ := cmd.Flags().GetString("industry")
		country, _ := cmd.Flags().GetString("country")

		env, err := initEnv(ctx, config.ModePipeline)
		if err != nil {
			return err
		}
		defer env.Close()

		matched := env.Matcher.MatchCasesForOpportunity(ctx, company, industry, country)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(matched)
	},
}

var casesSeedCmd = &cobra.Command{
	Use:   "seed [file]",
	Short: "Load cases from a YAML or JSON file into the local catalog",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path := cfg.Cases.SeedPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return eris.New("case file is required (argument or OUTREACH_CASES_SEED_PATH)")
		}

		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := seedCases(ctx, env, path); err != nil {
			return err
		}
		all, err := env.Store.ListCases(ctx)
		if err != nil {
			return eris.Wrap(err, "list cases")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d cases in catalog\n", len(all))
		return nil
	},
}

func init() {
	casesMatchCmd.Flags().String("company", "", "company name (required)")
	casesMatchCmd.Flags().String("industry", "", "industry label")
	casesMatchCmd.Flags().String("country", "", "country name")
	_ = casesMatchCmd.MarkFlagRequired("company")

	casesCmd.AddCommand(casesMatchCmd)
	casesCmd.AddCommand(casesSeedCmd)
	rootCmd.AddCommand(casesCmd)
}
