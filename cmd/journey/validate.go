package main

import (
	"context"
	"fmt"

	"github.com/aretw0/journey/internal/cli"
	"github.com/aretw0/journey/internal/validator"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the playbook definitions",
	Long:  `Loads every playbook and reports structural errors and items that would stall a user.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		definitionsOnly()
		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime) error {
			report, err := validator.Validate(ctx, rt.Engine.Definitions())
			if err != nil {
				return err
			}
			p := printer(cmd, rt)
			if p.JSON {
				if err := p.Value(report); err != nil {
					return err
				}
				return report.Err()
			}
			for _, f := range report.Findings {
				fmt.Fprintln(cmd.OutOrStdout(), f.String())
			}
			if err := report.Err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d playbooks are valid! ✅\n", report.Playbooks)
			return nil
		})
	},
}

// definitionsOnly keeps commands that only read playbooks away from the
// configured stores.
func definitionsOnly() {
	cfg.Store.Driver = "memory"
	cfg.Cache.Dir = ""
	cfg.Cache.Key = ""
	cfg.Lock.Redis = ""
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
