package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/journey/internal/cli"
	"github.com/aretw0/journey/internal/presentation/graph"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph <playbook>",
	Short: "Export a playbook as a Mermaid diagram",
	Long: `Outputs a Mermaid flowchart of the playbook items. With --overlay, the
progress of --user is highlighted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		overlay, _ := cmd.Flags().GetBool("overlay")
		if !overlay {
			definitionsOnly()
		}
		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime) error {
			def, err := cli.LoadDefinition(ctx, rt.Engine.Definitions(), args[0])
			if err != nil {
				return err
			}

			var ov *graph.Overlay
			if overlay {
				res, err := rt.Engine.GetStatus(ctx, domain.NewSessionKey(userID, args[0]))
				switch {
				case err == nil:
					ov = graph.NewOverlay(res.Progress, res.Responses)
				case !errors.Is(err, domain.ErrProgressNotFound):
					return err
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(def, ov))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().Bool("overlay", false, "Highlight the progress of --user")
}
