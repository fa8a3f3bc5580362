package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/journey/internal/cli"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage local recovery snapshots",
	Long:  `List, inspect, and remove the snapshots kept by the recovery cache.`,
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions with a local snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime) error {
			keys, err := rt.Engine.PendingRecoveries()
			if err != nil {
				return fmt.Errorf("error listing snapshots: %w", err)
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

			p := printer(cmd, rt)
			if p.JSON {
				if keys == nil {
					keys = []domain.SessionKey{}
				}
				return p.Value(keys)
			}
			if len(keys) == 0 {
				return p.Line("No local snapshots found.")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Local snapshots:")
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), "- "+k.String())
			}
			return nil
		})
	},
}

var cacheInspectCmd = &cobra.Command{
	Use:   "inspect <user/playbook>",
	Short: "Print a snapshot, with sensitive fields masked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := cli.ParseKey(args[0])
		if err != nil {
			return err
		}
		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime) error {
			snap, err := rt.Engine.Cache().Read(key)
			if err != nil {
				return fmt.Errorf("error loading snapshot '%s': %w", key, err)
			}
			p := &cli.Printer{Out: cmd.OutOrStdout(), JSON: true}
			return p.Value(rt.Redactor.Snapshot(snap))
		})
	},
}

var cacheRmCmd = &cobra.Command{
	Use:   "rm <user/playbook>...",
	Short: "Remove one or more snapshots",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime) error {
			var errs []error
			for _, arg := range args {
				key, err := cli.ParseKey(arg)
				if err == nil {
					err = rt.Engine.Cache().Clear(key)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("error removing '%s': %w", arg, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed snapshot '%s'\n", key)
			}
			return errors.Join(errs...)
		})
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheLsCmd, cacheInspectCmd, cacheRmCmd)
}
