package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/aretw0/journey"
	"github.com/aretw0/journey/internal/cli"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/spf13/cobra"
)

type sessionAction func(ctx context.Context, s *journey.Session, args []string) (domain.Result, error)

// sessionCommand builds a command acting on the session of --user and the
// playbook given as first argument.
func sessionCommand(use, short string, args cobra.PositionalArgs, action sessionAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime) error {
				def, err := cli.LoadDefinition(ctx, rt.Engine.Definitions(), args[0])
				if err != nil {
					return err
				}
				res, err := action(ctx, rt.Engine.Session(userID, args[0]), args[1:])
				if err != nil {
					return err
				}
				return printer(cmd, rt).Result(def, res)
			})
		},
	}
}

var externalRef string

var startCmd = sessionCommand("start <playbook>", "Start a playbook", cobra.ExactArgs(1),
	func(ctx context.Context, s *journey.Session, _ []string) (domain.Result, error) {
		return s.Start(ctx, externalRef)
	})

var statusCmd = sessionCommand("status <playbook>", "Show the progress of a playbook", cobra.ExactArgs(1),
	func(ctx context.Context, s *journey.Session, _ []string) (domain.Result, error) {
		return s.Status(ctx)
	})

var respondCmd = sessionCommand("respond <playbook> <item> <payload>",
	"Save the response to an item (payload: inline JSON, @file or - for stdin)", cobra.ExactArgs(3),
	func(ctx context.Context, s *journey.Session, args []string) (domain.Result, error) {
		payload, err := cli.ReadPayload(args[1], os.Stdin)
		if err != nil {
			return domain.Result{}, err
		}
		return s.Respond(ctx, args[0], payload)
	})

var nextCmd = sessionCommand("next <playbook>", "Move to the next item, or complete the playbook", cobra.ExactArgs(1),
	func(ctx context.Context, s *journey.Session, _ []string) (domain.Result, error) {
		return s.Next(ctx)
	})

var prevCmd = sessionCommand("prev <playbook>", "Move back one item", cobra.ExactArgs(1),
	func(ctx context.Context, s *journey.Session, _ []string) (domain.Result, error) {
		return s.Previous(ctx)
	})

var jumpCmd = sessionCommand("jump <playbook> <index>", "Jump to a reached item", cobra.ExactArgs(2),
	func(ctx context.Context, s *journey.Session, args []string) (domain.Result, error) {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return domain.Result{}, fmt.Errorf("invalid index %q", args[0])
		}
		return s.JumpTo(ctx, index)
	})

var abandonCmd = sessionCommand("abandon <playbook>", "Abandon a playbook in progress", cobra.ExactArgs(1),
	func(ctx context.Context, s *journey.Session, _ []string) (domain.Result, error) {
		return s.Abandon(ctx)
	})

var resetCmd = sessionCommand("reset <playbook>", "Discard progress and responses", cobra.ExactArgs(1),
	func(ctx context.Context, s *journey.Session, _ []string) (domain.Result, error) {
		return s.Reset(ctx)
	})

var keep string

var resolveCmd = sessionCommand("resolve <playbook>", "Settle a recovery conflict", cobra.ExactArgs(1),
	func(ctx context.Context, s *journey.Session, _ []string) (domain.Result, error) {
		resolution, err := domain.ParseResolution(keep)
		if err != nil {
			return domain.Result{}, err
		}
		return s.Resolve(ctx, resolution)
	})

func init() {
	startCmd.Flags().StringVar(&externalRef, "ref", "", "External reference stored with the progress")
	resolveCmd.Flags().StringVar(&keep, "keep", "durable", "Copy to keep: durable or local")

	rootCmd.AddCommand(startCmd, statusCmd, respondCmd, nextCmd, prevCmd, jumpCmd, abandonCmd, resetCmd, resolveCmd)
}
