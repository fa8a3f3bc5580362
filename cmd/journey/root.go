package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aretw0/journey/internal/cli"
	"github.com/aretw0/journey/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfg     config.Config
	asJSON  bool
	userID  string
	cfgPath string
)

var rootCmd = &cobra.Command{
	Use:   "journey",
	Short: "Journey guides users through playbooks of ordered items",
	Long: `Journey tracks each user's progress through a playbook, validates their
responses and keeps a local recovery copy when the durable store is unreachable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return applyFlags(cmd, &cfg)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", cli.Describe(err))
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", "", "Config file (default ./"+config.DefaultFile+" when present)")
	pf.String("definitions", "", "Loam repository, playbook file or directory")
	pf.String("format", "", "Definition format: loam or file")
	pf.String("store", "", "Durable store driver: memory, sqlite, postgres, redis, mongo")
	pf.String("dsn", "", "Durable store connection string")
	pf.String("cache-dir", "", "Recovery cache directory")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&asJSON, "json", false, "Print JSON instead of formatted text")
	pf.StringVarP(&userID, "user", "u", os.Getenv("USER"), "User id of the session")
}

// applyFlags overrides config values with the flags given explicitly.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	set := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	set("definitions", &c.Definitions)
	set("format", &c.Format)
	set("store", &c.Store.Driver)
	set("dsn", &c.Store.DSN)
	set("cache-dir", &c.Cache.Dir)
	set("log-level", &c.Log.Level)
	return c.Validate()
}

// withRuntime builds the engine for one command and closes it afterwards.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *cli.Runtime) error) error {
	logger, err := cli.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt, err := cli.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("failed to close runtime", "err", err)
		}
	}()
	return fn(ctx, rt)
}

func printer(cmd *cobra.Command, rt *cli.Runtime) *cli.Printer {
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		return cli.NewPrinter(f, asJSON, rt.Redactor)
	}
	return &cli.Printer{Out: cmd.OutOrStdout(), JSON: asJSON, Redactor: rt.Redactor}
}
