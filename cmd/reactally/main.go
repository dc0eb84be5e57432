// Package main provides the reactally binary entry point.
// Reactally tallies how many reactions of one kind each Slack user received.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"reactally/internal/cmdlog"
	"reactally/internal/config"
	"reactally/internal/logging"
	"reactally/internal/util"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "reactally"

	defaultConfigPath = "./reactally.yaml"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string

	cfg config.Config
	log zerolog.Logger
}

func rootCmd() *cobra.Command {
	c := &cli{log: zerolog.Nop()}
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Slack reaction leaderboard",
		Long: `Reactally walks every channel, message and thread a Slack bot can see,
keeps a ledger of how many times each author received a reaction, and
reports the leaderboard for any reaction marker.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.load,
	}
	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", defaultConfigPath, "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(
		c.initCmd(),
		c.syncCmd(),
		c.topCmd(),
		c.exportCmd(),
		c.trendCmd(),
		c.watchCmd(),
		c.serveCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

// load reads the config file, falling back to defaults plus environment when the
// default path does not exist.
func (c *cli) load(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.configPath)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	c.cfg, c.log = cfg, log
	return nil
}

// run wraps a command body with logging, metrics and a wired app.
func (c *cli) run(name string, f func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return cmdlog.Run(c.log, name, func() error {
			ctx := cmd.Context()
			a, err := openApp(ctx, c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()
			return f(ctx, a, args)
		})
	}
}

// marker returns the positional marker if given, else the configured one.
func (c *cli) marker(args []string) string {
	if len(args) > 0 {
		if m := util.NormalizeMarker(args[0]); m != "" {
			return m
		}
	}
	return c.cfg.Engine.ReactionMarker
}
