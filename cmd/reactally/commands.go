package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"reactally/internal/analytics"
	"reactally/internal/config"
	"reactally/internal/httpapi"
	"reactally/internal/jobs"
	"reactally/internal/logging"
	"reactally/internal/model"
	"reactally/internal/rank"
	"reactally/internal/report"
	"reactally/internal/schedule"
	"reactally/internal/theme"
)

func (c *cli) initCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			theme.PrintBanner(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "Config written to:", abs)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", defaultConfigPath, "path to write config")
	return cmd
}

func (c *cli) syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [marker]",
		Short: "Refresh the ledger from Slack for one reaction marker",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.RunE = c.run("sync", func(ctx context.Context, a *app, args []string) error {
		run, err := jobs.RunSyncOnce(ctx, a.engine, a.ledger, c.marker(args), logging.Component(a.log, "jobs"))
		if err != nil {
			return err
		}
		return report.PrintRun(cmd.OutOrStdout(), run)
	})
	return cmd
}

type boardOptions struct {
	limit int
	asc   bool
	mode  string
	csv   string
}

func (c *cli) topCmd() *cobra.Command {
	var o boardOptions
	cmd := &cobra.Command{
		Use:   "top [marker]",
		Short: "Print the leaderboard, syncing first in refresh mode",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.RunE = c.run("top", func(ctx context.Context, a *app, args []string) error {
		marker := c.marker(args)
		mode := a.cfg.Engine.SyncMode
		if cmd.Flags().Changed("mode") {
			mode = o.mode
		}
		switch mode {
		case config.SyncRefresh:
			if err := a.syncOnce(ctx, marker); err != nil {
				return err
			}
		case config.SyncCached:
		default:
			return fmt.Errorf("unknown mode %q (refresh or cached)", mode)
		}
		entries, last, err := c.leaderboard(ctx, cmd, a, marker, o)
		if err != nil {
			return err
		}
		if err := report.PrintLeaderboard(cmd.OutOrStdout(), marker, entries, last); err != nil {
			return err
		}
		if o.csv == "" {
			return nil
		}
		return writeCSVFile(o.csv, entries)
	})
	cmd.Flags().IntVar(&o.limit, "limit", 0, "number of users to show (default from config)")
	cmd.Flags().BoolVar(&o.asc, "asc", false, "lowest totals first")
	cmd.Flags().StringVar(&o.mode, "mode", "", "refresh or cached (default from config)")
	cmd.Flags().StringVar(&o.csv, "csv", "", "also write the leaderboard as CSV to this file")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var o boardOptions
	cmd := &cobra.Command{
		Use:   "export <file> [marker]",
		Short: "Write the ledger's leaderboard as CSV without syncing",
		Args:  cobra.RangeArgs(1, 2),
	}
	cmd.RunE = c.run("export", func(ctx context.Context, a *app, args []string) error {
		marker := c.marker(args[1:])
		entries, _, err := c.leaderboard(ctx, cmd, a, marker, o)
		if err != nil {
			return err
		}
		if err := writeCSVFile(args[0], entries); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", len(entries), args[0])
		return nil
	})
	cmd.Flags().IntVar(&o.limit, "limit", 0, "number of users to export (default from config)")
	cmd.Flags().BoolVar(&o.asc, "asc", false, "lowest totals first")
	return cmd
}

// leaderboard reads totals and freshness from the ledger and ranks them.
func (c *cli) leaderboard(ctx context.Context, cmd *cobra.Command, a *app, marker string, o boardOptions) ([]model.RankedUser, time.Time, error) {
	limit := a.cfg.Engine.ListLimit
	if o.limit > 0 {
		limit = o.limit
	}
	descending := a.cfg.Engine.SortDescending
	if cmd.Flags().Changed("asc") {
		descending = !o.asc
	}
	totals, err := a.engine.Totals(ctx, marker)
	if err != nil {
		return nil, time.Time{}, err
	}
	last, ok, err := a.engine.MostRecentDate(ctx, marker)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !ok {
		last = time.Time{}
	}
	return rank.Leaderboard(ctx, a.names, totals, limit, descending, logging.Component(a.log, "rank")), last, nil
}

func writeCSVFile(path string, entries []model.RankedUser) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteCSV(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c *cli) trendCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "trend [marker]",
		Short: "Print reactions per day from the ledger",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.RunE = c.run("trend", func(ctx context.Context, a *app, args []string) error {
		if days < 1 {
			return fmt.Errorf("--days must be positive, got %d", days)
		}
		marker := c.marker(args)
		to := model.Day(time.Now())
		from := to.AddDate(0, 0, 1-days)
		rows, err := a.ledger.DailyTotals(ctx, marker, from)
		if err != nil {
			return err
		}
		return report.PrintTrend(cmd.OutOrStdout(), marker, analytics.Trend(rows, from, to))
	})
	cmd.Flags().IntVar(&days, "days", 14, "number of days to show, ending today")
	return cmd
}

func (c *cli) watchCmd() *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "watch [marker]",
		Short: "Sync on a cron schedule until interrupted",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.RunE = c.run("watch", func(ctx context.Context, a *app, args []string) error {
		if spec == "" {
			spec = a.cfg.Schedule.Cron
		}
		next, err := schedule.NextRun(spec, time.Now())
		if err != nil {
			return err
		}
		marker := c.marker(args)
		fmt.Fprintf(cmd.OutOrStdout(), "watching '%s', next scheduled sync %s\n", marker, next.Format(time.RFC3339))
		err = jobs.RunSyncSchedule(ctx, spec, func(ctx context.Context) error {
			return a.syncOnce(ctx, marker)
		}, logging.Component(a.log, "schedule"))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	cmd.Flags().StringVar(&spec, "cron", "", "cron spec or descriptor (default from config)")
	return cmd
}

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the leaderboard over HTTP",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.run("serve", func(ctx context.Context, a *app, args []string) error {
		if addr == "" {
			addr = a.cfg.Server.Addr
		}
		srv := httpapi.NewServer(a.engine, a.names, httpapi.Defaults{
			Marker:     a.cfg.Engine.ReactionMarker,
			Limit:      a.cfg.Engine.ListLimit,
			Descending: a.cfg.Engine.SortDescending,
		}, httpapi.WithLogger(logging.Component(a.log, "http")))
		err := srv.Serve(ctx, addr)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
