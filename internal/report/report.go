// Package report renders leaderboards for the terminal and as CSV.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"reactally/internal/model"
)

const trendWidth = 40

// PrintLeaderboard writes one "name: N reactions" line per entry under a heading.
// lastSeen is the most recent observed date for marker, zero when the ledger has none.
func PrintLeaderboard(w io.Writer, marker string, entries []model.RankedUser, lastSeen time.Time) error {
	if _, err := fmt.Fprintf(w, "Top users who received '%s' reactions:\n", marker); err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "  (no reactions recorded)")
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s: %d reactions\n", e.Name, e.Total); err != nil {
			return err
		}
	}
	if !lastSeen.IsZero() {
		_, err := fmt.Fprintf(w, "Last seen: %s\n", lastSeen.Format(model.DateLayout))
		return err
	}
	return nil
}

// PrintRun summarizes a finished sync run.
func PrintRun(w io.Writer, run model.SyncRun) error {
	_, err := fmt.Fprintf(w, "sync %s: %d channels, %d events, %d failures in %s\n",
		run.ID, run.Channels, run.Events, run.Failures, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	return err
}

// WriteCSV writes user_id,name,count rows with a header.
func WriteCSV(w io.Writer, entries []model.RankedUser) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"user_id", "name", "count"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.UserID, e.Name, strconv.Itoa(e.Total)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// PrintTrend writes one line per day with a bar scaled to the busiest day.
func PrintTrend(w io.Writer, marker string, days []model.DayTotal) error {
	if _, err := fmt.Fprintf(w, "Daily '%s' reactions:\n", marker); err != nil {
		return err
	}
	peak := 0
	for _, d := range days {
		if d.Total > peak {
			peak = d.Total
		}
	}
	for _, d := range days {
		bar := 0
		if peak > 0 {
			bar = d.Total * trendWidth / peak
		}
		if _, err := fmt.Fprintf(w, "%s %5d %s\n", d.Date.Format(model.DateLayout), d.Total, strings.Repeat("#", bar)); err != nil {
			return err
		}
	}
	return nil
}
