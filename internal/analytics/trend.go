package analytics

import (
	"sort"
	"time"

	"reactally/internal/model"
)

// DailyBuckets indexes day totals by their UTC day.
func DailyBuckets(days []model.DayTotal) map[time.Time]int {
	buckets := make(map[time.Time]int, len(days))
	for _, d := range days {
		buckets[model.Day(d.Date)] += d.Total
	}
	return buckets
}

// SortedBucketKeys returns sorted day keys.
func SortedBucketKeys(m map[time.Time]int) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

// Trend returns one entry per day from from to to inclusive, zero where nothing was observed.
// Totals outside the window are ignored.
func Trend(days []model.DayTotal, from, to time.Time) []model.DayTotal {
	from, to = model.Day(from), model.Day(to)
	if to.Before(from) {
		return nil
	}
	buckets := DailyBuckets(days)
	var out []model.DayTotal
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, model.DayTotal{Date: d, Total: buckets[d]})
	}
	return out
}
