// Package rank orders per-user totals into a bounded leaderboard.
package rank

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"reactally/internal/model"
)

const (
	// DefaultLimit bounds the leaderboard when no limit is given.
	DefaultLimit = 25
	// UnknownUser replaces names that could not be resolved.
	UnknownUser = "Unknown User"
)

// NameResolver maps a user id to a display name.
type NameResolver interface {
	ResolveUserName(ctx context.Context, userID string) (string, error)
}

// Rank sorts totals by count and keeps the first limit entries. Ties keep their input order.
func Rank(totals []model.UserTotal, limit int, descending bool) []model.UserTotal {
	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]model.UserTotal, len(totals))
	copy(out, totals)
	sort.SliceStable(out, func(i, j int) bool {
		if descending {
			return out[i].Total > out[j].Total
		}
		return out[i].Total < out[j].Total
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Resolve attaches display names, substituting UnknownUser on failure.
func Resolve(ctx context.Context, r NameResolver, ranked []model.UserTotal, log zerolog.Logger) []model.RankedUser {
	out := make([]model.RankedUser, 0, len(ranked))
	for _, ut := range ranked {
		name, err := r.ResolveUserName(ctx, ut.UserID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", ut.UserID).Msg("name resolution failed")
			name = UnknownUser
		} else if name == "" {
			name = UnknownUser
		}
		out = append(out, model.RankedUser{UserID: ut.UserID, Name: name, Total: ut.Total})
	}
	return out
}

// Leaderboard ranks totals and resolves the surviving users.
func Leaderboard(ctx context.Context, r NameResolver, totals []model.UserTotal, limit int, descending bool, log zerolog.Logger) []model.RankedUser {
	return Resolve(ctx, r, Rank(totals, limit, descending), log)
}
