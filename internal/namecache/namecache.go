// Package namecache puts a cache in front of user name resolution.
package namecache

import (
	"context"

	"github.com/rs/zerolog"
)

// Cache stores resolved display names by user id.
type Cache interface {
	Lookup(ctx context.Context, userID string) (string, bool, error)
	Remember(ctx context.Context, userID, name string) error
}

// Source resolves a name remotely.
type Source interface {
	ResolveUserName(ctx context.Context, userID string) (string, error)
}

// Resolver answers from the cache and falls back to the source.
// Cache failures are logged and never fail a resolution.
type Resolver struct {
	src   Source
	cache Cache
	log   zerolog.Logger
}

// New wraps src. A nil cache disables caching.
func New(src Source, cache Cache, log zerolog.Logger) *Resolver {
	return &Resolver{src: src, cache: cache, log: log}
}

func (r *Resolver) ResolveUserName(ctx context.Context, userID string) (string, error) {
	if r.cache != nil {
		name, ok, err := r.cache.Lookup(ctx, userID)
		switch {
		case err != nil:
			r.log.Warn().Err(err).Str("user_id", userID).Msg("name cache lookup failed")
		case ok && name != "":
			return name, nil
		}
	}
	name, err := r.src.ResolveUserName(ctx, userID)
	if err != nil || name == "" || r.cache == nil {
		return name, err
	}
	if err := r.cache.Remember(ctx, userID, name); err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("name cache write failed")
	}
	return name, nil
}
