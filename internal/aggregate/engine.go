// Package aggregate walks channels, messages and threads for one reaction marker and
// folds every observed reaction into the ledger.
package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"reactally/internal/metrics"
	"reactally/internal/model"
	"reactally/internal/ratelimit"
)

// Gateway is the paginated read surface of the conversation API.
// An empty returned cursor means there are no further pages.
type Gateway interface {
	ListChannels(ctx context.Context) ([]model.Channel, error)
	ListMessages(ctx context.Context, channelID, cursor string) ([]model.Message, string, error)
	ListThreadReplies(ctx context.Context, channelID, threadRootID, cursor string) ([]model.Message, string, error)
	ListMembers(ctx context.Context, channelID string) ([]string, error)
	ResolveUserName(ctx context.Context, userID string) (string, error)
}

// Store is the persistent reaction ledger.
type Store interface {
	Exists(ctx context.Context, messageID, userID, reaction string) (bool, error)
	Upsert(ctx context.Context, ev model.ReactionEvent) error
	MostRecentDate(ctx context.Context, reaction string) (time.Time, bool, error)
	Totals(ctx context.Context, reaction string) ([]model.UserTotal, error)
}

// Stats summarizes one sync pass. UserReactions is the in-run view; the ledger stays authoritative.
// Channels counts channels whose first history page was read.
type Stats struct {
	Channels      int
	Pages         int
	Messages      int
	Events        int
	NewEvents     int
	Failures      int
	UserReactions map[string]int
}

// Engine runs sync passes. It is not safe for concurrent use.
type Engine struct {
	gw      Gateway
	store   Store
	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

type Option func(*Engine)

// WithLimiter sets the limiter consulted before every remote fetch.
func WithLimiter(l *ratelimit.Limiter) Option { return func(e *Engine) { e.limiter = l } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// New builds an engine. Without WithLimiter remote calls are not spaced.
func New(gw Gateway, st Store, opts ...Option) *Engine {
	e := &Engine{gw: gw, store: st, limiter: ratelimit.New(0), log: zerolog.Nop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Totals reads the marker's per-user totals from the ledger.
func (e *Engine) Totals(ctx context.Context, reaction string) ([]model.UserTotal, error) {
	return e.store.Totals(ctx, reaction)
}

// MostRecentDate reports how fresh the ledger is for reaction.
func (e *Engine) MostRecentDate(ctx context.Context, reaction string) (time.Time, bool, error) {
	return e.store.MostRecentDate(ctx, reaction)
}

// pass carries the state of a single Sync call.
type pass struct {
	e        *Engine
	reaction string
	stats    Stats
	seen     map[eventKey]struct{}
}

type eventKey struct{ message, user string }

// Sync refreshes the ledger for reaction from every channel the gateway lists.
// Remote failures are logged and skipped; a store failure aborts and is returned.
func (e *Engine) Sync(ctx context.Context, reaction string) (Stats, error) {
	p := &pass{e: e, reaction: reaction, stats: Stats{UserReactions: map[string]int{}}, seen: map[eventKey]struct{}{}}
	if err := e.limiter.WaitTurn(ctx); err != nil {
		return p.stats, err
	}
	channels, err := e.gw.ListChannels(ctx)
	if err != nil {
		p.remoteFailure(err, "list_channels", model.Channel{})
		return p.stats, ctx.Err()
	}
	for _, ch := range channels {
		if err := p.channel(ctx, ch); err != nil {
			return p.stats, err
		}
	}
	e.log.Info().
		Str("reaction", reaction).
		Int("channels", p.stats.Channels).
		Int("pages", p.stats.Pages).
		Int("messages", p.stats.Messages).
		Int("events", p.stats.Events).
		Int("new_events", p.stats.NewEvents).
		Int("failures", p.stats.Failures).
		Msg("sync finished")
	return p.stats, nil
}

func (p *pass) channel(ctx context.Context, ch model.Channel) error {
	e := p.e
	if err := e.limiter.WaitTurn(ctx); err != nil {
		return err
	}
	// membership is informational only
	if members, err := e.gw.ListMembers(ctx, ch.ID); err != nil {
		p.remoteFailure(err, "list_members", ch)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	} else {
		e.log.Debug().Str("channel_id", ch.ID).Str("channel", ch.Name).Int("members", len(members)).Msg("channel members")
	}

	walked := map[string]struct{}{}
	cursor := ""
	for {
		if err := e.limiter.WaitTurn(ctx); err != nil {
			return err
		}
		msgs, next, err := e.gw.ListMessages(ctx, ch.ID, cursor)
		if err != nil {
			p.remoteFailure(err, "list_messages", ch)
			// the failed page has no cursor, so the rest of the channel is unreachable
			return ctx.Err()
		}
		if cursor == "" {
			p.stats.Channels++
		}
		p.stats.Pages++
		for _, m := range msgs {
			if err := p.extract(ctx, m); err != nil {
				return err
			}
			if !m.InThread() {
				continue
			}
			if _, ok := walked[m.ThreadRootID]; ok {
				continue
			}
			walked[m.ThreadRootID] = struct{}{}
			if err := p.thread(ctx, ch, m.ThreadRootID); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

func (p *pass) thread(ctx context.Context, ch model.Channel, rootID string) error {
	e := p.e
	cursor := ""
	for {
		if err := e.limiter.WaitTurn(ctx); err != nil {
			return err
		}
		replies, next, err := e.gw.ListThreadReplies(ctx, ch.ID, rootID, cursor)
		if err != nil {
			p.remoteFailure(err, "list_thread_replies", ch)
			return ctx.Err()
		}
		p.stats.Pages++
		for _, m := range replies {
			if m.TS == rootID {
				continue
			}
			if err := p.extract(ctx, m); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// extract upserts every matching reaction on m, crediting the message author.
func (p *pass) extract(ctx context.Context, m model.Message) error {
	p.stats.Messages++
	for _, r := range m.Reactions {
		if r.Name != p.reaction {
			continue
		}
		ev := model.ReactionEvent{
			MessageID:    m.ID,
			UserID:       m.AuthorID,
			Reaction:     p.reaction,
			Count:        r.Count,
			ObservedDate: m.ObservedDate(),
		}
		known, err := p.e.store.Exists(ctx, ev.MessageID, ev.UserID, ev.Reaction)
		if err != nil {
			return err
		}
		if err := p.e.store.Upsert(ctx, ev); err != nil {
			return err
		}
		metrics.EventsUpserted.Inc()
		p.stats.Events++
		if !known {
			p.stats.NewEvents++
		}
		k := eventKey{message: m.ID, user: m.AuthorID}
		if _, dup := p.seen[k]; !dup {
			p.seen[k] = struct{}{}
			p.stats.UserReactions[m.AuthorID] += r.Count
		}
	}
	return nil
}

func (p *pass) remoteFailure(err error, op string, ch model.Channel) {
	p.stats.Failures++
	metrics.IncRemoteFailure(op)
	ev := p.e.log.Warn().Err(err).Str("operation", op)
	if ch.ID != "" {
		ev = ev.Str("channel_id", ch.ID).Str("channel", ch.Name)
	}
	var rerr *model.RemoteAPIError
	if errors.As(err, &rerr) {
		ev = ev.Str("code", rerr.Code)
	}
	ev.Msg("remote call failed, skipping")
}

