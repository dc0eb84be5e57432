package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reactally/internal/model"
	"reactally/internal/ratelimit"
	"reactally/internal/store/sqlite"
)

// fakeGateway serves canned pages keyed by cursor. "" is the first page.
type fakeGateway struct {
	channels    []model.Channel
	channelsErr error
	history     map[string]map[string]page // channel -> cursor -> page
	threads     map[string]map[string]page // root -> cursor -> page
	historyErr  map[string]error
	threadErr   map[string]error // root -> error
	membersErr  error

	historyCalls map[string][]string
	threadCalls  map[string]int
}

type page struct {
	msgs []model.Message
	next string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		history:      map[string]map[string]page{},
		threads:      map[string]map[string]page{},
		historyErr:   map[string]error{},
		threadErr:    map[string]error{},
		historyCalls: map[string][]string{},
		threadCalls:  map[string]int{},
	}
}

func (f *fakeGateway) ListChannels(ctx context.Context) ([]model.Channel, error) {
	return f.channels, f.channelsErr
}

func (f *fakeGateway) ListMessages(ctx context.Context, channelID, cursor string) ([]model.Message, string, error) {
	f.historyCalls[channelID] = append(f.historyCalls[channelID], cursor)
	if err := f.historyErr[channelID]; err != nil {
		return nil, "", err
	}
	p := f.history[channelID][cursor]
	return scoped(channelID, p.msgs), p.next, nil
}

func (f *fakeGateway) ListThreadReplies(ctx context.Context, channelID, rootID, cursor string) ([]model.Message, string, error) {
	f.threadCalls[rootID]++
	if err := f.threadErr[rootID]; err != nil {
		return nil, "", err
	}
	p := f.threads[rootID][cursor]
	return scoped(channelID, p.msgs), p.next, nil
}

// scoped assigns channel-scoped ids the way the Slack gateway does.
func scoped(channelID string, msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		m.ID = model.MessageID(channelID, m.TS)
		out[i] = m
	}
	return out
}

func (f *fakeGateway) ListMembers(ctx context.Context, channelID string) ([]string, error) {
	if f.membersErr != nil {
		return nil, f.membersErr
	}
	return []string{"U1", "U2"}, nil
}

func (f *fakeGateway) ResolveUserName(ctx context.Context, userID string) (string, error) {
	return userID, nil
}

var day = time.Date(2024, 5, 1, 15, 4, 5, 0, time.UTC)

func msg(ts, author string, reactions ...model.Reaction) model.Message {
	return model.Message{TS: ts, AuthorID: author, Timestamp: day, Reactions: reactions}
}

func plusOne(n int) model.Reaction { return model.Reaction{Name: "+1", Count: n} }

func openStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func totalsMap(t *testing.T, e *Engine) map[string]int {
	t.Helper()
	totals, err := e.Totals(context.Background(), "+1")
	require.NoError(t, err)
	out := map[string]int{}
	for _, ut := range totals {
		out[ut.UserID] = ut.Total
	}
	return out
}

func TestSyncEndToEnd(t *testing.T) {
	gw := newFakeGateway()
	gw.channels = []model.Channel{{ID: "C1", Name: "general"}}
	root := msg("100.1", "Z")
	root.ThreadRootID = "100.1"
	gw.history["C1"] = map[string]page{"": {msgs: []model.Message{msg("99.1", "X", plusOne(3)), root}}}
	reply := msg("100.2", "Y", plusOne(2))
	reply.ThreadRootID = "100.1"
	gw.threads["100.1"] = map[string]page{"": {msgs: []model.Message{root, reply}}}

	e := New(gw, openStore(t))
	stats, err := e.Sync(context.Background(), "+1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"X": 3, "Y": 2}, totalsMap(t, e))
	assert.Equal(t, map[string]int{"X": 3, "Y": 2}, stats.UserReactions)
	assert.Equal(t, 1, stats.Channels)
	assert.Equal(t, 2, stats.Events)
	assert.Equal(t, 2, stats.NewEvents)
	assert.Zero(t, stats.Failures)

	last, ok, err := e.MostRecentDate(context.Background(), "+1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-05-01", last.Format(model.DateLayout))
}

func TestSyncIdempotent(t *testing.T) {
	gw := newFakeGateway()
	gw.channels = []model.Channel{{ID: "C1"}}
	gw.history["C1"] = map[string]page{"": {msgs: []model.Message{msg("1.0", "U1", plusOne(4)), msg("2.0", "U2", plusOne(1), model.Reaction{Name: "tada", Count: 7})}}}
	e := New(gw, openStore(t))
	ctx := context.Background()

	_, err := e.Sync(ctx, "+1")
	require.NoError(t, err)
	first := totalsMap(t, e)
	stats, err := e.Sync(ctx, "+1")
	require.NoError(t, err)
	assert.Equal(t, first, totalsMap(t, e))
	assert.Equal(t, map[string]int{"U1": 4, "U2": 1}, first)
	assert.Zero(t, stats.NewEvents, "second pass only revisits known events")
}

func TestSyncReplacesChangedCount(t *testing.T) {
	gw := newFakeGateway()
	gw.channels = []model.Channel{{ID: "C1"}}
	gw.history["C1"] = map[string]page{"": {msgs: []model.Message{msg("1.0", "U1", plusOne(2))}}}
	e := New(gw, openStore(t))
	ctx := context.Background()
	_, err := e.Sync(ctx, "+1")
	require.NoError(t, err)

	gw.history["C1"] = map[string]page{"": {msgs: []model.Message{msg("1.0", "U1", plusOne(5))}}}
	_, err = e.Sync(ctx, "+1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"U1": 5}, totalsMap(t, e))
}

func TestSyncWalksEveryPageOnce(t *testing.T) {
	gw := newFakeGateway()
	gw.channels = []model.Channel{{ID: "C1"}}
	gw.history["C1"] = map[string]page{
		"":   {msgs: []model.Message{msg("1.0", "U1", plusOne(1))}, next: "c2"},
		"c2": {msgs: []model.Message{msg("2.0", "U1", plusOne(1))}, next: "c3"},
		"c3": {msgs: []model.Message{msg("3.0", "U2", plusOne(1))}},
	}
	e := New(gw, openStore(t))
	stats, err := e.Sync(context.Background(), "+1")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "c2", "c3"}, gw.historyCalls["C1"])
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, 3, stats.Messages)
	assert.Equal(t, map[string]int{"U1": 2, "U2": 1}, totalsMap(t, e))
}

func TestSyncThreadRepliesCountSeparately(t *testing.T) {
	gw := newFakeGateway()
	gw.channels = []model.Channel{{ID: "C1"}}
	root := msg("10.0", "U1", plusOne(2))
	root.ThreadRootID = "10.0"
	broadcast := msg("10.5", "U2", plusOne(1))
	broadcast.ThreadRootID = "10.0"
	gw.history["C1"] = map[string]page{"": {msgs: []model.Message{root, broadcast}}}
	gw.threads["10.0"] = map[string]page{
		"":  {msgs: []model.Message{root, broadcast}, next: "t2"},
		"t2": {msgs: []model.Message{msg("10.7", "U3", plusOne(4))}},
	}
	e := New(gw, openStore(t))
	stats, err := e.Sync(context.Background(), "+1")
	require.NoError(t, err)
	assert.Equal(t, 2, gw.threadCalls["10.0"], "one call per thread page, thread walked once")
	assert.Equal(t, map[string]int{"U1": 2, "U2": 1, "U3": 4}, totalsMap(t, e))
	assert.Equal(t, map[string]int{"U1": 2, "U2": 1, "U3": 4}, stats.UserReactions)
}

func TestSyncIsolatesChannelFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.channels = []model.Channel{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	gw.history["A"] = map[string]page{"": {msgs: []model.Message{msg("1.0", "UA", plusOne(1))}}}
	gw.history["C"] = map[string]page{"": {msgs: []model.Message{msg("3.0", "UC", plusOne(3))}}}
	gw.historyErr["B"] = &model.RemoteAPIError{Op: "conversations.history", Code: "not_in_channel"}
	gw.membersErr = &model.RemoteAPIError{Op: "conversations.members", Code: "missing_scope"}

	e := New(gw, openStore(t))
	stats, err := e.Sync(context.Background(), "+1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"UA": 1, "UC": 3}, totalsMap(t, e))
	assert.Equal(t, 2, stats.Channels, "B was never read")
	assert.Equal(t, 4, stats.Failures, "three member lookups and one history page")
}

func TestSyncSkipsFailedThreadPage(t *testing.T) {
	gw := newFakeGateway()
	gw.channels = []model.Channel{{ID: "C1"}, {ID: "C2"}}
	root := msg("10.0", "U1", plusOne(2))
	root.ThreadRootID = "10.0"
	sibling := msg("11.0", "U2", plusOne(1))
	gw.history["C1"] = map[string]page{"": {msgs: []model.Message{root, sibling}}}
	gw.threads["10.0"] = map[string]page{"": {msgs: []model.Message{root, msg("10.5", "U9", plusOne(7))}}}
	gw.threadErr["10.0"] = &model.RemoteAPIError{Op: "conversations.replies", Code: "thread_not_found"}
	gw.history["C2"] = map[string]page{"": {msgs: []model.Message{msg("20.0", "U3", plusOne(4))}}}

	e := New(gw, openStore(t))
	stats, err := e.Sync(context.Background(), "+1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"U1": 2, "U2": 1, "U3": 4}, totalsMap(t, e))
	assert.Equal(t, map[string]int{"U1": 2, "U2": 1, "U3": 4}, stats.UserReactions)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 2, stats.Channels)
	assert.Equal(t, []string{""}, gw.historyCalls["C2"])
}

func TestSyncSameTimestampInTwoChannels(t *testing.T) {
	gw := newFakeGateway()
	gw.channels = []model.Channel{{ID: "C1"}, {ID: "C2"}}
	gw.history["C1"] = map[string]page{"": {msgs: []model.Message{msg("1.0", "U1", plusOne(2))}}}
	gw.history["C2"] = map[string]page{"": {msgs: []model.Message{msg("1.0", "U1", plusOne(3))}}}

	e := New(gw, openStore(t))
	stats, err := e.Sync(context.Background(), "+1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"U1": 5}, totalsMap(t, e))
	assert.Equal(t, map[string]int{"U1": 5}, stats.UserReactions)
	assert.Equal(t, 2, stats.NewEvents)
}

func TestSyncChannelListingFailureYieldsEmptyPass(t *testing.T) {
	gw := newFakeGateway()
	gw.channelsErr = &model.RemoteAPIError{Op: "conversations.list", Code: "invalid_auth"}
	e := New(gw, openStore(t))
	stats, err := e.Sync(context.Background(), "+1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failures)
	assert.Zero(t, stats.Channels)
}

type failingStore struct{ *sqlite.DB }

func (failingStore) Upsert(ctx context.Context, ev model.ReactionEvent) error {
	return &model.StoreError{Op: "upsert", Err: errors.New("disk I/O error")}
}

func TestSyncAbortsOnStoreError(t *testing.T) {
	gw := newFakeGateway()
	gw.channels = []model.Channel{{ID: "C1"}, {ID: "C2"}}
	gw.history["C1"] = map[string]page{"": {msgs: []model.Message{msg("1.0", "U1", plusOne(1))}}}
	e := New(gw, failingStore{openStore(t)})
	_, err := e.Sync(context.Background(), "+1")
	var se *model.StoreError
	require.ErrorAs(t, err, &se)
	assert.Empty(t, gw.historyCalls["C2"], "sync must stop at the first store failure")
}

type countingClock struct {
	now    time.Time
	sleeps int
}

func (c *countingClock) Now() time.Time { return c.now }

func (c *countingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps++
	c.now = c.now.Add(d)
	return nil
}

func TestSyncWaitsBeforeEveryRemoteFetch(t *testing.T) {
	gw := newFakeGateway()
	gw.channels = []model.Channel{{ID: "C1"}}
	root := msg("1.0", "U1")
	root.ThreadRootID = "1.0"
	gw.history["C1"] = map[string]page{
		"":   {msgs: []model.Message{root}, next: "c2"},
		"c2": {msgs: []model.Message{msg("2.0", "U1")}},
	}
	clk := &countingClock{now: day}
	e := New(gw, openStore(t), WithLimiter(ratelimit.NewWithClock(time.Second, clk)))
	_, err := e.Sync(context.Background(), "+1")
	require.NoError(t, err)
	// channels, members, two history pages, one thread page; the first turn is free
	assert.Equal(t, 4, clk.sleeps)
	assert.Equal(t, day.Add(4*time.Second), clk.now)
}

func TestSyncHonorsCancellation(t *testing.T) {
	gw := newFakeGateway()
	gw.channels = []model.Channel{{ID: "C1"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(gw, openStore(t), WithLimiter(ratelimit.New(time.Hour)))
	_, err := e.Sync(ctx, "+1")
	// the first turn is free, the members turn must wait and observes cancellation
	assert.ErrorIs(t, err, context.Canceled)
}
