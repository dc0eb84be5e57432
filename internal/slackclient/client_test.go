package slackclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"reactally/internal/model"
)

// helper to create a client against a fake Slack API
func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c := New("xoxb-test", WithAPIURL(ts.URL+"/"), WithRetry(3, time.Millisecond))
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func TestListMessagesPagesAndValidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations.history", r.URL.Path)
		require.Equal(t, "C1", r.FormValue("channel"))
		switch r.FormValue("cursor") {
		case "":
			writeJSON(w, `{"ok":true,"has_more":true,"response_metadata":{"next_cursor":"c2"},"messages":[
				{"type":"message","user":"U1","ts":"1714575845.000100","reactions":[{"name":"+1","count":3,"users":["U2","U3","U4"]},{"name":"eyes","count":0}]},
				{"type":"message","subtype":"channel_join","ts":"1714575846.000100"},
				{"type":"message","user":"U2","ts":"1714575847.000200","thread_ts":"1714575847.000200","reply_count":2}
			]}`)
		case "c2":
			writeJSON(w, `{"ok":true,"has_more":false,"messages":[{"type":"message","user":"U3","ts":"1714400000.000001"}]}`)
		default:
			t.Fatalf("unexpected cursor %q", r.FormValue("cursor"))
		}
	})
	ctx := context.Background()

	msgs, next, err := c.ListMessages(ctx, "C1", "")
	require.NoError(t, err)
	assert.Equal(t, "c2", next)
	require.Len(t, msgs, 2, "author-less message is rejected at the boundary")
	assert.Equal(t, "C1:1714575845.000100", msgs[0].ID)
	assert.Equal(t, "1714575845.000100", msgs[0].TS)
	assert.Equal(t, "U1", msgs[0].AuthorID)
	assert.Equal(t, []model.Reaction{{Name: "+1", Count: 3}}, msgs[0].Reactions)
	assert.Equal(t, "2024-05-01", msgs[0].ObservedDate().Format(model.DateLayout))
	assert.True(t, msgs[1].InThread())
	assert.Equal(t, 2, msgs[1].ReplyCount)

	msgs, next, err = c.ListMessages(ctx, "C1", "c2")
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, msgs, 1)
}

func TestListThreadReplies(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations.replies", r.URL.Path)
		require.Equal(t, "10.0", r.FormValue("ts"))
		writeJSON(w, `{"ok":true,"has_more":false,"messages":[
			{"type":"message","user":"U1","ts":"10.0","thread_ts":"10.0"},
			{"type":"message","user":"U2","ts":"11.0","thread_ts":"10.0","reactions":[{"name":"+1","count":2}]}
		]}`)
	})
	msgs, next, err := c.ListThreadReplies(context.Background(), "C1", "10.0", "")
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, msgs, 2)
	assert.Equal(t, "10.0", msgs[1].ThreadRootID)
	assert.Equal(t, "C1:11.0", msgs[1].ID)
	assert.Equal(t, 2, msgs[1].Reactions[0].Count)
}

func TestMessageIDsAreScopedByChannel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"ok":true,"has_more":false,"messages":[{"type":"message","user":"U1","ts":"1.0","reactions":[{"name":"+1","count":1}]}]}`)
	})
	ctx := context.Background()
	a, _, err := c.ListMessages(ctx, "C1", "")
	require.NoError(t, err)
	b, _, err := c.ListMessages(ctx, "C2", "")
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].TS, b[0].TS)
	assert.NotEqual(t, a[0].ID, b[0].ID)
}

func TestDefaultTransportBurstIsOne(t *testing.T) {
	t.Setenv("SLACK_API_BURST", "")
	c := New("xoxb-test")
	assert.Equal(t, 1, c.limiter.Burst())
}

func TestListChannelsFollowsCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations.list", r.URL.Path)
		if r.FormValue("cursor") == "" {
			writeJSON(w, `{"ok":true,"channels":[{"id":"C1","name":"general"}],"response_metadata":{"next_cursor":"n2"}}`)
			return
		}
		writeJSON(w, `{"ok":true,"channels":[{"id":"C2","name":"random"}],"response_metadata":{"next_cursor":""}}`)
	})
	chans, err := c.ListChannels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Channel{{ID: "C1", Name: "general"}, {ID: "C2", Name: "random"}}, chans)
}

func TestRetriesOnRateLimit(t *testing.T) {
	var attempts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, `{"ok":true,"members":["U1","U2"],"response_metadata":{"next_cursor":""}}`)
	})
	ids, err := c.ListMembers(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1", "U2"}, ids)
	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestSlackErrorIsRemoteAPIError(t *testing.T) {
	var attempts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		writeJSON(w, `{"ok":false,"error":"channel_not_found"}`)
	})
	_, _, err := c.ListMessages(context.Background(), "CX", "")
	var rerr *model.RemoteAPIError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "conversations.history", rerr.Op)
	assert.Equal(t, "channel_not_found", rerr.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts), "permanent errors are not retried")
}

func TestServerErrorsExhaustAttempts(t *testing.T) {
	var attempts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.ListChannels(context.Background())
	var rerr *model.RemoteAPIError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "http_502", rerr.Code)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestResolveUserName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users.info", r.URL.Path)
		switch r.FormValue("user") {
		case "U1":
			writeJSON(w, `{"ok":true,"user":{"id":"U1","name":"ada","real_name":"Ada Lovelace","profile":{"display_name":"ada"}}}`)
		case "U2":
			writeJSON(w, `{"ok":true,"user":{"id":"U2","name":"grace","profile":{"display_name":"Grace"}}}`)
		default:
			writeJSON(w, `{"ok":false,"error":"user_not_found"}`)
		}
	})
	ctx := context.Background()
	name, err := c.ResolveUserName(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", name)
	name, err = c.ResolveUserName(ctx, "U2")
	require.NoError(t, err)
	assert.Equal(t, "Grace", name)
	_, err = c.ResolveUserName(ctx, "U9")
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("1504840306.000009")
	require.NoError(t, err)
	assert.Equal(t, int64(1504840306), got.Unix())
	assert.Equal(t, 9*time.Microsecond, time.Duration(got.Nanosecond()))

	got, err = ParseTimestamp("1504840306")
	require.NoError(t, err)
	assert.Equal(t, int64(1504840306), got.Unix())

	_, err = ParseTimestamp("abc.1")
	assert.Error(t, err)
}
