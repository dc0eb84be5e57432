// Package slackclient implements the conversation gateway on the Slack Web API.
package slackclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"reactally/internal/metrics"
	"reactally/internal/model"
	"reactally/internal/ratelimit"
)

const pageLimit = 200

// Client is a Slack-backed conversation gateway.
type Client struct {
	api         *slack.Client
	apiOpts     []slack.Option
	limiter     *rate.Limiter
	log         zerolog.Logger
	maxAttempts int
	baseBackoff time.Duration
}

type Option func(*Client)

// WithAPIURL points the client at another Slack-compatible endpoint. It must end with "/".
func WithAPIURL(u string) Option {
	return func(c *Client) { c.apiOpts = append(c.apiOpts, slack.OptionAPIURL(u)) }
}

// WithHTTPClient replaces the transport used for every call.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.apiOpts = append(c.apiOpts, slack.OptionHTTPClient(h)) }
}

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithRetry overrides the attempt budget and the first backoff step.
func WithRetry(maxAttempts int, baseBackoff time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.baseBackoff = baseBackoff
	}
}

// New builds a client for token. Transport pacing honors SLACK_API_RPS and SLACK_API_BURST.
// Every HTTP call goes through this limiter, including the extra pages ListChannels and
// ListMembers fetch on their own and retried attempts. The default burst of 1 keeps those
// spaced like the engine's turns.
func New(token string, opts ...Option) *Client {
	c := &Client{
		limiter:     ratelimit.FromEnv("SLACK_API", 1, 1),
		log:         zerolog.Nop(),
		maxAttempts: getEnvInt("SLACK_API_MAX_ATTEMPTS", 5),
		baseBackoff: time.Duration(getEnvInt("SLACK_API_BASE_BACKOFF_MS", 500)) * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	c.api = slack.New(token, c.apiOpts...)
	return c
}

// ListChannels returns every non-archived public and private channel visible to the token.
func (c *Client) ListChannels(ctx context.Context) ([]model.Channel, error) {
	const op = "conversations.list"
	var out []model.Channel
	cursor := ""
	for {
		var (
			chans []slack.Channel
			next  string
		)
		err := c.call(ctx, op, func(ctx context.Context) error {
			var err error
			chans, next, err = c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				Cursor:          cursor,
				ExcludeArchived: true,
				Limit:           pageLimit,
				Types:           []string{"public_channel", "private_channel"},
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, ch := range chans {
			if ch.ID == "" {
				continue
			}
			out = append(out, model.Channel{ID: ch.ID, Name: ch.Name})
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// ListMessages returns one page of channel history and the cursor of the next page.
func (c *Client) ListMessages(ctx context.Context, channelID, cursor string) ([]model.Message, string, error) {
	const op = "conversations.history"
	var resp *slack.GetConversationHistoryResponse
	err := c.call(ctx, op, func(ctx context.Context) error {
		var err error
		resp, err = c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Cursor:    cursor,
			Limit:     pageLimit,
		})
		return err
	})
	if err != nil {
		return nil, "", err
	}
	next := ""
	if resp.HasMore {
		next = resp.ResponseMetaData.NextCursor
	}
	return c.convertAll(channelID, resp.Messages), next, nil
}

// ListThreadReplies returns one page of a thread. The root is included as Slack returns it.
func (c *Client) ListThreadReplies(ctx context.Context, channelID, threadRootID, cursor string) ([]model.Message, string, error) {
	const op = "conversations.replies"
	var (
		msgs    []slack.Message
		hasMore bool
		next    string
	)
	err := c.call(ctx, op, func(ctx context.Context) error {
		var err error
		msgs, hasMore, next, err = c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadRootID,
			Cursor:    cursor,
			Limit:     pageLimit,
		})
		return err
	})
	if err != nil {
		return nil, "", err
	}
	if !hasMore {
		next = ""
	}
	return c.convertAll(channelID, msgs), next, nil
}

// ListMembers returns the user ids in a channel.
func (c *Client) ListMembers(ctx context.Context, channelID string) ([]string, error) {
	const op = "conversations.members"
	var out []string
	cursor := ""
	for {
		var (
			ids  []string
			next string
		)
		err := c.call(ctx, op, func(ctx context.Context) error {
			var err error
			ids, next, err = c.api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
				ChannelID: channelID,
				Cursor:    cursor,
				Limit:     pageLimit,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// ResolveUserName returns the best display name Slack has for userID.
func (c *Client) ResolveUserName(ctx context.Context, userID string) (string, error) {
	const op = "users.info"
	var u *slack.User
	err := c.call(ctx, op, func(ctx context.Context) error {
		var err error
		u, err = c.api.GetUserInfoContext(ctx, userID)
		return err
	})
	if err != nil {
		return "", err
	}
	switch {
	case u.RealName != "":
		return u.RealName, nil
	case u.Profile.RealName != "":
		return u.Profile.RealName, nil
	case u.Profile.DisplayName != "":
		return u.Profile.DisplayName, nil
	case u.Name != "":
		return u.Name, nil
	}
	return "", &model.RemoteAPIError{Op: op, Code: "empty_profile", Message: userID}
}

// call paces, retries and classifies one Slack method invocation.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		metrics.ObserveAPIRequest(op, err)
		if err == nil {
			return nil
		}
		lastErr = err
		wait, retry := retryDelay(err, backoff)
		if !retry || attempt == c.maxAttempts {
			break
		}
		metrics.IncAPIRetry(op)
		c.log.Debug().Err(err).Str("endpoint", op).Int("attempt", attempt).Dur("wait", wait).Msg("retrying slack call")
		select {
		case <-time.After(jitter(wait)):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return classify(op, lastErr)
}

// retryDelay reports whether err is transient and how long to wait before the next attempt.
func retryDelay(err error, backoff time.Duration) (time.Duration, bool) {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		if rl.RetryAfter > 0 {
			return rl.RetryAfter, true
		}
		return backoff, true
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		return backoff, sc.Code >= 500 && sc.Code <= 599
	}
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		return backoff, se.Err == "ratelimited" || se.Err == "internal_error" || se.Err == "fatal_error"
	}
	// transport errors (connection reset, timeouts) are worth another try
	return backoff, !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// jitter spreads wait by +/-20%.
func jitter(wait time.Duration) time.Duration {
	j := time.Duration(float64(wait) * 0.2)
	if j <= 0 {
		return wait
	}
	return wait - j + time.Duration(time.Now().UnixNano()%int64(2*j))
}

// classify maps a slack-go error onto RemoteAPIError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	rerr := &model.RemoteAPIError{Op: op, Err: err}
	var (
		rl *slack.RateLimitedError
		sc slack.StatusCodeError
		se slack.SlackErrorResponse
	)
	switch {
	case errors.As(err, &rl):
		rerr.Code = "ratelimited"
		rerr.Message = fmt.Sprintf("retry after %s", rl.RetryAfter)
	case errors.As(err, &sc):
		rerr.Code = "http_" + strconv.Itoa(sc.Code)
		rerr.Message = sc.Status
	case errors.As(err, &se):
		rerr.Code = se.Err
		if len(se.ResponseMetadata.Messages) > 0 {
			rerr.Message = strings.Join(se.ResponseMetadata.Messages, "; ")
		}
	default:
		rerr.Code = "transport"
		rerr.Message = err.Error()
	}
	return rerr
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil && i > 0 {
		return i
	}
	return def
}
