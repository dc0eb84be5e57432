package slackclient

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"reactally/internal/model"
)

func (c *Client) convertAll(channelID string, msgs []slack.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for i := range msgs {
		m, err := convertMessage(channelID, &msgs[i])
		if err != nil {
			c.log.Debug().Err(err).Str("ts", msgs[i].Timestamp).Msg("dropping malformed message")
			continue
		}
		out = append(out, m)
	}
	return out
}

// convertMessage validates a Slack message at the boundary. Messages lacking a ts or an
// author are rejected; reactions without a name or a positive count are dropped.
func convertMessage(channelID string, msg *slack.Message) (model.Message, error) {
	if msg.Timestamp == "" {
		return model.Message{}, fmt.Errorf("message without ts")
	}
	if msg.User == "" {
		return model.Message{}, fmt.Errorf("message %s without author", msg.Timestamp)
	}
	ts, err := ParseTimestamp(msg.Timestamp)
	if err != nil {
		return model.Message{}, err
	}
	reactions := make([]model.Reaction, 0, len(msg.Reactions))
	for _, r := range msg.Reactions {
		if r.Name == "" || r.Count < 1 {
			continue
		}
		reactions = append(reactions, model.Reaction{Name: r.Name, Count: r.Count})
	}
	return model.Message{
		ID:           model.MessageID(channelID, msg.Timestamp),
		TS:           msg.Timestamp,
		AuthorID:     msg.User,
		Timestamp:    ts,
		Reactions:    reactions,
		ThreadRootID: msg.ThreadTimestamp,
		ReplyCount:   msg.ReplyCount,
	}, nil
}

// ParseTimestamp converts a Slack ts ("1504840306.000009") to UTC time.
func ParseTimestamp(ts string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ts %q: %w", ts, err)
	}
	var usec int64
	if fracPart != "" {
		if len(fracPart) > 6 {
			fracPart = fracPart[:6]
		}
		fracPart += strings.Repeat("0", 6-len(fracPart))
		if usec, err = strconv.ParseInt(fracPart, 10, 64); err != nil {
			return time.Time{}, fmt.Errorf("invalid ts %q: %w", ts, err)
		}
	}
	return time.Unix(sec, usec*int64(time.Microsecond)).UTC(), nil
}
