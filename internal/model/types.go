package model

import "time"

// DateLayout is how observed dates are persisted.
const DateLayout = "2006-01-02"

// Channel represents a conversation the sync walks.
type Channel struct {
	ID   string
	Name string
}

// Reaction is one named marker on a message with its current count.
type Reaction struct {
	Name  string
	Count int
}

// Message represents a subset of Slack message fields used by the tool.
type Message struct {
	ID           string // channel-scoped, see MessageID
	TS           string // Slack ts, unique only within its channel
	AuthorID     string
	Timestamp    time.Time
	Reactions    []Reaction
	ThreadRootID string // thread_ts, empty outside threads
	ReplyCount   int
}

// MessageID scopes a Slack ts to its channel. Two channels may hold messages with the same ts.
func MessageID(channelID, ts string) string { return channelID + ":" + ts }

// InThread reports whether the message anchors or belongs to a thread.
func (m Message) InThread() bool { return m.ThreadRootID != "" }

// ObservedDate floors the message timestamp to its UTC day.
func (m Message) ObservedDate() time.Time { return Day(m.Timestamp) }

// ReactionEvent is one observed (message, user, reaction) fact. The triple is its key.
type ReactionEvent struct {
	MessageID    string
	UserID       string
	Reaction     string
	Count        int
	ObservedDate time.Time
}

// UserTotal is the summed count of one marker received by a user.
type UserTotal struct {
	UserID string
	Total  int
}

// DayTotal is the sum of a marker's counts observed on one UTC day.
type DayTotal struct {
	Date  time.Time
	Total int
}

// RankedUser is a leaderboard row with a resolved display name.
type RankedUser struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Total  int    `json:"count"`
}

// SyncRun records one sync pass.
type SyncRun struct {
	ID         string
	Reaction   string
	StartedAt  time.Time
	FinishedAt time.Time
	Channels   int
	Failures   int
	Events     int
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
