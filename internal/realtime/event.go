// Package realtime fans out row change events to server-sent event clients,
// optionally across instances through Redis pub/sub.
package realtime

import (
	"context"
	"log/slog"
	"time"
)

// Table is a source of change events
type Table string

const (
	TableIdeas           Table = "ideas"
	TableInfluenceScores Table = "influence_scores"
	TableInvitations     Table = "invitations"
	TableUserStreaks     Table = "user_streaks"
)

// Change types
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
)

// Event is one row change. Delivery is at-least-once and unordered, so Data
// always carries the full latest row rather than a delta.
type Event struct {
	Channel string    `json:"channel"`
	Table   Table     `json:"table"`
	Type    string    `json:"type"`
	Data    any       `json:"data,omitempty"`
	At      time.Time `json:"at"`
}

// UserChannel is the channel every session of a user is subscribed to
func UserChannel(userID string) string {
	return "user:" + userID
}

// TableChannel receives every event for table
func TableChannel(table Table) string {
	return "table:" + string(table)
}

// NewEvent builds an event addressed to userID's channel
func NewEvent(table Table, changeType, userID string, data any) Event {
	return Event{
		Channel: UserChannel(userID),
		Table:   table,
		Type:    changeType,
		Data:    data,
		At:      time.Now().UTC(),
	}
}

// Publisher sends events to subscribers
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Notify publishes ev and only logs a failure. A nil publisher is a no-op.
func Notify(ctx context.Context, pub Publisher, ev Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		slog.Warn("Failed to publish change event",
			"table", ev.Table,
			"channel", ev.Channel,
			"error", err)
	}
}
