// Package store defines the remote conversation store consumed by the
// messaging core: filtered history reads, inserts that return the
// server-confirmed row, the two mark-as-read mechanics, unread
// projections and subscribe-by-filter change feeds.
package store

import (
	"context"
	"errors"

	"github.com/famlink/messaging/internal/model"
)

// ErrNotFound is returned by point lookups for missing rows.
var ErrNotFound = errors.New("not found")

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is one change notification. Message carries the affected row;
// it may be nil for deletes.
type Event struct {
	Type    EventType
	Message model.Message
}

// Subscription is an open change feed. Close is idempotent and safe to
// call from any goroutine; events already in flight when Close returns
// may still be delivered once.
type Subscription interface {
	Close()
}

// Bus carries change events from store writes to subscribers. match
// filters rows before delivery so each subscriber sees only its scope.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, match func(model.Message) bool, fn func(Event)) (Subscription, error)
}

// ConversationStore is the durable source of truth for direct and group
// messages. All operations are remote and may fail with a transport
// error; none of them retries internally.
type ConversationStore interface {
	// DirectHistory returns every message between viewer and
	// counterparty, ascending by created_at.
	DirectHistory(ctx context.Context, viewerID, counterpartyID string) ([]*model.DirectMessage, error)
	// GroupHistory returns every message in a family member's thread,
	// ascending by created_at.
	GroupHistory(ctx context.Context, memberID string) ([]*model.GroupMessage, error)

	// InsertDirect persists m and returns the server-confirmed row with
	// the authoritative id and timestamp.
	InsertDirect(ctx context.Context, m *model.DirectMessage) (*model.DirectMessage, error)
	// InsertGroup persists m and returns the server-confirmed row.
	InsertGroup(ctx context.Context, m *model.GroupMessage) (*model.GroupMessage, error)

	// MarkDirectRead flips the read flag on every unread message from
	// senderID to receiverID. Nothing unread is a no-op, not an error.
	MarkDirectRead(ctx context.Context, senderID, receiverID string) error
	// AppendGroupReadBy adds userID to one message's read_by set.
	// Set-membership add: already present is a no-op.
	AppendGroupReadBy(ctx context.Context, messageID, userID string) error

	// UnreadDirectSenders returns one sender id per unread direct
	// message addressed to the viewer (repeats included).
	UnreadDirectSenders(ctx context.Context, viewerID string) ([]string, error)
	// UnreadGroupMembers returns one member id per group message in the
	// viewer's threads that the viewer has not read (repeats included).
	UnreadGroupMembers(ctx context.Context, viewerID string) ([]string, error)
	// UnreadGroupMessageIDs returns the ids of messages in one member's
	// thread that the viewer has not read.
	UnreadGroupMessageIDs(ctx context.Context, memberID, viewerID string) ([]string, error)

	// SubscribeDirect delivers changes to messages between the pair.
	SubscribeDirect(ctx context.Context, viewerID, counterpartyID string, fn func(Event)) (Subscription, error)
	// SubscribeGroup delivers changes to one member's thread.
	SubscribeGroup(ctx context.Context, memberID string, fn func(Event)) (Subscription, error)
	// SubscribeAll delivers every change on both tables. Used by the
	// unread aggregator, which must see events for conversations the
	// viewer has never opened.
	SubscribeAll(ctx context.Context, fn func(Event)) (Subscription, error)
}

// ConversationLister exposes the externally maintained conversation
// list and care-team membership.
type ConversationLister interface {
	// Conversations returns the viewer's threads (direct counterparties
	// plus family members the viewer cares for), most recent first.
	// UnreadCount is left zero; the session merges it in.
	Conversations(ctx context.Context, viewerID string) ([]model.Conversation, error)
	// Caregivers returns the user ids on a family member's care team.
	Caregivers(ctx context.Context, memberID string) ([]string, error)
}
