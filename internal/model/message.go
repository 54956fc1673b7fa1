package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one chat message. It is a sealed union: the only
// implementations are *DirectMessage (between two caregivers) and
// *GroupMessage (scoped to a family member's shared thread), so a value
// can never carry both a receiver and a member id.
type Message interface {
	MessageID() string
	Sender() string
	Body() string
	SentAt() time.Time

	isMessage()
}

// DirectMessage is a one-to-one message between two caregivers.
// Read is a binary flag flipped by the receiver's client.
type DirectMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *DirectMessage) MessageID() string { return m.ID }
func (m *DirectMessage) Sender() string    { return m.SenderID }
func (m *DirectMessage) Body() string      { return m.Content }
func (m *DirectMessage) SentAt() time.Time { return m.CreatedAt }
func (m *DirectMessage) isMessage()        {}

// GroupMessage is a message in a family member's shared thread, visible
// to the member's whole care team. ReadBy holds the ids of users who
// have seen it; the sender is included from creation.
type GroupMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	MemberID  string    `json:"member_id"`
	Content   string    `json:"content"`
	ReadBy    []string  `json:"read_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *GroupMessage) MessageID() string { return m.ID }
func (m *GroupMessage) Sender() string    { return m.SenderID }
func (m *GroupMessage) Body() string      { return m.Content }
func (m *GroupMessage) SentAt() time.Time { return m.CreatedAt }
func (m *GroupMessage) isMessage()        {}

// IsReadBy reports whether userID is in the ReadBy set.
func (m *GroupMessage) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

const tempIDPrefix = "tmp-"

// NewTempID returns a client-assigned placeholder id for an optimistic
// (pending) message. UUID-based so two sends in the same millisecond can
// never collide; the server-confirmed row replaces it on delivery.
func NewTempID() string {
	return tempIDPrefix + uuid.New().String()
}

// IsTempID reports whether id is a client-assigned placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
