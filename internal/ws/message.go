package ws

import (
	"time"

	"github.com/famlink/messaging/internal/model"
)

type EventType string

// Client -> server.
const (
	EventOpenConversation   EventType = "open_conversation"
	EventCloseConversation  EventType = "close_conversation"
	EventSendMessage        EventType = "send_message"
	EventSelectConversation EventType = "select_conversation"
	EventClearSelection     EventType = "clear_selection"
	EventAppState           EventType = "app_state"
	EventRefreshUnread      EventType = "refresh_unread"
)

// Server -> client.
const (
	EventHistory          EventType = "history"
	EventNewMessage       EventType = "new_message"
	EventMessageConfirmed EventType = "message_confirmed"
	EventSendFailed       EventType = "send_failed"
	EventUnreadIndex      EventType = "unread_index"
	EventConversations    EventType = "conversations"
	EventError            EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// Conversation address for open/select.
	CounterpartyID string `json:"counterparty_id,omitempty"`
	Group          bool   `json:"group,omitempty"`

	// For send_message.
	Content string `json:"content,omitempty"`

	// For app_state: "foreground" or "background".
	State string `json:"state,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// MessageView is the wire shape of the direct/group message union.
// Group discriminates: CounterpartyID is the other user for direct
// messages and the family member for group ones.
type MessageView struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"sender_id"`
	CounterpartyID string    `json:"counterparty_id"`
	Group          bool      `json:"group"`
	Content        string    `json:"content"`
	Read           bool      `json:"read,omitempty"`
	ReadBy         []string  `json:"read_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func ToView(m model.Message) MessageView {
	switch mm := m.(type) {
	case *model.DirectMessage:
		return MessageView{
			ID:             mm.ID,
			SenderID:       mm.SenderID,
			CounterpartyID: mm.ReceiverID,
			Content:        mm.Content,
			Read:           mm.Read,
			CreatedAt:      mm.CreatedAt,
		}
	case *model.GroupMessage:
		return MessageView{
			ID:             mm.ID,
			SenderID:       mm.SenderID,
			CounterpartyID: mm.MemberID,
			Group:          true,
			Content:        mm.Content,
			ReadBy:         mm.ReadBy,
			CreatedAt:      mm.CreatedAt,
		}
	}
	return MessageView{}
}

// HistoryPayload carries the full sequence of the just-opened
// conversation, ascending by created_at.
type HistoryPayload struct {
	CounterpartyID string        `json:"counterparty_id"`
	Group          bool          `json:"group"`
	Messages       []MessageView `json:"messages"`
}

// NewMessagePayload is pushed when the live subscription appends to the
// open conversation.
type NewMessagePayload struct {
	Message MessageView `json:"message"`
}

// ConfirmedPayload acknowledges a send with the server-assigned row.
type ConfirmedPayload struct {
	Message MessageView `json:"message"`
}

// SendFailedPayload reports a rejected send; the optimistic entry has
// already been rolled back server-side.
type SendFailedPayload struct {
	Reason string `json:"reason"`
}

// UnreadPayload mirrors the viewer's unread index.
type UnreadPayload struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// ConversationView is one chat-list row with its badge merged in.
type ConversationView struct {
	CounterpartyID string    `json:"counterparty_id"`
	Group          bool      `json:"group"`
	Title          string    `json:"title"`
	LastActivityAt time.Time `json:"last_activity_at"`
	UnreadCount    int       `json:"unread_count"`
}

// ConversationsPayload carries the full chat list plus the tab badge.
type ConversationsPayload struct {
	Conversations []ConversationView `json:"conversations"`
	TotalUnread   int                `json:"total_unread"`
}

func ToConversationViews(convs []model.Conversation) []ConversationView {
	out := make([]ConversationView, len(convs))
	for i, c := range convs {
		out[i] = ConversationView{
			CounterpartyID: c.Key.CounterpartyID,
			Group:          c.Key.Group,
			Title:          c.Title,
			LastActivityAt: c.LastActivityAt,
			UnreadCount:    c.UnreadCount,
		}
	}
	return out
}
