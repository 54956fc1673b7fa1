package model

import "time"

// ConversationKey identifies a thread: the counterparty is a user id for
// direct threads and a family-member id for group threads.
type ConversationKey struct {
	CounterpartyID string `json:"counterparty_id"`
	Group          bool   `json:"group"`
}

// Conversation is one entry of the chat list. UnreadCount is a derived
// value: it is only ever set from a fresh aggregator index or zeroed on
// selection, never incremented in place.
type Conversation struct {
	Key            ConversationKey `json:"key"`
	Title          string          `json:"title"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	UnreadCount    int             `json:"unread_count"`
}
