package chat

import (
	"context"
	"sync"
	"time"

	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/model"
)

// Session combines the externally maintained conversation list with the
// aggregator's index to produce per-conversation badges, tracks which
// conversation is selected, and runs the read-state transition on
// selection change. State machine: NoSelection -> Selected(key);
// selecting a new key while one is selected re-enters the transition
// for the new key.
type Session struct {
	agg      *Aggregator
	tracker  *ReadTracker
	viewerID string

	mu            sync.Mutex
	conversations []model.Conversation
	index         model.UnreadIndex
	// zeroed holds badges optimistically cleared on selection, ahead of
	// the next full refresh (no visible flash of a stale count). A fresh
	// index supersedes all of them.
	zeroed   map[model.ConversationKey]struct{}
	selected *model.ConversationKey

	onChange func()
}

func NewSession(agg *Aggregator, tracker *ReadTracker, viewerID string) *Session {
	s := &Session{
		agg:      agg,
		tracker:  tracker,
		viewerID: viewerID,
		index:    model.NewUnreadIndex(),
		zeroed:   make(map[model.ConversationKey]struct{}),
	}
	agg.OnUpdate(s.applyIndex)
	return s
}

// OnChange registers a callback invoked whenever the view model
// (badges, selection) changes. Set it before the aggregator starts.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// applyIndex is the aggregator's single-writer path into the session:
// a fresh recompute replaces both the index and any optimistic zeroes.
func (s *Session) applyIndex(ix model.UnreadIndex) {
	s.mu.Lock()
	s.index = ix
	s.zeroed = make(map[model.ConversationKey]struct{})
	notify := s.onChange
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// SetConversations replaces the conversation list (maintained by an
// external collaborator).
func (s *Session) SetConversations(convs []model.Conversation) {
	s.mu.Lock()
	s.conversations = append([]model.Conversation(nil), convs...)
	notify := s.onChange
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Conversations returns the chat list with unread badges merged in.
func (s *Session) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		if _, ok := s.zeroed[c.Key]; ok {
			c.UnreadCount = 0
		} else {
			c.UnreadCount = s.index.Count(c.Key.CounterpartyID)
		}
		out[i] = c
	}
	return out
}

// TotalUnread returns the index total minus optimistically zeroed
// badges.
func (s *Session) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.index.Total
	for key := range s.zeroed {
		total -= s.index.Count(key.CounterpartyID)
	}
	if total < 0 {
		total = 0
	}
	return total
}

// Select enters Selected(key): marks the conversation read, then zeroes
// its local badge ahead of the next refresh, then asks the aggregator to
// converge. A mark-read failure leaves the badge as-is and is returned;
// the selection itself sticks either way.
func (s *Session) Select(ctx context.Context, key model.ConversationKey) error {
	defer logger.DeferLogDuration("chat.Select", time.Now())()

	s.mu.Lock()
	k := key
	s.selected = &k
	s.mu.Unlock()

	if err := s.tracker.MarkConversationRead(ctx, key, s.viewerID); err != nil {
		return err
	}

	s.mu.Lock()
	s.zeroed[key] = struct{}{}
	notify := s.onChange
	s.mu.Unlock()
	if notify != nil {
		notify()
	}

	// Converge the index with the write we just performed. Failure only
	// logs: the optimistic zero already covers the visible state.
	_ = s.agg.Refresh(ctx)
	return nil
}

// ClearSelection returns to NoSelection.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.selected = nil
	s.mu.Unlock()
}

// Selected returns the currently selected conversation, if any.
func (s *Session) Selected() (model.ConversationKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return model.ConversationKey{}, false
	}
	return *s.selected, true
}
