// Package chat is the real-time messaging core: per-thread
// synchronization of optimistic sends against server-confirmed state,
// read-state transitions, a process-wide unread index and the session
// that composes them into the chat list view model.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
)

const markReadTimeout = 5 * time.Second

// Synchronizer maintains a consistent, deduplicated, time-ordered
// message sequence for one open conversation. The sequence is mutated
// only by its own Synchronizer; history arrives in created_at order and
// live events are appended in arrival order, which is assumed (not
// re-verified) to match creation order.
type Synchronizer struct {
	store    store.ConversationStore
	tracker  *ReadTracker
	viewerID string
	key      model.ConversationKey

	mu   sync.Mutex
	msgs []model.Message
	sub  store.Subscription
	// gen changes on every Load and Close; a live event or late
	// subscribe result carrying a stale gen belongs to a torn-down
	// subscription and is dropped.
	gen uint64

	onAppend func(model.Message)
}

func NewSynchronizer(st store.ConversationStore, tracker *ReadTracker, viewerID string, key model.ConversationKey) *Synchronizer {
	return &Synchronizer{store: st, tracker: tracker, viewerID: viewerID, key: key}
}

// OnAppend registers a callback invoked for every message that arrives
// via the live subscription. Set it before Load.
func (s *Synchronizer) OnAppend(fn func(model.Message)) {
	s.mu.Lock()
	s.onAppend = fn
	s.mu.Unlock()
}

// Key returns the conversation this synchronizer is bound to.
func (s *Synchronizer) Key() model.ConversationKey { return s.key }

// Load fetches the full history ascending by created_at, then opens a
// change subscription scoped to the same filter. A failed history read
// returns KindRead and leaves the previous sequence untouched. A failed
// subscribe returns KindSubscribe but keeps the loaded history: the
// conversation then works in manual-refresh mode until Load succeeds.
func (s *Synchronizer) Load(ctx context.Context) error {
	defer logger.DeferLogDuration("chat.Load", time.Now())()

	history, err := s.loadHistory(ctx)
	if err != nil {
		return wrapErr(KindRead, err)
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	old := s.sub
	s.sub = nil
	s.msgs = history
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	sub, err := s.subscribe(ctx, gen)
	if err != nil {
		return wrapErr(KindSubscribe, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// Closed or reloaded while the subscribe was in flight.
		s.mu.Unlock()
		sub.Close()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *Synchronizer) loadHistory(ctx context.Context) ([]model.Message, error) {
	if s.key.Group {
		rows, err := s.store.GroupHistory(ctx, s.key.CounterpartyID)
		if err != nil {
			return nil, err
		}
		msgs := make([]model.Message, len(rows))
		for i, m := range rows {
			msgs[i] = m
		}
		return msgs, nil
	}
	rows, err := s.store.DirectHistory(ctx, s.viewerID, s.key.CounterpartyID)
	if err != nil {
		return nil, err
	}
	msgs := make([]model.Message, len(rows))
	for i, m := range rows {
		msgs[i] = m
	}
	return msgs, nil
}

func (s *Synchronizer) subscribe(ctx context.Context, gen uint64) (store.Subscription, error) {
	fn := func(ev store.Event) { s.handleEvent(gen, ev) }
	if s.key.Group {
		return s.store.SubscribeGroup(ctx, s.key.CounterpartyID, fn)
	}
	return s.store.SubscribeDirect(ctx, s.viewerID, s.key.CounterpartyID, fn)
}

// handleEvent merges one live change into the sequence. Inserts are
// idempotent by id: replays and rows already placed by the optimistic
// send path are dropped. Updates and deletes are ignored; read-state is
// reconciled by MarkRead and the aggregator instead.
func (s *Synchronizer) handleEvent(gen uint64, ev store.Event) {
	if ev.Type != store.EventInsert || ev.Message == nil {
		return
	}
	m := ev.Message

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.indexOfLocked(m.MessageID()) >= 0 {
		s.mu.Unlock()
		return
	}
	s.msgs = append(s.msgs, m)
	notify := s.onAppend
	s.mu.Unlock()

	if notify != nil {
		notify(m)
	}

	// An open direct conversation implies the incoming message is being
	// seen, so flip its read state right away.
	if !s.key.Group && m.Sender() != s.viewerID {
		ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
		defer cancel()
		if err := s.MarkRead(ctx); err != nil {
			logger.Errorf("chat: mark read on incoming message: %v", err)
		}
	}
}

// Send appends an optimistic entry, inserts it remotely and reconciles.
// Empty content (after trimming) is a no-op returning (nil, nil). On
// success the specific pending entry is replaced by the server-confirmed
// row; on failure that same entry, tracked by the temporary id captured
// here and never re-derived, is removed and the error returned.
func (s *Synchronizer) Send(ctx context.Context, content string) (model.Message, error) {
	defer logger.DeferLogDuration("chat.Send", time.Now())()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	tempID := model.NewTempID()
	pending := s.newPending(tempID, content)

	s.mu.Lock()
	s.msgs = append(s.msgs, pending)
	s.mu.Unlock()

	confirmed, err := s.insert(ctx, pending)
	if err != nil {
		s.mu.Lock()
		if i := s.indexOfLocked(tempID); i >= 0 {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		}
		s.mu.Unlock()
		return nil, wrapErr(KindSend, err)
	}

	s.mu.Lock()
	temp := s.indexOfLocked(tempID)
	dup := s.indexOfLocked(confirmed.MessageID())
	switch {
	case temp >= 0 && dup >= 0:
		// The subscription already delivered the confirmed row; drop
		// the pending entry so the id appears exactly once.
		s.msgs = append(s.msgs[:temp], s.msgs[temp+1:]...)
	case temp >= 0:
		s.msgs[temp] = confirmed
	case dup < 0:
		s.msgs = append(s.msgs, confirmed)
	}
	s.mu.Unlock()
	return confirmed, nil
}

func (s *Synchronizer) newPending(tempID, content string) model.Message {
	now := time.Now().UTC()
	if s.key.Group {
		// The sender has read their own message by definition.
		return &model.GroupMessage{
			ID:        tempID,
			SenderID:  s.viewerID,
			MemberID:  s.key.CounterpartyID,
			Content:   content,
			ReadBy:    []string{s.viewerID},
			CreatedAt: now,
		}
	}
	return &model.DirectMessage{
		ID:         tempID,
		SenderID:   s.viewerID,
		ReceiverID: s.key.CounterpartyID,
		Content:    content,
		CreatedAt:  now,
	}
}

func (s *Synchronizer) insert(ctx context.Context, pending model.Message) (model.Message, error) {
	switch m := pending.(type) {
	case *model.GroupMessage:
		return s.store.InsertGroup(ctx, m)
	case *model.DirectMessage:
		return s.store.InsertDirect(ctx, m)
	}
	return nil, nil
}

// MarkRead marks the counterparty's unread messages as read remotely,
// then swaps the matching in-memory entries for read-flagged copies.
// Entries are replaced, never mutated: snapshots from Messages and
// pointers handed to OnAppend stay safe to read without a lock.
func (s *Synchronizer) MarkRead(ctx context.Context) error {
	if err := s.tracker.MarkConversationRead(ctx, s.key, s.viewerID); err != nil {
		return err
	}

	s.mu.Lock()
	for i, m := range s.msgs {
		switch mm := m.(type) {
		case *model.DirectMessage:
			if mm.SenderID == s.key.CounterpartyID && mm.ReceiverID == s.viewerID && !mm.Read {
				c := *mm
				c.Read = true
				s.msgs[i] = &c
			}
		case *model.GroupMessage:
			if !mm.IsReadBy(s.viewerID) {
				c := *mm
				c.ReadBy = append(append([]string(nil), mm.ReadBy...), s.viewerID)
				s.msgs[i] = &c
			}
		}
	}
	s.mu.Unlock()
	return nil
}

// Messages returns a snapshot of the current sequence.
func (s *Synchronizer) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.msgs...)
}

// Close tears down the subscription. Idempotent; any in-flight event
// resolving after Close is dropped by the generation check.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.gen++
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (s *Synchronizer) indexOfLocked(id string) int {
	for i, m := range s.msgs {
		if m.MessageID() == id {
			return i
		}
	}
	return -1
}
