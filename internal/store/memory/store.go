// Package memory is an in-memory ConversationStore with an in-process
// change feed. It backs the test suite, where a single process plays
// both the client core and the remote store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
)

// Store implements store.ConversationStore and store.ConversationLister.
// Change events are delivered synchronously in the writer's goroutine,
// after the write has committed and outside the store lock.
type Store struct {
	mu          sync.RWMutex
	direct      []*model.DirectMessage
	group       []*model.GroupMessage
	userNames   map[string]string
	memberNames map[string]string
	caregivers  map[string][]string
	subs        map[*subscription]struct{}
}

func New() *Store {
	return &Store{
		userNames:   make(map[string]string),
		memberNames: make(map[string]string),
		caregivers:  make(map[string][]string),
		subs:        make(map[*subscription]struct{}),
	}
}

// AddUser registers a display name for a caregiver.
func (s *Store) AddUser(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userNames[id] = name
}

// AddFamilyMember registers a family member's shared thread and its
// care team.
func (s *Store) AddFamilyMember(id, name string, caregiverIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberNames[id] = name
	s.caregivers[id] = append([]string(nil), caregiverIDs...)
}

func cloneDirect(m *model.DirectMessage) *model.DirectMessage {
	c := *m
	return &c
}

func cloneGroup(m *model.GroupMessage) *model.GroupMessage {
	c := *m
	c.ReadBy = append([]string(nil), m.ReadBy...)
	return &c
}

func (s *Store) DirectHistory(ctx context.Context, viewerID, counterpartyID string) ([]*model.DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.DirectMessage, 0, 16)
	for _, m := range s.direct {
		if (m.SenderID == viewerID && m.ReceiverID == counterpartyID) ||
			(m.SenderID == counterpartyID && m.ReceiverID == viewerID) {
			out = append(out, cloneDirect(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GroupHistory(ctx context.Context, memberID string) ([]*model.GroupMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.GroupMessage, 0, 16)
	for _, m := range s.group {
		if m.MemberID == memberID {
			out = append(out, cloneGroup(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) InsertDirect(ctx context.Context, m *model.DirectMessage) (*model.DirectMessage, error) {
	row := cloneDirect(m)
	row.ID = uuid.New().String()
	row.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.direct = append(s.direct, row)
	s.mu.Unlock()

	s.publish(store.Event{Type: store.EventInsert, Message: cloneDirect(row)})
	return cloneDirect(row), nil
}

func (s *Store) InsertGroup(ctx context.Context, m *model.GroupMessage) (*model.GroupMessage, error) {
	row := cloneGroup(m)
	row.ID = uuid.New().String()
	row.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.group = append(s.group, row)
	s.mu.Unlock()

	s.publish(store.Event{Type: store.EventInsert, Message: cloneGroup(row)})
	return cloneGroup(row), nil
}

func (s *Store) MarkDirectRead(ctx context.Context, senderID, receiverID string) error {
	s.mu.Lock()
	changed := make([]*model.DirectMessage, 0, 4)
	for _, m := range s.direct {
		if m.SenderID == senderID && m.ReceiverID == receiverID && !m.Read {
			m.Read = true
			changed = append(changed, cloneDirect(m))
		}
	}
	s.mu.Unlock()

	for _, m := range changed {
		s.publish(store.Event{Type: store.EventUpdate, Message: m})
	}
	return nil
}

func (s *Store) AppendGroupReadBy(ctx context.Context, messageID, userID string) error {
	s.mu.Lock()
	var changed *model.GroupMessage
	found := false
	for _, m := range s.group {
		if m.ID == messageID {
			found = true
			if !m.IsReadBy(userID) {
				m.ReadBy = append(m.ReadBy, userID)
				changed = cloneGroup(m)
			}
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return store.ErrNotFound
	}
	if changed != nil {
		s.publish(store.Event{Type: store.EventUpdate, Message: changed})
	}
	return nil
}

func (s *Store) UnreadDirectSenders(ctx context.Context, viewerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 8)
	for _, m := range s.direct {
		if m.ReceiverID == viewerID && !m.Read {
			out = append(out, m.SenderID)
		}
	}
	return out, nil
}

func (s *Store) UnreadGroupMembers(ctx context.Context, viewerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 8)
	for _, m := range s.group {
		if m.SenderID != viewerID && s.isCaregiverLocked(m.MemberID, viewerID) && !m.IsReadBy(viewerID) {
			out = append(out, m.MemberID)
		}
	}
	return out, nil
}

func (s *Store) UnreadGroupMessageIDs(ctx context.Context, memberID, viewerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 8)
	for _, m := range s.group {
		if m.MemberID == memberID && !m.IsReadBy(viewerID) {
			out = append(out, m.ID)
		}
	}
	return out, nil
}

func (s *Store) isCaregiverLocked(memberID, userID string) bool {
	for _, id := range s.caregivers[memberID] {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *Store) Conversations(ctx context.Context, viewerID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lastDirect := make(map[string]time.Time)
	for _, m := range s.direct {
		var other string
		switch viewerID {
		case m.SenderID:
			other = m.ReceiverID
		case m.ReceiverID:
			other = m.SenderID
		default:
			continue
		}
		if m.CreatedAt.After(lastDirect[other]) {
			lastDirect[other] = m.CreatedAt
		}
	}

	out := make([]model.Conversation, 0, len(lastDirect)+len(s.caregivers))
	for other, last := range lastDirect {
		title := s.userNames[other]
		if title == "" {
			title = other
		}
		out = append(out, model.Conversation{
			Key:            model.ConversationKey{CounterpartyID: other},
			Title:          title,
			LastActivityAt: last,
		})
	}
	for memberID := range s.caregivers {
		if !s.isCaregiverLocked(memberID, viewerID) {
			continue
		}
		var last time.Time
		for _, m := range s.group {
			if m.MemberID == memberID && m.CreatedAt.After(last) {
				last = m.CreatedAt
			}
		}
		title := s.memberNames[memberID]
		if title == "" {
			title = memberID
		}
		out = append(out, model.Conversation{
			Key:            model.ConversationKey{CounterpartyID: memberID, Group: true},
			Title:          title,
			LastActivityAt: last,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	return out, nil
}

func (s *Store) Caregivers(ctx context.Context, memberID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.caregivers[memberID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]string(nil), ids...), nil
}

type subscription struct {
	s     *Store
	match func(model.Message) bool
	fn    func(store.Event)
	once  sync.Once
}

func (sub *subscription) Close() {
	sub.once.Do(func() {
		sub.s.mu.Lock()
		delete(sub.s.subs, sub)
		sub.s.mu.Unlock()
	})
}

func (s *Store) subscribe(match func(model.Message) bool, fn func(store.Event)) (store.Subscription, error) {
	sub := &subscription{s: s, match: match, fn: fn}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub, nil
}

func (s *Store) SubscribeDirect(ctx context.Context, viewerID, counterpartyID string, fn func(store.Event)) (store.Subscription, error) {
	return s.subscribe(store.MatchDirect(viewerID, counterpartyID), fn)
}

func (s *Store) SubscribeGroup(ctx context.Context, memberID string, fn func(store.Event)) (store.Subscription, error) {
	return s.subscribe(store.MatchGroup(memberID), fn)
}

func (s *Store) SubscribeAll(ctx context.Context, fn func(store.Event)) (store.Subscription, error) {
	return s.subscribe(store.MatchAll, fn)
}

func (s *Store) publish(ev store.Event) {
	s.mu.RLock()
	targets := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		if ev.Message != nil && sub.match(ev.Message) {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		sub.fn(ev)
	}
}
