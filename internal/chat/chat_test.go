package chat_test

import (
	"context"
	"testing"

	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
	"github.com/famlink/messaging/internal/store/memory"
)

const (
	alice      = "alice"
	bob        = "bob"
	carol      = "carol"
	memberNoah = "noah"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	st.AddUser(alice, "Alice")
	st.AddUser(bob, "Bob")
	st.AddUser(carol, "Carol")
	st.AddFamilyMember(memberNoah, "Noah", alice, bob, carol)
	return st
}

func directKey(counterpartyID string) model.ConversationKey {
	return model.ConversationKey{CounterpartyID: counterpartyID}
}

func groupKey(memberID string) model.ConversationKey {
	return model.ConversationKey{CounterpartyID: memberID, Group: true}
}

func sendDirect(t *testing.T, st *memory.Store, from, to, content string) *model.DirectMessage {
	t.Helper()
	m, err := st.InsertDirect(context.Background(), &model.DirectMessage{
		SenderID: from, ReceiverID: to, Content: content,
	})
	if err != nil {
		t.Fatalf("insert direct: %v", err)
	}
	return m
}

func sendGroup(t *testing.T, st *memory.Store, from, memberID, content string) *model.GroupMessage {
	t.Helper()
	m, err := st.InsertGroup(context.Background(), &model.GroupMessage{
		SenderID: from, MemberID: memberID, Content: content, ReadBy: []string{from},
	})
	if err != nil {
		t.Fatalf("insert group: %v", err)
	}
	return m
}

// faultStore wraps a ConversationStore and fails selected operations,
// passing everything else through.
type faultStore struct {
	store.ConversationStore
	insertErr       error
	unreadDirectErr error
	markReadErr     error
	subscribeAllErr error
}

func (f *faultStore) InsertDirect(ctx context.Context, m *model.DirectMessage) (*model.DirectMessage, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	return f.ConversationStore.InsertDirect(ctx, m)
}

func (f *faultStore) InsertGroup(ctx context.Context, m *model.GroupMessage) (*model.GroupMessage, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	return f.ConversationStore.InsertGroup(ctx, m)
}

func (f *faultStore) UnreadDirectSenders(ctx context.Context, viewerID string) ([]string, error) {
	if f.unreadDirectErr != nil {
		return nil, f.unreadDirectErr
	}
	return f.ConversationStore.UnreadDirectSenders(ctx, viewerID)
}

func (f *faultStore) MarkDirectRead(ctx context.Context, senderID, receiverID string) error {
	if f.markReadErr != nil {
		return f.markReadErr
	}
	return f.ConversationStore.MarkDirectRead(ctx, senderID, receiverID)
}

func (f *faultStore) AppendGroupReadBy(ctx context.Context, messageID, userID string) error {
	if f.markReadErr != nil {
		return f.markReadErr
	}
	return f.ConversationStore.AppendGroupReadBy(ctx, messageID, userID)
}

func (f *faultStore) SubscribeAll(ctx context.Context, fn func(store.Event)) (store.Subscription, error) {
	if f.subscribeAllErr != nil {
		return nil, f.subscribeAllErr
	}
	return f.ConversationStore.SubscribeAll(ctx, fn)
}

// captureStore records subscription callbacks so tests can deliver
// change events by hand (replays, out-of-order arrival, late events).
type captureStore struct {
	store.ConversationStore
	fns []func(store.Event)
}

type nopSub struct{}

func (nopSub) Close() {}

func (c *captureStore) SubscribeDirect(ctx context.Context, viewerID, counterpartyID string, fn func(store.Event)) (store.Subscription, error) {
	c.fns = append(c.fns, fn)
	return nopSub{}, nil
}

func (c *captureStore) SubscribeGroup(ctx context.Context, memberID string, fn func(store.Event)) (store.Subscription, error) {
	c.fns = append(c.fns, fn)
	return nopSub{}, nil
}

func (c *captureStore) SubscribeAll(ctx context.Context, fn func(store.Event)) (store.Subscription, error) {
	c.fns = append(c.fns, fn)
	return nopSub{}, nil
}

func (c *captureStore) deliver(ev store.Event) {
	for _, fn := range c.fns {
		fn(ev)
	}
}
