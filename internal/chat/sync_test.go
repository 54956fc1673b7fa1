package chat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlink/messaging/internal/chat"
	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
)

func TestLoadOrdersHistoryAscending(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "one")
	sendDirect(t, st, alice, bob, "two")
	sendDirect(t, st, bob, alice, "three")

	s := chat.NewSynchronizer(st, chat.NewReadTracker(st), alice, directKey(bob))
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Body())
	assert.Equal(t, "two", msgs[1].Body())
	assert.Equal(t, "three", msgs[2].Body())
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].SentAt().Before(msgs[i-1].SentAt()))
	}
}

func TestLiveInsertAppendsAndMarksRead(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	s := chat.NewSynchronizer(st, chat.NewReadTracker(st), alice, directKey(bob))
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	// The memory store delivers the insert event synchronously, so the
	// open conversation has already seen and read-flagged it by the
	// time InsertDirect returns.
	sendDirect(t, st, bob, alice, "hi")

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	dm, ok := msgs[0].(*model.DirectMessage)
	require.True(t, ok)
	assert.True(t, dm.Read, "incoming message in an open direct thread is seen immediately")

	senders, err := st.UnreadDirectSenders(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, senders)
}

func TestDuplicateInsertEventsIgnored(t *testing.T) {
	ctx := context.Background()
	cs := &captureStore{ConversationStore: newTestStore(t)}

	s := chat.NewSynchronizer(cs, chat.NewReadTracker(cs), alice, directKey(bob))
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	row := &model.DirectMessage{ID: "m1", SenderID: bob, ReceiverID: alice, Content: "hi", CreatedAt: time.Now().UTC()}
	cs.deliver(store.Event{Type: store.EventInsert, Message: row})
	cs.deliver(store.Event{Type: store.EventInsert, Message: row})

	require.Len(t, s.Messages(), 1)
}

func TestOutOfOrderDeliveryKeptInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	cs := &captureStore{ConversationStore: newTestStore(t)}

	s := chat.NewSynchronizer(cs, chat.NewReadTracker(cs), alice, directKey(bob))
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	base := time.Now().UTC()
	t1 := &model.DirectMessage{ID: "t1", SenderID: alice, ReceiverID: bob, Content: "first", CreatedAt: base}
	t2 := &model.DirectMessage{ID: "t2", SenderID: alice, ReceiverID: bob, Content: "second", CreatedAt: base.Add(time.Second)}
	t3 := &model.DirectMessage{ID: "t3", SenderID: alice, ReceiverID: bob, Content: "third", CreatedAt: base.Add(2 * time.Second)}

	// Transport delivers t2 before t1. Arrival order is kept as-is:
	// live events are not re-sorted by created_at.
	for _, m := range []*model.DirectMessage{t2, t1, t3} {
		cs.deliver(store.Event{Type: store.EventInsert, Message: m})
	}

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "t2", msgs[0].MessageID())
	assert.Equal(t, "t1", msgs[1].MessageID())
	assert.Equal(t, "t3", msgs[2].MessageID())
}

func TestSendEmptyContentIsNoop(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	s := chat.NewSynchronizer(st, chat.NewReadTracker(st), alice, directKey(bob))
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	m, err := s.Send(ctx, "   \n\t")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Empty(t, s.Messages())
}

func TestSendConvergesToServerRow(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	s := chat.NewSynchronizer(st, chat.NewReadTracker(st), alice, directKey(bob))
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	confirmed, err := s.Send(ctx, "hello")
	require.NoError(t, err)
	require.NotNil(t, confirmed)
	assert.False(t, model.IsTempID(confirmed.MessageID()))

	var hellos []model.Message
	for _, m := range s.Messages() {
		if m.Body() == "hello" {
			hellos = append(hellos, m)
		}
	}
	require.Len(t, hellos, 1, "exactly one entry after optimistic reconcile")
	assert.Equal(t, confirmed.MessageID(), hellos[0].MessageID())
}

func TestSendFailureRollsBackOptimisticEntry(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "earlier")

	fs := &faultStore{ConversationStore: st, insertErr: errors.New("insert refused")}
	s := chat.NewSynchronizer(fs, chat.NewReadTracker(fs), alice, directKey(bob))
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	m, err := s.Send(ctx, "hello")
	require.Error(t, err)
	assert.True(t, chat.IsKind(err, chat.KindSend))
	assert.Nil(t, m)

	msgs := s.Messages()
	require.Len(t, msgs, 1, "only the pre-existing message survives")
	assert.Equal(t, "earlier", msgs[0].Body())
}

func TestLateEventAfterCloseDropped(t *testing.T) {
	ctx := context.Background()
	cs := &captureStore{ConversationStore: newTestStore(t)}

	s := chat.NewSynchronizer(cs, chat.NewReadTracker(cs), alice, directKey(bob))
	require.NoError(t, s.Load(ctx))
	s.Close()

	cs.deliver(store.Event{Type: store.EventInsert, Message: &model.DirectMessage{
		ID: "late", SenderID: bob, ReceiverID: alice, Content: "late", CreatedAt: time.Now().UTC(),
	}})

	assert.Empty(t, s.Messages())
}

func TestGroupSendStartsReadBySender(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	s := chat.NewSynchronizer(st, chat.NewReadTracker(st), alice, groupKey(memberNoah))
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	confirmed, err := s.Send(ctx, "pickup at 3pm")
	require.NoError(t, err)
	gm, ok := confirmed.(*model.GroupMessage)
	require.True(t, ok)
	assert.True(t, gm.IsReadBy(alice))

	// Own message never counts as unread for the sender.
	members, err := st.UnreadGroupMembers(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestMarkReadDoesNotWriteThroughSnapshots(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "hi")
	sendGroup(t, st, bob, memberNoah, "note")

	direct := chat.NewSynchronizer(st, chat.NewReadTracker(st), alice, directKey(bob))
	defer direct.Close()
	require.NoError(t, direct.Load(ctx))
	group := chat.NewSynchronizer(st, chat.NewReadTracker(st), alice, groupKey(memberNoah))
	defer group.Close()
	require.NoError(t, group.Load(ctx))

	// Snapshots taken before the transition may be iterated on another
	// goroutine; MarkRead must replace entries, not mutate them in place.
	beforeDirect := direct.Messages()[0].(*model.DirectMessage)
	beforeGroup := group.Messages()[0].(*model.GroupMessage)
	require.False(t, beforeDirect.Read)
	require.False(t, beforeGroup.IsReadBy(alice))

	require.NoError(t, direct.MarkRead(ctx))
	require.NoError(t, group.MarkRead(ctx))

	assert.False(t, beforeDirect.Read)
	assert.False(t, beforeGroup.IsReadBy(alice))

	afterDirect := direct.Messages()[0].(*model.DirectMessage)
	afterGroup := group.Messages()[0].(*model.GroupMessage)
	assert.True(t, afterDirect.Read)
	assert.True(t, afterGroup.IsReadBy(alice))
}
