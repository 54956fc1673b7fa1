package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
	"github.com/famlink/messaging/internal/store/memory"
)

func TestConversationsOrderedByActivity(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.AddUser("alice", "Alice")
	st.AddUser("bob", "Bob")
	st.AddFamilyMember("noah", "Noah", "alice", "bob")

	_, err := st.InsertDirect(ctx, &model.DirectMessage{SenderID: "bob", ReceiverID: "alice", Content: "hi"})
	require.NoError(t, err)
	_, err = st.InsertGroup(ctx, &model.GroupMessage{SenderID: "bob", MemberID: "noah", Content: "pickup at 3"})
	require.NoError(t, err)

	convs, err := st.Conversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	// The group thread got the later message.
	assert.Equal(t, model.ConversationKey{CounterpartyID: "noah", Group: true}, convs[0].Key)
	assert.Equal(t, "Noah", convs[0].Title)
	assert.Equal(t, model.ConversationKey{CounterpartyID: "bob"}, convs[1].Key)
	assert.Equal(t, "Bob", convs[1].Title)
}

func TestCaregiversUnknownMember(t *testing.T) {
	st := memory.New()
	_, err := st.Caregivers(context.Background(), "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscribeDirectFiltersOtherPairs(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	var got []store.Event
	sub, err := st.SubscribeDirect(ctx, "alice", "bob", func(ev store.Event) { got = append(got, ev) })
	require.NoError(t, err)
	defer sub.Close()

	_, err = st.InsertDirect(ctx, &model.DirectMessage{SenderID: "bob", ReceiverID: "alice", Content: "in scope"})
	require.NoError(t, err)
	_, err = st.InsertDirect(ctx, &model.DirectMessage{SenderID: "carol", ReceiverID: "alice", Content: "out of scope"})
	require.NoError(t, err)

	require.Len(t, got, 1)
	dm, ok := got[0].Message.(*model.DirectMessage)
	require.True(t, ok)
	assert.Equal(t, "in scope", dm.Content)
}

func TestCloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	count := 0
	sub, err := st.SubscribeAll(ctx, func(store.Event) { count++ })
	require.NoError(t, err)

	_, err = st.InsertDirect(ctx, &model.DirectMessage{SenderID: "a", ReceiverID: "b", Content: "one"})
	require.NoError(t, err)
	sub.Close()
	sub.Close() // idempotent
	_, err = st.InsertDirect(ctx, &model.DirectMessage{SenderID: "a", ReceiverID: "b", Content: "two"})
	require.NoError(t, err)

	assert.Equal(t, 1, count)
}

func TestMarkDirectReadPublishesUpdates(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_, err := st.InsertDirect(ctx, &model.DirectMessage{SenderID: "bob", ReceiverID: "alice", Content: "hi"})
	require.NoError(t, err)

	var updates int
	sub, err := st.SubscribeAll(ctx, func(ev store.Event) {
		if ev.Type == store.EventUpdate {
			updates++
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, st.MarkDirectRead(ctx, "bob", "alice"))
	assert.Equal(t, 1, updates)

	// Nothing left unread: the second call publishes nothing.
	require.NoError(t, st.MarkDirectRead(ctx, "bob", "alice"))
	assert.Equal(t, 1, updates)
}
