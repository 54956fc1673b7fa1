package chat_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlink/messaging/internal/chat"
)

func TestMarkDirectReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "one")
	sendDirect(t, st, bob, alice, "two")

	tracker := chat.NewReadTracker(st)
	require.NoError(t, tracker.MarkConversationRead(ctx, directKey(bob), alice))
	// Second call has nothing to update and must still succeed.
	require.NoError(t, tracker.MarkConversationRead(ctx, directKey(bob), alice))

	senders, err := st.UnreadDirectSenders(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, senders)
}

func TestMarkGroupReadAppendsViewerToEveryMessage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendGroup(t, st, bob, memberNoah, "doctor moved to friday")
	sendGroup(t, st, carol, memberNoah, "noted")

	tracker := chat.NewReadTracker(st)
	require.NoError(t, tracker.MarkConversationRead(ctx, groupKey(memberNoah), alice))
	require.NoError(t, tracker.MarkConversationRead(ctx, groupKey(memberNoah), alice))

	history, err := st.GroupHistory(ctx, memberNoah)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, m := range history {
		assert.True(t, m.IsReadBy(alice))
	}

	ids, err := st.UnreadGroupMessageIDs(ctx, memberNoah, alice)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMarkReadOnEmptyConversationsSucceeds(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tracker := chat.NewReadTracker(st)

	assert.NoError(t, tracker.MarkConversationRead(ctx, directKey(bob), alice))
	assert.NoError(t, tracker.MarkConversationRead(ctx, groupKey(memberNoah), alice))
}
