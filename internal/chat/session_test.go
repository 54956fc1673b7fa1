package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlink/messaging/internal/chat"
	"github.com/famlink/messaging/internal/model"
)

func badgeFor(t *testing.T, s *chat.Session, key model.ConversationKey) int {
	t.Helper()
	for _, c := range s.Conversations() {
		if c.Key == key {
			return c.UnreadCount
		}
	}
	t.Fatalf("conversation %v not in list", key)
	return 0
}

func TestSelectZeroesBadgeAheadOfRefresh(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "one")
	sendDirect(t, st, bob, alice, "two")
	sendDirect(t, st, bob, alice, "three")

	// The aggregator's store starts failing after the initial refresh,
	// so the only way the badge can reach zero is the optimistic path.
	fs := &faultStore{ConversationStore: st}
	agg := chat.NewAggregator(fs, alice)
	session := chat.NewSession(agg, chat.NewReadTracker(st), alice)
	require.NoError(t, agg.Refresh(ctx))

	convs, err := st.Conversations(ctx, alice)
	require.NoError(t, err)
	session.SetConversations(convs)
	require.Equal(t, 3, badgeFor(t, session, directKey(bob)))

	fs.unreadDirectErr = errors.New("store down")
	require.NoError(t, session.Select(ctx, directKey(bob)))

	assert.Equal(t, 0, badgeFor(t, session, directKey(bob)))
	assert.Equal(t, 0, session.TotalUnread())

	selected, ok := session.Selected()
	require.True(t, ok)
	assert.Equal(t, directKey(bob), selected)

	// The remote write went through even though the refresh could not.
	senders, err := st.UnreadDirectSenders(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, senders)
}

func TestSelectConvergesViaRefresh(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "one")
	sendGroup(t, st, carol, memberNoah, "field trip form")

	agg := chat.NewAggregator(st, alice)
	session := chat.NewSession(agg, chat.NewReadTracker(st), alice)
	require.NoError(t, agg.Refresh(ctx))

	convs, err := st.Conversations(ctx, alice)
	require.NoError(t, err)
	session.SetConversations(convs)

	require.NoError(t, session.Select(ctx, groupKey(memberNoah)))
	assert.Equal(t, 0, badgeFor(t, session, groupKey(memberNoah)))
	// The direct thread stays untouched.
	assert.Equal(t, 1, badgeFor(t, session, directKey(bob)))
	assert.Equal(t, 1, session.TotalUnread())
}

func TestSwitchingSelectionRunsTransitionForNewKey(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "one")
	sendGroup(t, st, carol, memberNoah, "two")

	agg := chat.NewAggregator(st, alice)
	session := chat.NewSession(agg, chat.NewReadTracker(st), alice)
	require.NoError(t, agg.Refresh(ctx))

	convs, err := st.Conversations(ctx, alice)
	require.NoError(t, err)
	session.SetConversations(convs)

	require.NoError(t, session.Select(ctx, directKey(bob)))
	require.NoError(t, session.Select(ctx, groupKey(memberNoah)))

	selected, ok := session.Selected()
	require.True(t, ok)
	assert.Equal(t, groupKey(memberNoah), selected)
	assert.Equal(t, 0, badgeFor(t, session, directKey(bob)))
	assert.Equal(t, 0, badgeFor(t, session, groupKey(memberNoah)))
	assert.Equal(t, 0, session.TotalUnread())
}

func TestSelectMarkReadFailureKeepsBadge(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "one")

	fs := &faultStore{ConversationStore: st, markReadErr: errors.New("store down")}
	agg := chat.NewAggregator(st, alice)
	session := chat.NewSession(agg, chat.NewReadTracker(fs), alice)
	require.NoError(t, agg.Refresh(ctx))

	convs, err := st.Conversations(ctx, alice)
	require.NoError(t, err)
	session.SetConversations(convs)

	err = session.Select(ctx, directKey(bob))
	require.Error(t, err)
	assert.True(t, chat.IsKind(err, chat.KindMarkRead))

	// Badge stays stale until a later refresh or retry; selection sticks.
	assert.Equal(t, 1, badgeFor(t, session, directKey(bob)))
	selected, ok := session.Selected()
	require.True(t, ok)
	assert.Equal(t, directKey(bob), selected)
}

func TestClearSelection(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "one")

	agg := chat.NewAggregator(st, alice)
	session := chat.NewSession(agg, chat.NewReadTracker(st), alice)

	require.NoError(t, session.Select(ctx, directKey(bob)))
	session.ClearSelection()
	_, ok := session.Selected()
	assert.False(t, ok)
}
