package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlink/messaging/internal/chat"
)

func TestAggregateBucketsByCounterparty(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "one")
	sendDirect(t, st, bob, alice, "two")
	sendDirect(t, st, bob, alice, "three")
	sendGroup(t, st, carol, memberNoah, "school closed monday")
	sendGroup(t, st, carol, memberNoah, "packed lunch needed")
	// Viewer's own messages never count.
	sendDirect(t, st, alice, bob, "reply")
	sendGroup(t, st, alice, memberNoah, "got it")

	agg := chat.NewAggregator(st, alice)
	require.NoError(t, agg.Refresh(ctx))

	ix := agg.Index()
	assert.Equal(t, map[string]int{bob: 3, memberNoah: 2}, ix.Counts)
	assert.Equal(t, 5, ix.Total)
}

func TestRefreshFailureKeepsPreviousIndex(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "one")

	fs := &faultStore{ConversationStore: st}
	agg := chat.NewAggregator(fs, alice)
	require.NoError(t, agg.Refresh(ctx))
	require.Equal(t, 1, agg.Index().Total)

	fs.unreadDirectErr = errors.New("store down")
	sendDirect(t, st, bob, alice, "two")

	err := agg.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, chat.IsKind(err, chat.KindRead))
	assert.Equal(t, 1, agg.Index().Total, "stale-but-present beats blank")
}

func TestChangeEventTriggersRefresh(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	agg := chat.NewAggregator(st, alice)
	require.NoError(t, agg.Start(ctx))
	defer agg.Close()
	require.Equal(t, 0, agg.Index().Total)

	// The broad subscription sees the insert even though alice has
	// never opened this thread; the memory store delivers it
	// synchronously, so the recompute has run by the time we look.
	sendGroup(t, st, bob, memberNoah, "new allergy note")

	ix := agg.Index()
	assert.Equal(t, 1, ix.Count(memberNoah))
	assert.Equal(t, 1, ix.Total)
}

func TestForegroundTransitionRefreshes(t *testing.T) {
	st := newTestStore(t)
	agg := chat.NewAggregator(st, alice)

	sendDirect(t, st, bob, alice, "while backgrounded")
	require.Equal(t, 0, agg.Index().Total)

	agg.Foreground()
	assert.Equal(t, 1, agg.Index().Count(bob))
}

func TestStartReportsSubscribeFailure(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sendDirect(t, st, bob, alice, "one")

	fs := &faultStore{ConversationStore: st, subscribeAllErr: errors.New("feed down")}
	agg := chat.NewAggregator(fs, alice)

	err := agg.Start(ctx)
	require.Error(t, err)
	assert.True(t, chat.IsKind(err, chat.KindSubscribe))
	// The initial refresh still landed before the subscribe failed.
	assert.Equal(t, 1, agg.Index().Total)
}
