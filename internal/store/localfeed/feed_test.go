package localfeed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
	"github.com/famlink/messaging/internal/store/localfeed"
)

func TestPublishReachesMatchingSubscribersOnly(t *testing.T) {
	ctx := context.Background()
	feed := localfeed.New()

	var direct, group int
	subD, err := feed.Subscribe(ctx, store.MatchDirect("alice", "bob"), func(store.Event) { direct++ })
	require.NoError(t, err)
	defer subD.Close()
	subG, err := feed.Subscribe(ctx, store.MatchGroup("noah"), func(store.Event) { group++ })
	require.NoError(t, err)
	defer subG.Close()

	err = feed.Publish(ctx, store.Event{Type: store.EventInsert, Message: &model.DirectMessage{
		ID: "m1", SenderID: "bob", ReceiverID: "alice", Content: "hi",
	}})
	require.NoError(t, err)
	err = feed.Publish(ctx, store.Event{Type: store.EventInsert, Message: &model.GroupMessage{
		ID: "m2", SenderID: "bob", MemberID: "noah", Content: "note",
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, direct)
	assert.Equal(t, 1, group)
}

func TestClosedSubscriptionStopsReceiving(t *testing.T) {
	ctx := context.Background()
	feed := localfeed.New()

	count := 0
	sub, err := feed.Subscribe(ctx, store.MatchAll, func(store.Event) { count++ })
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	err = feed.Publish(ctx, store.Event{Type: store.EventInsert, Message: &model.DirectMessage{
		ID: "m1", SenderID: "a", ReceiverID: "b",
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
