package chat

import (
	"context"
	"sync"
	"time"

	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
)

const refreshTimeout = 10 * time.Second

// Aggregator computes the viewer's unread counts bucketed by
// counterparty. Every refresh is a full recompute from the two remote
// projections, so missed or duplicated change events can never compound
// into drift. It is the single writer
// of the index; everything else reads copies.
type Aggregator struct {
	store    store.ConversationStore
	viewerID string

	mu    sync.RWMutex
	index model.UnreadIndex
	sub   store.Subscription

	onUpdate func(model.UnreadIndex)
}

func NewAggregator(st store.ConversationStore, viewerID string) *Aggregator {
	return &Aggregator{store: st, viewerID: viewerID, index: model.NewUnreadIndex()}
}

// OnUpdate registers a callback invoked with a copy of the index after
// every successful refresh. Set it before Start.
func (a *Aggregator) OnUpdate(fn func(model.UnreadIndex)) {
	a.mu.Lock()
	a.onUpdate = fn
	a.mu.Unlock()
}

// Start performs the initial refresh and opens the broad change
// subscription: table-wide, not per-conversation, because an unread
// count can change in a thread the viewer has never opened. The
// subscription lives until Close.
func (a *Aggregator) Start(ctx context.Context) error {
	if err := a.Refresh(ctx); err != nil {
		return err
	}
	sub, err := a.store.SubscribeAll(ctx, func(store.Event) { a.refreshDetached() })
	if err != nil {
		return wrapErr(KindSubscribe, err)
	}
	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()
	return nil
}

// ComputeIndex folds the two unread projections into one index. Exposed
// for one-shot consumers (the HTTP conversation list); the aggregator
// itself uses it on every refresh.
func ComputeIndex(ctx context.Context, st store.ConversationStore, viewerID string) (model.UnreadIndex, error) {
	senders, err := st.UnreadDirectSenders(ctx, viewerID)
	if err != nil {
		return model.UnreadIndex{}, wrapErr(KindRead, err)
	}
	members, err := st.UnreadGroupMembers(ctx, viewerID)
	if err != nil {
		return model.UnreadIndex{}, wrapErr(KindRead, err)
	}

	ix := model.NewUnreadIndex()
	for _, id := range senders {
		ix.Counts[id]++
		ix.Total++
	}
	for _, id := range members {
		ix.Counts[id]++
		ix.Total++
	}
	return ix, nil
}

// Refresh rebuilds the index wholesale. On failure the previous index
// stays in place: stale-but-present beats blank.
func (a *Aggregator) Refresh(ctx context.Context) error {
	defer logger.DeferLogDuration("chat.Refresh", time.Now())()

	ix, err := ComputeIndex(ctx, a.store, a.viewerID)
	if err != nil {
		logger.Errorf("chat: unread refresh for %s: %v", a.viewerID, err)
		return err
	}

	a.mu.Lock()
	a.index = ix
	notify := a.onUpdate
	a.mu.Unlock()

	if notify != nil {
		notify(ix.Clone())
	}
	return nil
}

// refreshDetached runs a refresh outside any caller's context: change
// events and lifecycle signals carry no deadline of their own.
func (a *Aggregator) refreshDetached() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	_ = a.Refresh(ctx) // already logged
}

// Foreground is the app-lifecycle hook: the process returned to the
// foreground, so converge the index with whatever happened while
// backgrounded.
func (a *Aggregator) Foreground() {
	a.refreshDetached()
}

// Index returns a copy of the current index.
func (a *Aggregator) Index() model.UnreadIndex {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.index.Clone()
}

// Close tears down the broad subscription. Idempotent.
func (a *Aggregator) Close() {
	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}
