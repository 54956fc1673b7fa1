// Package localfeed is an in-process store.Bus for single-instance
// deployments (chatd -dev), where Redis would only talk to itself.
package localfeed

import (
	"context"
	"sync"

	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
)

type Feed struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

func New() *Feed {
	return &Feed{subs: make(map[*subscription]struct{})}
}

func (f *Feed) Publish(ctx context.Context, ev store.Event) error {
	if ev.Message == nil {
		return nil
	}
	f.mu.RLock()
	targets := make([]*subscription, 0, len(f.subs))
	for sub := range f.subs {
		if sub.match(ev.Message) {
			targets = append(targets, sub)
		}
	}
	f.mu.RUnlock()

	for _, sub := range targets {
		sub.fn(ev)
	}
	return nil
}

func (f *Feed) Subscribe(ctx context.Context, match func(model.Message) bool, fn func(store.Event)) (store.Subscription, error) {
	sub := &subscription{f: f, match: match, fn: fn}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub, nil
}

type subscription struct {
	f     *Feed
	match func(model.Message) bool
	fn    func(store.Event)
	once  sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.f.mu.Lock()
		delete(s.f.subs, s)
		s.f.mu.Unlock()
	})
}
