// Package redisfeed carries change events over Redis pub/sub so every
// chatd instance sees writes performed by any of them. One channel for
// both tables; subscribers filter client-side by scope.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
)

const channel = "famlink:chat:events"

type Feed struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Feed {
	return &Feed{rdb: rdb}
}

// wireEvent is the JSON shape on the channel. The kind field
// discriminates the message union; exactly one of direct/group is set.
type wireEvent struct {
	Type   store.EventType      `json:"type"`
	Kind   string               `json:"kind"`
	Direct *model.DirectMessage `json:"direct,omitempty"`
	Group  *model.GroupMessage  `json:"group,omitempty"`
}

func (ev wireEvent) message() model.Message {
	switch ev.Kind {
	case "direct":
		if ev.Direct != nil {
			return ev.Direct
		}
	case "group":
		if ev.Group != nil {
			return ev.Group
		}
	}
	return nil
}

func (f *Feed) Publish(ctx context.Context, ev store.Event) error {
	w := wireEvent{Type: ev.Type}
	switch m := ev.Message.(type) {
	case *model.DirectMessage:
		w.Kind, w.Direct = "direct", m
	case *model.GroupMessage:
		w.Kind, w.Group = "group", m
	default:
		return fmt.Errorf("redisfeed: unknown message type %T", ev.Message)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("redisfeed: marshal: %w", err)
	}
	if err := f.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redisfeed: publish: %w", err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection. Events are delivered
// one at a time on the subscription's own goroutine; undecodable frames
// are logged and skipped.
func (f *Feed) Subscribe(ctx context.Context, match func(model.Message) bool, fn func(store.Event)) (store.Subscription, error) {
	ps := f.rdb.Subscribe(ctx, channel)
	// Force the SUBSCRIBE handshake so a dead Redis fails here, not
	// silently in the reader goroutine.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redisfeed: subscribe: %w", err)
	}

	sub := &subscription{ps: ps}
	go func() {
		for msg := range ps.Channel() {
			var w wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &w); err != nil {
				logger.Errorf("redisfeed: decode event: %v", err)
				continue
			}
			m := w.message()
			if m == nil || !match(m) {
				continue
			}
			fn(store.Event{Type: w.Type, Message: m})
		}
	}()
	return sub, nil
}

type subscription struct {
	ps   *redis.PubSub
	once sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		if err := s.ps.Close(); err != nil {
			logger.Errorf("redisfeed: close subscription: %v", err)
		}
	})
}
