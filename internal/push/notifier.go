// Package push sends Web Push notifications to caregivers who are not
// connected over websocket when a message lands.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/famlink/messaging/internal/logger"
)

// Subscription is the browser's push subscription as delivered by the
// Push API on the client.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SubscriptionStore persists push subscriptions per user.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, userID string, sub Subscription) error
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	SubscriptionsForUser(ctx context.Context, userID string) ([]Subscription, error)
}

// Notifier delivers notifications to every subscription a user has.
// Endpoints that come back 404/410 are pruned.
type Notifier struct {
	subs  SubscriptionStore
	vapid *webpush.Options
}

func NewNotifier(subs SubscriptionStore, subscriber string, keys *VAPIDKeys) *Notifier {
	var opts *webpush.Options
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		opts = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return &Notifier{subs: subs, vapid: opts}
}

// Enabled reports whether VAPID keys are configured. When false, Notify
// is a no-op; subscriptions are still accepted and stored.
func (n *Notifier) Enabled() bool { return n.vapid != nil }

// Notify sends title/body/data to every subscription of userID. Delivery
// is best effort: individual endpoint failures are logged and skipped.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) error {
	if n.vapid == nil {
		return nil
	}
	subs, err := n.subs.SubscriptionsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("push.Notify subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	if err != nil {
		return fmt.Errorf("push.Notify payload: %w", err)
	}
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, n.vapid)
		if err != nil {
			logger.Errorf("push: send %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			if err := n.subs.DeleteSubscription(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push: prune dead subscription: %v", err)
			}
		}
	}
	return nil
}
