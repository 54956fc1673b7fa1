package push

import (
	"context"
	"time"

	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
)

// Presence answers whether a user currently holds a live websocket; a
// connected user sees the message immediately and gets no push.
type Presence interface {
	IsOnline(userID string) bool
}

// CaregiverLister resolves the care team that should hear about a new
// message on a family member's thread.
type CaregiverLister interface {
	Caregivers(ctx context.Context, memberID string) ([]string, error)
}

// Bridge watches the change feed and turns inserts into push
// notifications for offline recipients.
type Bridge struct {
	store    store.ConversationStore
	lister   CaregiverLister
	notifier *Notifier
	presence Presence
	sub      store.Subscription
}

func NewBridge(st store.ConversationStore, lister CaregiverLister, notifier *Notifier, presence Presence) *Bridge {
	return &Bridge{store: st, lister: lister, notifier: notifier, presence: presence}
}

func (b *Bridge) Start(ctx context.Context) error {
	sub, err := b.store.SubscribeAll(ctx, b.handleEvent)
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

func (b *Bridge) Close() {
	if b.sub != nil {
		b.sub.Close()
	}
}

func (b *Bridge) handleEvent(ev store.Event) {
	if ev.Type != store.EventInsert {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch m := ev.Message.(type) {
	case *model.DirectMessage:
		b.notify(ctx, m.ReceiverID, "New message", m.Content, map[string]string{
			"conversation": m.SenderID,
		})
	case *model.GroupMessage:
		caregivers, err := b.lister.Caregivers(ctx, m.MemberID)
		if err != nil {
			logger.Errorf("push: caregivers for %s: %v", m.MemberID, err)
			return
		}
		for _, userID := range caregivers {
			if userID == m.SenderID {
				continue
			}
			b.notify(ctx, userID, "New message", m.Content, map[string]string{
				"conversation": m.MemberID,
				"group":        "1",
			})
		}
	}
}

func (b *Bridge) notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if b.presence != nil && b.presence.IsOnline(userID) {
		return
	}
	if err := b.notifier.Notify(ctx, userID, title, body, data); err != nil {
		logger.Errorf("push: notify %s: %v", userID, err)
	}
}
