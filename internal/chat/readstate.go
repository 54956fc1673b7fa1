package chat

import (
	"context"
	"time"

	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
)

// ReadTracker hides the two mark-as-read mechanics behind one call:
// direct threads get a single bulk flag update, group threads get one
// append-to-set per unread message (the underlying operation is a
// set-membership add, not an overwrite).
type ReadTracker struct {
	store store.ConversationStore
}

func NewReadTracker(st store.ConversationStore) *ReadTracker {
	return &ReadTracker{store: st}
}

// MarkConversationRead marks everything the viewer has not read in the
// conversation as read. Idempotent: nothing unread is a success, not an
// error; only transport failures are returned (wrapped as KindMarkRead).
func (t *ReadTracker) MarkConversationRead(ctx context.Context, key model.ConversationKey, viewerID string) error {
	defer logger.DeferLogDuration("chat.MarkConversationRead", time.Now())()

	if !key.Group {
		return wrapErr(KindMarkRead, t.store.MarkDirectRead(ctx, key.CounterpartyID, viewerID))
	}

	ids, err := t.store.UnreadGroupMessageIDs(ctx, key.CounterpartyID, viewerID)
	if err != nil {
		return wrapErr(KindMarkRead, err)
	}
	for _, id := range ids {
		if err := t.store.AppendGroupReadBy(ctx, id, viewerID); err != nil {
			return wrapErr(KindMarkRead, err)
		}
	}
	return nil
}
