// Package postgres is the durable ConversationStore: direct and group
// messages in Postgres, change events published through a store.Bus so
// every subscriber (including other chatd instances) sees writes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
	bus  store.Bus
}

func New(pool *pgxpool.Pool, bus store.Bus) *Store {
	return &Store{pool: pool, bus: bus}
}

func (s *Store) DirectHistory(ctx context.Context, viewerID, counterpartyID string) ([]*model.DirectMessage, error) {
	defer logger.DeferLogDuration("pg.DirectHistory", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_id, receiver_id, content, read, created_at
		 FROM direct_messages
		 WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		 ORDER BY created_at ASC`, viewerID, counterpartyID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg.DirectHistory query: %w", err)
	}
	defer rows.Close()

	msgs := make([]*model.DirectMessage, 0, 32)
	for rows.Next() {
		m := &model.DirectMessage{}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg.DirectHistory scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg.DirectHistory rows: %w", err)
	}
	return msgs, nil
}

func (s *Store) GroupHistory(ctx context.Context, memberID string) ([]*model.GroupMessage, error) {
	defer logger.DeferLogDuration("pg.GroupHistory", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_id, member_id, content, read_by, created_at
		 FROM group_messages
		 WHERE member_id = $1
		 ORDER BY created_at ASC`, memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg.GroupHistory query: %w", err)
	}
	defer rows.Close()

	msgs := make([]*model.GroupMessage, 0, 32)
	for rows.Next() {
		m := &model.GroupMessage{}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.MemberID, &m.Content, &m.ReadBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg.GroupHistory scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg.GroupHistory rows: %w", err)
	}
	return msgs, nil
}

func (s *Store) InsertDirect(ctx context.Context, m *model.DirectMessage) (*model.DirectMessage, error) {
	defer logger.DeferLogDuration("pg.InsertDirect", time.Now())()
	row := &model.DirectMessage{SenderID: m.SenderID, ReceiverID: m.ReceiverID, Content: m.Content, Read: m.Read}
	// The server assigns id and created_at; the client's temporary id
	// never reaches the table.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO direct_messages (sender_id, receiver_id, content, read)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		m.SenderID, m.ReceiverID, m.Content, m.Read,
	).Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("pg.InsertDirect: %w", err)
	}
	s.publish(ctx, store.Event{Type: store.EventInsert, Message: row})
	return row, nil
}

func (s *Store) InsertGroup(ctx context.Context, m *model.GroupMessage) (*model.GroupMessage, error) {
	defer logger.DeferLogDuration("pg.InsertGroup", time.Now())()
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	row := &model.GroupMessage{SenderID: m.SenderID, MemberID: m.MemberID, Content: m.Content, ReadBy: readBy}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO group_messages (sender_id, member_id, content, read_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		m.SenderID, m.MemberID, m.Content, readBy,
	).Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("pg.InsertGroup: %w", err)
	}
	s.publish(ctx, store.Event{Type: store.EventInsert, Message: row})
	return row, nil
}

func (s *Store) MarkDirectRead(ctx context.Context, senderID, receiverID string) error {
	defer logger.DeferLogDuration("pg.MarkDirectRead", time.Now())()
	rows, err := s.pool.Query(ctx,
		`UPDATE direct_messages SET read = true
		 WHERE sender_id = $1 AND receiver_id = $2 AND read = false
		 RETURNING id, sender_id, receiver_id, content, read, created_at`,
		senderID, receiverID,
	)
	if err != nil {
		return fmt.Errorf("pg.MarkDirectRead: %w", err)
	}
	defer rows.Close()

	changed := make([]*model.DirectMessage, 0, 4)
	for rows.Next() {
		m := &model.DirectMessage{}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Read, &m.CreatedAt); err != nil {
			return fmt.Errorf("pg.MarkDirectRead scan: %w", err)
		}
		changed = append(changed, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("pg.MarkDirectRead rows: %w", err)
	}
	for _, m := range changed {
		s.publish(ctx, store.Event{Type: store.EventUpdate, Message: m})
	}
	return nil
}

func (s *Store) AppendGroupReadBy(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("pg.AppendGroupReadBy", time.Now())()
	m := &model.GroupMessage{}
	err := s.pool.QueryRow(ctx,
		`UPDATE group_messages SET read_by = array_append(read_by, $2)
		 WHERE id = $1 AND NOT (read_by @> ARRAY[$2])
		 RETURNING id, sender_id, member_id, content, read_by, created_at`,
		messageID, userID,
	).Scan(&m.ID, &m.SenderID, &m.MemberID, &m.Content, &m.ReadBy, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either already read (fine) or missing row.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM group_messages WHERE id = $1)`, messageID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("pg.AppendGroupReadBy exists: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("pg.AppendGroupReadBy: %w", err)
	}
	s.publish(ctx, store.Event{Type: store.EventUpdate, Message: m})
	return nil
}

func (s *Store) UnreadDirectSenders(ctx context.Context, viewerID string) ([]string, error) {
	defer logger.DeferLogDuration("pg.UnreadDirectSenders", time.Now())()
	return s.stringColumn(ctx, "pg.UnreadDirectSenders",
		`SELECT sender_id FROM direct_messages
		 WHERE receiver_id = $1 AND read = false`, viewerID)
}

func (s *Store) UnreadGroupMembers(ctx context.Context, viewerID string) ([]string, error) {
	defer logger.DeferLogDuration("pg.UnreadGroupMembers", time.Now())()
	return s.stringColumn(ctx, "pg.UnreadGroupMembers",
		`SELECT gm.member_id FROM group_messages gm
		 JOIN member_caregivers mc ON mc.member_id = gm.member_id AND mc.user_id = $1
		 WHERE gm.sender_id != $1 AND NOT (gm.read_by @> ARRAY[$1])`, viewerID)
}

func (s *Store) UnreadGroupMessageIDs(ctx context.Context, memberID, viewerID string) ([]string, error) {
	defer logger.DeferLogDuration("pg.UnreadGroupMessageIDs", time.Now())()
	return s.stringColumn(ctx, "pg.UnreadGroupMessageIDs",
		`SELECT id FROM group_messages
		 WHERE member_id = $1 AND NOT (read_by @> ARRAY[$2])`, memberID, viewerID)
}

func (s *Store) stringColumn(ctx context.Context, op, sql string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	out := make([]string, 0, 16)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

func (s *Store) SubscribeDirect(ctx context.Context, viewerID, counterpartyID string, fn func(store.Event)) (store.Subscription, error) {
	return s.bus.Subscribe(ctx, store.MatchDirect(viewerID, counterpartyID), fn)
}

func (s *Store) SubscribeGroup(ctx context.Context, memberID string, fn func(store.Event)) (store.Subscription, error) {
	return s.bus.Subscribe(ctx, store.MatchGroup(memberID), fn)
}

func (s *Store) SubscribeAll(ctx context.Context, fn func(store.Event)) (store.Subscription, error) {
	return s.bus.Subscribe(ctx, store.MatchAll, fn)
}

// publish fans the event out after the row is committed. A feed failure
// is logged, not returned: the write itself succeeded and the unread
// aggregator's full recompute heals missed events on the next refresh.
func (s *Store) publish(ctx context.Context, ev store.Event) {
	if err := s.bus.Publish(ctx, ev); err != nil {
		logger.Errorf("pg: publish %s event: %v", ev.Type, err)
	}
}
