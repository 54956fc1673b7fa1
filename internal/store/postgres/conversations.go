package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
)

// Conversations returns the viewer's chat list: one entry per direct
// counterparty plus one per family member the viewer cares for, most
// recent activity first. UnreadCount stays zero here; the session
// merges the aggregator's index in.
func (s *Store) Conversations(ctx context.Context, viewerID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("pg.Conversations", time.Now())()

	rows, err := s.pool.Query(ctx,
		`SELECT other, COALESCE(u.display_name, other), last
		 FROM (
			SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS other,
			       MAX(created_at) AS last
			FROM direct_messages
			WHERE sender_id = $1 OR receiver_id = $1
			GROUP BY 1
		 ) d
		 LEFT JOIN users u ON u.id = d.other`, viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg.Conversations direct: %w", err)
	}
	defer rows.Close()

	out := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.Key.CounterpartyID, &c.Title, &c.LastActivityAt); err != nil {
			return nil, fmt.Errorf("pg.Conversations direct scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg.Conversations direct rows: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT fm.id, fm.display_name, COALESCE(MAX(gm.created_at), fm.created_at)
		 FROM family_members fm
		 JOIN member_caregivers mc ON mc.member_id = fm.id AND mc.user_id = $1
		 LEFT JOIN group_messages gm ON gm.member_id = fm.id
		 GROUP BY fm.id, fm.display_name, fm.created_at`, viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg.Conversations group: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c := model.Conversation{Key: model.ConversationKey{Group: true}}
		if err := rows.Scan(&c.Key.CounterpartyID, &c.Title, &c.LastActivityAt); err != nil {
			return nil, fmt.Errorf("pg.Conversations group scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg.Conversations group rows: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	return out, nil
}

// Caregivers returns the care team for a family member.
func (s *Store) Caregivers(ctx context.Context, memberID string) ([]string, error) {
	defer logger.DeferLogDuration("pg.Caregivers", time.Now())()

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM family_members WHERE id = $1)`, memberID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("pg.Caregivers exists: %w", err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return s.stringColumn(ctx, "pg.Caregivers",
		`SELECT user_id FROM member_caregivers WHERE member_id = $1`, memberID)
}
