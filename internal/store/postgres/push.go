package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/push"
)

const maxSubscriptionsPerUser = 10

// SaveSubscription upserts by endpoint and caps the number of
// subscriptions a single user can hold.
func (s *Store) SaveSubscription(ctx context.Context, userID string, sub push.Subscription) error {
	defer logger.DeferLogDuration("pg.SaveSubscription", time.Now())()
	keys, err := json.Marshal(sub.Keys)
	if err != nil {
		return fmt.Errorf("pg.SaveSubscription keys: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, keys)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (endpoint) DO UPDATE SET user_id = $1, keys = $3`,
		userID, sub.Endpoint, keys,
	)
	if err != nil {
		return fmt.Errorf("pg.SaveSubscription: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`DELETE FROM push_subscriptions
		 WHERE user_id = $1 AND endpoint NOT IN (
			SELECT endpoint FROM push_subscriptions
			WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
		 )`, userID, maxSubscriptionsPerUser,
	)
	if err != nil {
		return fmt.Errorf("pg.SaveSubscription trim: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	defer logger.DeferLogDuration("pg.DeleteSubscription", time.Now())()
	_, err := s.pool.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`,
		userID, endpoint,
	)
	if err != nil {
		return fmt.Errorf("pg.DeleteSubscription: %w", err)
	}
	return nil
}

func (s *Store) SubscriptionsForUser(ctx context.Context, userID string) ([]push.Subscription, error) {
	defer logger.DeferLogDuration("pg.SubscriptionsForUser", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT endpoint, keys FROM push_subscriptions WHERE user_id = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg.SubscriptionsForUser query: %w", err)
	}
	defer rows.Close()

	out := make([]push.Subscription, 0, 4)
	for rows.Next() {
		var sub push.Subscription
		var keys []byte
		if err := rows.Scan(&sub.Endpoint, &keys); err != nil {
			return nil, fmt.Errorf("pg.SubscriptionsForUser scan: %w", err)
		}
		if err := json.Unmarshal(keys, &sub.Keys); err != nil {
			return nil, fmt.Errorf("pg.SubscriptionsForUser keys: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg.SubscriptionsForUser rows: %w", err)
	}
	return out, nil
}
