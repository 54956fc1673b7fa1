package startup

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/famlink/messaging/internal/logger"
)

// ConnectRedisWithRetry connects to Redis with exponential backoff.
// logPrefix is prepended to log lines (for example "chatd: ").
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration, logPrefix string) *redis.Client {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Errorf("%sredis url: %v", logPrefix, err)
		os.Exit(1)
	}
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		client := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			client.Close()
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return client
	}
}
