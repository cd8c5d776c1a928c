package runlock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nordbrew/standing-orders/pkg/logging"
)

// releaseScript deletes the lock key only while we still own it, so a
// release arriving after TTL expiry cannot drop another holder's lock.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Redis is a Locker backed by a shared Redis instance, for deployments with
// more than one service replica.
type Redis struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedis creates a Redis-backed locker.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		logger: logging.NewLogger("runlock"),
	}
}

// Acquire implements Locker via SET NX PX with a per-acquisition token.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Release must work even when the acquiring context is gone.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
			r.logger.Warn().
				Str("key", key).
				Err(err).
				Msg("failed to release run lock, TTL will expire it")
		}
	}
	return release, true, nil
}
