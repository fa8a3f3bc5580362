package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aretw0/journey/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

var _ ports.DistributedLocker = (*Locker)(nil)

// lockPollInterval is the wait between acquisition attempts.
const lockPollInterval = 50 * time.Millisecond

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker implements ports.DistributedLocker using Redis SET NX PX.
type Locker struct {
	client backend.UniversalClient
	prefix string
}

// NewLocker creates a new Redis locker.
func NewLocker(client backend.UniversalClient, prefix string) *Locker {
	return &Locker{
		client: client,
		prefix: prefix,
	}
}

// Lock acquires a distributed lock for the given key, polling until it is
// free or ctx is done. The returned UnlockFunc only releases our own lock.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key

	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("failed to generate lock token: %w", err)
	}
	token := hex.EncodeToString(buf[:])

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis error acquiring lock: %w", err)
		}
		if acquired {
			return func(ctx context.Context) error {
				return releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
