package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a lock obtained from a DistributedLocker.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes turns of one session across guardrail
// replicas sharing a store.
type DistributedLocker interface {
	// Lock blocks until key is held or ctx is done. The lock expires after
	// ttl even if it is never released, so a crashed replica cannot wedge a
	// session. The returned UnlockFunc must be called once the turn is
	// persisted.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
