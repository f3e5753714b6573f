package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/aretw0/guardrail/pkg/adapters/memory"
	"github.com/stretchr/testify/assert"
)

func TestManager_LocksAreReleased(t *testing.T) {
	mgr := NewManager(nil, memory.NewStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				sid := fmt.Sprintf("s-%d", i%50)
				err := mgr.WithLock(ctx, sid, func(ctx context.Context) error {
					return mgr.store.Save(ctx, sid, []byte(`{}`))
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	assert.Empty(t, mgr.locks, "unreferenced session locks must be dropped")
}
