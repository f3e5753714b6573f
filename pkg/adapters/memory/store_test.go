package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/guardrail/pkg/adapters/memory"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/stretchr/testify/assert"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunStateStoreContract(t, store)
}

func TestMemoryStore_CopiesBuffers(t *testing.T) {
	store := memory.NewStore()
	buf := []byte("abc")
	_ = store.Save(context.Background(), "s", buf)
	buf[0] = 'x'

	got, err := store.Load(context.Background(), "s")
	assert.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestTranscript(t *testing.T) {
	tr := memory.NewTranscript()
	ctx := context.Background()
	_ = tr.Append(ctx, domain.Turn{SessionID: "a", Seq: 1})
	_ = tr.Append(ctx, domain.Turn{SessionID: "a", Seq: 2})
	_ = tr.Append(ctx, domain.Turn{SessionID: "b", Seq: 1})

	turns := tr.Turns("a")
	assert.Len(t, turns, 2)
	assert.Equal(t, 2, turns[1].Seq)
	assert.Empty(t, tr.Turns("missing"))
}

func TestLoader_Contract(t *testing.T) {
	loader := memory.NewLoader(map[string]string{"main.co": "define flow a\n  stop\n"})
	ports.RunSourceLoaderContract(t, loader, map[string][]byte{"main.co": []byte("define flow a\n  stop\n")})
}
