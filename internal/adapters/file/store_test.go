package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/guardrail/internal/adapters/file"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.StateStore     = (*file.Store)(nil)
	_ ports.TranscriptSink = (*file.Transcript)(nil)
	_ ports.SourceLoader   = (*file.Loader)(nil)
	_ ports.Watchable      = (*file.Loader)(nil)
)

func TestStore_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, file.New(t.TempDir()))
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, "s1", []byte(`{"turn":1}`)))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1.json", entries[0].Name())
}

func TestStore_RejectsPathLikeIDs(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"", "..", "a/b", `a\b`} {
		assert.Error(t, store.Save(ctx, id, []byte("{}")), "id %q", id)
	}
}

func TestStore_ListMissingDir(t *testing.T) {
	store := file.New(filepath.Join(t.TempDir(), "absent"))
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTranscript_AppendAndRead(t *testing.T) {
	tr := file.NewTranscript(t.TempDir())
	ctx := context.Background()

	for seq := 1; seq <= 2; seq++ {
		require.NoError(t, tr.Append(ctx, domain.Turn{
			SessionID: "s1",
			Seq:       seq,
			At:        time.Unix(int64(seq), 0).UTC(),
			Inbound:   []domain.Event{{ID: "in", Payload: domain.UserUtterance{Text: "hi"}}},
			State:     []byte(`{"turn":1}`),
		}))
	}

	turns, err := tr.Turns("s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 2, turns[1].Seq)
	assert.Equal(t, domain.UserUtterance{Text: "hi"}, turns[0].Inbound[0].Payload)

	none, err := tr.Turns("other")
	require.NoError(t, err)
	assert.Empty(t, none)
}
