package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/guardrail/pkg/domain"
)

// Transcript implements ports.TranscriptSink as one JSON Lines file per session.
type Transcript struct {
	BasePath string
	mu       sync.Mutex
}

// NewTranscript creates a Transcript rooted at basePath.
// If basePath is empty, it defaults to ".guardrail/transcripts".
func NewTranscript(basePath string) *Transcript {
	if basePath == "" {
		basePath = filepath.Join(".guardrail", "transcripts")
	}
	return &Transcript{BasePath: basePath}
}

// Append writes turn as a single line to the session's transcript file.
func (t *Transcript) Append(ctx context.Context, turn domain.Turn) error {
	if err := validID(turn.SessionID); err != nil {
		return err
	}
	line, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(t.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure transcript directory: %w", err)
	}
	f, err := os.OpenFile(t.path(turn.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// Turns reads back every recorded turn of a session in order.
func (t *Transcript) Turns(sessionID string) ([]domain.Turn, error) {
	if err := validID(sessionID); err != nil {
		return nil, err
	}
	f, err := os.Open(t.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	var turns []domain.Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var turn domain.Turn
		if err := json.Unmarshal(scanner.Bytes(), &turn); err != nil {
			return nil, fmt.Errorf("transcript line %d: %w", len(turns)+1, err)
		}
		turns = append(turns, turn)
	}
	return turns, scanner.Err()
}

func (t *Transcript) path(sessionID string) string {
	return filepath.Join(t.BasePath, sessionID+".jsonl")
}
