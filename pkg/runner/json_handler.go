package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/guardrail/pkg/domain"
)

// JSONHandler implements the IOHandler interface for structured JSON-Lines communication.
//
// Every outbound event is written as one envelope per line. Each input line
// is either an event envelope ({"kind": ..., "payload": ...}), a JSON string,
// or raw text; the last two become UserUtterance events. A malformed line is
// answered with {"error": ...} and skipped.
type JSONHandler struct {
	Reader       *bufio.Reader
	Writer       io.Writer
	MaxInputSize int

	mu      sync.Mutex // guards Encoder
	Encoder *json.Encoder
}

// NewJSONHandler creates a handler for JSON IO.
func NewJSONHandler(r io.Reader, w io.Writer) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:  bufio.NewReader(r),
		Writer:  w,
		Encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) Output(ctx context.Context, events []domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range events {
		if err := h.Encoder.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

func (h *JSONHandler) Input(ctx context.Context) (domain.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Event{}, err
		}
		line, err := h.readLine()
		if err != nil {
			return domain.Event{}, err
		}
		if line == "" {
			continue
		}
		ev, err := h.parse(line)
		if err != nil {
			if werr := h.writeError(err); werr != nil {
				return domain.Event{}, werr
			}
			continue
		}
		return ev, nil
	}
}

func (h *JSONHandler) SystemOutput(ctx context.Context, msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Encoder.Encode(map[string]string{"system": msg})
}

func (h *JSONHandler) readLine() (string, error) {
	text, err := h.Reader.ReadString('\n')
	if err != nil && (err != io.EOF || text == "") {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (h *JSONHandler) parse(line string) (domain.Event, error) {
	if strings.HasPrefix(line, "{") {
		var ev domain.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return domain.Event{}, fmt.Errorf("invalid event: %w", err)
		}
		return SanitizeEvent(ev, h.MaxInputSize)
	}

	// Try to unquote if it's a JSON string
	text := line
	var val string
	if err := json.Unmarshal([]byte(line), &val); err == nil {
		text = val
	}
	clean, err := SanitizeInputLimit(text, h.MaxInputSize)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{Payload: domain.UserUtterance{Text: clean}}, nil
}

func (h *JSONHandler) writeError(err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Encoder.Encode(map[string]string{"error": err.Error()})
}
