package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/guardrail/pkg/domain"
)

// TextHandler implements the standard text-based interface.
//
// Plain lines become UserUtterance events. A few slash commands reach the
// other inbound variants:
//
//	/event NAME      CustomEvent
//	/start FLOW      StartFlow
//	/stop FLOW       StopFlow
//	/quit, /exit     end of input
type TextHandler struct {
	Reader       *bufio.Reader
	Writer       io.Writer
	Renderer     ContentRenderer
	MaxInputSize int

	mu        sync.Mutex // serializes writes from the prompt and the output path
	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// TextHandlerOption defines configuration for TextHandler.
type TextHandlerOption func(*TextHandler)

// WithTextHandlerRenderer configures the content renderer.
func WithTextHandlerRenderer(renderer ContentRenderer) TextHandlerOption {
	return func(h *TextHandler) {
		h.Renderer = renderer
	}
}

// WithTextHandlerMaxInputSize overrides the sanitizer limit.
func WithTextHandlerMaxInputSize(limit int) TextHandlerOption {
	return func(h *TextHandler) {
		h.MaxInputSize = limit
	}
}

// NewTextHandler creates a handler for standard text IO.
func NewTextHandler(r io.Reader, w io.Writer, opts ...TextHandlerOption) *TextHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	h := &TextHandler{
		Reader: bufio.NewReader(r),
		Writer: w,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TextHandler) initPump() {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult)
		go h.pump()
	})
}

func (h *TextHandler) pump() {
	for {
		text, err := h.Reader.ReadString('\n')

		// If we got text (even with EOF), send it
		if text != "" {
			h.inputChan <- inputResult{text: text}
		}

		if err != nil {
			if err == io.EOF {
				close(h.inputChan)
				return
			}
			h.inputChan <- inputResult{err: err}
			// Backoff for non-fatal errors to prevent CPU spikes on persistent failure
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func (h *TextHandler) Output(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case domain.StartUtterance:
			output := p.Text
			if h.Renderer != nil {
				if rendered, err := h.Renderer(p.Text); err == nil {
					output = rendered
				}
			}
			h.printf("%s\n", strings.TrimSpace(output))
		case domain.FlowError:
			if err := h.SystemOutput(ctx, fmt.Sprintf("flow %s failed (%s): %s", p.Flow, p.Code, p.Message)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *TextHandler) Input(ctx context.Context) (domain.Event, error) {
	text, err := h.readLine(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	if text == "/quit" || text == "/exit" {
		return domain.Event{}, io.EOF
	}
	return parseCommand(text), nil
}

func (h *TextHandler) readLine(ctx context.Context) (string, error) {
	// Ensure the pump is running
	h.initPump()

	for {
		// Only show prompt if context is not yet done
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
			h.printf("> ")
		}

		select {
		case <-ctx.Done():
			// Important: don't print anything here, just exit silently
			return "", ctx.Err()
		case res, ok := <-h.inputChan:
			if !ok {
				return "", io.EOF
			}
			if res.err != nil {
				return "", res.err
			}
			text := strings.TrimSpace(res.text)
			if text == "" {
				continue
			}

			// Sanitize Input (Limit + Control Chars)
			clean, err := SanitizeInputLimit(text, h.MaxInputSize)
			if err != nil {
				// User Feedback: Prompt retry
				h.printf("Error: %v. Please try again.\n", err)
				continue
			}
			return clean, nil
		}
	}
}

func (h *TextHandler) SystemOutput(ctx context.Context, msg string) error {
	return h.printf("[System] %s\n", msg)
}

func (h *TextHandler) printf(format string, args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.Writer, format, args...)
	return err
}

func parseCommand(text string) domain.Event {
	if strings.HasPrefix(text, "/") {
		cmd, arg, _ := strings.Cut(text[1:], " ")
		arg = strings.TrimSpace(arg)
		if arg != "" {
			switch cmd {
			case "event":
				return domain.Event{Payload: domain.CustomEvent{Name: arg}}
			case "start":
				return domain.Event{Payload: domain.StartFlow{Flow: arg}}
			case "stop":
				return domain.Event{Payload: domain.StopFlow{Flow: arg}}
			}
		}
	}
	return domain.Event{Payload: domain.UserUtterance{Text: text}}
}
