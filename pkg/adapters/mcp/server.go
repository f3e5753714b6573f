package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/guardrail/internal/compiler"
	"github.com/aretw0/guardrail/internal/logging"
	"github.com/aretw0/guardrail/internal/presentation/graph"
	"github.com/aretw0/guardrail/internal/validator"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/aretw0/guardrail/pkg/runner"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	flowsURI = "guardrail://flows"
	graphURI = "guardrail://graph"
)

// ValidateResponse is the result of the validate_source tool.
type ValidateResponse struct {
	Valid    bool                 `json:"valid" jsonschema_description:"Whether the source compiled"`
	Error    string               `json:"error,omitempty" jsonschema_description:"Syntax or compile error, if any"`
	Flows    []domain.FlowSummary `json:"flows,omitempty" jsonschema_description:"Flows defined by the source"`
	Findings []validator.Finding  `json:"findings,omitempty" jsonschema_description:"Lint findings on the compiled program"`
}

// Server wraps a guardrail Engine and exposes it as an MCP Server.
type Server struct {
	engine       ports.Engine
	logger       *slog.Logger
	maxInputSize int
	mcpServer    *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxInputSize bounds utterance text accepted from tools.
func WithMaxInputSize(n int) Option {
	return func(s *Server) { s.maxInputSize = n }
}

// NewServer creates a new MCP Server instance.
func NewServer(engine ports.Engine, version string, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("guardrail-mcp", version),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying server, e.g. for in-process transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE and shuts it down
// when ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: advance
	advanceTool := mcp.NewTool("advance",
		mcp.WithDescription("Run one dialog turn. Omit state to start a new session; pass the state returned by the previous call to continue it."),
		mcp.WithString("session_id", mcp.Description("Session id, required when starting (no state)")),
		mcp.WithString("state", mcp.Description("Encoded state JSON returned by a previous turn")),
		mcp.WithString("text", mcp.Description("What the user said")),
		mcp.WithString("events", mcp.Description("JSON array of event envelopes ({kind, payload}) to process before text")),
		mcp.WithOutputSchema[runner.RichResponse](),
	)
	s.mcpServer.AddTool(advanceTool, mcp.NewStructuredToolHandler(s.handleAdvance))

	// TOOL: validate_source
	validateTool := mcp.NewTool("validate_source",
		mcp.WithDescription("Compile dialog-language source and lint it without loading it."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source text (.co)")),
		mcp.WithString("name", mcp.Description("Unit name used in error positions (default main.co)")),
		mcp.WithOutputSchema[ValidateResponse](),
	)
	s.mcpServer.AddTool(validateTool, mcp.NewStructuredToolHandler(s.handleValidate))

	// TOOL: list_flows
	s.mcpServer.AddTool(mcp.NewTool("list_flows",
		mcp.WithDescription("List the compiled flows with their priority and activation."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, err := json.Marshal(s.engine.Program().Summaries())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode flows: %v", err)), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})

	// TOOL: get_graph
	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Render the compiled flows as a Mermaid flowchart."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(graph.GenerateMermaid(s.engine.Program(), nil)), nil
	})
}

func (s *Server) handleAdvance(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (runner.RichResponse, error) {
	sessionID, _ := args["session_id"].(string)
	stateStr, _ := args["state"].(string)
	text, _ := args["text"].(string)
	eventsStr, _ := args["events"].(string)

	if sessionID == "" && stateStr == "" {
		return runner.RichResponse{}, fmt.Errorf("session_id is required to start a session")
	}

	var events []domain.Event
	if eventsStr != "" {
		if err := json.Unmarshal([]byte(eventsStr), &events); err != nil {
			return runner.RichResponse{}, fmt.Errorf("invalid events: %w", err)
		}
	}
	if text != "" {
		events = append(events, domain.Event{Payload: domain.UserUtterance{Text: text}})
	}
	events, err := runner.SanitizeEvents(events, s.maxInputSize)
	if err != nil {
		s.logger.Warn("MCP advance: input rejected", "err", err)
		return runner.RichResponse{}, fmt.Errorf("input rejected: %w", err)
	}

	var state json.RawMessage
	if stateStr != "" {
		state = json.RawMessage(stateStr)
	}
	rich, err := runner.AdvanceAndRender(ctx, s.engine, sessionID, state, events)
	if err != nil {
		return runner.RichResponse{}, fmt.Errorf("advance failed: %w", err)
	}
	return *rich, nil
}

func (s *Server) handleValidate(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ValidateResponse, error) {
	source, _ := args["source"].(string)
	name, _ := args["name"].(string)
	if name == "" {
		name = "main.co"
	}

	program, err := compiler.CompileSource(map[string][]byte{name: []byte(source)})
	if err != nil {
		return ValidateResponse{Valid: false, Error: err.Error()}, nil
	}
	return ValidateResponse{
		Valid:    true,
		Flows:    program.Summaries(),
		Findings: validator.Validate(program),
	}, nil
}

func (s *Server) registerResources() {
	// EXPOSE: guardrail://flows
	s.mcpServer.AddResource(mcp.NewResource(flowsURI, "Compiled Flows",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.engine.Program().Summaries())
		if err != nil {
			return nil, fmt.Errorf("failed to encode flows: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      flowsURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})

	// EXPOSE: guardrail://graph
	s.mcpServer.AddResource(mcp.NewResource(graphURI, "Flow Graph (Mermaid)",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      graphURI,
				MIMEType: "text/plain",
				Text:     graph.GenerateMermaid(s.engine.Program(), nil),
			},
		}, nil
	})
}
