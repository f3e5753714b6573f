package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/guardrail/pkg/domain"
)

// LogHooks returns lifecycle hooks that write one record per lifecycle
// change. Transitions and events are logged at debug level, flow errors at
// warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnHeadTransition: func(ctx context.Context, e *domain.HeadEvent) {
			logger.DebugContext(ctx, "head transition",
				"session", e.SessionID, "flow", e.Flow, "instance", e.InstanceID,
				"from", e.From, "to", e.To, "position", e.Position)
		},
		OnActionRequested: func(ctx context.Context, e *domain.ActionEvent) {
			logger.DebugContext(ctx, "action requested",
				"session", e.SessionID, "action", e.Name, "action_id", e.ActionID, "flow", e.Flow)
		},
		OnActionResolved: func(ctx context.Context, e *domain.ActionEvent) {
			logger.DebugContext(ctx, "action resolved",
				"session", e.SessionID, "action", e.Name, "action_id", e.ActionID, "failed", e.Failed)
		},
		OnFlowError: func(ctx context.Context, sessionID string, fe domain.FlowError) {
			logger.WarnContext(ctx, "flow error",
				"session", sessionID, "flow", fe.Flow, "instance", fe.InstanceID, "code", fe.Code, "message", fe.Message)
		},
		OnTurn: func(ctx context.Context, e *domain.TurnEvent) {
			if e.Err != nil {
				logger.ErrorContext(ctx, "turn failed", "session", e.SessionID, "turn", e.Turn, "error", e.Err)
				return
			}
			logger.DebugContext(ctx, "turn", "session", e.SessionID, "turn", e.Turn,
				"inbound", e.Inbound, "outbound", e.Outbound, "heads", e.Heads, "duration", e.Duration)
		},
	}
}
