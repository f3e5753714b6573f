package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/guardrail/pkg/domain"
)

// ActionInterceptor is a middleware that can veto an action before it is dispatched.
// It returns true if execution should proceed. When it returns false the
// reason is fed back to the flow as the action's failure.
type ActionInterceptor func(ctx context.Context, action domain.StartAction) (allowed bool, reason string, err error)

// MultiInterceptor chains multiple interceptors. The first veto wins.
func MultiInterceptor(interceptors ...ActionInterceptor) ActionInterceptor {
	return func(ctx context.Context, action domain.StartAction) (bool, string, error) {
		for _, interceptor := range interceptors {
			allowed, reason, err := interceptor(ctx, action)
			if err != nil {
				return false, "", err // System Error
			}
			if !allowed {
				return false, reason, nil // Blocked by policy
			}
		}
		return true, "", nil // All allowed
	}
}

// ConfirmationMiddleware asks the user before every action runs.
// Only "y" and "yes" allow it.
func ConfirmationMiddleware(p Prompter) ActionInterceptor {
	return func(ctx context.Context, action domain.StartAction) (bool, string, error) {
		question := fmt.Sprintf("Action Request: '%s' (ID: %s)\nParams: %v\nAllow execution? [y/N]", action.Name, action.ActionID, action.Params)
		input, err := p.Ask(ctx, question)
		if err != nil {
			return false, "", err
		}

		input = strings.TrimSpace(strings.ToLower(input))
		if input == "y" || input == "yes" {
			return true, "", nil
		}
		return false, "user denied execution by policy", nil
	}
}

// AllowListMiddleware permits only the named actions.
func AllowListMiddleware(names ...string) ActionInterceptor {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	return func(ctx context.Context, action domain.StartAction) (bool, string, error) {
		if allowed[action.Name] {
			return true, "", nil
		}
		return false, fmt.Sprintf("action %q is not allowed", action.Name), nil
	}
}

// AutoApproveMiddleware allows everything.
func AutoApproveMiddleware() ActionInterceptor {
	return func(ctx context.Context, action domain.StartAction) (bool, string, error) {
		return true, "", nil
	}
}
