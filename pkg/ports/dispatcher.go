package ports

import "context"

// ActionDispatcher executes side-effecting actions on behalf of the host.
// Results are fed back to the interpreter as ActionFinished/ActionFailed events.
type ActionDispatcher interface {
	Invoke(ctx context.Context, name string, params map[string]any) (any, error)
}

// ActionCatalog answers whether an action name can be dispatched. When the
// interpreter is given a catalog, unknown names stop the issuing head.
type ActionCatalog interface {
	Has(name string) bool
}
