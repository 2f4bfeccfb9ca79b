package termsguard

import "context"

// RegisteredAction describes one runtime action registration entry.
type RegisteredAction struct {
	// ModuleName identifies which module registered this action.
	ModuleName string
	// Name is the action discriminator.
	Name string
	// Description is the human-readable action summary.
	Description string
}

// ActionCatalog provides read access to registered actions.
type ActionCatalog interface {
	// ListActions returns a sorted copy of all registered actions.
	ListActions(ctx context.Context) ([]RegisteredAction, error)
}
