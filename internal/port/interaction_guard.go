package port

import "context"

type InteractionGuard interface {
	// ClaimInteraction marks an interaction as handled, returns false if it already was
	ClaimInteraction(ctx context.Context, interactionID string) (bool, error)

	// AllowCommand counts a command against the user's window, returns false when over the limit
	AllowCommand(ctx context.Context, userID string) (bool, error)
}
