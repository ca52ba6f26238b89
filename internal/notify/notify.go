package notify

import (
	"context"

	"github.com/careline-id/careline/internal/domain"
)

// Sink records an escalation event for human pickup. Implementations own
// durability past the handoff; callers must treat a returned error as a safety
// failure, never as a best-effort side effect.
type Sink interface {
	CreateNotification(ctx context.Context, event domain.EscalationEvent) error
}
