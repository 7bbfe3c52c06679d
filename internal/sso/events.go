package sso

import (
	"context"
	"log/slog"

	"github.com/northbeam/backoffice/server/internal/store"
)

// Event types emitted by the login flow.
const (
	EventLoginInitiated = "login.initiated"
	EventLoginCompleted = "login.completed"
	EventLoginFailed    = "login.failed"
)

// Emitter appends audit events for the login flow. Emission is fire and
// forget: a failed append is logged and never fails the login.
type Emitter struct {
	queries *store.Queries
	logger  *slog.Logger
}

// NewEmitter creates an event emitter.
func NewEmitter(queries *store.Queries, logger *slog.Logger) *Emitter {
	return &Emitter{queries: queries, logger: logger}
}

// Emit appends one login-flow event for a config stream.
func (e *Emitter) Emit(ctx context.Context, configID, eventType string, data map[string]any) {
	if e == nil || e.queries == nil {
		return
	}
	err := e.queries.AppendEvent(ctx, store.Event{
		StreamType: "sso_config",
		StreamID:   configID,
		EventType:  eventType,
		Data:       data,
		ActorType:  "system",
		ActorID:    "sso",
	})
	if err != nil {
		e.logger.Warn("append sso event", "event_type", eventType, "config_id", configID, "error", err)
	}
}
