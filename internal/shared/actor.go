package shared

import (
	"context"

	"github.com/google/uuid"
)

// Actor describes the authenticated caller of an operation. Authentication
// itself happens upstream; handlers receive the identity and role from
// trusted headers set by the gateway.
type Actor struct {
	ID   uuid.UUID
	Role string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context, nil when absent.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}
