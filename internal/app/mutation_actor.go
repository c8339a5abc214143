package app

import (
	"context"
	"strings"
	"time"

	"github.com/evanschultz/cadence/internal/domain"
)

// defaultActorID attributes mutations that arrive without caller identity.
const defaultActorID = "cadence-user"

// MutationActor carries normalized caller identity metadata for mutation attribution.
type MutationActor struct {
	ActorID   string
	ActorType domain.ActorType
}

// WithMutationActor attaches normalized mutation-actor identity metadata to context.
func WithMutationActor(ctx context.Context, actor MutationActor) context.Context {
	actor = normalizeMutationActor(actor)
	return context.WithValue(ctx, mutationActorContextKey{}, actor)
}

// MutationActorFromContext returns normalized mutation-actor metadata when present.
func MutationActorFromContext(ctx context.Context) (MutationActor, bool) {
	raw := ctx.Value(mutationActorContextKey{})
	actor, ok := raw.(MutationActor)
	if !ok {
		return MutationActor{}, false
	}
	actor = normalizeMutationActor(actor)
	if actor.ActorID == "" {
		return MutationActor{}, false
	}
	return actor, true
}

// mutationActorContextKey stores context keys for mutation actor metadata.
type mutationActorContextKey struct{}

// normalizeMutationActor trims and canonicalizes mutation actor metadata.
func normalizeMutationActor(actor MutationActor) MutationActor {
	actor.ActorID = strings.TrimSpace(actor.ActorID)
	actor.ActorType = domain.NormalizeActorType(string(actor.ActorType))
	return actor
}

// changeEventFor builds the activity-ledger row for a work-item mutation.
func changeEventFor(ctx context.Context, item domain.WorkItem, op domain.ChangeOperation, metadata map[string]string, now time.Time) domain.ChangeEvent {
	actor, ok := MutationActorFromContext(ctx)
	if !ok {
		actor = MutationActor{ActorID: defaultActorID, ActorType: domain.ActorTypeUser}
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	return domain.ChangeEvent{
		CampaignID: item.CampaignID,
		WorkItemID: item.ID,
		Operation:  op,
		ActorID:    actor.ActorID,
		ActorType:  actor.ActorType,
		Metadata:   metadata,
		OccurredAt: now.UTC(),
	}
}
