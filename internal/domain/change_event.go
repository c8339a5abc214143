package domain

import (
	"strings"
	"time"
)

// ChangeOperation describes a persisted activity operation for a work item.
type ChangeOperation string

// ChangeOperation values used by the local activity ledger.
const (
	ChangeOperationCreate ChangeOperation = "create"
	ChangeOperationMove   ChangeOperation = "move"
	ChangeOperationStatus ChangeOperation = "status"
)

// ActorType identifies who initiated a mutation.
type ActorType string

// ActorType values.
const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAgent  ActorType = "agent"
	ActorTypeSystem ActorType = "system"
)

// ChangeEvent represents a single activity-log entry for a campaign work item.
type ChangeEvent struct {
	ID         int64             `json:"id,omitempty"`
	CampaignID string            `json:"campaign_id"`
	WorkItemID string            `json:"work_item_id"`
	Operation  ChangeOperation   `json:"operation"`
	ActorID    string            `json:"actor_id"`
	ActorType  ActorType         `json:"actor_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NormalizeActorType maps free-form input to a known actor type, defaulting to user.
func NormalizeActorType(raw string) ActorType {
	switch ActorType(strings.TrimSpace(strings.ToLower(raw))) {
	case ActorTypeAgent:
		return ActorTypeAgent
	case ActorTypeSystem:
		return ActorTypeSystem
	default:
		return ActorTypeUser
	}
}
