package model

import "time"

type EventKind string

const (
	EventProjectCreated     EventKind = "ProjectCreated"
	EventBidSubmitted       EventKind = "BidSubmitted"
	EventBidAccepted        EventKind = "BidAccepted"
	EventBidRejected        EventKind = "BidRejected"
	EventBidWithdrawn       EventKind = "BidWithdrawn"
	EventMilestoneAdded     EventKind = "MilestoneAdded"
	EventMilestoneCompleted EventKind = "MilestoneCompleted"
	EventMilestoneApproved  EventKind = "MilestoneApproved"
	EventProjectCompleted   EventKind = "ProjectCompleted"
	EventProjectCancelled   EventKind = "ProjectCancelled"
	EventReviewSubmitted    EventKind = "ReviewSubmitted"
	EventReviewResponded    EventKind = "ReviewResponded"
)

// IsBidEvent reports whether every bidder of the project should see the event.
func (k EventKind) IsBidEvent() bool {
	switch k {
	case EventBidSubmitted, EventBidAccepted, EventBidRejected, EventBidWithdrawn:
		return true
	}
	return false
}

// RoutingKey is the topic routing key used on the events exchange.
func (k EventKind) RoutingKey() string {
	return "project." + string(k)
}

// Event is a committed transition outcome. Version is the project version the
// event was committed at; Audience lists the user ids allowed to receive it.
type Event struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Kind       EventKind `json:"kind"`
	Payload    any       `json:"payload"`
	Audience   []string  `json:"audience"`
	Version    int64     `json:"version"`
	Origin     string    `json:"origin,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Deliverable reports whether userID is part of the event's audience.
func (e Event) Deliverable(userID string) bool {
	for _, id := range e.Audience {
		if id == userID {
			return true
		}
	}
	return false
}
