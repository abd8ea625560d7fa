package model

import "time"

const (
	MinRating = 1
	MaxRating = 5
)

// Review is owned by the marketplace-wide review ledger, not by the project.
type Review struct {
	ID          string     `json:"id" bson:"_id"`
	ProjectID   string     `json:"project_id" bson:"project_id"`
	Reviewer    string     `json:"reviewer_id" bson:"reviewer_id"`
	Freelancer  string     `json:"freelancer_id" bson:"freelancer_id"`
	Rating      int        `json:"rating" bson:"rating"`
	Comment     string     `json:"comment" bson:"comment"`
	Response    *string    `json:"response,omitempty" bson:"response,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty" bson:"responded_at,omitempty"`
}
