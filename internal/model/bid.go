package model

import "time"

type BidStatus string

const (
	BidPending   BidStatus = "pending"
	BidAccepted  BidStatus = "accepted"
	BidRejected  BidStatus = "rejected"
	BidWithdrawn BidStatus = "withdrawn"
)

type Bid struct {
	ID            string    `json:"id" bson:"id"`
	ProjectID     string    `json:"project_id" bson:"project_id"`
	Freelancer    string    `json:"freelancer_id" bson:"freelancer_id"`
	Amount        float64   `json:"amount" bson:"amount"`
	Proposal      string    `json:"proposal" bson:"proposal"`
	EstimatedDays int       `json:"estimated_days" bson:"estimated_days"`
	Status        BidStatus `json:"status" bson:"status"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}
