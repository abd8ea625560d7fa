package model

import "time"

type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneCompleted MilestoneStatus = "completed"
	MilestoneApproved  MilestoneStatus = "approved"
)

type Milestone struct {
	ID          string          `json:"id" bson:"id"`
	ProjectID   string          `json:"project_id" bson:"project_id"`
	Title       string          `json:"title" bson:"title"`
	Description string          `json:"description" bson:"description"`
	DueDate     time.Time       `json:"due_date" bson:"due_date"`
	Amount      float64         `json:"amount" bson:"amount"`
	Status      MilestoneStatus `json:"status" bson:"status"`
	CreatedAt   time.Time       `json:"created_at" bson:"created_at"`
}
