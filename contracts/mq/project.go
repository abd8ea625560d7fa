package mq

import "time"

// Payloads carried in model.Event.Payload and published on the events exchange
// with routing key "project.<Kind>".

type ProjectCreatedPayload struct {
	ProjectID string    `json:"project_id"`
	ClientID  string    `json:"client_id"`
	Title     string    `json:"title"`
	Budget    float64   `json:"budget"`
	Skills    []string  `json:"skills"`
	CreatedAt time.Time `json:"created_at"`
}

type BidPayload struct {
	BidID         string  `json:"bid_id"`
	ProjectID     string  `json:"project_id"`
	FreelancerID  string  `json:"freelancer_id"`
	Amount        float64 `json:"amount"`
	EstimatedDays int     `json:"estimated_days"`
	Status        string  `json:"status"`
	Reason        string  `json:"reason,omitempty"` // BidRejected only
}

type MilestonePayload struct {
	MilestoneID    string    `json:"milestone_id"`
	ProjectID      string    `json:"project_id"`
	Title          string    `json:"title"`
	Amount         float64   `json:"amount"`
	DueDate        time.Time `json:"due_date"`
	Status         string    `json:"status"`
	MilestoneTotal float64   `json:"milestone_total"`
	OverBudget     bool      `json:"over_budget"`
}

type ProjectStatusPayload struct {
	ProjectID    string `json:"project_id"`
	Status       string `json:"status"`
	FreelancerID string `json:"freelancer_id,omitempty"`
}

type ReviewPayload struct {
	ReviewID     string `json:"review_id"`
	ProjectID    string `json:"project_id"`
	FreelancerID string `json:"freelancer_id"`
	Rating       int    `json:"rating"`
	Comment      string `json:"comment"`
	Response     string `json:"response,omitempty"`
}

// MilestoneApprovedPaymentPayload 发给支付服务的触发消息（routing key: payment.milestone_approved）
type MilestoneApprovedPaymentPayload struct {
	MilestoneID  string    `json:"milestone_id"`
	FreelancerID string    `json:"freelancer_id"`
	Amount       float64   `json:"amount"`
	ApprovedAt   time.Time `json:"approved_at"`
	TraceID      string    `json:"trace_id,omitempty"`
}
