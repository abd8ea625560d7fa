package transition

import (
	"strings"
	"time"

	"freelancehub/pkg/apperror"
)

// Command is one transition request. Validate checks the payload only; state
// and identity rules are checked by the engine.
type Command interface {
	Action() Action
	Validate() error
}

type SubmitBid struct {
	Amount        float64 `json:"amount"`
	Proposal      string  `json:"proposal"`
	EstimatedDays int     `json:"estimated_days"`
}

func (SubmitBid) Action() Action { return ActionSubmitBid }

func (c SubmitBid) Validate() error {
	if c.Amount <= 0 {
		return apperror.New(apperror.CodeInvalidArgument, "bid amount must be positive")
	}
	if c.EstimatedDays <= 0 {
		return apperror.New(apperror.CodeInvalidArgument, "estimated time must be a positive number of days")
	}
	if strings.TrimSpace(c.Proposal) == "" {
		return apperror.New(apperror.CodeInvalidArgument, "proposal is required")
	}
	return nil
}

type AcceptBid struct {
	BidID string `json:"bid_id"`
}

func (AcceptBid) Action() Action    { return ActionAcceptBid }
func (c AcceptBid) Validate() error { return requireID(c.BidID, "bid_id") }

type RejectBid struct {
	BidID string `json:"bid_id"`
}

func (RejectBid) Action() Action    { return ActionRejectBid }
func (c RejectBid) Validate() error { return requireID(c.BidID, "bid_id") }

type WithdrawBid struct {
	BidID string `json:"bid_id"`
}

func (WithdrawBid) Action() Action    { return ActionWithdrawBid }
func (c WithdrawBid) Validate() error { return requireID(c.BidID, "bid_id") }

type AddMilestone struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"due_date"`
	Amount      float64   `json:"amount"`
}

func (AddMilestone) Action() Action { return ActionAddMilestone }

func (c AddMilestone) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return apperror.New(apperror.CodeInvalidArgument, "milestone title is required")
	}
	if c.Amount <= 0 {
		return apperror.New(apperror.CodeInvalidArgument, "milestone amount must be positive")
	}
	return nil
}

type CompleteMilestone struct {
	MilestoneID string `json:"milestone_id"`
}

func (CompleteMilestone) Action() Action    { return ActionCompleteMilestone }
func (c CompleteMilestone) Validate() error { return requireID(c.MilestoneID, "milestone_id") }

type ApproveMilestone struct {
	MilestoneID string `json:"milestone_id"`
}

func (ApproveMilestone) Action() Action    { return ActionApproveMilestone }
func (c ApproveMilestone) Validate() error { return requireID(c.MilestoneID, "milestone_id") }

type CompleteProject struct{}

func (CompleteProject) Action() Action  { return ActionCompleteProject }
func (CompleteProject) Validate() error { return nil }

type CancelProject struct{}

func (CancelProject) Action() Action  { return ActionCancelProject }
func (CancelProject) Validate() error { return nil }

// CreateProject is not a transition of an existing aggregate; it builds one.
type CreateProject struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Skills      []string `json:"skills"`
	Budget      float64  `json:"budget"`
}

func (c CreateProject) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return apperror.New(apperror.CodeInvalidArgument, "project title is required")
	}
	if c.Budget <= 0 {
		return apperror.New(apperror.CodeInvalidArgument, "project budget must be positive")
	}
	return nil
}

func requireID(id, field string) error {
	if strings.TrimSpace(id) == "" {
		return apperror.Newf(apperror.CodeInvalidArgument, "%s is required", field)
	}
	return nil
}
