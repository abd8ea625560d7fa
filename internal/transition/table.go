package transition

import (
	"freelancehub/internal/model"
	"freelancehub/pkg/apperror"
)

type Action string

const (
	ActionSubmitBid         Action = "submitBid"
	ActionAcceptBid         Action = "acceptBid"
	ActionRejectBid         Action = "rejectBid"
	ActionWithdrawBid       Action = "withdrawBid"
	ActionAddMilestone      Action = "addMilestone"
	ActionCompleteMilestone Action = "completeMilestone"
	ActionApproveMilestone  Action = "approveMilestone"
	ActionCompleteProject   Action = "completeProject"
	ActionCancelProject     Action = "cancelProject"
)

// Relation is how the actor must relate to the aggregate for a rule to apply.
type Relation string

const (
	RelOwner     Relation = "owner"               // project.client
	RelAssigned  Relation = "assigned-freelancer" // project.freelancer
	RelNonOwner  Relation = "non-owner"           // anyone but project.client
	RelBidAuthor Relation = "bid-author"          // bid.freelancer
)

type projectRule struct {
	From   model.ProjectStatus
	Action Action
	Rel    Relation
	To     model.ProjectStatus
}

type bidRule struct {
	From   model.BidStatus
	Action Action
	Rel    Relation
	To     model.BidStatus
}

type milestoneRule struct {
	From   model.MilestoneStatus
	Action Action
	Rel    Relation
	To     model.MilestoneStatus
}

// Every status guard lives in these three tables. A (status, action) pair that
// is not listed is rejected with invalid_state.
var projectRules = []projectRule{
	{model.ProjectOpen, ActionSubmitBid, RelNonOwner, model.ProjectOpen},
	{model.ProjectOpen, ActionWithdrawBid, RelNonOwner, model.ProjectOpen},
	{model.ProjectOpen, ActionAcceptBid, RelOwner, model.ProjectInProgress},
	{model.ProjectOpen, ActionRejectBid, RelOwner, model.ProjectOpen},
	{model.ProjectOpen, ActionCancelProject, RelOwner, model.ProjectCancelled},
	{model.ProjectInProgress, ActionAddMilestone, RelOwner, model.ProjectInProgress},
	{model.ProjectInProgress, ActionCompleteMilestone, RelAssigned, model.ProjectInProgress},
	{model.ProjectInProgress, ActionApproveMilestone, RelOwner, model.ProjectInProgress},
	{model.ProjectInProgress, ActionCompleteProject, RelOwner, model.ProjectCompleted},
	{model.ProjectInProgress, ActionCancelProject, RelOwner, model.ProjectCancelled},
}

var bidRules = []bidRule{
	{model.BidPending, ActionAcceptBid, RelOwner, model.BidAccepted},
	{model.BidPending, ActionRejectBid, RelOwner, model.BidRejected},
	{model.BidPending, ActionWithdrawBid, RelBidAuthor, model.BidWithdrawn},
}

var milestoneRules = []milestoneRule{
	{model.MilestonePending, ActionCompleteMilestone, RelAssigned, model.MilestoneCompleted},
	{model.MilestoneCompleted, ActionApproveMilestone, RelOwner, model.MilestoneApproved},
}

// projectRelation returns the relation an action requires at project level.
// All rules of one action share the same relation.
func projectRelation(action Action) (Relation, bool) {
	for _, r := range projectRules {
		if r.Action == action {
			return r.Rel, true
		}
	}
	return "", false
}

// bidRelation returns the relation an action requires towards the bid itself.
func bidRelation(action Action) (Relation, bool) {
	for _, r := range bidRules {
		if r.Action == action {
			return r.Rel, true
		}
	}
	return "", false
}

func lookupProject(from model.ProjectStatus, action Action) (projectRule, bool) {
	for _, r := range projectRules {
		if r.From == from && r.Action == action {
			return r, true
		}
	}
	return projectRule{}, false
}

func lookupBid(from model.BidStatus, action Action) (bidRule, bool) {
	for _, r := range bidRules {
		if r.From == from && r.Action == action {
			return r, true
		}
	}
	return bidRule{}, false
}

func lookupMilestone(from model.MilestoneStatus, action Action) (milestoneRule, bool) {
	for _, r := range milestoneRules {
		if r.From == from && r.Action == action {
			return r, true
		}
	}
	return milestoneRule{}, false
}

// holds reports whether actor satisfies rel. bid is only consulted for RelBidAuthor.
func holds(rel Relation, p *model.Project, actor model.Actor, bid *model.Bid) bool {
	switch rel {
	case RelOwner:
		return actor.ID == p.ClientID
	case RelAssigned:
		return p.Freelancer != "" && actor.ID == p.Freelancer
	case RelNonOwner:
		return actor.ID != p.ClientID
	case RelBidAuthor:
		return bid != nil && actor.ID == bid.Freelancer
	}
	return false
}

func relationError(rel Relation, action Action) error {
	switch rel {
	case RelOwner:
		return apperror.Newf(apperror.CodeNotOwner, "only the project client can %s", action)
	case RelAssigned:
		return apperror.Newf(apperror.CodeNotAssignedFreelancer, "only the assigned freelancer can %s", action)
	case RelNonOwner:
		if action == ActionSubmitBid {
			return apperror.New(apperror.CodeSelfBid, "the project client cannot bid on their own project")
		}
		return apperror.Newf(apperror.CodeNotOwner, "the project client cannot %s", action)
	case RelBidAuthor:
		return apperror.Newf(apperror.CodeNotOwner, "only the bid author can %s", action)
	}
	return apperror.Newf(apperror.CodeForbidden, "%s is not permitted", action)
}
