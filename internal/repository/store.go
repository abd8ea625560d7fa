package repository

import (
	"context"
	"time"

	"freelancehub/internal/model"
	"freelancehub/pkg/apperror"
)

var (
	ErrProjectNotFound  = apperror.New(apperror.CodeProjectNotFound, "project not found")
	ErrConflict         = apperror.New(apperror.CodeConflict, "project was modified since it was read")
	ErrReviewNotFound   = apperror.New(apperror.CodeReviewNotFound, "review not found")
	ErrDuplicateReview  = apperror.New(apperror.CodeDuplicateReview, "a review for this project by this reviewer already exists")
	ErrAlreadyResponded = apperror.New(apperror.CodeInvalidState, "review already has a response")
)

// ProjectStore persists Project aggregates with optimistic concurrency.
type ProjectStore interface {
	CreateProject(ctx context.Context, p model.Project, events []model.Event) error
	GetProject(ctx context.Context, id string) (model.Project, error)
	ListProjects(ctx context.Context, f ProjectFilter) ([]model.Project, error)
	// UpdateProject writes next only if the stored version still equals
	// expectedVersion, otherwise it returns ErrConflict. Events are recorded
	// in the same atomic unit where the backend supports it.
	UpdateProject(ctx context.Context, next model.Project, expectedVersion int64, events []model.Event) error
}

// ReviewStore is the marketplace-wide review ledger.
type ReviewStore interface {
	// CreateReview enforces (project, reviewer) uniqueness with ErrDuplicateReview.
	CreateReview(ctx context.Context, r model.Review, events []model.Event) error
	GetReview(ctx context.Context, id string) (model.Review, error)
	// SetResponse sets the response once; a second call returns ErrAlreadyResponded.
	SetResponse(ctx context.Context, id, response string, at time.Time) (model.Review, error)
	ListByFreelancer(ctx context.Context, freelancerID string) ([]model.Review, error)
	RatingsFor(ctx context.Context, freelancerID string) ([]int, error)
}

type ProjectFilter struct {
	Status   model.ProjectStatus
	ClientID string
	// Participant matches the assigned freelancer or any bidder.
	Participant string
	Limit       int
}

func (f ProjectFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 200 {
		return 50
	}
	return f.Limit
}

func (f ProjectFilter) match(p *model.Project) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.ClientID != "" && p.ClientID != f.ClientID {
		return false
	}
	if f.Participant != "" && p.Freelancer != f.Participant {
		found := false
		for _, b := range p.Bids {
			if b.Freelancer == f.Participant {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
