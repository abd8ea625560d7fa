package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/guard"
	"freelancehub/internal/model"
	"freelancehub/internal/payment"
	"freelancehub/internal/rating"
	"freelancehub/internal/repository"
	"freelancehub/internal/transition"
	"freelancehub/pkg/apperror"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/metrics"
)

// EventSink receives committed events; *fanout.Hub satisfies it.
type EventSink interface {
	Reserve(projectID string) uint64
	Publish(projectID string, slot uint64, events []model.Event)
	Dispatch(events ...model.Event)
}

type Deps struct {
	Projects   repository.ProjectStore
	Reviews    repository.ReviewStore
	Guard      guard.Guard
	Engine     *transition.Engine
	Events     EventSink
	Payments   payment.Notifier
	InstanceID string
	Logger     *zap.Logger
}

// Marketplace is the entry point for every project, bid, milestone and review
// operation. Transitions follow load -> pure apply -> conditional write under
// the project lock; events go out after the lock is released.
type Marketplace struct {
	projects   repository.ProjectStore
	reviews    repository.ReviewStore
	guard      guard.Guard
	engine     *transition.Engine
	events     EventSink
	payments   payment.Notifier
	ratings    *rating.Aggregator
	instanceID string
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string

	paymentTimeout time.Duration
}

func NewMarketplace(d Deps) *Marketplace {
	if d.Engine == nil {
		d.Engine = transition.NewEngine()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Payments == nil {
		d.Payments = payment.LogNotifier{Logger: d.Logger}
	}
	return &Marketplace{
		projects:       d.Projects,
		reviews:        d.Reviews,
		guard:          d.Guard,
		engine:         d.Engine,
		events:         d.Events,
		payments:       d.Payments,
		ratings:        rating.NewAggregator(d.Reviews),
		instanceID:     d.InstanceID,
		logger:         d.Logger,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		paymentTimeout: 5 * time.Second,
	}
}

func (s *Marketplace) CreateProject(ctx context.Context, actor model.Actor, cmd transition.CreateProject) (model.Project, error) {
	out, err := s.engine.Create(actor, cmd)
	if err != nil {
		metrics.RecordTransition("createProject", string(apperror.CodeOf(err)))
		return model.Project{}, err
	}
	s.stamp(out.Events)
	if err := s.projects.CreateProject(ctx, out.Project, out.Events); err != nil {
		metrics.RecordTransition("createProject", string(apperror.CodeOf(err)))
		return model.Project{}, err
	}
	metrics.RecordTransition("createProject", "committed")
	logger.WithTrace(ctx, s.logger).Info("Project created",
		zap.String("project_id", out.Project.ID),
		zap.String("client_id", actor.ID),
		zap.Float64("budget", out.Project.Budget),
	)
	s.events.Dispatch(out.Events...)
	return out.Project, nil
}

func (s *Marketplace) GetProject(ctx context.Context, projectID string) (model.Project, error) {
	return s.projects.GetProject(ctx, projectID)
}

func (s *Marketplace) ListProjects(ctx context.Context, f repository.ProjectFilter) ([]model.Project, error) {
	return s.projects.ListProjects(ctx, f)
}

// AttemptTransition applies one command to a project.
//
// Cancelling ctx before the write leaves no trace. Once the write has started
// it is not abandoned: a caller that cancels afterwards may still get the
// committed project back and should re-read rather than assume failure.
func (s *Marketplace) AttemptTransition(ctx context.Context, actor model.Actor, projectID string, cmd transition.Command) (model.Project, error) {
	action := string(cmd.Action())
	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("project_id", projectID),
		zap.String("action", action),
		zap.String("actor_id", actor.ID),
	)

	var (
		out       transition.Outcome
		slot      uint64
		committed bool
	)
	err := s.guard.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		current, err := s.projects.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		out, err = s.engine.Apply(current, actor, cmd)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.stamp(out.Events)
		if err := s.projects.UpdateProject(context.WithoutCancel(ctx), out.Project, current.Version, out.Events); err != nil {
			return err
		}
		committed = true
		slot = s.events.Reserve(projectID)
		return nil
	})

	if !committed {
		metrics.RecordTransition(action, string(apperror.CodeOf(err)))
		if apperror.IsBusiness(err) {
			log.Info("Transition rejected", zap.Error(err))
		} else {
			log.Warn("Transition failed", zap.Error(err))
		}
		return model.Project{}, err
	}

	s.events.Publish(projectID, slot, out.Events)
	metrics.RecordTransition(action, "committed")
	log.Info("Transition committed",
		zap.String("status", string(out.Project.Status)),
		zap.Int64("version", out.Project.Version),
		zap.Int("events", len(out.Events)),
	)

	if _, ok := cmd.(transition.AddMilestone); ok {
		if report := out.Project.MilestoneBudgetReport(); report.OverBudget {
			log.Warn("Milestones exceed project budget",
				zap.Float64("budget", report.Budget),
				zap.Float64("milestone_total", report.MilestoneTotal),
			)
		}
	}
	if out.Payment != nil {
		s.triggerPayment(ctx, log, *out.Payment)
	}
	return out.Project, nil
}

// AttemptWithRetry re-reads and re-attempts once on a conflict or lock
// timeout; a second miss is returned to the caller.
func (s *Marketplace) AttemptWithRetry(ctx context.Context, actor model.Actor, projectID string, cmd transition.Command) (model.Project, error) {
	p, err := s.AttemptTransition(ctx, actor, projectID, cmd)
	if err == nil || !apperror.IsRetryable(err) || ctx.Err() != nil {
		return p, err
	}
	logger.WithTrace(ctx, s.logger).Info("Retrying transition",
		zap.String("project_id", projectID),
		zap.String("action", string(cmd.Action())),
		zap.String("reason", string(apperror.CodeOf(err))),
	)
	return s.AttemptTransition(ctx, actor, projectID, cmd)
}

// triggerPayment runs after the approval is committed; failure is only logged.
func (s *Marketplace) triggerPayment(ctx context.Context, log *zap.Logger, p transition.PaymentTrigger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.paymentTimeout)
	defer cancel()
	if err := s.payments.NotifyMilestoneApproved(ctx, p.MilestoneID, p.FreelancerID, p.Amount); err != nil {
		log.Error("Payment notification failed; approval stays committed",
			zap.String("milestone_id", p.MilestoneID),
			zap.String("freelancer_id", p.FreelancerID),
			zap.Float64("amount", p.Amount),
			zap.Error(err),
		)
	}
}

func (s *Marketplace) stamp(events []model.Event) {
	for i := range events {
		events[i].Origin = s.instanceID
	}
}

// SubmitReview records the client's review of the freelancer on a completed
// project. Reviews are not serialized by the project lock; the store's
// (project, reviewer) uniqueness is the only guard needed.
func (s *Marketplace) SubmitReview(ctx context.Context, actor model.Actor, projectID string, score int, comment string) (model.Review, error) {
	if score < model.MinRating || score > model.MaxRating {
		return model.Review{}, apperror.Newf(apperror.CodeInvalidArgument, "rating must be between %d and %d", model.MinRating, model.MaxRating)
	}
	p, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return model.Review{}, err
	}
	if p.ClientID != actor.ID {
		return model.Review{}, apperror.New(apperror.CodeNotOwner, "only the project's client can review it")
	}
	if p.Status != model.ProjectCompleted {
		return model.Review{}, apperror.New(apperror.CodeInvalidState, "only completed projects can be reviewed").
			WithMeta("status", string(p.Status))
	}

	r := model.Review{
		ID:         s.newID(),
		ProjectID:  p.ID,
		Reviewer:   actor.ID,
		Freelancer: p.Freelancer,
		Rating:     score,
		Comment:    strings.TrimSpace(comment),
		CreatedAt:  s.now(),
	}
	evt := s.reviewEvent(r, model.EventReviewSubmitted, p.Version, r.Freelancer)
	if err := s.reviews.CreateReview(ctx, r, []model.Event{evt}); err != nil {
		return model.Review{}, err
	}
	logger.WithTrace(ctx, s.logger).Info("Review submitted",
		zap.String("review_id", r.ID),
		zap.String("project_id", r.ProjectID),
		zap.String("freelancer_id", r.Freelancer),
		zap.Int("rating", r.Rating),
	)
	s.events.Dispatch(evt)
	return r, nil
}

// RespondToReview lets the reviewed freelancer answer once.
func (s *Marketplace) RespondToReview(ctx context.Context, actor model.Actor, reviewID, response string) (model.Review, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return model.Review{}, apperror.New(apperror.CodeInvalidArgument, "response is required")
	}
	r, err := s.reviews.GetReview(ctx, reviewID)
	if err != nil {
		return model.Review{}, err
	}
	if r.Freelancer != actor.ID {
		return model.Review{}, apperror.New(apperror.CodeForbidden, "only the reviewed freelancer can respond")
	}
	r, err = s.reviews.SetResponse(ctx, reviewID, response, s.now())
	if err != nil {
		return model.Review{}, err
	}
	s.events.Dispatch(s.reviewEvent(r, model.EventReviewResponded, 0, r.Reviewer))
	return r, nil
}

func (s *Marketplace) ListReviews(ctx context.Context, freelancerID string) ([]model.Review, error) {
	return s.reviews.ListByFreelancer(ctx, freelancerID)
}

func (s *Marketplace) AverageRating(ctx context.Context, freelancerID string) (rating.Rating, error) {
	return s.ratings.AverageRating(ctx, freelancerID)
}

func (s *Marketplace) reviewEvent(r model.Review, kind model.EventKind, version int64, audience ...string) model.Event {
	payload := mqcontracts.ReviewPayload{
		ReviewID:     r.ID,
		ProjectID:    r.ProjectID,
		FreelancerID: r.Freelancer,
		Rating:       r.Rating,
		Comment:      r.Comment,
	}
	if r.Response != nil {
		payload.Response = *r.Response
	}
	return model.Event{
		ID:         s.newID(),
		ProjectID:  r.ProjectID,
		Kind:       kind,
		Payload:    payload,
		Audience:   audience,
		Version:    version,
		Origin:     s.instanceID,
		OccurredAt: s.now(),
	}
}
