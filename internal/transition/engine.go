package transition

import (
	"fmt"
	"strings"
	"time"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/model"
	"freelancehub/pkg/apperror"

	"github.com/google/uuid"
)

// PaymentTrigger is the side-effect of a committed approveMilestone.
type PaymentTrigger struct {
	MilestoneID  string
	FreelancerID string
	Amount       float64
}

// Outcome is the result of a successful transition: the next aggregate value,
// the events to publish once it is committed, and an optional payment trigger.
type Outcome struct {
	Project model.Project
	Events  []model.Event
	Payment *PaymentTrigger
}

// Engine applies transitions. It is pure apart from the injected clock and id
// generator and never mutates the project it is given.
type Engine struct {
	newID func() string
	now   func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create builds a new open project owned by actor.
func (e *Engine) Create(actor model.Actor, cmd CreateProject) (Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return Outcome{}, err
	}
	now := e.now()
	p := model.Project{
		ID:          e.newID(),
		ClientID:    actor.ID,
		Title:       strings.TrimSpace(cmd.Title),
		Description: cmd.Description,
		Skills:      model.NormalizeSkills(cmd.Skills),
		Budget:      cmd.Budget,
		Status:      model.ProjectOpen,
		Bids:        []model.Bid{},
		Milestones:  []model.Milestone{},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	evt := e.event(&p, model.EventProjectCreated, mqcontracts.ProjectCreatedPayload{
		ProjectID: p.ID,
		ClientID:  p.ClientID,
		Title:     p.Title,
		Budget:    p.Budget,
		Skills:    p.Skills,
		CreatedAt: p.CreatedAt,
	})
	return Outcome{Project: p, Events: []model.Event{evt}}, nil
}

// Apply validates cmd against the project's transition tables and returns the
// next aggregate value. Identity is checked before status.
func (e *Engine) Apply(current model.Project, actor model.Actor, cmd Command) (Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return Outcome{}, err
	}
	action := cmd.Action()

	rel, ok := projectRelation(action)
	if !ok {
		return Outcome{}, apperror.Newf(apperror.CodeInvalidArgument, "unknown action %q", action)
	}
	if !holds(rel, &current, actor, nil) {
		return Outcome{}, relationError(rel, action)
	}
	rule, ok := lookupProject(current.Status, action)
	if !ok || current.Status.Terminal() {
		return Outcome{}, invalidState(action, "project", string(current.Status))
	}

	next := current.Clone()
	next.Status = rule.To
	next.Version = current.Version + 1
	next.UpdatedAt = e.now()

	var (
		out Outcome
		err error
	)
	switch c := cmd.(type) {
	case SubmitBid:
		out, err = e.submitBid(&next, actor, c)
	case AcceptBid:
		out, err = e.acceptBid(&next, actor, c)
	case RejectBid:
		out, err = e.rejectBid(&next, actor, c)
	case WithdrawBid:
		out, err = e.withdrawBid(&next, actor, c)
	case AddMilestone:
		out, err = e.addMilestone(&next, c)
	case CompleteMilestone:
		out, err = e.moveMilestone(&next, actor, action, c.MilestoneID)
	case ApproveMilestone:
		out, err = e.moveMilestone(&next, actor, action, c.MilestoneID)
	case CompleteProject:
		out = Outcome{Events: []model.Event{e.statusEvent(&next, model.EventProjectCompleted)}}
	case CancelProject:
		out = e.cancel(&next)
	default:
		return Outcome{}, apperror.Newf(apperror.CodeInvalidArgument, "unsupported command %T", cmd)
	}
	if err != nil {
		return Outcome{}, err
	}
	out.Project = next
	return out, nil
}

func (e *Engine) submitBid(p *model.Project, actor model.Actor, c SubmitBid) (Outcome, error) {
	if _, exists := p.ActiveBidBy(actor.ID); exists {
		return Outcome{}, apperror.New(apperror.CodeDuplicateBid, "freelancer already holds a bid on this project")
	}
	bid := model.Bid{
		ID:            e.newID(),
		ProjectID:     p.ID,
		Freelancer:    actor.ID,
		Amount:        c.Amount,
		Proposal:      strings.TrimSpace(c.Proposal),
		EstimatedDays: c.EstimatedDays,
		Status:        model.BidPending,
		CreatedAt:     p.UpdatedAt,
	}
	p.Bids = append(p.Bids, bid)
	return Outcome{Events: []model.Event{e.event(p, model.EventBidSubmitted, bidPayload(bid, ""))}}, nil
}

// acceptBid moves the target to accepted and every other pending bid to
// rejected in the same aggregate value.
func (e *Engine) acceptBid(p *model.Project, actor model.Actor, c AcceptBid) (Outcome, error) {
	idx, err := e.moveBid(p, actor, ActionAcceptBid, c.BidID)
	if err != nil {
		return Outcome{}, err
	}
	accepted := p.Bids[idx]
	p.Freelancer = accepted.Freelancer
	p.AcceptedBid = accepted.ID

	events := []model.Event{e.event(p, model.EventBidAccepted, bidPayload(accepted, ""))}
	for i := range p.Bids {
		if i == idx || p.Bids[i].Status != model.BidPending {
			continue
		}
		p.Bids[i].Status = model.BidRejected
		events = append(events, e.event(p, model.EventBidRejected, bidPayload(p.Bids[i], "another bid was accepted")))
	}
	return Outcome{Events: events}, nil
}

func (e *Engine) rejectBid(p *model.Project, actor model.Actor, c RejectBid) (Outcome, error) {
	idx, err := e.moveBid(p, actor, ActionRejectBid, c.BidID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Events: []model.Event{e.event(p, model.EventBidRejected, bidPayload(p.Bids[idx], "rejected by client"))}}, nil
}

func (e *Engine) withdrawBid(p *model.Project, actor model.Actor, c WithdrawBid) (Outcome, error) {
	idx, err := e.moveBid(p, actor, ActionWithdrawBid, c.BidID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Events: []model.Event{e.event(p, model.EventBidWithdrawn, bidPayload(p.Bids[idx], ""))}}, nil
}

// moveBid applies the bid table to one bid and returns its index.
// A withdrawn or already decided bid yields invalid_state, not bid_not_found.
func (e *Engine) moveBid(p *model.Project, actor model.Actor, action Action, bidID string) (int, error) {
	idx, ok := p.FindBid(bidID)
	if !ok {
		return -1, apperror.Newf(apperror.CodeBidNotFound, "bid %s not found on project", bidID)
	}
	bid := &p.Bids[idx]
	if rel, ok := bidRelation(action); ok && !holds(rel, p, actor, bid) {
		return -1, relationError(rel, action)
	}
	rule, ok := lookupBid(bid.Status, action)
	if !ok {
		return -1, invalidState(action, "bid", string(bid.Status))
	}
	bid.Status = rule.To
	return idx, nil
}

func (e *Engine) addMilestone(p *model.Project, c AddMilestone) (Outcome, error) {
	m := model.Milestone{
		ID:          e.newID(),
		ProjectID:   p.ID,
		Title:       strings.TrimSpace(c.Title),
		Description: c.Description,
		DueDate:     c.DueDate,
		Amount:      c.Amount,
		Status:      model.MilestonePending,
		CreatedAt:   p.UpdatedAt,
	}
	p.Milestones = append(p.Milestones, m)
	return Outcome{Events: []model.Event{e.event(p, model.EventMilestoneAdded, milestonePayload(p, m))}}, nil
}

func (e *Engine) moveMilestone(p *model.Project, actor model.Actor, action Action, milestoneID string) (Outcome, error) {
	idx, ok := p.FindMilestone(milestoneID)
	if !ok {
		return Outcome{}, apperror.Newf(apperror.CodeMilestoneNotFound, "milestone %s not found on project", milestoneID)
	}
	m := &p.Milestones[idx]
	rule, ok := lookupMilestone(m.Status, action)
	if !ok {
		return Outcome{}, invalidState(action, "milestone", string(m.Status))
	}
	if !holds(rule.Rel, p, actor, nil) {
		return Outcome{}, relationError(rule.Rel, action)
	}
	m.Status = rule.To

	kind := model.EventMilestoneCompleted
	var trigger *PaymentTrigger
	if action == ActionApproveMilestone {
		kind = model.EventMilestoneApproved
		trigger = &PaymentTrigger{MilestoneID: m.ID, FreelancerID: p.Freelancer, Amount: m.Amount}
	}
	return Outcome{
		Events:  []model.Event{e.event(p, kind, milestonePayload(p, *m))},
		Payment: trigger,
	}, nil
}

// cancel is terminal. Pending bids on an open project are rejected with it so
// nothing is left dangling; milestones and the accepted bid stay as history.
// The assignment is cleared after the cancel event is built so the freelancer
// who held it is still notified.
func (e *Engine) cancel(p *model.Project) Outcome {
	events := []model.Event{e.statusEvent(p, model.EventProjectCancelled)}
	p.Freelancer = ""
	for i := range p.Bids {
		if p.Bids[i].Status != model.BidPending {
			continue
		}
		p.Bids[i].Status = model.BidRejected
		events = append(events, e.event(p, model.EventBidRejected, bidPayload(p.Bids[i], "project cancelled")))
	}
	return Outcome{Events: events}
}

func (e *Engine) statusEvent(p *model.Project, kind model.EventKind) model.Event {
	return e.event(p, kind, mqcontracts.ProjectStatusPayload{
		ProjectID:    p.ID,
		Status:       string(p.Status),
		FreelancerID: p.Freelancer,
	})
}

func (e *Engine) event(p *model.Project, kind model.EventKind, payload any) model.Event {
	return model.Event{
		ID:         e.newID(),
		ProjectID:  p.ID,
		Kind:       kind,
		Payload:    payload,
		Audience:   Audience(p, kind),
		Version:    p.Version,
		OccurredAt: p.UpdatedAt,
	}
}

// Audience is the client, the assigned freelancer and, for bid events, every
// freelancer that bid on the project.
func Audience(p *model.Project, kind model.EventKind) []string {
	out := []string{p.ClientID}
	if p.Freelancer != "" {
		out = append(out, p.Freelancer)
	}
	if kind.IsBidEvent() {
		for _, f := range p.Bidders() {
			if f != p.Freelancer {
				out = append(out, f)
			}
		}
	}
	return out
}

func bidPayload(b model.Bid, reason string) mqcontracts.BidPayload {
	return mqcontracts.BidPayload{
		BidID:         b.ID,
		ProjectID:     b.ProjectID,
		FreelancerID:  b.Freelancer,
		Amount:        b.Amount,
		EstimatedDays: b.EstimatedDays,
		Status:        string(b.Status),
		Reason:        reason,
	}
}

func milestonePayload(p *model.Project, m model.Milestone) mqcontracts.MilestonePayload {
	report := p.MilestoneBudgetReport()
	return mqcontracts.MilestonePayload{
		MilestoneID:    m.ID,
		ProjectID:      m.ProjectID,
		Title:          m.Title,
		Amount:         m.Amount,
		DueDate:        m.DueDate,
		Status:         string(m.Status),
		MilestoneTotal: report.MilestoneTotal,
		OverBudget:     report.OverBudget,
	}
}

func invalidState(action Action, entity, status string) error {
	return apperror.New(apperror.CodeInvalidState, fmt.Sprintf("cannot %s: %s is %s", action, entity, status)).
		WithMeta("entity", entity).
		WithMeta("status", status)
}
