package transition

import (
	"fmt"
	"testing"
	"time"

	"freelancehub/internal/model"
	"freelancehub/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	client = model.Actor{ID: "client-1", Role: model.RoleClient}
	f1     = model.Actor{ID: "freelancer-1", Role: model.RoleFreelancer}
	f2     = model.Actor{ID: "freelancer-2", Role: model.RoleFreelancer}
	f3     = model.Actor{ID: "freelancer-3", Role: model.RoleFreelancer}
)

func newTestEngine() *Engine {
	n := 0
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewEngine(
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
}

func openProject(t *testing.T, e *Engine) model.Project {
	t.Helper()
	out, err := e.Create(client, CreateProject{Title: "Build API", Budget: 500, Skills: []string{"go", "sql", "go"}})
	require.NoError(t, err)
	return out.Project
}

func apply(t *testing.T, e *Engine, p model.Project, actor model.Actor, cmd Command) Outcome {
	t.Helper()
	out, err := e.Apply(p, actor, cmd)
	require.NoError(t, err)
	return out
}

func requireCode(t *testing.T, err error, code apperror.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperror.CodeOf(err), err.Error())
}

func TestCreateProject(t *testing.T) {
	e := newTestEngine()
	out, err := e.Create(client, CreateProject{Title: "  Build API ", Budget: 500, Skills: []string{"sql", "go", "go"}})
	require.NoError(t, err)

	p := out.Project
	assert.Equal(t, model.ProjectOpen, p.Status)
	assert.Equal(t, "Build API", p.Title)
	assert.Equal(t, []string{"go", "sql"}, p.Skills)
	assert.Equal(t, int64(1), p.Version)
	require.Len(t, out.Events, 1)
	assert.Equal(t, model.EventProjectCreated, out.Events[0].Kind)

	_, err = e.Create(client, CreateProject{Title: "x", Budget: 0})
	requireCode(t, err, apperror.CodeInvalidArgument)
}

func TestSubmitBid(t *testing.T) {
	e := newTestEngine()
	p := openProject(t, e)

	out := apply(t, e, p, f1, SubmitBid{Amount: 400, Proposal: "I can do it", EstimatedDays: 10})
	require.Len(t, out.Project.Bids, 1)
	bid := out.Project.Bids[0]
	assert.Equal(t, model.BidPending, bid.Status)
	assert.Equal(t, f1.ID, bid.Freelancer)
	assert.Equal(t, p.Version+1, out.Project.Version)
	assert.Empty(t, p.Bids, "input aggregate must not be mutated")

	t.Run("self bid", func(t *testing.T) {
		_, err := e.Apply(p, client, SubmitBid{Amount: 1, Proposal: "x", EstimatedDays: 1})
		requireCode(t, err, apperror.CodeSelfBid)
	})
	t.Run("duplicate bid", func(t *testing.T) {
		_, err := e.Apply(out.Project, f1, SubmitBid{Amount: 300, Proposal: "again", EstimatedDays: 3})
		requireCode(t, err, apperror.CodeDuplicateBid)
	})
	t.Run("project not open", func(t *testing.T) {
		closed := out.Project.Clone()
		closed.Status = model.ProjectCancelled
		_, err := e.Apply(closed, f2, SubmitBid{Amount: 300, Proposal: "late", EstimatedDays: 3})
		requireCode(t, err, apperror.CodeInvalidState)
	})
	t.Run("invalid payload", func(t *testing.T) {
		_, err := e.Apply(p, f2, SubmitBid{Amount: -1, Proposal: "x", EstimatedDays: 1})
		requireCode(t, err, apperror.CodeInvalidArgument)
		_, err = e.Apply(p, f2, SubmitBid{Amount: 1, Proposal: "x", EstimatedDays: 0})
		requireCode(t, err, apperror.CodeInvalidArgument)
	})
}

func TestAcceptBidRejectsSiblingsInSameCommit(t *testing.T) {
	e := newTestEngine()
	p := openProject(t, e)
	p = apply(t, e, p, f1, SubmitBid{Amount: 400, Proposal: "a", EstimatedDays: 5}).Project
	p = apply(t, e, p, f2, SubmitBid{Amount: 450, Proposal: "b", EstimatedDays: 6}).Project
	p = apply(t, e, p, f3, SubmitBid{Amount: 420, Proposal: "c", EstimatedDays: 7}).Project
	target := p.Bids[0].ID

	out := apply(t, e, p, client, AcceptBid{BidID: target})
	next := out.Project

	assert.Equal(t, model.ProjectInProgress, next.Status)
	assert.Equal(t, f1.ID, next.Freelancer)
	assert.Equal(t, target, next.AcceptedBid)

	counts := map[model.BidStatus]int{}
	for _, b := range next.Bids {
		counts[b.Status]++
	}
	assert.Equal(t, 1, counts[model.BidAccepted])
	assert.Equal(t, 2, counts[model.BidRejected])
	assert.Zero(t, counts[model.BidPending])

	require.Len(t, out.Events, 3)
	assert.Equal(t, model.EventBidAccepted, out.Events[0].Kind)
	assert.Equal(t, model.EventBidRejected, out.Events[1].Kind)
	assert.Equal(t, model.EventBidRejected, out.Events[2].Kind)
	for _, evt := range out.Events {
		assert.Equal(t, next.Version, evt.Version)
		assert.ElementsMatch(t, []string{client.ID, f1.ID, f2.ID, f3.ID}, evt.Audience)
	}

	// a second accept observes the project is no longer open
	_, err := e.Apply(next, client, AcceptBid{BidID: p.Bids[1].ID})
	requireCode(t, err, apperror.CodeInvalidState)
}

func TestAcceptBidErrors(t *testing.T) {
	e := newTestEngine()
	p := openProject(t, e)
	p = apply(t, e, p, f1, SubmitBid{Amount: 400, Proposal: "a", EstimatedDays: 5}).Project
	bidID := p.Bids[0].ID

	_, err := e.Apply(p, f2, AcceptBid{BidID: bidID})
	requireCode(t, err, apperror.CodeNotOwner)

	_, err = e.Apply(p, client, AcceptBid{BidID: "missing"})
	requireCode(t, err, apperror.CodeBidNotFound)

	withdrawn := apply(t, e, p, f1, WithdrawBid{BidID: bidID}).Project
	assert.Equal(t, model.BidWithdrawn, withdrawn.Bids[0].Status)
	_, err = e.Apply(withdrawn, client, AcceptBid{BidID: bidID})
	requireCode(t, err, apperror.CodeInvalidState)
}

func TestWithdrawAndRebid(t *testing.T) {
	e := newTestEngine()
	p := openProject(t, e)
	p = apply(t, e, p, f1, SubmitBid{Amount: 400, Proposal: "a", EstimatedDays: 5}).Project
	bidID := p.Bids[0].ID

	_, err := e.Apply(p, f2, WithdrawBid{BidID: bidID})
	requireCode(t, err, apperror.CodeNotOwner)

	p = apply(t, e, p, f1, WithdrawBid{BidID: bidID}).Project
	p = apply(t, e, p, f1, SubmitBid{Amount: 350, Proposal: "cheaper", EstimatedDays: 5}).Project
	require.Len(t, p.Bids, 2)
	assert.Equal(t, model.BidPending, p.Bids[1].Status)

	// a rejected bid still blocks a new one on the same project
	p = apply(t, e, p, client, RejectBid{BidID: p.Bids[1].ID}).Project
	_, err = e.Apply(p, f1, SubmitBid{Amount: 300, Proposal: "again", EstimatedDays: 5})
	requireCode(t, err, apperror.CodeDuplicateBid)
}

func assignedProject(t *testing.T, e *Engine) model.Project {
	t.Helper()
	p := openProject(t, e)
	p = apply(t, e, p, f1, SubmitBid{Amount: 400, Proposal: "a", EstimatedDays: 5}).Project
	return apply(t, e, p, client, AcceptBid{BidID: p.Bids[0].ID}).Project
}

func TestMilestoneLifecycleIsMonotonic(t *testing.T) {
	e := newTestEngine()
	p := assignedProject(t, e)

	_, err := e.Apply(p, f1, AddMilestone{Title: "M", Amount: 200})
	requireCode(t, err, apperror.CodeNotOwner)

	p = apply(t, e, p, client, AddMilestone{Title: "M", Amount: 200, DueDate: time.Now()}).Project
	m := p.Milestones[0]
	assert.Equal(t, model.MilestonePending, m.Status)

	// skipping straight to approved
	_, err = e.Apply(p, client, ApproveMilestone{MilestoneID: m.ID})
	requireCode(t, err, apperror.CodeInvalidState)

	_, err = e.Apply(p, f2, CompleteMilestone{MilestoneID: m.ID})
	requireCode(t, err, apperror.CodeNotAssignedFreelancer)

	p = apply(t, e, p, f1, CompleteMilestone{MilestoneID: m.ID}).Project
	assert.Equal(t, model.MilestoneCompleted, p.Milestones[0].Status)

	_, err = e.Apply(p, f1, CompleteMilestone{MilestoneID: m.ID})
	requireCode(t, err, apperror.CodeInvalidState)

	out := apply(t, e, p, client, ApproveMilestone{MilestoneID: m.ID})
	p = out.Project
	assert.Equal(t, model.MilestoneApproved, p.Milestones[0].Status)
	require.NotNil(t, out.Payment)
	assert.Equal(t, PaymentTrigger{MilestoneID: m.ID, FreelancerID: f1.ID, Amount: 200}, *out.Payment)

	for _, cmd := range []Command{CompleteMilestone{MilestoneID: m.ID}, ApproveMilestone{MilestoneID: m.ID}} {
		actor := client
		if cmd.Action() == ActionCompleteMilestone {
			actor = f1
		}
		_, err = e.Apply(p, actor, cmd)
		requireCode(t, err, apperror.CodeInvalidState)
	}

	_, err = e.Apply(p, f1, CompleteMilestone{MilestoneID: "nope"})
	requireCode(t, err, apperror.CodeMilestoneNotFound)
}

func TestAddMilestoneRequiresInProgress(t *testing.T) {
	e := newTestEngine()
	p := openProject(t, e)
	_, err := e.Apply(p, client, AddMilestone{Title: "M", Amount: 10})
	requireCode(t, err, apperror.CodeInvalidState)
}

func TestMilestoneOverBudgetIsReportedNotFatal(t *testing.T) {
	e := newTestEngine()
	p := assignedProject(t, e)
	p = apply(t, e, p, client, AddMilestone{Title: "M1", Amount: 300}).Project
	out := apply(t, e, p, client, AddMilestone{Title: "M2", Amount: 300})

	report := out.Project.MilestoneBudgetReport()
	assert.True(t, report.OverBudget)
	assert.Equal(t, float64(600), report.MilestoneTotal)
}

func TestTerminalTransitions(t *testing.T) {
	e := newTestEngine()
	p := assignedProject(t, e)

	_, err := e.Apply(p, f1, CompleteProject{})
	requireCode(t, err, apperror.CodeNotOwner)

	done := apply(t, e, p, client, CompleteProject{}).Project
	assert.Equal(t, model.ProjectCompleted, done.Status)
	assert.Equal(t, f1.ID, done.Freelancer)

	_, err = e.Apply(done, client, CancelProject{})
	requireCode(t, err, apperror.CodeInvalidState)
	_, err = e.Apply(done, client, CompleteProject{})
	requireCode(t, err, apperror.CodeInvalidState)

	cancelled := apply(t, e, p, client, CancelProject{}).Project
	assert.Equal(t, model.ProjectCancelled, cancelled.Status)
	_, err = e.Apply(cancelled, client, AddMilestone{Title: "M", Amount: 1})
	requireCode(t, err, apperror.CodeInvalidState)
}

func TestCancelOpenProjectRejectsPendingBids(t *testing.T) {
	e := newTestEngine()
	p := openProject(t, e)
	p = apply(t, e, p, f1, SubmitBid{Amount: 400, Proposal: "a", EstimatedDays: 5}).Project
	p = apply(t, e, p, f2, SubmitBid{Amount: 450, Proposal: "b", EstimatedDays: 6}).Project

	out := apply(t, e, p, client, CancelProject{})
	assert.Equal(t, model.ProjectCancelled, out.Project.Status)
	assert.Empty(t, out.Project.Freelancer)
	for _, b := range out.Project.Bids {
		assert.Equal(t, model.BidRejected, b.Status)
	}
	assert.Len(t, out.Events, 3)
}

func TestCancelInProgressClearsAssignment(t *testing.T) {
	e := newTestEngine()
	p := assignedProject(t, e)
	acceptedBid := p.AcceptedBid

	out := apply(t, e, p, client, CancelProject{})
	cancelled := out.Project
	assert.Equal(t, model.ProjectCancelled, cancelled.Status)
	assert.Empty(t, cancelled.Freelancer)
	assert.Equal(t, acceptedBid, cancelled.AcceptedBid)
	assert.Equal(t, model.BidAccepted, cancelled.Bids[0].Status)

	// freelancer is set exactly while the project is in-progress or completed
	for _, q := range []model.Project{p, cancelled} {
		assigned := q.Status == model.ProjectInProgress || q.Status == model.ProjectCompleted
		assert.Equal(t, assigned, q.Freelancer != "", "status %s", q.Status)
	}

	require.Len(t, out.Events, 1)
	assert.Equal(t, model.EventProjectCancelled, out.Events[0].Kind)
	assert.True(t, out.Events[0].Deliverable(f1.ID))
}

func TestBidAuthorCheckedBeforeBidStatus(t *testing.T) {
	e := newTestEngine()
	p := openProject(t, e)
	p = apply(t, e, p, f1, SubmitBid{Amount: 400, Proposal: "a", EstimatedDays: 5}).Project
	p = apply(t, e, p, client, RejectBid{BidID: p.Bids[0].ID}).Project

	_, err := e.Apply(p, f2, WithdrawBid{BidID: p.Bids[0].ID})
	requireCode(t, err, apperror.CodeNotOwner)
	_, err = e.Apply(p, f1, WithdrawBid{BidID: p.Bids[0].ID})
	requireCode(t, err, apperror.CodeInvalidState)
}

func TestAudienceExcludesBiddersForNonBidEvents(t *testing.T) {
	e := newTestEngine()
	p := openProject(t, e)
	p = apply(t, e, p, f1, SubmitBid{Amount: 400, Proposal: "a", EstimatedDays: 5}).Project
	p = apply(t, e, p, f2, SubmitBid{Amount: 450, Proposal: "b", EstimatedDays: 6}).Project
	p = apply(t, e, p, client, AcceptBid{BidID: p.Bids[0].ID}).Project

	out := apply(t, e, p, client, AddMilestone{Title: "M", Amount: 100})
	require.Len(t, out.Events, 1)
	assert.ElementsMatch(t, []string{client.ID, f1.ID}, out.Events[0].Audience)
	assert.False(t, out.Events[0].Deliverable(f2.ID))
}
