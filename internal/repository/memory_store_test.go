package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freelancehub/internal/model"
)

func sampleProject(id, client string) model.Project {
	return model.Project{
		ID:        id,
		ClientID:  client,
		Title:     "logo",
		Budget:    500,
		Status:    model.ProjectOpen,
		Version:   1,
		CreatedAt: time.Now(),
	}
}

func TestMemoryStoreCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateProject(ctx, sampleProject("p1", "c1"), nil))
	assert.ErrorIs(t, s.CreateProject(ctx, sampleProject("p1", "c1"), nil), ErrConflict)

	p, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)

	next := p.Clone()
	next.Version = 2
	next.Status = model.ProjectCancelled
	evt := model.Event{ID: "e1", ProjectID: "p1", Kind: model.EventProjectCancelled, Version: 2}
	require.NoError(t, s.UpdateProject(ctx, next, 1, []model.Event{evt}))

	// a writer still holding version 1 loses
	stale := p.Clone()
	stale.Version = 2
	assert.ErrorIs(t, s.UpdateProject(ctx, stale, 1, nil), ErrConflict)

	got, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProjectCancelled, got.Status)
	assert.Equal(t, []model.Event{evt}, s.Events())
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := sampleProject("p1", "c1")
	p.Bids = []model.Bid{{ID: "b1", Status: model.BidPending}}
	require.NoError(t, s.CreateProject(ctx, p, nil))

	got, _ := s.GetProject(ctx, "p1")
	got.Bids[0].Status = model.BidAccepted

	again, _ := s.GetProject(ctx, "p1")
	assert.Equal(t, model.BidPending, again.Bids[0].Status)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
	assert.ErrorIs(t, s.UpdateProject(ctx, sampleProject("missing", "c"), 1, nil), ErrProjectNotFound)
}

func TestMemoryStoreFailNext(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("disk full")
	s.FailNext = boom
	assert.ErrorIs(t, s.CreateProject(ctx, sampleProject("p1", "c1"), nil), boom)
	assert.NoError(t, s.CreateProject(ctx, sampleProject("p1", "c1"), nil))
}

func TestMemoryStoreListFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := sampleProject("a", "c1")
	b := sampleProject("b", "c2")
	b.Bids = []model.Bid{{ID: "x", Freelancer: "f1", Status: model.BidPending}}
	c := sampleProject("c", "c1")
	c.Status = model.ProjectInProgress
	c.Freelancer = "f2"
	for _, p := range []model.Project{a, b, c} {
		require.NoError(t, s.CreateProject(ctx, p, nil))
	}

	open, _ := s.ListProjects(ctx, ProjectFilter{Status: model.ProjectOpen})
	assert.Len(t, open, 2)
	assert.Equal(t, "b", open[0].ID, "newest first")

	mine, _ := s.ListProjects(ctx, ProjectFilter{ClientID: "c1"})
	assert.Len(t, mine, 2)

	f1, _ := s.ListProjects(ctx, ProjectFilter{Participant: "f1"})
	require.Len(t, f1, 1)
	assert.Equal(t, "b", f1[0].ID)

	f2, _ := s.ListProjects(ctx, ProjectFilter{Participant: "f2"})
	require.Len(t, f2, 1)
	assert.Equal(t, "c", f2[0].ID)

	limited, _ := s.ListProjects(ctx, ProjectFilter{Limit: 1})
	assert.Len(t, limited, 1)
}

func TestMemoryStoreReviews(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := model.Review{ID: "r1", ProjectID: "p1", Reviewer: "c1", Freelancer: "f1", Rating: 4, CreatedAt: time.Now()}
	require.NoError(t, s.CreateReview(ctx, r, nil))

	dup := r
	dup.ID = "r2"
	assert.ErrorIs(t, s.CreateReview(ctx, dup, nil), ErrDuplicateReview)

	updated, err := s.SetResponse(ctx, "r1", "thanks", time.Now())
	require.NoError(t, err)
	require.NotNil(t, updated.Response)
	assert.Equal(t, "thanks", *updated.Response)

	_, err = s.SetResponse(ctx, "r1", "again", time.Now())
	assert.ErrorIs(t, err, ErrAlreadyResponded)
	_, err = s.SetResponse(ctx, "nope", "x", time.Now())
	assert.ErrorIs(t, err, ErrReviewNotFound)

	ratings, err := s.RatingsFor(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, []int{4}, ratings)
}
