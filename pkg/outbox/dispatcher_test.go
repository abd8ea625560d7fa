package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"freelancehub/pkg/trace"
)

type fakeStore struct {
	events map[int64]*Event
	order  []int64
	sent   []int64
	failed []int64
	resets []int64
}

func newFakeStore(events ...*Event) *fakeStore {
	s := &fakeStore{events: map[int64]*Event{}}
	for _, e := range events {
		e.Status = StatusPending
		s.events[e.ID] = e
		s.order = append(s.order, e.ID)
	}
	return s
}

func (s *fakeStore) GetPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	var out []*Event
	for _, id := range s.order {
		if e := s.events[id]; e.Status == StatusPending && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	var out []*Event
	for _, id := range s.order {
		if e := s.events[id]; e.Status == StatusFailed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) GetEventByID(ctx context.Context, id int64) (*Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	return e, nil
}

func (s *fakeStore) MarkAsSent(ctx context.Context, id int64) error {
	s.events[id].Status = StatusSent
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeStore) MarkAsFailed(ctx context.Context, id int64, maxRetries int) error {
	e := s.events[id]
	e.RetryCount++
	if e.RetryCount >= maxRetries {
		e.Status = StatusFailed
	}
	s.failed = append(s.failed, id)
	return nil
}

func (s *fakeStore) ResetForReplay(ctx context.Context, id int64) error {
	s.events[id].Status = StatusPending
	s.events[id].RetryCount = 0
	s.resets = append(s.resets, id)
	return nil
}

type published struct {
	routingKey string
	body       string
	traceID    string
}

type fakePublisher struct {
	out    []published
	failOn map[string]bool // routing key -> fail
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	if p.failOn[routingKey] {
		return errors.New("broker down")
	}
	body, _ := json.Marshal(payload)
	p.out = append(p.out, published{routingKey: routingKey, body: string(body), traceID: trace.FromContext(ctx)})
	return nil
}

func ev(id int64, aggregate, key, payload string) *Event {
	return &Event{ID: id, AggregateType: "project", AggregateID: aggregate, RoutingKey: key, Payload: json.RawMessage(payload)}
}

func TestProcessBatchPublishesInOrder(t *testing.T) {
	store := newFakeStore(
		ev(1, "p1", "project.ProjectCreated", `{"a":1}`),
		ev(2, "p1", "project.BidSubmitted", `{"a":2,"trace_id":"t-9"}`),
	)
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, zap.NewNop())

	assert.Equal(t, 2, d.ProcessBatch(context.Background()))
	require.Len(t, pub.out, 2)
	assert.Equal(t, "project.ProjectCreated", pub.out[0].routingKey)
	assert.JSONEq(t, `{"a":1}`, pub.out[0].body)
	assert.Equal(t, "t-9", pub.out[1].traceID)
	assert.Equal(t, []int64{1, 2}, store.sent)
}

func TestProcessBatchHoldsBackLaterEventsOfFailedAggregate(t *testing.T) {
	store := newFakeStore(
		ev(1, "p1", "project.BidAccepted", `{}`),
		ev(2, "p2", "project.BidSubmitted", `{}`),
		ev(3, "p1", "project.MilestoneAdded", `{}`),
	)
	pub := &fakePublisher{failOn: map[string]bool{"project.BidAccepted": true}}
	d := NewDispatcher(store, pub, zap.NewNop())

	assert.Equal(t, 1, d.ProcessBatch(context.Background()))
	assert.Equal(t, []int64{2}, store.sent)
	assert.Equal(t, []int64{1}, store.failed)
	assert.Equal(t, StatusPending, store.events[3].Status)
}

func TestProcessBatchMarksFailedAfterMaxRetries(t *testing.T) {
	store := newFakeStore(ev(1, "p1", "project.BidAccepted", `{}`))
	pub := &fakePublisher{failOn: map[string]bool{"project.BidAccepted": true}}
	d := NewDispatcher(store, pub, zap.NewNop()).WithMaxRetries(2)

	d.ProcessBatch(context.Background())
	assert.Equal(t, StatusPending, store.events[1].Status)
	d.ProcessBatch(context.Background())
	assert.Equal(t, StatusFailed, store.events[1].Status)
}

func TestReplayFailedEvents(t *testing.T) {
	store := newFakeStore(ev(1, "p1", "project.BidAccepted", `{}`), ev(2, "p1", "project.MilestoneAdded", `{}`))
	store.events[1].Status = StatusFailed
	store.events[2].Status = StatusFailed
	pub := &fakePublisher{}
	svc := NewReplayService(store, pub)

	n, err := svc.ReplayFailedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, StatusSent, store.events[1].Status)
}

func TestReplayEventNotFound(t *testing.T) {
	svc := NewReplayService(newFakeStore(), &fakePublisher{})
	err := svc.ReplayEvent(context.Background(), 42)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRequeueResetsToPending(t *testing.T) {
	store := newFakeStore(ev(7, "p1", "project.BidAccepted", `{}`))
	store.events[7].Status = StatusFailed
	svc := NewReplayService(store, &fakePublisher{})

	require.NoError(t, svc.Requeue(context.Background(), 7))
	assert.Equal(t, StatusPending, store.events[7].Status)
	assert.Equal(t, []int64{7}, store.resets)
}
