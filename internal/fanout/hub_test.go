package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"freelancehub/internal/model"
	"freelancehub/pkg/mq"
)

type fakeObserver struct {
	user    string
	mu      sync.Mutex
	got     []model.Event
	block   chan struct{} // when non-nil, Send waits on it
	failErr error
	closed  chan struct{}
	once    sync.Once
}

func newObserver(user string) *fakeObserver {
	return &fakeObserver{user: user, closed: make(chan struct{})}
}

func (o *fakeObserver) UserID() string { return o.user }

func (o *fakeObserver) Send(evt model.Event) error {
	if o.block != nil {
		<-o.block
	}
	if o.failErr != nil {
		return o.failErr
	}
	o.mu.Lock()
	o.got = append(o.got, evt)
	o.mu.Unlock()
	return nil
}

func (o *fakeObserver) Close() error {
	o.once.Do(func() { close(o.closed) })
	return nil
}

func (o *fakeObserver) events() []model.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.Event(nil), o.got...)
}

func (o *fakeObserver) waitFor(t *testing.T, n int) []model.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(o.events()) >= n }, time.Second, 5*time.Millisecond)
	return o.events()
}

func event(project string, version int64, kind model.EventKind, audience ...string) model.Event {
	return model.Event{ID: project + "-" + string(kind), ProjectID: project, Kind: kind, Version: version, Audience: audience}
}

func TestDeliveryRespectsAudience(t *testing.T) {
	h := NewHub(8, nil)
	client := newObserver("c1")
	stranger := newObserver("x")
	h.SubscribeProject("p1", client)
	h.SubscribeProject("p1", stranger)

	slot := h.Reserve("p1")
	h.Publish("p1", slot, []model.Event{event("p1", 2, model.EventBidSubmitted, "c1", "f1")})

	got := client.waitFor(t, 1)
	assert.Equal(t, model.EventBidSubmitted, got[0].Kind)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, stranger.events())
}

func TestOutOfOrderPublishIsDeliveredInSlotOrder(t *testing.T) {
	h := NewHub(8, nil)
	obs := newObserver("c1")
	h.SubscribeProject("p1", obs)

	first := h.Reserve("p1")
	second := h.Reserve("p1")
	third := h.Reserve("p1")

	h.Publish("p1", third, []model.Event{event("p1", 4, model.EventMilestoneAdded, "c1")})
	h.Publish("p1", second, nil)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, obs.events(), "nothing may be delivered before slot 1")

	h.Publish("p1", first, []model.Event{event("p1", 2, model.EventBidAccepted, "c1")})
	got := obs.waitFor(t, 2)
	assert.Equal(t, int64(2), got[0].Version)
	assert.Equal(t, int64(4), got[1].Version)

	h.mu.Lock()
	_, tracked := h.seqs["p1"]
	h.mu.Unlock()
	assert.False(t, tracked, "caught-up sequencer is dropped")
}

func TestSlowObserverIsEvictedWithoutBlockingPublisher(t *testing.T) {
	h := NewHub(1, nil)
	slow := newObserver("c1")
	slow.block = make(chan struct{})
	defer close(slow.block)
	fast := newObserver("c1")
	h.SubscribeProject("p1", slow)
	h.SubscribeProject("p1", fast)

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 5; i++ {
			slot := h.Reserve("p1")
			h.Publish("p1", slot, []model.Event{event("p1", i+2, model.EventMilestoneAdded, "c1")})
			time.Sleep(5 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on slow observer")
	}
	select {
	case <-slow.closed:
	case <-time.After(time.Second):
		t.Fatal("slow observer was not evicted")
	}
	assert.Len(t, fast.waitFor(t, 5), 5)
	assert.Equal(t, 1, h.Subscribers(ProjectChannel("p1")))
}

func TestFailingObserverIsDropped(t *testing.T) {
	h := NewHub(4, nil)
	bad := newObserver("c1")
	bad.failErr = errors.New("broken pipe")
	sub := h.SubscribeProject("p1", bad)

	h.Dispatch(event("p1", 2, model.EventBidSubmitted, "c1"))

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after send failure")
	}
	assert.Equal(t, 0, h.Subscribers(ProjectChannel("p1")))
}

func TestUserChannelReceivesEventsFromAnyProject(t *testing.T) {
	h := NewHub(4, nil)
	obs := newObserver("f1")
	h.SubscribeUser(obs)

	h.Dispatch(event("p1", 2, model.EventBidRejected, "c1", "f1"))
	h.Dispatch(event("p2", 3, model.EventReviewSubmitted, "f1"))
	h.Dispatch(event("p3", 2, model.EventBidSubmitted, "c9"))

	got := obs.waitFor(t, 2)
	assert.Equal(t, "p1", got[0].ProjectID)
	assert.Equal(t, "p2", got[1].ProjectID)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, obs.events(), 2)
}

func TestCloseUnsubscribes(t *testing.T) {
	h := NewHub(4, nil)
	obs := newObserver("c1")
	sub := h.SubscribeProject("p1", obs)
	assert.Equal(t, 1, h.Subscribers(ProjectChannel("p1")))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Subscribers(ProjectChannel("p1")))

	h.Dispatch(event("p1", 2, model.EventBidSubmitted, "c1"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, obs.events())
}

func TestHubCloseStopsEveryone(t *testing.T) {
	h := NewHub(4, nil)
	a, b := newObserver("a"), newObserver("b")
	h.SubscribeProject("p1", a)
	h.SubscribeUser(b)
	h.Close()

	<-a.closed
	<-b.closed
	late := newObserver("c")
	sub := h.SubscribeProject("p1", late)
	<-sub.Done()
}

type memDedup struct{ seen map[string]bool }

func (d *memDedup) AcquireOnce(_ context.Context, id string) bool {
	if d.seen[id] {
		return false
	}
	d.seen[id] = true
	return true
}

func TestBridgeSkipsOwnAndDuplicateEvents(t *testing.T) {
	h := NewHub(8, nil)
	obs := newObserver("c1")
	h.SubscribeProject("p1", obs)
	b := NewBridge(h, "api-1", &memDedup{seen: map[string]bool{}}, zap.NewNop())

	remote := event("p1", 2, model.EventBidSubmitted, "c1")
	remote.Origin = "api-2"
	own := event("p1", 3, model.EventBidAccepted, "c1")
	own.Origin = "api-1"

	for _, evt := range []model.Event{remote, own, remote} {
		body, err := json.Marshal(evt)
		require.NoError(t, err)
		require.NoError(t, b.Handle(context.Background(), mq.Message{RoutingKey: evt.Kind.RoutingKey(), Body: body}))
	}

	got := obs.waitFor(t, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, obs.events(), 1)
	assert.Equal(t, model.EventBidSubmitted, got[0].Kind)

	assert.Error(t, b.Handle(context.Background(), mq.Message{Body: []byte("{")}))
	assert.Equal(t, "fanout.api-1", b.QueueConfig().Queue)
}
