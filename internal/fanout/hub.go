// Package fanout delivers committed project events to connected observers.
//
// Observers subscribe to a channel: "project:<id>" for one project or
// "user:<id>" for everything addressed to one user. Each subscription owns a
// bounded queue drained by its own goroutine, so a slow observer never blocks
// a publisher; when its queue is full it is evicted.
package fanout

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"freelancehub/internal/model"
	"freelancehub/pkg/metrics"
)

const DefaultBufferSize = 64

// Observer is one connected client, typically a WebSocket.
type Observer interface {
	UserID() string
	// Send writes one event. An error evicts the observer.
	Send(evt model.Event) error
	Close() error
}

func ProjectChannel(projectID string) string { return "project:" + projectID }
func UserChannel(userID string) string { return "user:" + userID }

type Hub struct {
	mu       sync.Mutex
	channels map[string]map[uint64]*Subscription
	seqs     map[string]*sequencer
	nextID   atomic.Uint64
	buffer   int
	logger   *zap.Logger
	closed   bool
}

func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels: make(map[string]map[uint64]*Subscription),
		seqs:     make(map[string]*sequencer),
		buffer:   bufferSize,
		logger:   logger,
	}
}

// SubscribeProject registers obs for events of one project. Only events whose
// audience contains obs.UserID() are delivered.
func (h *Hub) SubscribeProject(projectID string, obs Observer) *Subscription {
	return h.subscribe(ProjectChannel(projectID), obs)
}

// SubscribeUser registers obs for every event addressed to its user.
func (h *Hub) SubscribeUser(obs Observer) *Subscription {
	return h.subscribe(UserChannel(obs.UserID()), obs)
}

func (h *Hub) subscribe(channel string, obs Observer) *Subscription {
	sub := &Subscription{
		id:      h.nextID.Add(1),
		channel: channel,
		obs:     obs,
		queue:   make(chan model.Event, h.buffer),
		done:    make(chan struct{}),
		hub:     h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.stop()
		return sub
	}
	subs := h.channels[channel]
	if subs == nil {
		subs = make(map[uint64]*Subscription)
		h.channels[channel] = subs
	}
	subs[sub.id] = sub
	h.mu.Unlock()

	metrics.FanoutSubscriptions.Inc()
	h.logger.Debug("Observer subscribed", zap.String("channel", channel), zap.String("user_id", obs.UserID()))
	go sub.run()
	return sub
}

// Reserve hands out the next delivery slot for a project. It must be called
// while the project lock is held, right after the write commits; the slot must
// then be filled with Publish (possibly with no events) after the lock is
// released. Slots are delivered strictly in reservation order.
func (h *Hub) Reserve(projectID string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	seq := h.seqs[projectID]
	if seq == nil {
		seq = &sequencer{next: 1, pending: make(map[uint64][]model.Event)}
		h.seqs[projectID] = seq
	}
	seq.reserved++
	return seq.reserved
}

// Publish fills a reserved slot. Events in later slots wait until every
// earlier slot of the same project has been published.
func (h *Hub) Publish(projectID string, slot uint64, events []model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seq := h.seqs[projectID]
	if seq == nil || slot < seq.next {
		h.logger.Warn("Publish for unknown slot", zap.String("project_id", projectID), zap.Uint64("slot", slot))
		return
	}
	seq.pending[slot] = events
	for {
		ready, ok := seq.pending[seq.next]
		if !ok {
			break
		}
		delete(seq.pending, seq.next)
		seq.next++
		for _, evt := range ready {
			h.dispatchLocked(evt)
		}
	}
	if seq.next > seq.reserved && len(seq.pending) == 0 {
		delete(h.seqs, projectID)
	}
}

// Dispatch delivers events that are not tied to a local commit, e.g. events
// relayed from another instance or review notifications.
func (h *Hub) Dispatch(events ...model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, evt := range events {
		h.dispatchLocked(evt)
	}
}

func (h *Hub) dispatchLocked(evt model.Event) {
	if h.closed {
		return
	}
	for _, sub := range h.channels[ProjectChannel(evt.ProjectID)] {
		if evt.Deliverable(sub.obs.UserID()) {
			h.offerLocked(sub, evt)
		}
	}
	for _, userID := range evt.Audience {
		for _, sub := range h.channels[UserChannel(userID)] {
			h.offerLocked(sub, evt)
		}
	}
}

// offerLocked never blocks: a full queue means the observer cannot keep up.
func (h *Hub) offerLocked(sub *Subscription, evt model.Event) {
	select {
	case sub.queue <- evt:
	default:
		metrics.IncrementFanoutDelivery(string(evt.Kind), "evicted")
		h.logger.Warn("Evicting slow observer",
			zap.String("channel", sub.channel),
			zap.String("user_id", sub.obs.UserID()),
			zap.Int("buffer", cap(sub.queue)),
		)
		h.removeLocked(sub)
		sub.stop()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(sub *Subscription) {
	subs := h.channels[sub.channel]
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.channels, sub.channel)
	}
	metrics.FanoutSubscriptions.Dec()
}

// Subscribers returns the number of live subscriptions on a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// Close evicts every observer. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Subscription
	for _, subs := range h.channels {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	for _, sub := range all {
		h.removeLocked(sub)
	}
	h.closed = true
	h.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
}

type sequencer struct {
	reserved uint64
	next     uint64
	pending  map[uint64][]model.Event
}

// Subscription is the handle returned to the transport; Close it when the
// connection goes away.
type Subscription struct {
	id      uint64
	channel string
	obs     Observer
	queue   chan model.Event
	done    chan struct{}
	once    sync.Once
	hub     *Hub
}

func (s *Subscription) Channel() string { return s.channel }

// Done is closed when the subscription ends for any reason.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() {
	s.hub.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() {
		close(s.done)
		_ = s.obs.Close()
	})
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case evt := <-s.queue:
			if err := s.obs.Send(evt); err != nil {
				metrics.IncrementFanoutDelivery(string(evt.Kind), "failed")
				s.hub.logger.Info("Observer send failed, dropping subscription",
					zap.String("channel", s.channel),
					zap.String("user_id", s.obs.UserID()),
					zap.Error(err),
				)
				s.Close()
				return
			}
			metrics.IncrementFanoutDelivery(string(evt.Kind), "delivered")
		}
	}
}
