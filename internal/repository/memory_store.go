package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"freelancehub/internal/model"
)

// MemoryStore keeps aggregates in process memory. It is used for local runs
// (store.driver: memory) and tests; it has the same CAS semantics as the
// database stores.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]model.Project
	reviews  map[string]model.Review
	order    []string
	events   []model.Event

	// FailNext, when set, is returned by the next write and then cleared.
	FailNext error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]model.Project),
		reviews:  make(map[string]model.Review),
	}
}

func (s *MemoryStore) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *MemoryStore) CreateProject(ctx context.Context, p model.Project, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, exists := s.projects[p.ID]; exists {
		return ErrConflict
	}
	s.projects[p.ID] = p.Clone()
	s.order = append(s.order, p.ID)
	s.events = append(s.events, events...)
	return nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id string) (model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return model.Project{}, ErrProjectNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListProjects(ctx context.Context, f ProjectFilter) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Project
	for i := len(s.order) - 1; i >= 0 && len(out) < f.limit(); i-- {
		p := s.projects[s.order[i]]
		if f.match(&p) {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateProject(ctx context.Context, next model.Project, expectedVersion int64, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	cur, ok := s.projects[next.ID]
	if !ok {
		return ErrProjectNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	s.projects[next.ID] = next.Clone()
	s.events = append(s.events, events...)
	return nil
}

// Events returns every event recorded with a committed write, in commit order.
func (s *MemoryStore) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Event(nil), s.events...)
}

func (s *MemoryStore) CreateReview(ctx context.Context, r model.Review, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	for _, existing := range s.reviews {
		if existing.ProjectID == r.ProjectID && existing.Reviewer == r.Reviewer {
			return ErrDuplicateReview
		}
	}
	s.reviews[r.ID] = r
	s.events = append(s.events, events...)
	return nil
}

func (s *MemoryStore) GetReview(ctx context.Context, id string) (model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return model.Review{}, ErrReviewNotFound
	}
	return r, nil
}

func (s *MemoryStore) SetResponse(ctx context.Context, id, response string, at time.Time) (model.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return model.Review{}, ErrReviewNotFound
	}
	if r.Response != nil {
		return model.Review{}, ErrAlreadyResponded
	}
	r.Response = &response
	r.RespondedAt = &at
	s.reviews[id] = r
	return r, nil
}

func (s *MemoryStore) ListByFreelancer(ctx context.Context, freelancerID string) ([]model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Review
	for _, r := range s.reviews {
		if r.Freelancer == freelancerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RatingsFor(ctx context.Context, freelancerID string) ([]int, error) {
	reviews, err := s.ListByFreelancer(ctx, freelancerID)
	if err != nil {
		return nil, err
	}
	ratings := make([]int, 0, len(reviews))
	for _, r := range reviews {
		ratings = append(ratings, r.Rating)
	}
	return ratings, nil
}
