package guard

import (
	"context"
	"sync"
	"time"

	"freelancehub/pkg/apperror"
	"freelancehub/pkg/metrics"

	"go.uber.org/zap"
)

// Guard serializes work per project id.
type Guard interface {
	// WithProjectLock runs fn while holding the project's exclusive lock. The
	// lock is released on every exit path, including a panic in fn.
	WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context) error) error
}

// ErrLockTimeout is returned when the bounded wait for a project lock elapses.
var ErrLockTimeout = apperror.New(apperror.CodeLockTimeout, "timed out waiting for project lock")

type entry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process keyed lock. Entries are reference counted and
// removed when nobody holds or waits for them.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
	logger  *zap.Logger
}

func NewLocal(timeout time.Duration, logger *zap.Logger) *Local {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Local{
		entries: make(map[string]*entry),
		timeout: timeout,
		logger:  logger,
	}
}

func (l *Local) WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context) error) error {
	release, err := l.acquire(ctx, projectID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func (l *Local) acquire(ctx context.Context, projectID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	e, ok := l.entries[projectID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[projectID] = e
	}
	e.refs++
	l.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		metrics.RecordLockWait("acquired", time.Since(start))
		return func() {
			<-e.sem
			l.unref(projectID, e)
		}, nil
	case <-ctx.Done():
		l.unref(projectID, e)
		metrics.RecordLockWait("cancelled", time.Since(start))
		return nil, ctx.Err()
	case <-timer.C:
		l.unref(projectID, e)
		metrics.RecordLockWait("timeout", time.Since(start))
		l.logger.Warn("Project lock wait timed out",
			zap.String("project_id", projectID),
			zap.Duration("timeout", l.timeout),
		)
		return nil, ErrLockTimeout
	}
}

func (l *Local) unref(projectID string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, projectID)
	}
}

// Held returns the number of projects currently locked or waited on.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
