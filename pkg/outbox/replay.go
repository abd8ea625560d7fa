package outbox

import (
	"context"
	"fmt"
)

// ReplayStore 是重放需要的 outbox 操作，*Repository 满足
type ReplayStore interface {
	GetEventByID(ctx context.Context, eventID int64) (*Event, error)
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error
	ResetForReplay(ctx context.Context, eventID int64) error
}

// ReplayService 手动重放 outbox 事件（管理接口使用）
type ReplayService struct {
	repo      ReplayStore
	publisher Publisher
}

func NewReplayService(repo ReplayStore, publisher Publisher) *ReplayService {
	return &ReplayService{repo: repo, publisher: publisher}
}

// ReplayEvent 立即重新发布指定事件，不论当前状态
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	event, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}

	if err := s.publisher.PublishWithContext(withPayloadTrace(ctx, event.Payload), event.RoutingKey, event.Payload); err != nil {
		if markErr := s.repo.MarkAsFailed(ctx, eventID, event.RetryCount+1); markErr != nil {
			return fmt.Errorf("failed to publish and mark as failed: %w (mark error: %v)", err, markErr)
		}
		return fmt.Errorf("failed to publish: %w", err)
	}

	if err := s.repo.MarkAsSent(ctx, eventID); err != nil {
		return fmt.Errorf("failed to mark as sent: %w", err)
	}
	return nil
}

// Requeue 把事件重置为 pending，交给 Dispatcher 按顺序重新发布
func (s *ReplayService) Requeue(ctx context.Context, eventID int64) error {
	if _, err := s.repo.GetEventByID(ctx, eventID); err != nil {
		return err
	}
	return s.repo.ResetForReplay(ctx, eventID)
}

// ReplayFailedEvents 重放所有 failed 状态的事件，返回成功数量和第一个错误
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.repo.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	var firstErr error
	replayed := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		replayed++
	}
	return replayed, firstErr
}
