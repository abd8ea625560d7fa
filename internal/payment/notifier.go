// Package payment signals the external payment collaborator when a milestone
// is approved.
package payment

import (
	"context"
	"time"

	"go.uber.org/zap"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/pkg/circuitbreaker"
	"freelancehub/pkg/metrics"
	"freelancehub/pkg/trace"
)

const RoutingKeyMilestoneApproved = "payment.milestone_approved"

// Notifier is called after an approveMilestone commit. An error is logged by
// the caller and never undoes the approval.
type Notifier interface {
	NotifyMilestoneApproved(ctx context.Context, milestoneID, freelancerID string, amount float64) error
}

// Publisher is satisfied by *mq.Publisher.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Deduper is satisfied by *util.Deduper.
type Deduper interface {
	AcquireOnce(ctx context.Context, id string) bool
	Release(ctx context.Context, id string)
}

// MQNotifier publishes one message per approved milestone. A milestone is only
// approved once, so the dedup key only absorbs retries of the same call.
type MQNotifier struct {
	publisher Publisher
	breaker   *circuitbreaker.CircuitBreaker
	dedup     Deduper
	logger    *zap.Logger
	now       func() time.Time
}

func NewMQNotifier(publisher Publisher, breaker *circuitbreaker.CircuitBreaker, dedup Deduper, logger *zap.Logger) *MQNotifier {
	return &MQNotifier{
		publisher: publisher,
		breaker:   breaker,
		dedup:     dedup,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (n *MQNotifier) NotifyMilestoneApproved(ctx context.Context, milestoneID, freelancerID string, amount float64) error {
	if n.dedup != nil && !n.dedup.AcquireOnce(ctx, milestoneID) {
		metrics.IncrementPaymentTrigger("duplicate")
		return nil
	}

	payload := mqcontracts.MilestoneApprovedPaymentPayload{
		MilestoneID:  milestoneID,
		FreelancerID: freelancerID,
		Amount:       amount,
		ApprovedAt:   n.now(),
		TraceID:      trace.FromContext(ctx),
	}
	publish := func() error {
		return n.publisher.PublishWithContext(ctx, RoutingKeyMilestoneApproved, payload)
	}

	var err error
	if n.breaker != nil {
		err = n.breaker.Execute(publish)
	} else {
		err = publish()
	}
	if err != nil {
		if n.dedup != nil {
			n.dedup.Release(ctx, milestoneID)
		}
		metrics.IncrementPaymentTrigger("failed")
		return err
	}

	metrics.IncrementPaymentTrigger("sent")
	n.logger.Info("Payment trigger published",
		zap.String("milestone_id", milestoneID),
		zap.String("freelancer_id", freelancerID),
		zap.Float64("amount", amount),
	)
	return nil
}

// LogNotifier only logs; used when no broker is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) NotifyMilestoneApproved(ctx context.Context, milestoneID, freelancerID string, amount float64) error {
	n.Logger.Info("Milestone approved (payment notifier disabled)",
		zap.String("milestone_id", milestoneID),
		zap.String("freelancer_id", freelancerID),
		zap.Float64("amount", amount),
	)
	metrics.IncrementPaymentTrigger("sent")
	return nil
}
