package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-request-api/internal/models"
	"github.com/noah-isme/uni-request-api/pkg/config"
	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
	"github.com/noah-isme/uni-request-api/pkg/scheduler"
)

// Scheduled job names.
const (
	JobOverdueEscalation = "overdue-escalation"
	JobUrgentAttention   = "urgent-attention"
)

type overdueEscalator interface {
	CheckAndEscalateOverdueRequests(ctx context.Context) (models.EscalationSummary, error)
}

type urgentCounter interface {
	CountOpenByPriority(ctx context.Context, priority models.RequestPriority) (int, error)
}

type jobRunner interface {
	Register(name, spec string, fn scheduler.Func) error
	RunExclusive(ctx context.Context, name string, fn scheduler.Func) error
}

// RequestScheduler binds the request workflow jobs to a cron runner.
type RequestScheduler struct {
	runner    jobRunner
	escalator overdueEscalator
	counter   urgentCounter
	logger    *zap.Logger
}

// NewRequestScheduler constructs the scheduler service.
func NewRequestScheduler(runner jobRunner, escalator overdueEscalator, counter urgentCounter, logger *zap.Logger) *RequestScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestScheduler{runner: runner, escalator: escalator, counter: counter, logger: logger}
}

// Register adds the daily escalation and the working-hours attention jobs.
func (s *RequestScheduler) Register(cfg config.RequestsConfig) error {
	if err := s.runner.Register(JobOverdueEscalation, cfg.EscalationSpec, s.runEscalation); err != nil {
		return fmt.Errorf("register escalation job: %w", err)
	}
	if err := s.runner.Register(JobUrgentAttention, cfg.AttentionSpec, s.runAttention); err != nil {
		return fmt.Errorf("register attention job: %w", err)
	}
	s.logger.Info("request jobs registered",
		zap.String("escalation_spec", cfg.EscalationSpec),
		zap.String("attention_spec", cfg.AttentionSpec),
	)
	return nil
}

// TriggerEscalation runs the overdue sweep now, sharing the guard of the
// scheduled run. A sweep already in progress yields a conflict.
func (s *RequestScheduler) TriggerEscalation(ctx context.Context) (models.EscalationSummary, error) {
	var summary models.EscalationSummary
	err := s.runner.RunExclusive(ctx, JobOverdueEscalation, func(ctx context.Context) error {
		var err error
		summary, err = s.escalator.CheckAndEscalateOverdueRequests(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrJobRunning) {
			return summary, appErrors.Clone(appErrors.ErrConflict, "overdue escalation already running")
		}
		return summary, err
	}
	return summary, nil
}

func (s *RequestScheduler) runEscalation(ctx context.Context) error {
	summary, err := s.escalator.CheckAndEscalateOverdueRequests(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("scheduled escalation finished",
		zap.Int("overdue", summary.Overdue),
		zap.Int("notified", summary.Notified),
	)
	return nil
}

// runAttention only reports how many urgent requests are still open.
func (s *RequestScheduler) runAttention(ctx context.Context) error {
	open, err := s.counter.CountOpenByPriority(ctx, models.PriorityUrgent)
	if err != nil {
		return fmt.Errorf("count urgent requests: %w", err)
	}
	s.logger.Info("urgent request check", zap.Int("open_urgent", open))
	return nil
}
