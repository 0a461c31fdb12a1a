package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/assetguard/pkg/observability"
)

// DefaultSweepSchedule runs the expiry sweep every five minutes
const DefaultSweepSchedule = "*/5 * * * *"

// Sweeper runs Service.SweepExpired on a cron schedule
type Sweeper struct {
	service *Service
	cron    *cron.Cron
	logger  *observability.Logger
	timeout time.Duration
}

// NewSweeper schedules the expiry sweep. An empty schedule uses
// DefaultSweepSchedule.
func NewSweeper(service *Service, schedule string, logger *observability.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	s := &Sweeper{
		service: service,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		logger:  logger.WithField("component", "rbac_sweeper"),
		timeout: time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running scheduled sweeps in the background
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("Expiry sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	defer observability.RecoverPanic(s.logger, "expiry sweep")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.service.SweepExpired(ctx); err != nil {
		s.logger.WithError(err).Error("Expiry sweep failed")
	}
}
