package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"devmatch/internal/metrics"
)

// Expirer is the engine operation the sweeper drives.
type Expirer interface {
	ExpirePendingCandidates(ctx context.Context) (int, error)
}

// Sweeper periodically expires offers past their acceptance deadline.
type Sweeper struct {
	scheduler gocron.Scheduler
	expirer   Expirer
	interval  time.Duration
	log       *zap.Logger
	timeout   time.Duration
}

func New(expirer Expirer, interval time.Duration, log *zap.Logger) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweeper interval must be positive")
	}
	if log == nil {
		log = zap.NewNop()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Sweeper{
		scheduler: s,
		expirer:   expirer,
		interval:  interval,
		log:       log,
		timeout:   interval,
	}, nil
}

// Start registers the expiry job and starts the scheduler. A run that is
// still going when the next one is due is rescheduled rather than stacked.
func (s *Sweeper) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.run),
		gocron.WithName("expire-pending-candidates"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("register sweeper job: %w", err)
	}
	s.scheduler.Start()
	s.log.Info("sweeper started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("expiry sweep failed", zap.Error(err))
	}
}

// RunOnce performs a single sweep and returns how many offers expired.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := s.expirer.ExpirePendingCandidates(ctx)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	metrics.SweepExpiredTotal.Add(float64(n))
	if n > 0 {
		s.log.Debug("expiry sweep", zap.Int("expired", n))
	}
	return n, nil
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (s *Sweeper) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	s.log.Info("sweeper stopped")
	return nil
}
