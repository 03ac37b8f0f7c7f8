package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chess-live-rating/internal/config"
	"chess-live-rating/internal/domain"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type AreaSyncer interface {
	SyncArea(ctx context.Context, country, city string) error
}

// Scheduler runs the periodic tournament sync over the configured areas.
type Scheduler struct {
	syncer   AreaSyncer
	areas    []config.Area
	schedule string
	enabled  bool

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

func NewScheduler(cfg *config.Config, syncer AreaSyncer, logger zerolog.Logger) (*Scheduler, error) {
	areas, err := cfg.Areas()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		syncer:   syncer,
		areas:    areas,
		schedule: cfg.SyncCron,
		enabled:  cfg.SyncEnabled,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}, nil
}

func (s *Scheduler) Start() error {
	if !s.enabled || len(s.areas) == 0 {
		s.logger.Info().Msg("area sync scheduler disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		return fmt.Errorf("failed to schedule area sync: %w", err)
	}
	s.cron.Start()

	s.logger.Info().
		Str("schedule", s.schedule).
		Int("areas", len(s.areas)).
		Msg("area sync scheduled")
	return nil
}

// RunOnce syncs every configured area in turn.
func (s *Scheduler) RunOnce() {
	s.wg.Add(1)
	defer s.wg.Done()

	for _, area := range s.areas {
		if s.ctx.Err() != nil {
			return
		}
		err := s.syncer.SyncArea(s.ctx, area.Country, area.City)
		switch {
		case err == nil, errors.Is(err, domain.ErrSyncInProgress):
		case errors.Is(err, context.Canceled):
			return
		default:
			s.logger.Error().
				Err(err).
				Str("country", area.Country).
				Str("city", area.City).
				Msg("scheduled area sync failed")
		}
	}
}

func (s *Scheduler) Stop() {
	s.logger.Info().Msg("stopping area sync scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// Register ties the scheduler to the fx lifecycle.
func Register(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start()
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}
