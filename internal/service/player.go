package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chess-live-rating/internal/classifier"
	"chess-live-rating/internal/coalesce"
	"chess-live-rating/internal/config"
	"chess-live-rating/internal/constants"
	"chess-live-rating/internal/domain"
	"chess-live-rating/internal/lockset"
	"chess-live-rating/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// PlayerService serves stored player views, refreshing them in the background once stale.
type PlayerService struct {
	aggregator *Aggregator
	source     DataSource
	profiles   *coalesce.Group[*domain.Profile]
	players    PlayerStore
	history    HistoryStore

	freshness  time.Duration
	profileTTL time.Duration

	locks  *lockset.Set
	flight singleflight.Group

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now    func() time.Time
	logger zerolog.Logger
}

func NewPlayerService(
	cfg *config.Config,
	aggregator *Aggregator,
	source DataSource,
	profiles *coalesce.Group[*domain.Profile],
	players PlayerStore,
	history HistoryStore,
	logger zerolog.Logger,
) *PlayerService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PlayerService{
		aggregator: aggregator,
		source:     source,
		profiles:   profiles,
		players:    players,
		history:    history,
		freshness:  cfg.FreshnessWindow,
		profileTTL: cfg.ProfileCacheTTL,
		locks:      lockset.New(),
		baseCtx:    ctx,
		cancel:     cancel,
		now:        time.Now,
		logger:     logger,
	}
}

// GetOrRefresh returns the player's view. A fresh stored view is returned as is. A stale one is
// returned immediately with IsStale set while a refresh runs in the background. Without a stored
// view, or when force is set, the view is rebuilt before returning.
func (s *PlayerService) GetOrRefresh(ctx context.Context, playerID string, force bool) (*domain.AggregatedPlayerView, error) {
	log := s.logger.With().Str("player_id", playerID).Bool("force", force).Logger()

	cached, err := s.loadCached(ctx, playerID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load stored view, rebuilding")
	}

	if cached != nil && !force {
		if !s.isStale(ctx, cached) {
			log.Debug().Time("last_updated", cached.LastUpdated).Msg("returning stored view")
			metrics.RecordPlayerView("cache")
			cached.IsStale = false
			return cached, nil
		}

		log.Info().Time("last_updated", cached.LastUpdated).Msg("serving stale view, refreshing in background")
		s.refreshInBackground(playerID)
		metrics.RecordPlayerView("stale")
		cached.IsStale = true
		return cached, nil
	}

	if force {
		s.profiles.Forget(ctx, "profile:"+playerID)
	}

	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.RequestTimeout)
	defer cancel()

	view, err := s.refresh(refreshCtx, playerID)
	if err != nil {
		if !errors.Is(err, domain.ErrPlayerNotFound) {
			log.Error().Err(err).Msg("failed to build player view")
		}
		return nil, err
	}
	metrics.RecordPlayerView("fresh")
	return view, nil
}

func (s *PlayerService) loadCached(ctx context.Context, playerID string) (*domain.AggregatedPlayerView, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	view, err := s.players.Get(ctx, playerID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return view, err
}

// isStale reports whether the stored view must be rebuilt. Official ratings only change when a
// new rating period starts, so the profile is compared only for views built in an earlier period.
func (s *PlayerService) isStale(ctx context.Context, cached *domain.AggregatedPlayerView) bool {
	now := s.now()
	if now.Sub(cached.LastUpdated) > s.freshness {
		return true
	}
	if !cached.LastUpdated.Before(classifier.Period(now)) {
		return false
	}

	profile, err := s.profiles.Get(ctx, "profile:"+cached.PlayerID, s.profileTTL, func(ctx context.Context) (*domain.Profile, error) {
		return s.source.FetchProfile(ctx, cached.PlayerID)
	})
	if err != nil || profile == nil {
		s.logger.Debug().Err(err).Str("player_id", cached.PlayerID).Msg("profile check skipped")
		return false
	}
	return !profile.SameRatings(&cached.Profile)
}

// refresh rebuilds and stores the view. Concurrent refreshes of one player share a single run.
func (s *PlayerService) refresh(ctx context.Context, playerID string) (*domain.AggregatedPlayerView, error) {
	res, err, _ := s.flight.Do(playerID, func() (any, error) {
		view, err := s.aggregator.Aggregate(ctx, playerID)
		if err != nil {
			return nil, err
		}
		view.IsStale = false
		view.LastUpdated = s.now().UTC()

		if len(view.History) == 0 {
			// registry history unreachable, keep the last stored copy
			if stored, err := s.history.GetByPlayer(ctx, playerID); err == nil && len(stored) > 0 {
				view.History = stored
				view.MaxStandard = maxStandard(&view.Profile, stored)
			}
		} else if err := s.history.UpsertBatch(ctx, playerID, view.History); err != nil {
			s.logger.Warn().Err(err).Str("player_id", playerID).Msg("failed to store rating history")
		}

		if err := s.players.Upsert(ctx, view); err != nil {
			return nil, fmt.Errorf("failed to store player view: %w", err)
		}
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.AggregatedPlayerView), nil
}

// refreshInBackground starts at most one background refresh per player.
func (s *PlayerService) refreshInBackground(playerID string) {
	if !s.locks.TryLock(playerID) {
		s.logger.Debug().Str("player_id", playerID).Msg("background refresh already running")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.locks.Unlock(playerID)

		ctx, cancel := context.WithTimeout(s.baseCtx, constants.BackgroundTimeout)
		defer cancel()

		if _, err := s.refresh(ctx, playerID); err != nil {
			s.logger.Error().Err(err).Str("player_id", playerID).Msg("background refresh failed")
			metrics.RecordBackgroundRefresh("error")
			return
		}
		s.logger.Info().Str("player_id", playerID).Msg("background refresh completed")
		metrics.RecordBackgroundRefresh("success")
	}()
}

// Wait blocks until running background refreshes finish.
func (s *PlayerService) Wait() {
	s.wg.Wait()
}

// Close cancels background refreshes and waits for them.
func (s *PlayerService) Close() {
	s.cancel()
	s.wg.Wait()
}
