package fx

import (
	"context"
	"database/sql"
	"fmt"

	"chess-live-rating/internal/api"
	"chess-live-rating/internal/coalesce"
	"chess-live-rating/internal/config"
	"chess-live-rating/internal/constants"
	"chess-live-rating/internal/database"
	"chess-live-rating/internal/domain"
	"chess-live-rating/internal/logger"
	"chess-live-rating/internal/repository"
	"chess-live-rating/internal/scheduler"
	"chess-live-rating/internal/server"
	"chess-live-rating/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

const redisKeyPrefix = "liverating:"

// ProvideRedis connects to Redis when REDIS_ADDR is set. A nil client selects in-process caches.
func ProvideRedis(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		logger.Info().Msg("redis not configured, using in-process caches")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("redis connected")

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newCache[T any](client *redis.Client, name string, logger zerolog.Logger) coalesce.Cache[T] {
	if client == nil {
		return coalesce.NewMemoryCache[T]()
	}
	return coalesce.NewRedisCache[T](client, redisKeyPrefix+name+":", logger)
}

func ProvideRatedGroup(client *redis.Client, logger zerolog.Logger) *coalesce.Group[[]domain.RatedTournamentRef] {
	return coalesce.New("rated", newCache[[]domain.RatedTournamentRef](client, "rated", logger))
}

func ProvideProfileGroup(client *redis.Client, logger zerolog.Logger) *coalesce.Group[*domain.Profile] {
	return coalesce.New("profile", newCache[*domain.Profile](client, "profile", logger))
}

func ProvideScheduler(cfg *config.Config, sync *service.TournamentSyncService, logger zerolog.Logger) (*scheduler.Scheduler, error) {
	return scheduler.NewScheduler(cfg, sync, logger)
}

func ProvideServer(cfg *config.Config, players *service.PlayerService, sync *service.TournamentSyncService, db *sql.DB, logger zerolog.Logger) *server.Server {
	return server.New(players, sync, db, cfg.MetricsEnabled, logger)
}

// RegisterServices stops background refreshes and syncs before the stores close.
func RegisterServices(lc fx.Lifecycle, players *service.PlayerService, sync *service.TournamentSyncService) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			players.Close()
			sync.Close()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	fx.Provide(ProvideRedis),
	// repos
	fx.Provide(
		fx.Annotate(repository.NewPlayerRepository, fx.As(new(service.PlayerStore))),
		fx.Annotate(repository.NewRatingHistoryRepository, fx.As(new(service.HistoryStore))),
		fx.Annotate(repository.NewTournamentRepository, fx.As(new(service.TournamentStore))),
	),
	// external sources
	fx.Provide(fx.Annotate(api.NewClient, fx.As(new(service.DataSource)))),
	fx.Provide(ProvideRatedGroup, ProvideProfileGroup),
	// svc
	fx.Provide(
		service.NewScraper,
		service.NewAggregator,
		service.NewPlayerService,
		service.NewTournamentSyncService,
	),
	fx.Provide(ProvideScheduler),
	// server
	fx.Provide(ProvideServer),
	fx.Invoke(database.Register),
	fx.Invoke(RegisterServices),
	fx.Invoke(scheduler.Register),
)
