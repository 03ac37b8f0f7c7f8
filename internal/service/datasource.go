package service

import (
	"context"
	"time"

	"chess-live-rating/internal/domain"
)

// DataSource is everything the services read from the rating registry and the results site.
// Implementations return (nil, nil) from FetchProfile and FetchTournamentDetails when the
// resource does not exist.
type DataSource interface {
	FetchProfile(ctx context.Context, playerID string) (*domain.Profile, error)
	FetchHistory(ctx context.Context, playerID string) ([]domain.RatingHistoryPoint, error)
	FetchRatedTournaments(ctx context.Context, playerID string, period time.Time) ([]domain.RatedTournamentRef, error)
	DiscoverTournaments(ctx context.Context, playerID, name string) ([]domain.TournamentRef, error)
	FetchRoster(ctx context.Context, tournamentURL string) (map[string]string, error)
	FetchGames(ctx context.Context, tournamentURL string) (*domain.TournamentPage, error)
	FetchTimeControl(ctx context.Context, tournamentURL string) (string, error)
	FetchSchedule(ctx context.Context, tournamentURL string) (map[string]time.Time, error)
	SearchArea(ctx context.Context, country, place string) ([]domain.TournamentRef, error)
	FetchTournamentDetails(ctx context.Context, tournamentURL string) (*domain.TournamentDetails, error)
}

type PlayerStore interface {
	Get(ctx context.Context, playerID string) (*domain.AggregatedPlayerView, error)
	Upsert(ctx context.Context, view *domain.AggregatedPlayerView) error
}

type HistoryStore interface {
	UpsertBatch(ctx context.Context, playerID string, points []domain.RatingHistoryPoint) error
	GetByPlayer(ctx context.Context, playerID string) ([]domain.RatingHistoryPoint, error)
}

type TournamentStore interface {
	Get(ctx context.Context, id string) (*domain.TournamentDocument, error)
	Save(ctx context.Context, t *domain.TournamentDocument) error
	ListByCountry(ctx context.Context, country string) ([]domain.TournamentDocument, error)
}
