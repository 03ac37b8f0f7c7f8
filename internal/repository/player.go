package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"chess-live-rating/internal/domain"

	"github.com/rs/zerolog"
)

// PlayerRepository stores the last aggregated view per player. Each write replaces the whole
// document so no field of an older aggregation can survive.
type PlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *PlayerRepository) Get(ctx context.Context, playerID string) (*domain.AggregatedPlayerView, error) {
	var doc string
	err := r.db.QueryRowContext(ctx,
		`SELECT doc FROM player_views WHERE player_id = ?`, playerID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player view: %w", err)
	}

	var view domain.AggregatedPlayerView
	if err := json.Unmarshal([]byte(doc), &view); err != nil {
		return nil, fmt.Errorf("failed to decode player view: %w", err)
	}
	return &view, nil
}

func (r *PlayerRepository) Upsert(ctx context.Context, view *domain.AggregatedPlayerView) error {
	doc, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to encode player view: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO player_views (player_id, doc, standard, rapid, blitz, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (player_id) DO UPDATE SET
			doc = excluded.doc,
			standard = excluded.standard,
			rapid = excluded.rapid,
			blitz = excluded.blitz,
			last_updated = excluded.last_updated`,
		view.PlayerID,
		string(doc),
		view.Profile.StandardRating,
		view.Profile.RapidRating,
		view.Profile.BlitzRating,
		view.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert player view: %w", err)
	}

	r.logger.Debug().
		Str("player_id", view.PlayerID).
		Time("last_updated", view.LastUpdated).
		Msg("player view stored")
	return nil
}
