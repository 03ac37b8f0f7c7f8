package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chess-live-rating/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type RatingHistoryRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewRatingHistoryRepository(sqlDB *sql.DB, logger zerolog.Logger) *RatingHistoryRepository {
	return &RatingHistoryRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// UpsertBatch writes one row per (player, period). Existing periods are overwritten.
func (r *RatingHistoryRepository) UpsertBatch(ctx context.Context, playerID string, points []domain.RatingHistoryPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rating_history (id, player_id, period, standard, rapid, blitz, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (player_id, period) DO UPDATE SET
			standard = excluded.standard,
			rapid = excluded.rapid,
			blitz = excluded.blitz,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare rating history upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range points {
		if p.Period == "" {
			continue
		}
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, playerID, p.Period,
			nullInt(p.Standard), nullInt(p.Rapid), nullInt(p.Blitz), now,
		); err != nil {
			return fmt.Errorf("failed to upsert rating history %s: %w", p.Period, err)
		}
	}

	return tx.Commit()
}

// GetByPlayer returns the stored history ordered by period.
func (r *RatingHistoryRepository) GetByPlayer(ctx context.Context, playerID string) ([]domain.RatingHistoryPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT period, standard, rapid, blitz
		FROM rating_history
		WHERE player_id = ?
		ORDER BY period`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rating history: %w", err)
	}
	defer rows.Close()

	points := make([]domain.RatingHistoryPoint, 0)
	for rows.Next() {
		var (
			p                      domain.RatingHistoryPoint
			standard, rapid, blitz sql.NullInt64
		)
		if err := rows.Scan(&p.Period, &standard, &rapid, &blitz); err != nil {
			return nil, fmt.Errorf("failed to scan rating history: %w", err)
		}
		p.Standard = intPtr(standard)
		p.Rapid = intPtr(rapid)
		p.Blitz = intPtr(blitz)
		points = append(points, p)
	}
	return points, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
