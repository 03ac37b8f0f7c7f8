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

type TournamentRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewTournamentRepository(sqlDB *sql.DB, logger zerolog.Logger) *TournamentRepository {
	return &TournamentRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *TournamentRepository) Get(ctx context.Context, id string) (*domain.TournamentDocument, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT doc FROM tournaments WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}

	var t domain.TournamentDocument
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("failed to decode tournament %s: %w", id, err)
	}
	return &t, nil
}

func (r *TournamentRepository) Save(ctx context.Context, t *domain.TournamentDocument) error {
	if t.ID == "" {
		return fmt.Errorf("failed to save tournament: empty id")
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode tournament: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tournaments (id, country, city, doc, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			country = excluded.country,
			city = excluded.city,
			doc = excluded.doc,
			updated_at = excluded.updated_at`,
		t.ID, t.Country, t.City, string(doc), t.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save tournament %s: %w", t.ID, err)
	}
	return nil
}

func (r *TournamentRepository) ListByCountry(ctx context.Context, country string) ([]domain.TournamentDocument, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, doc FROM tournaments WHERE country = ? ORDER BY updated_at DESC`, country)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	defer rows.Close()

	docs := make([]domain.TournamentDocument, 0)
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan tournament: %w", err)
		}
		var t domain.TournamentDocument
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			r.logger.Warn().Err(err).Str("tournament_id", id).Msg("skipping undecodable tournament")
			continue
		}
		docs = append(docs, t)
	}
	return docs, rows.Err()
}
