package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"chess-live-rating/internal/config"
	"chess-live-rating/internal/constants"
	"chess-live-rating/internal/domain"
	"chess-live-rating/internal/lockset"
	"chess-live-rating/internal/metrics"

	"github.com/rs/zerolog"
)

// cityTerms lists the place names searched for a city; tournaments are often registered under
// the province or a neighbouring town.
var cityTerms = map[string][]string{
	"Santa Cruz de Tenerife": {"Tenerife", "La Laguna"},
	"Las Palmas":             {"Gran Canaria", "Las Palmas"},
	"Madrid":                 {"Madrid"},
	"Barcelona":              {"Barcelona"},
	"Valencia":               {"Valencia"},
	"Sevilla":                {"Sevilla"},
	"Bilbao":                 {"Bilbao", "Vizcaya"},
	"Málaga":                 {"Málaga"},
}

var tempoLabels = map[string]string{"1": "Standard", "2": "Rapid", "3": "Blitz"}

// TournamentSyncService keeps the stored tournament corpus of each area up to date.
type TournamentSyncService struct {
	source         DataSource
	store          TournamentStore
	terms          map[string][]string
	updateInterval time.Duration
	fetchDelay     time.Duration

	locks   *lockset.Set
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now    func() time.Time
	logger zerolog.Logger
}

func NewTournamentSyncService(cfg *config.Config, source DataSource, store TournamentStore, logger zerolog.Logger) *TournamentSyncService {
	terms := make(map[string][]string, len(cityTerms)+len(cfg.AreaTerms))
	for city, t := range cityTerms {
		terms[city] = t
	}
	for city, t := range cfg.AreaTerms {
		terms[city] = t
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TournamentSyncService{
		source:         source,
		store:          store,
		terms:          terms,
		updateInterval: cfg.SyncUpdateInterval,
		fetchDelay:     cfg.SyncFetchDelay,
		locks:          lockset.New(),
		baseCtx:        ctx,
		cancel:         cancel,
		now:            time.Now,
		logger:         logger,
	}
}

func (s *TournamentSyncService) searchTerms(city string) []string {
	if t, ok := s.terms[city]; ok && len(t) > 0 {
		return t
	}
	return []string{city}
}

// SyncArea discovers recently updated tournaments of a city and stores their details. It
// returns domain.ErrSyncInProgress when the area is already being synced.
func (s *TournamentSyncService) SyncArea(ctx context.Context, country, city string) error {
	if city == "" {
		return nil
	}
	key := country + ":" + city
	log := s.logger.With().Str("area", key).Logger()

	if !s.locks.TryLock(key) {
		log.Info().Msg("area sync already in progress, skipping")
		return domain.ErrSyncInProgress
	}
	defer s.locks.Unlock(key)

	start := time.Now()
	log.Info().Msg("area sync started")

	var updated, skipped, failed int
	seen := make(map[string]bool)

	err := func() error {
		for _, term := range s.searchTerms(city) {
			refs, err := s.source.SearchArea(ctx, country, term)
			if err != nil {
				log.Warn().Err(err).Str("term", term).Msg("area search failed")
				failed++
				continue
			}
			log.Debug().Str("term", term).Int("found", len(refs)).Msg("area search completed")

			for _, ref := range refs {
				if ref.ID == "" || seen[ref.ID] {
					continue
				}
				seen[ref.ID] = true

				fetched, saved, err := s.syncTournament(ctx, country, ref)
				switch {
				case err != nil:
					failed++
					log.Warn().Err(err).Str("tournament_id", ref.ID).Msg("failed to sync tournament")
				case saved:
					updated++
				default:
					skipped++
				}
				if !fetched {
					continue
				}
				if err := wait(ctx, s.fetchDelay); err != nil {
					return err
				}
			}
		}
		return nil
	}()

	status := "success"
	if err != nil {
		status = "cancelled"
	}
	metrics.RecordSync(status, time.Since(start).Seconds())

	log.Info().
		Int("updated", updated).
		Int("skipped", skipped).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("area sync completed")
	return err
}

// syncTournament refreshes one tournament unless it was updated recently. fetched reports
// whether the source was queried, saved whether a document was written.
func (s *TournamentSyncService) syncTournament(ctx context.Context, country string, ref domain.TournamentRef) (fetched, saved bool, err error) {
	existing, err := s.store.Get(ctx, ref.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, false, fmt.Errorf("failed to load tournament: %w", err)
	}
	now := s.now().UTC()
	if existing != nil && now.Sub(existing.UpdatedAt) < s.updateInterval {
		return false, false, nil
	}

	details, err := s.source.FetchTournamentDetails(ctx, ref.URL)
	if err != nil {
		return true, false, fmt.Errorf("failed to fetch tournament details: %w", err)
	}
	if details == nil || details.Location == "" || details.Location == "N/A" {
		return true, false, nil
	}

	doc := buildDocument(ref, details, country, now)
	if existing != nil {
		if doc, err = preserveEdited(doc, existing); err != nil {
			return true, false, err
		}
	}

	if err := s.store.Save(ctx, doc); err != nil {
		return true, false, fmt.Errorf("failed to save tournament: %w", err)
	}
	metrics.RecordTournamentUpsert()
	return true, true, nil
}

func buildDocument(ref domain.TournamentRef, d *domain.TournamentDetails, country string, now time.Time) *domain.TournamentDocument {
	return &domain.TournamentDocument{
		ID:           ref.ID,
		Name:         ref.Name,
		URL:          ref.URL,
		Country:      country,
		Fed:          country,
		Organizer:    d.Organizer,
		Location:     d.Location,
		TotalPlayers: d.TotalPlayers,
		Rounds:       d.Rounds,
		TimeControl:  d.TimeControl,
		Tempo:        d.Tempo,
		StartDate:    d.StartDate,
		EndDate:      d.EndDate,
		MapsURL:      d.MapsURL,
		Lat:          d.Lat,
		Lng:          d.Lng,
		ChiefArbiter: d.ChiefArbiter,
		AvgElo:       d.AvgElo,
		PosterImage:  d.PosterImage,
		Schedule:     d.Schedule,
		TopPlayers:   d.TopPlayers,
		UpdatedAt:    now,
	}
}

// preserveEdited copies the hand-edited fields of existing over the freshly scraped document.
// Field names are the JSON names of the stored document.
func preserveEdited(fresh, existing *domain.TournamentDocument) (*domain.TournamentDocument, error) {
	if len(existing.EditedFields) == 0 {
		return fresh, nil
	}

	freshFields, err := toFields(fresh)
	if err != nil {
		return nil, err
	}
	oldFields, err := toFields(existing)
	if err != nil {
		return nil, err
	}

	for _, f := range existing.EditedFields {
		if v, ok := oldFields[f]; ok {
			freshFields[f] = v
		}
	}
	freshFields["editedFields"] = oldFields["editedFields"]

	raw, err := json.Marshal(freshFields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged tournament: %w", err)
	}
	merged := &domain.TournamentDocument{}
	if err := json.Unmarshal(raw, merged); err != nil {
		return nil, fmt.Errorf("failed to decode merged tournament: %w", err)
	}
	return merged, nil
}

func toFields(doc *domain.TournamentDocument) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tournament: %w", err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode tournament fields: %w", err)
	}
	return fields, nil
}

// TriggerArea syncs the area in the background. Overlapping triggers for one area collapse.
func (s *TournamentSyncService) TriggerArea(country, city string) {
	if city == "" || s.locks.Held(country+":"+city) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, constants.BackgroundTimeout)
		defer cancel()

		err := s.SyncArea(ctx, country, city)
		if err != nil && !errors.Is(err, domain.ErrSyncInProgress) {
			s.logger.Error().Err(err).Str("country", country).Str("city", city).Msg("background area sync failed")
		}
	}()
}

// ListArea returns the stored tournaments of a country, optionally narrowed to a city and a
// tempo ("1" standard, "2" rapid, "3" blitz), latest end date first.
func (s *TournamentSyncService) ListArea(ctx context.Context, country, city, tempo string) ([]domain.TournamentDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	docs, err := s.store.ListByCountry(ctx, country)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}

	label := tempoLabels[tempo]
	if label == "" && tempo != "" {
		label = tempo
	}

	var keywords []string
	for _, term := range s.searchTerms(city) {
		for _, w := range strings.Fields(strings.ToLower(term)) {
			if len([]rune(w)) > 2 {
				keywords = append(keywords, w)
			}
		}
	}

	out := make([]domain.TournamentDocument, 0, len(docs))
	for _, d := range docs {
		if label != "" && !strings.EqualFold(d.Tempo, label) {
			continue
		}
		if city != "" && !inCity(d, city, keywords) {
			continue
		}
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EndDate > out[j].EndDate
	})
	return out, nil
}

// inCity prefers the curated city field and falls back to keywords in the location or name.
func inCity(d domain.TournamentDocument, city string, keywords []string) bool {
	if d.City != "" {
		return d.City == city
	}
	location := strings.ToLower(d.Location)
	name := strings.ToLower(d.Name)
	for _, k := range keywords {
		if strings.Contains(location, k) || strings.Contains(name, k) {
			return true
		}
	}
	return false
}

// Wait blocks until triggered syncs finish.
func (s *TournamentSyncService) Wait() {
	s.wg.Wait()
}

func (s *TournamentSyncService) Close() {
	s.cancel()
	s.wg.Wait()
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
