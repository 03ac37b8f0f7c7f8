package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"chess-live-rating/internal/coalesce"
	"chess-live-rating/internal/config"
	"chess-live-rating/internal/domain"

	"github.com/rs/zerolog"
)

// today is a Monday in the middle of a rating period.
var today = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int

	profiles     map[string]*domain.Profile
	profileCalls map[string]int
	profileErr   error
	// gate, when set, holds FetchProfile until closed
	gate chan struct{}

	history      []domain.RatingHistoryPoint
	rated        map[string][]domain.RatedTournamentRef
	discovered   []domain.TournamentRef
	rosters      map[string]map[string]string
	pages        map[string]*domain.TournamentPage
	timeControls map[string]string
	schedules    map[string]map[string]time.Time
	areas        map[string][]domain.TournamentRef
	details      map[string]*domain.TournamentDetails
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:        make(map[string]int),
		profiles:     make(map[string]*domain.Profile),
		profileCalls: make(map[string]int),
		rated:        make(map[string][]domain.RatedTournamentRef),
		rosters:      make(map[string]map[string]string),
		pages:        make(map[string]*domain.TournamentPage),
		timeControls: make(map[string]string),
		schedules:    make(map[string]map[string]time.Time),
		areas:        make(map[string][]domain.TournamentRef),
		details:      make(map[string]*domain.TournamentDetails),
	}
}

func (f *fakeSource) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeSource) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSource) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeSource) FetchProfile(ctx context.Context, playerID string) (*domain.Profile, error) {
	f.record("FetchProfile")
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls[playerID]++
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p, ok := f.profiles[playerID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeSource) FetchHistory(_ context.Context, _ string) ([]domain.RatingHistoryPoint, error) {
	f.record("FetchHistory")
	return f.history, nil
}

func (f *fakeSource) FetchRatedTournaments(_ context.Context, _ string, period time.Time) ([]domain.RatedTournamentRef, error) {
	f.record("FetchRatedTournaments")
	return f.rated[period.Format("2006-01")], nil
}

func (f *fakeSource) DiscoverTournaments(_ context.Context, _, _ string) ([]domain.TournamentRef, error) {
	f.record("DiscoverTournaments")
	return f.discovered, nil
}

func (f *fakeSource) FetchRoster(_ context.Context, tournamentURL string) (map[string]string, error) {
	f.record("FetchRoster")
	roster, ok := f.rosters[tournamentURL]
	if !ok {
		return nil, errors.New("roster unavailable")
	}
	return roster, nil
}

func (f *fakeSource) FetchGames(_ context.Context, tournamentURL string) (*domain.TournamentPage, error) {
	f.record("FetchGames")
	f.mu.Lock()
	f.calls["FetchGames:"+tournamentURL]++
	f.mu.Unlock()
	page, ok := f.pages[tournamentURL]
	if !ok {
		return nil, errors.New("tournament unavailable")
	}
	return page, nil
}

func (f *fakeSource) FetchTimeControl(_ context.Context, tournamentURL string) (string, error) {
	f.record("FetchTimeControl")
	return f.timeControls[tournamentURL], nil
}

func (f *fakeSource) FetchSchedule(_ context.Context, tournamentURL string) (map[string]time.Time, error) {
	f.record("FetchSchedule")
	return f.schedules[tournamentURL], nil
}

func (f *fakeSource) SearchArea(_ context.Context, _, place string) ([]domain.TournamentRef, error) {
	f.record("SearchArea")
	return f.areas[place], nil
}

func (f *fakeSource) FetchTournamentDetails(_ context.Context, tournamentURL string) (*domain.TournamentDetails, error) {
	f.record("FetchTournamentDetails")
	d, ok := f.details[tournamentURL]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

type memPlayerStore struct {
	mu      sync.Mutex
	views   map[string]domain.AggregatedPlayerView
	upserts int
}

func newMemPlayerStore() *memPlayerStore {
	return &memPlayerStore{views: make(map[string]domain.AggregatedPlayerView)}
}

func (m *memPlayerStore) Get(_ context.Context, playerID string) (*domain.AggregatedPlayerView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[playerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &v, nil
}

func (m *memPlayerStore) Upsert(_ context.Context, view *domain.AggregatedPlayerView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[view.PlayerID] = *view
	m.upserts++
	return nil
}

type memHistoryStore struct {
	mu     sync.Mutex
	points map[string][]domain.RatingHistoryPoint
}

func (m *memHistoryStore) UpsertBatch(_ context.Context, playerID string, points []domain.RatingHistoryPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.points == nil {
		m.points = make(map[string][]domain.RatingHistoryPoint)
	}
	m.points[playerID] = points
	return nil
}

func (m *memHistoryStore) GetByPlayer(_ context.Context, playerID string) ([]domain.RatingHistoryPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.points[playerID], nil
}

type memTournamentStore struct {
	mu    sync.Mutex
	docs  map[string]domain.TournamentDocument
	saves int
}

func newMemTournamentStore() *memTournamentStore {
	return &memTournamentStore{docs: make(map[string]domain.TournamentDocument)}
}

func (m *memTournamentStore) Get(_ context.Context, id string) (*domain.TournamentDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (m *memTournamentStore) Save(_ context.Context, t *domain.TournamentDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[t.ID] = *t
	m.saves++
	return nil
}

func (m *memTournamentStore) ListByCountry(_ context.Context, country string) ([]domain.TournamentDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TournamentDocument, 0)
	for _, d := range m.docs {
		if d.Country == country {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		FreshnessWindow:           time.Hour,
		RatedCacheTTL:             15 * time.Minute,
		ProfileCacheTTL:           10 * time.Minute,
		ScrapeConcurrency:         4,
		MaxTournaments:            10,
		OpponentLookupConcurrency: 4,
		SyncUpdateInterval:        12 * time.Hour,
		Location:                  time.UTC,
	}
}

type testDeps struct {
	source     *fakeSource
	scraper    *Scraper
	aggregator *Aggregator
	profiles   *coalesce.Group[*domain.Profile]
}

func newTestDeps(t *testing.T, source *fakeSource, now time.Time) testDeps {
	t.Helper()
	cfg := testConfig()
	logger := zerolog.Nop()
	clock := func() time.Time { return now }

	profiles := coalesce.New[*domain.Profile]("profile", coalesce.NewMemoryCacheWithClock[*domain.Profile](clock))
	rated := coalesce.New[[]domain.RatedTournamentRef]("rated", coalesce.NewMemoryCacheWithClock[[]domain.RatedTournamentRef](clock))

	scraper := NewScraper(cfg, source, profiles, logger)
	scraper.now = clock
	aggregator := NewAggregator(cfg, source, scraper, rated, logger)
	aggregator.now = clock

	return testDeps{source: source, scraper: scraper, aggregator: aggregator, profiles: profiles}
}
