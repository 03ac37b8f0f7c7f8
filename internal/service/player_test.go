package service

import (
	"testing"
	"time"

	"chess-live-rating/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlayerService(t *testing.T, src *fakeSource, now time.Time) (*PlayerService, *memPlayerStore) {
	t.Helper()
	svc, players, _ := newTestPlayerServiceWithHistory(t, src, now)
	return svc, players
}

func newTestPlayerServiceWithHistory(t *testing.T, src *fakeSource, now time.Time) (*PlayerService, *memPlayerStore, *memHistoryStore) {
	t.Helper()
	deps := newTestDeps(t, src, now)
	players := newMemPlayerStore()
	history := &memHistoryStore{}
	svc := NewPlayerService(testConfig(), deps.aggregator, src, deps.profiles, players, history, zerolog.Nop())
	svc.now = func() time.Time { return now }
	t.Cleanup(svc.Close)
	return svc, players, history
}

func storedView(playerID string, updated time.Time) domain.AggregatedPlayerView {
	return domain.AggregatedPlayerView{
		PlayerID:     playerID,
		Profile:      domain.Profile{Name: "Doe, John", StandardRating: 1765},
		LiveStandard: 1770,
		LastUpdated:  updated,
	}
}

func TestGetOrRefresh_FreshViewMakesNoExternalCalls(t *testing.T) {
	src := newFakeSource()
	svc, players := newTestPlayerService(t, src, today)
	players.views["123"] = storedView("123", today.Add(-10*time.Minute))

	view, err := svc.GetOrRefresh(t.Context(), "123", false)
	require.NoError(t, err)

	assert.False(t, view.IsStale)
	assert.InDelta(t, 1770, view.LiveStandard, 0.01)
	assert.Zero(t, src.totalCalls())
	assert.Zero(t, players.upserts)
}

func TestGetOrRefresh_StaleViewRefreshesOnceInBackground(t *testing.T) {
	src := newFakeSource()
	src.profiles["123"] = &domain.Profile{Name: "Doe, John", StandardRating: 1780}
	src.gate = make(chan struct{})

	svc, players := newTestPlayerService(t, src, today)
	players.views["123"] = storedView("123", today.Add(-2*time.Hour))

	first, err := svc.GetOrRefresh(t.Context(), "123", false)
	require.NoError(t, err)
	assert.True(t, first.IsStale)
	assert.InDelta(t, 1770, first.LiveStandard, 0.01, "stored view is served as is")

	second, err := svc.GetOrRefresh(t.Context(), "123", false)
	require.NoError(t, err)
	assert.True(t, second.IsStale)

	close(src.gate)
	svc.Wait()

	assert.Equal(t, 1, src.profileCalls["123"], "overlapping stale reads share one refresh")

	players.mu.Lock()
	stored := players.views["123"]
	upserts := players.upserts
	players.mu.Unlock()

	assert.Equal(t, 1, upserts)
	assert.InDelta(t, 1780, stored.LiveStandard, 0.01)
	assert.Equal(t, today, stored.LastUpdated)
	assert.False(t, stored.IsStale)
}

func TestGetOrRefresh_NoStoredViewBuildsSynchronously(t *testing.T) {
	src := newFakeSource()
	src.profiles["123"] = &domain.Profile{Name: "Doe, John", StandardRating: 1765}
	tournament(src, "1", "Bilbao Open 2026", day(2026, 10, 10), "Standard", "3,20")

	svc, players := newTestPlayerService(t, src, today)

	view, err := svc.GetOrRefresh(t.Context(), "123", false)
	require.NoError(t, err)
	assert.False(t, view.IsStale)
	assert.InDelta(t, 1768.2, view.LiveStandard, 0.01)
	assert.Equal(t, today, view.LastUpdated)

	require.Contains(t, players.views, "123")
	assert.Equal(t, 1, players.upserts)
}

func TestGetOrRefresh_ForceRebuildsFreshView(t *testing.T) {
	src := newFakeSource()
	src.profiles["123"] = &domain.Profile{Name: "Doe, John", StandardRating: 1790}

	svc, players := newTestPlayerService(t, src, today)
	players.views["123"] = storedView("123", today.Add(-time.Minute))

	view, err := svc.GetOrRefresh(t.Context(), "123", true)
	require.NoError(t, err)
	assert.InDelta(t, 1790, view.LiveStandard, 0.01)
	assert.Equal(t, 1, src.count("FetchProfile"))
}

func TestGetOrRefresh_NewPeriodWithChangedRatingsIsStale(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 20, 0, 0, time.UTC)
	src := newFakeSource()
	src.profiles["123"] = &domain.Profile{Name: "Doe, John", StandardRating: 1772}

	svc, players := newTestPlayerService(t, src, now)
	players.views["123"] = storedView("123", time.Date(2026, 9, 30, 23, 50, 0, 0, time.UTC))

	view, err := svc.GetOrRefresh(t.Context(), "123", false)
	require.NoError(t, err)
	assert.True(t, view.IsStale, "official list moved since the view was built")

	svc.Wait()
	assert.InDelta(t, 1772, players.views["123"].LiveStandard, 0.01)
}

func TestGetOrRefresh_NewPeriodWithSameRatingsIsFresh(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 20, 0, 0, time.UTC)
	src := newFakeSource()
	src.profiles["123"] = &domain.Profile{Name: "Doe, John", StandardRating: 1765}

	svc, players := newTestPlayerService(t, src, now)
	players.views["123"] = storedView("123", time.Date(2026, 9, 30, 23, 50, 0, 0, time.UTC))

	view, err := svc.GetOrRefresh(t.Context(), "123", false)
	require.NoError(t, err)
	assert.False(t, view.IsStale)

	svc.Wait()
	assert.Equal(t, 1, src.count("FetchProfile"))
	assert.Zero(t, players.upserts)
}

func TestGetOrRefresh_UnknownPlayer(t *testing.T) {
	src := newFakeSource()
	svc, players := newTestPlayerService(t, src, today)

	_, err := svc.GetOrRefresh(t.Context(), "999", false)
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
	assert.Empty(t, players.views)
}

func TestGetOrRefresh_KeepsStoredHistoryWhenRegistryHasNone(t *testing.T) {
	src := newFakeSource()
	src.profiles["123"] = &domain.Profile{Name: "Doe, John", StandardRating: 1765}

	svc, _, history := newTestPlayerServiceWithHistory(t, src, today)
	history.points = map[string][]domain.RatingHistoryPoint{
		"123": {{Period: "2026-09", Standard: intp(1801)}},
	}

	view, err := svc.GetOrRefresh(t.Context(), "123", true)
	require.NoError(t, err)
	require.Len(t, view.History, 1)
	assert.Equal(t, 1801, view.MaxStandard)
}
