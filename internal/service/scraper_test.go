package service

import (
	"testing"
	"time"

	"chess-live-rating/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bilbaoURL = "https://chess-results.com/tnr1001.aspx?art=9&snr=4"

func TestParseScore(t *testing.T) {
	cases := map[string]struct {
		score domain.Score
		ok    bool
	}{
		"1":     {domain.Win, true},
		" 0 ":   {domain.Loss, true},
		"½":     {domain.Draw, true},
		"0,5":   {domain.Draw, true},
		"0.5":   {domain.Draw, true},
		"1/2":   {domain.Draw, true},
		"+":     {0, false},
		"-":     {0, false},
		"":      {0, false},
		"bye":   {0, false},
		"1 - 0": {0, false},
	}
	for in, want := range cases {
		score, ok := ParseScore(in)
		assert.Equal(t, want.ok, ok, in)
		assert.Equal(t, want.score, score, in)
	}
}

func TestParseDeclaredDelta(t *testing.T) {
	cases := map[string]struct {
		v  float64
		ok bool
	}{
		"13,70": {13.7, true},
		"+4.2":  {4.2, true},
		"−1,70": {-1.7, true},
		"–3":    {-3, true},
		"—0,5":  {-0.5, true},
		"0":     {0, true},
		"":      {0, false},
		"-":     {0, false},
		"n/a":   {0, false},
		"1.2.3": {0, false},
	}
	for in, want := range cases {
		v, ok := ParseDeclaredDelta(in)
		assert.Equal(t, want.ok, ok, in)
		assert.InDelta(t, want.v, v, 1e-9, in)
	}
}

func TestDetectRatingType(t *testing.T) {
	rt, ok := DetectRatingType("(Rapid) 15 min + 5 sec", "Open Bilbao")
	assert.True(t, ok)
	assert.Equal(t, domain.Rapid, rt)

	rt, ok = DetectRatingType("", "Torneo Blitz de Navidad")
	assert.True(t, ok)
	assert.Equal(t, domain.Blitz, rt)

	rt, ok = DetectRatingType("Ritmo de juego: Rápido", "Blitz Night")
	assert.True(t, ok)
	assert.Equal(t, domain.Rapid, rt, "label wins over title")

	_, ok = DetectRatingType("90 min + 30 sec", "Open Internacional")
	assert.False(t, ok)
}

func TestFilterGames(t *testing.T) {
	games := []domain.GameResult{
		{Round: "1", RatingDelta: 5},
		{Round: "2", RatingDelta: -2},
		{Round: "3", RatingDelta: 1.5},
		{Round: "4", RatingDelta: 3},
	}
	schedule := map[string]time.Time{
		"1": day(2026, 9, 28),
		"2": day(2026, 10, 1),
		"3": day(2026, 10, 2),
	}
	cutoff := day(2026, 10, 1)

	once := FilterGames(games, schedule, cutoff)
	require.Len(t, once, 2)
	assert.Equal(t, "2", once[0].Round)
	assert.Equal(t, "3", once[1].Round)

	twice := FilterGames(once, schedule, cutoff)
	assert.Equal(t, once, twice)

	assert.Equal(t, games, FilterGames(games, nil, cutoff), "no schedule keeps every game")
}

func TestScrape_ComputesDeltasAndFiltersBySchedule(t *testing.T) {
	src := newFakeSource()
	src.profiles["2201"] = &domain.Profile{Name: "Smith, Anna", StandardRating: 1900}
	src.rosters[bilbaoURL] = map[string]string{"Smith, Anna": "2201"}
	src.pages[bilbaoURL] = &domain.TournamentPage{
		Name:         "Open Internacional de Ajedrez Bilbao 2026",
		TimeControl:  "(Standard) 90 min + 30 sec",
		Rounds:       "9",
		StartDate:    day(2026, 9, 28),
		EndDate:      day(2026, 10, 6),
		PlayerRating: 1700,
		Rows: []domain.RawGameRow{
			{Round: "1", OpponentName: "Early, Game", OpponentRating: "1800", Result: "1", DeclaredDelta: "13,70"},
			{Round: "2", OpponentName: "Smith, Anna", OpponentRating: "1850", Result: "1"},
			{Round: "3", OpponentName: "Forfeit, F", Result: "+"},
			{Round: "4", OpponentName: "Equal, E", OpponentRating: "1765", Result: "½"},
			{Round: "5", OpponentName: "Smith, Anna", OpponentRating: "1850", Result: "0"},
		},
	}
	src.schedules[bilbaoURL] = map[string]time.Time{
		"1": day(2026, 9, 28),
		"2": day(2026, 10, 3),
		"3": day(2026, 10, 4),
		"4": day(2026, 10, 5),
		"5": day(2026, 10, 6),
	}

	deps := newTestDeps(t, src, today)
	profile := &domain.Profile{Name: "Doe, John", StandardRating: 1765, BirthYear: 2000}
	ref := domain.TournamentRef{ID: "1001", Name: "Bilbao Open 2026", URL: bilbaoURL}

	change := deps.scraper.Scrape(t.Context(), ref, profile, day(2026, 10, 1), NewOpponentRatings())
	require.NotNil(t, change)

	assert.Equal(t, domain.Standard, change.RatingType)
	assert.Equal(t, 20, change.KFactor)
	assert.Equal(t, "Open Internacional de Ajedrez Bilbao 2026", change.Name)

	require.Len(t, change.Games, 3)
	assert.Equal(t, "2", change.Games[0].Round)
	assert.InDelta(t, 13.70, change.Games[0].RatingDelta, 0.001)
	require.NotNil(t, change.Games[0].OpponentRating)
	assert.Equal(t, 1900, *change.Games[0].OpponentRating, "live rating replaces the published one")
	require.NotNil(t, change.Games[0].Date)
	assert.Equal(t, day(2026, 10, 3), *change.Games[0].Date)

	assert.Equal(t, "4", change.Games[1].Round)
	assert.InDelta(t, 0, change.Games[1].RatingDelta, 0.001)
	assert.Equal(t, "5", change.Games[2].Round)
	assert.InDelta(t, -6.30, change.Games[2].RatingDelta, 0.001)

	assert.InDelta(t, 7.40, change.TotalDelta, 0.01)
	assert.Equal(t, 1, src.profileCalls["2201"], "opponent profile fetched once per run")
}

func TestScrape_DeclaredDeltaIsUsedAsIs(t *testing.T) {
	src := newFakeSource()
	src.pages[bilbaoURL] = &domain.TournamentPage{
		Name:        "Bilbao Open 2026",
		TimeControl: "Standard",
		Rows: []domain.RawGameRow{
			{Round: "1", OpponentName: "Smith, Anna", OpponentRating: "1900", Result: "1", DeclaredDelta: "12,00"},
		},
	}

	deps := newTestDeps(t, src, today)
	profile := &domain.Profile{StandardRating: 1765}
	change := deps.scraper.Scrape(t.Context(), domain.TournamentRef{URL: bilbaoURL}, profile, day(2026, 10, 1), NewOpponentRatings())
	require.NotNil(t, change)

	require.Len(t, change.Games, 1)
	assert.Equal(t, 12.0, change.Games[0].RatingDelta)
	assert.Equal(t, 12.0, change.TotalDelta)
}

func TestScrape_FallsBackToDetailsForRatingType(t *testing.T) {
	src := newFakeSource()
	src.pages[bilbaoURL] = &domain.TournamentPage{
		Name:         "Torneo de Navidad",
		PlayerRating: 1500,
		BirthYear:    2012,
		Rows: []domain.RawGameRow{
			{Round: "1", OpponentName: "Smith, Anna", OpponentRating: "1600", Result: "1"},
		},
	}
	src.timeControls[bilbaoURL] = "blitz"

	deps := newTestDeps(t, src, today)
	change := deps.scraper.Scrape(t.Context(), domain.TournamentRef{URL: bilbaoURL}, &domain.Profile{}, day(2026, 10, 1), NewOpponentRatings())
	require.NotNil(t, change)

	assert.Equal(t, domain.Blitz, change.RatingType)
	assert.Equal(t, 40, change.KFactor, "page birth year makes the player a junior")
	require.Len(t, change.Games, 1)
	assert.Greater(t, change.Games[0].RatingDelta, 0.0)
	assert.Equal(t, 1, src.count("FetchTimeControl"))
}

func TestScrape_UnknownRatingTypeDefaultsToStandard(t *testing.T) {
	src := newFakeSource()
	src.pages[bilbaoURL] = &domain.TournamentPage{Name: "Torneo de Navidad"}

	deps := newTestDeps(t, src, today)
	change := deps.scraper.Scrape(t.Context(), domain.TournamentRef{URL: bilbaoURL}, &domain.Profile{}, day(2026, 10, 1), NewOpponentRatings())
	require.NotNil(t, change)
	assert.Equal(t, domain.Standard, change.RatingType)
	assert.Empty(t, change.Games)
	assert.Zero(t, src.count("FetchSchedule"), "no games, no schedule lookup")
}

func TestScrape_UnreadableTournamentIsSkipped(t *testing.T) {
	deps := newTestDeps(t, newFakeSource(), today)
	change := deps.scraper.Scrape(t.Context(), domain.TournamentRef{URL: bilbaoURL}, &domain.Profile{}, day(2026, 10, 1), NewOpponentRatings())
	assert.Nil(t, change)
}

func TestApplyCutoff_NarrowingIsIdempotent(t *testing.T) {
	change := &domain.TournamentChange{Games: []domain.GameResult{
		{Round: "1", RatingDelta: 3.2},
		{Round: "2", RatingDelta: -1.1},
	}}
	schedule := map[string]time.Time{"1": day(2026, 9, 25), "2": day(2026, 10, 2)}

	applyCutoff(change, schedule, day(2026, 9, 1))
	require.Len(t, change.Games, 2)
	assert.InDelta(t, 2.1, change.TotalDelta, 0.001)

	applyCutoff(change, scheduleOf(change.Games), day(2026, 10, 1))
	require.Len(t, change.Games, 1)
	assert.InDelta(t, -1.1, change.TotalDelta, 0.001)

	applyCutoff(change, scheduleOf(change.Games), day(2026, 10, 1))
	assert.Len(t, change.Games, 1)
}
