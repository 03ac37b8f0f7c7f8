package service

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"chess-live-rating/internal/coalesce"
	"chess-live-rating/internal/config"
	"chess-live-rating/internal/domain"
	"chess-live-rating/internal/rating"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var deltaPattern = regexp.MustCompile(`^[+-]?\d+(?:\.\d+)?$`)

// OpponentRatings caches opponents' live ratings for one aggregation run. Keys combine the
// opponent id and the rating type.
type OpponentRatings struct {
	mu      sync.Mutex
	ratings map[string]int
}

func NewOpponentRatings() *OpponentRatings {
	return &OpponentRatings{ratings: make(map[string]int)}
}

func (o *OpponentRatings) get(id string, rt domain.RatingType) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.ratings[id+"/"+string(rt)]
	return v, ok
}

func (o *OpponentRatings) set(id string, rt domain.RatingType, v int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ratings[id+"/"+string(rt)] = v
}

type Scraper struct {
	source              DataSource
	profiles            *coalesce.Group[*domain.Profile]
	profileTTL          time.Duration
	opponentConcurrency int
	now                 func() time.Time
	logger              zerolog.Logger
}

func NewScraper(cfg *config.Config, source DataSource, profiles *coalesce.Group[*domain.Profile], logger zerolog.Logger) *Scraper {
	return &Scraper{
		source:              source,
		profiles:            profiles,
		profileTTL:          cfg.ProfileCacheTTL,
		opponentConcurrency: cfg.OpponentLookupConcurrency,
		now:                 time.Now,
		logger:              logger,
	}
}

// Scrape builds the rating change of the subject in one tournament, keeping games whose round
// was played on or after cutoff. It returns nil when the tournament could not be read; the caller
// moves on to the next one.
func (s *Scraper) Scrape(ctx context.Context, ref domain.TournamentRef, profile *domain.Profile, cutoff time.Time, opponents *OpponentRatings) *domain.TournamentChange {
	log := s.logger.With().Str("tournament", ref.Name).Str("url", ref.URL).Logger()

	roster, err := s.source.FetchRoster(ctx, ref.URL)
	if err != nil {
		log.Debug().Err(err).Msg("roster unavailable, using declared opponent ratings")
		roster = nil
	}

	page, err := s.source.FetchGames(ctx, ref.URL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch tournament games")
		return nil
	}

	name := page.Name
	if name == "" {
		name = ref.Name
	}
	if name == "" && len(page.Rows) == 0 {
		return nil
	}

	rt, ok := DetectRatingType(page.TimeControl, name)
	if !ok {
		label, err := s.source.FetchTimeControl(ctx, ref.URL)
		if err != nil {
			log.Debug().Err(err).Msg("time control lookup failed")
		}
		rt = domain.RatingType(label)
		if !rt.Valid() {
			rt = domain.Standard
		}
	}

	playerRating := profile.Rating(rt)
	if playerRating <= 0 {
		playerRating = page.PlayerRating
	}
	birthYear := page.BirthYear
	if profile != nil && profile.BirthYear > 0 {
		birthYear = profile.BirthYear
	}
	k := rating.KFactor(rt, playerRating, rating.AgeAt(birthYear, s.now()))

	games := s.rateGames(ctx, page.Rows, rt, playerRating, k, roster, opponents)

	change := &domain.TournamentChange{
		Name:       name,
		URL:        ref.URL,
		RatingType: rt,
		Rounds:     page.Rounds,
		KFactor:    k,
		Games:      games,
	}
	if !page.StartDate.IsZero() {
		start := page.StartDate
		change.StartDate = &start
	}
	switch {
	case !page.EndDate.IsZero():
		end := page.EndDate
		change.EndDate = &end
	case !ref.EndDate.IsZero():
		end := ref.EndDate
		change.EndDate = &end
	}

	var schedule map[string]time.Time
	if len(games) > 0 {
		schedule, err = s.source.FetchSchedule(ctx, ref.URL)
		if err != nil {
			log.Debug().Err(err).Msg("schedule unavailable, keeping every game")
			schedule = nil
		}
	}
	applyCutoff(change, schedule, cutoff)

	log.Debug().
		Str("rating_type", string(rt)).
		Int("k", k).
		Int("games", len(change.Games)).
		Float64("total_delta", change.TotalDelta).
		Msg("tournament scraped")

	return change
}

// rateGames turns raw rows into games in page order. Opponent lookups run concurrently.
func (s *Scraper) rateGames(ctx context.Context, rows []domain.RawGameRow, rt domain.RatingType, playerRating, k int, roster map[string]string, opponents *OpponentRatings) []domain.GameResult {
	results := make([]*domain.GameResult, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.opponentConcurrency, 1))

	for i, row := range rows {
		g.Go(func() error {
			results[i] = s.rateGame(gctx, row, rt, playerRating, k, roster, opponents)
			return nil
		})
	}
	_ = g.Wait()

	games := make([]domain.GameResult, 0, len(rows))
	for _, r := range results {
		if r != nil {
			games = append(games, *r)
		}
	}
	return games
}

func (s *Scraper) rateGame(ctx context.Context, row domain.RawGameRow, rt domain.RatingType, playerRating, k int, roster map[string]string, opponents *OpponentRatings) *domain.GameResult {
	score, hasScore := ParseScore(row.Result)
	declared, hasDeclared := ParseDeclaredDelta(row.DeclaredDelta)
	if !hasScore && !hasDeclared {
		return nil
	}

	game := &domain.GameResult{
		Round:        strings.TrimSpace(row.Round),
		OpponentName: row.OpponentName,
		Result:       row.Result,
	}
	if hasScore {
		game.Score = &score
	}

	opponentRating, _ := strconv.Atoi(strings.TrimSpace(row.OpponentRating))
	if id := roster[row.OpponentName]; id != "" && playerRating > 0 {
		if live := s.opponentRating(ctx, id, rt, opponents); live > 0 {
			opponentRating = live
		}
	}
	if opponentRating > 0 {
		game.OpponentRating = &opponentRating
	}

	switch {
	case hasDeclared:
		game.RatingDelta = declared
	case playerRating > 0 && opponentRating > 0:
		game.RatingDelta = rating.Round2(rating.Delta(float64(playerRating), float64(opponentRating), float64(score), float64(k)))
	}
	return game
}

// opponentRating returns the opponent's current official rating, or 0 when unknown.
func (s *Scraper) opponentRating(ctx context.Context, id string, rt domain.RatingType, opponents *OpponentRatings) int {
	if opponents != nil {
		if v, ok := opponents.get(id, rt); ok {
			return v
		}
	}

	fetch := func(ctx context.Context) (*domain.Profile, error) {
		return s.source.FetchProfile(ctx, id)
	}
	var (
		p   *domain.Profile
		err error
	)
	if s.profiles != nil {
		p, err = s.profiles.Get(ctx, "profile:"+id, s.profileTTL, fetch)
	} else {
		p, err = fetch(ctx)
	}
	if err != nil {
		s.logger.Debug().Err(err).Str("opponent_id", id).Msg("failed to fetch opponent profile")
		return 0
	}

	v := p.Rating(rt)
	if opponents != nil {
		opponents.set(id, rt, v)
	}
	return v
}

// applyCutoff stamps round dates from schedule, drops games before cutoff and recomputes the
// total. Applying it again with the same or a later cutoff is safe.
func applyCutoff(change *domain.TournamentChange, schedule map[string]time.Time, cutoff time.Time) {
	if len(schedule) > 0 {
		for i := range change.Games {
			if d, ok := schedule[change.Games[i].Round]; ok {
				date := d
				change.Games[i].Date = &date
			}
		}
	}
	change.Games = FilterGames(change.Games, schedule, cutoff)
	change.TotalDelta = TotalDelta(change.Games)
}

// FilterGames keeps the games whose round is scheduled on or after cutoff. Without a schedule
// every game is kept; with one, games of unscheduled rounds are dropped.
func FilterGames(games []domain.GameResult, schedule map[string]time.Time, cutoff time.Time) []domain.GameResult {
	if len(schedule) == 0 {
		return games
	}
	kept := make([]domain.GameResult, 0, len(games))
	for _, g := range games {
		d, ok := schedule[g.Round]
		if !ok || civil(d).Before(civil(cutoff)) {
			continue
		}
		kept = append(kept, g)
	}
	return kept
}

// scheduleOf rebuilds the round schedule from dated games.
func scheduleOf(games []domain.GameResult) map[string]time.Time {
	schedule := make(map[string]time.Time)
	for _, g := range games {
		if g.Date != nil {
			schedule[g.Round] = *g.Date
		}
	}
	return schedule
}

func TotalDelta(games []domain.GameResult) float64 {
	var sum float64
	for _, g := range games {
		sum += g.RatingDelta
	}
	return rating.Round2(sum)
}

// civil drops the clock and zone so that dates compare by calendar day.
func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DetectRatingType reads the discipline from the time-control label, then from the title. The
// second return is false when neither names one.
func DetectRatingType(label, title string) (domain.RatingType, bool) {
	if rt, ok := ratingTypeKeyword(label); ok {
		return rt, true
	}
	return ratingTypeKeyword(title)
}

func ratingTypeKeyword(text string) (domain.RatingType, bool) {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "rapid") || strings.Contains(t, "rápid") || strings.Contains(t, "rapido"):
		return domain.Rapid, true
	case strings.Contains(t, "blitz"):
		return domain.Blitz, true
	case strings.Contains(t, "standard") || strings.Contains(t, "estándar") || strings.Contains(t, "estandar") || strings.Contains(t, "classical"):
		return domain.Standard, true
	}
	return "", false
}

// ParseScore reads a game result cell. Forfeits and byes are not scores.
func ParseScore(raw string) (domain.Score, bool) {
	switch strings.TrimSpace(raw) {
	case "1", "1.0":
		return domain.Win, true
	case "0", "0.0":
		return domain.Loss, true
	case "½", "0,5", "0.5", "1/2":
		return domain.Draw, true
	}
	return 0, false
}

// ParseDeclaredDelta reads a published rating change such as "+13,70" or "−1.7".
func ParseDeclaredDelta(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer("−", "-", "–", "-", "—", "-", ",", ".").Replace(s)
	if !deltaPattern.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
