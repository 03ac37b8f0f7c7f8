package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chess-live-rating/internal/classifier"
	"chess-live-rating/internal/coalesce"
	"chess-live-rating/internal/config"
	"chess-live-rating/internal/domain"
	"chess-live-rating/internal/metrics"
	"chess-live-rating/internal/rating"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Aggregator assembles a player's live rating view from the official profile and the games of
// every tournament that is not yet part of it.
type Aggregator struct {
	source            DataSource
	scraper           *Scraper
	rated             *coalesce.Group[[]domain.RatedTournamentRef]
	ratedTTL          time.Duration
	scrapeConcurrency int
	maxTournaments    int
	loc               *time.Location
	now               func() time.Time
	logger            zerolog.Logger
}

func NewAggregator(cfg *config.Config, source DataSource, scraper *Scraper, rated *coalesce.Group[[]domain.RatedTournamentRef], logger zerolog.Logger) *Aggregator {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		source:            source,
		scraper:           scraper,
		rated:             rated,
		ratedTTL:          cfg.RatedCacheTTL,
		scrapeConcurrency: cfg.ScrapeConcurrency,
		maxTournaments:    cfg.MaxTournaments,
		loc:               loc,
		now:               time.Now,
		logger:            logger,
	}
}

func (a *Aggregator) Aggregate(ctx context.Context, playerID string) (*domain.AggregatedPlayerView, error) {
	start := time.Now()
	view, err := a.aggregate(ctx, playerID)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordAggregation(status, time.Since(start).Seconds())
	return view, err
}

func (a *Aggregator) aggregate(ctx context.Context, playerID string) (*domain.AggregatedPlayerView, error) {
	log := a.logger.With().Str("player_id", playerID).Logger()
	today := a.now().In(a.loc)

	profile, err := a.source.FetchProfile(ctx, playerID)
	if err != nil {
		// an unreadable profile is the one failure nothing can degrade around
		log.Warn().Err(err).Msg("failed to fetch profile")
		return nil, fmt.Errorf("%w: %w", domain.ErrPlayerNotFound, err)
	}
	if profile == nil {
		return nil, domain.ErrPlayerNotFound
	}

	var (
		history             []domain.RatingHistoryPoint
		ratedPrev, ratedCur []domain.RatedTournamentRef
		discovered          []domain.TournamentRef
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := a.source.FetchHistory(gctx, playerID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to fetch rating history")
		}
		history = h
		return nil
	})
	g.Go(func() error {
		ratedPrev = a.ratedFor(gctx, playerID, classifier.PreviousPeriod(today))
		return nil
	})
	g.Go(func() error {
		ratedCur = a.ratedFor(gctx, playerID, classifier.Period(today))
		return nil
	})
	g.Go(func() error {
		d, err := a.source.DiscoverTournaments(gctx, playerID, profile.Name)
		if err != nil {
			log.Warn().Err(err).Msg("failed to discover tournaments")
		}
		discovered = d
		return nil
	})
	_ = g.Wait()

	rated := append(append([]domain.RatedTournamentRef{}, ratedPrev...), ratedCur...)
	candidates := a.candidates(discovered, rated, today)
	// the discovered end date is the page's last update, so every candidate is scraped with the
	// widest window and narrowed once the page's own end date is known
	widest := classifier.PreviousPeriod(today)

	log.Debug().
		Int("discovered", len(discovered)).
		Int("rated", len(rated)).
		Int("candidates", len(candidates)).
		Msg("tournaments selected for scraping")

	opponents := NewOpponentRatings()
	changes := make([]*domain.TournamentChange, len(candidates))

	sg, sctx := errgroup.WithContext(ctx)
	sg.SetLimit(max(a.scrapeConcurrency, 1))
	for i, ref := range candidates {
		sg.Go(func() error {
			changes[i] = a.scraper.Scrape(sctx, ref, profile, widest, opponents)
			return nil
		})
	}
	_ = sg.Wait()

	view := &domain.AggregatedPlayerView{
		PlayerID:           playerID,
		Profile:            *profile,
		History:            history,
		MaxStandard:        maxStandard(profile, history),
		ActiveTournaments:  []domain.TournamentChange{},
		PendingTournaments: []domain.TournamentChange{},
		NextTournaments:    []domain.TournamentChange{},
	}
	if view.History == nil {
		view.History = []domain.RatingHistoryPoint{}
	}

	deltas := make(map[domain.RatingType]float64)
	for i, change := range changes {
		if change == nil {
			continue
		}
		ref := candidates[i]

		end := ref.EndDate
		if change.EndDate != nil {
			end = *change.EndDate
		}
		name := ref.Name
		if name == "" {
			name = change.Name
		}

		decision := classifier.Classify(classifier.Input{
			Name:       name,
			RatingType: change.RatingType,
			EndDate:    end,
			Today:      today,
			Rated:      rated,
		})
		if decision.Kind == classifier.Excluded {
			log.Debug().Str("tournament", change.Name).Msg("tournament already rated or out of window")
			continue
		}
		applyCutoff(change, scheduleOf(change.Games), decision.Cutoff)
		change.IsPending = decision.Kind == classifier.Pending

		switch {
		case change.IsPending:
			view.PendingTournaments = append(view.PendingTournaments, *change)
		case len(change.Games) > 0 || (change.StartDate != nil && !civil(*change.StartDate).After(civil(today))):
			view.ActiveTournaments = append(view.ActiveTournaments, *change)
		default:
			view.NextTournaments = append(view.NextTournaments, *change)
			continue
		}
		deltas[change.RatingType] += change.TotalDelta
	}

	view.DeltaStandard = rating.Round2(deltas[domain.Standard])
	view.DeltaRapid = rating.Round2(deltas[domain.Rapid])
	view.DeltaBlitz = rating.Round2(deltas[domain.Blitz])
	view.LiveStandard = liveRating(profile.StandardRating, view.DeltaStandard)
	view.LiveRapid = liveRating(profile.RapidRating, view.DeltaRapid)
	view.LiveBlitz = liveRating(profile.BlitzRating, view.DeltaBlitz)

	log.Info().
		Int("active", len(view.ActiveTournaments)).
		Int("pending", len(view.PendingTournaments)).
		Int("next", len(view.NextTournaments)).
		Float64("live_standard", view.LiveStandard).
		Msg("player aggregated")

	return view, nil
}

// ratedFor returns the officially rated tournaments of one period, shared across concurrent
// lookups. A failed lookup degrades to whatever was collected.
func (a *Aggregator) ratedFor(ctx context.Context, playerID string, period time.Time) []domain.RatedTournamentRef {
	key := fmt.Sprintf("%s-%s", playerID, period.Format(time.DateOnly))
	refs, err := a.rated.Get(ctx, key, a.ratedTTL, func(ctx context.Context) ([]domain.RatedTournamentRef, error) {
		return a.source.FetchRatedTournaments(ctx, playerID, period)
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("player_id", playerID).Str("period", key).Msg("rated tournaments incomplete")
	}
	return refs
}

// candidates drops duplicates and tournaments that can no longer count, newest first, capped
// at maxTournaments. Tournaments without a known end date are kept and classified after
// scraping.
func (a *Aggregator) candidates(discovered []domain.TournamentRef, rated []domain.RatedTournamentRef, today time.Time) []domain.TournamentRef {
	seen := make(map[string]bool)
	out := make([]domain.TournamentRef, 0, len(discovered))

	for _, ref := range discovered {
		key := ref.ID
		if key == "" {
			key = ref.URL
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		if !ref.EndDate.IsZero() {
			decision := classifier.Classify(classifier.Input{
				Name:    ref.Name,
				EndDate: ref.EndDate,
				Today:   today,
				Rated:   rated,
			})
			if decision.Kind == classifier.Excluded {
				continue
			}
		}
		out = append(out, ref)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ei, ej := out[i].EndDate, out[j].EndDate
		if ei.IsZero() != ej.IsZero() {
			return !ei.IsZero()
		}
		return ei.After(ej)
	})

	if len(out) > a.maxTournaments {
		out = out[:a.maxTournaments]
	}
	return out
}

func liveRating(base int, delta float64) float64 {
	if base <= 0 {
		return 0
	}
	return rating.Round2(float64(base) + delta)
}

func maxStandard(profile *domain.Profile, history []domain.RatingHistoryPoint) int {
	best := profile.StandardRating
	for _, p := range history {
		if p.Standard != nil && *p.Standard > best {
			best = *p.Standard
		}
	}
	return best
}
