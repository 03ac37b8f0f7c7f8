// Package classifier decides whether a tournament's games still count toward a live rating.
package classifier

import (
	"time"

	"chess-live-rating/internal/domain"
)

type Kind int

const (
	Excluded Kind = iota
	Active
	Pending
)

func (k Kind) String() string {
	switch k {
	case Active:
		return "active"
	case Pending:
		return "pending"
	default:
		return "excluded"
	}
}

type Input struct {
	Name string
	// RatingType is empty when the discipline is not known yet (before scraping).
	RatingType domain.RatingType
	EndDate    time.Time
	Today      time.Time
	// Rated holds the officially rated tournaments of the previous and current periods.
	Rated []domain.RatedTournamentRef
}

type Decision struct {
	Kind Kind
	// Cutoff is the earliest round date whose games still count. Zero when excluded.
	Cutoff time.Time
}

// Period returns the first day of the month containing t.
func Period(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// PreviousPeriod returns the first day of the month before the one containing t.
func PreviousPeriod(t time.Time) time.Time {
	return Period(t).AddDate(0, -1, 0)
}

// IsRated reports whether any officially rated entry name-matches the tournament. Entries of a
// different known discipline never match.
func IsRated(name string, rt domain.RatingType, rated []domain.RatedTournamentRef) bool {
	for _, ref := range rated {
		if rt != "" && ref.RatingType != "" && rt != ref.RatingType {
			continue
		}
		if AreTournamentsSame(name, ref.Name) {
			return true
		}
	}
	return false
}

// Classify applies the settlement rules in order: rapid/blitz already rated → excluded,
// ended this period → active, ended last period and unrated → pending, otherwise excluded.
func Classify(in Input) Decision {
	if in.EndDate.IsZero() {
		return Decision{Kind: Excluded}
	}

	current := Period(in.Today)
	previous := PreviousPeriod(in.Today)
	rated := IsRated(in.Name, in.RatingType, in.Rated)

	if rated && (in.RatingType == domain.Rapid || in.RatingType == domain.Blitz) {
		return Decision{Kind: Excluded}
	}

	end := dateIn(in.EndDate, in.Today.Location())
	if !end.Before(current) {
		return Decision{Kind: Active, Cutoff: current}
	}
	if !end.Before(previous) && !rated {
		return Decision{Kind: Pending, Cutoff: previous}
	}
	return Decision{Kind: Excluded}
}

// dateIn reinterprets the calendar date of t in loc so that dates parsed in UTC compare
// against "today" in the configured zone by day, not by instant.
func dateIn(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
