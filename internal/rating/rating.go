// Package rating implements the Elo arithmetic used for live rating projections.
package rating

import (
	"math"
	"time"

	"chess-live-rating/internal/domain"
)

const (
	DefaultK   = 20
	YouthK     = 40
	HighRatedK = 10

	HighRatingThreshold = 2400
	YouthAgeLimit       = 18
)

// ExpectedScore is the Elo expectation of player against opponent.
func ExpectedScore(player, opponent float64) float64 {
	return 1 / (1 + math.Pow(10, (opponent-player)/400))
}

// Delta is the unrounded rating change for one game. Round at the point of use.
func Delta(player, opponent, score, k float64) float64 {
	return k * (score - ExpectedScore(player, opponent))
}

// KFactor is a placeholder policy, not the full FIDE table: youth (age under 18) beats the
// high-rating rule. The rating type is accepted so a fuller table can slot in later.
func KFactor(_ domain.RatingType, rating, age int) int {
	k := DefaultK
	if rating >= HighRatingThreshold {
		k = HighRatedK
	}
	if age > 0 && age < YouthAgeLimit {
		k = YouthK
	}
	return k
}

// AgeAt returns the age in calendar years at now, or 0 when the birth year is unknown.
func AgeAt(birthYear int, now time.Time) int {
	if birthYear <= 0 || birthYear > now.Year() {
		return 0
	}
	return now.Year() - birthYear
}

func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
