package domain

import (
	"time"
)

type RatingType string

const (
	Standard RatingType = "standard"
	Rapid    RatingType = "rapid"
	Blitz    RatingType = "blitz"
)

var RatingTypes = []RatingType{Standard, Rapid, Blitz}

func (rt RatingType) Valid() bool {
	return rt == Standard || rt == Rapid || rt == Blitz
}

// Profile is an official rating snapshot. A zero rating means unrated in that discipline.
type Profile struct {
	Name           string `json:"name"`
	Federation     string `json:"federation,omitempty"`
	BirthYear      int    `json:"birthYear,omitempty"`
	Sex            string `json:"sex,omitempty"`
	Title          string `json:"title,omitempty"`
	StandardRating int    `json:"standardRating"`
	RapidRating    int    `json:"rapidRating"`
	BlitzRating    int    `json:"blitzRating"`
}

func (p *Profile) Rating(rt RatingType) int {
	if p == nil {
		return 0
	}
	switch rt {
	case Rapid:
		return p.RapidRating
	case Blitz:
		return p.BlitzRating
	default:
		return p.StandardRating
	}
}

// SameRatings reports whether both snapshots carry identical official ratings.
func (p *Profile) SameRatings(other *Profile) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.StandardRating == other.StandardRating &&
		p.RapidRating == other.RapidRating &&
		p.BlitzRating == other.BlitzRating
}

type RatingHistoryPoint struct {
	Period   string `json:"period"`
	Standard *int   `json:"standard,omitempty"`
	Rapid    *int   `json:"rapid,omitempty"`
	Blitz    *int   `json:"blitz,omitempty"`
}

type RatedTournamentRef struct {
	Name       string     `json:"name"`
	RatingType RatingType `json:"ratingType"`
}

// TournamentRef is a discovered tournament before any game detail is fetched.
type TournamentRef struct {
	ID      string    `json:"id,omitempty"`
	Name    string    `json:"name"`
	URL     string    `json:"url"`
	EndDate time.Time `json:"endDate,omitempty"`
	Tempo   string    `json:"tempo,omitempty"`
}

type Score float64

const (
	Loss Score = 0
	Draw Score = 0.5
	Win  Score = 1
)

// GameResult is one rated game. Date is the scheduled round date when the tournament publishes a
// schedule.
type GameResult struct {
	Round          string     `json:"round"`
	Date           *time.Time `json:"date,omitempty"`
	OpponentName   string     `json:"opponentName"`
	OpponentRating *int       `json:"opponentRating,omitempty"`
	Result         string     `json:"result"`
	Score          *Score     `json:"score,omitempty"`
	RatingDelta    float64    `json:"ratingDelta"`
}

type TournamentChange struct {
	Name       string       `json:"name"`
	URL        string       `json:"url"`
	RatingType RatingType   `json:"ratingType"`
	StartDate  *time.Time   `json:"startDate,omitempty"`
	EndDate    *time.Time   `json:"endDate,omitempty"`
	Rounds     string       `json:"rounds,omitempty"`
	KFactor    int          `json:"kFactor"`
	IsPending  bool         `json:"isPending"`
	Games      []GameResult `json:"games"`
	TotalDelta float64      `json:"totalDelta"`
}

// RawGameRow is one normalized row of a tournament's game table. Values are kept as the source
// published them; interpretation happens in the scraper.
type RawGameRow struct {
	Round          string
	OpponentName   string
	OpponentRating string
	Result         string
	DeclaredDelta  string
}

// TournamentPage is the normalized content of a tournament's player page.
type TournamentPage struct {
	Name         string
	TimeControl  string
	Rounds       string
	StartDate    time.Time
	EndDate      time.Time
	PlayerRating int
	BirthYear    int
	Rows         []RawGameRow
}

type AggregatedPlayerView struct {
	PlayerID           string               `json:"playerId"`
	Profile            Profile              `json:"profile"`
	History            []RatingHistoryPoint `json:"history"`
	MaxStandard        int                  `json:"maxStandard,omitempty"`
	ActiveTournaments  []TournamentChange   `json:"activeTournaments"`
	PendingTournaments []TournamentChange   `json:"pendingTournaments"`
	NextTournaments    []TournamentChange   `json:"nextTournaments"`
	LiveStandard       float64              `json:"liveStandard"`
	LiveRapid          float64              `json:"liveRapid"`
	LiveBlitz          float64              `json:"liveBlitz"`
	DeltaStandard      float64              `json:"deltaStandard"`
	DeltaRapid         float64              `json:"deltaRapid"`
	DeltaBlitz         float64              `json:"deltaBlitz"`
	IsStale            bool                 `json:"isStale"`
	LastUpdated        time.Time            `json:"lastUpdated"`
}

type ScheduleEntry struct {
	Round string `json:"round"`
	Date  string `json:"date"`
	Time  string `json:"time,omitempty"`
}

type TopPlayer struct {
	Name   string `json:"name"`
	Title  string `json:"title,omitempty"`
	Rating int    `json:"rating,omitempty"`
	Fed    string `json:"fed,omitempty"`
}

// TournamentDetails is the general information block of a tournament.
type TournamentDetails struct {
	Organizer    string          `json:"organizer,omitempty"`
	Location     string          `json:"location,omitempty"`
	TotalPlayers int             `json:"totalPlayers,omitempty"`
	Rounds       string          `json:"rounds,omitempty"`
	TimeControl  string          `json:"timeControl,omitempty"`
	Tempo        string          `json:"tempo,omitempty"`
	StartDate    string          `json:"startDate,omitempty"`
	EndDate      string          `json:"endDate,omitempty"`
	MapsURL      string          `json:"mapsUrl,omitempty"`
	Lat          *float64        `json:"lat,omitempty"`
	Lng          *float64        `json:"lng,omitempty"`
	ChiefArbiter string          `json:"chiefArbiter,omitempty"`
	AvgElo       string          `json:"avgElo,omitempty"`
	PosterImage  string          `json:"posterImage,omitempty"`
	Schedule     []ScheduleEntry `json:"schedule,omitempty"`
	TopPlayers   []TopPlayer     `json:"topPlayers,omitempty"`
}

// TournamentDocument is the stored, area-keyed tournament record. Fields listed in EditedFields
// were curated by hand and survive re-scrapes.
type TournamentDocument struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	URL          string          `json:"url"`
	Country      string          `json:"country"`
	City         string          `json:"city,omitempty"`
	Fed          string          `json:"fed,omitempty"`
	Organizer    string          `json:"organizer,omitempty"`
	Location     string          `json:"location,omitempty"`
	TotalPlayers int             `json:"totalPlayers,omitempty"`
	Rounds       string          `json:"rounds,omitempty"`
	TimeControl  string          `json:"timeControl,omitempty"`
	Tempo        string          `json:"tempo,omitempty"`
	StartDate    string          `json:"startDate,omitempty"`
	EndDate      string          `json:"endDate,omitempty"`
	MapsURL      string          `json:"mapsUrl,omitempty"`
	Lat          *float64        `json:"lat,omitempty"`
	Lng          *float64        `json:"lng,omitempty"`
	ChiefArbiter string          `json:"chiefArbiter,omitempty"`
	AvgElo       string          `json:"avgElo,omitempty"`
	PosterImage  string          `json:"posterImage,omitempty"`
	Schedule     []ScheduleEntry `json:"schedule,omitempty"`
	TopPlayers   []TopPlayer     `json:"topPlayers,omitempty"`
	EditedFields []string        `json:"editedFields,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}
