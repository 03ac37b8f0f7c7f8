package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"chess-live-rating/internal/constants"
	"chess-live-rating/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"github.com/valyala/fasthttp"
)

// ratedListTypes maps the calculations endpoint's t parameter to a discipline.
var ratedListTypes = []struct {
	param string
	rt    domain.RatingType
}{
	{"0", domain.Standard},
	{"1", domain.Rapid},
	{"2", domain.Blitz},
}

// FetchProfile returns nil without error when the player does not exist.
func (c *Client) FetchProfile(ctx context.Context, playerID string) (*domain.Profile, error) {
	u := c.fideBase.JoinPath("profile", playerID).String()

	doc, _, err := c.getDocument(ctx, "fide_profile", u)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile %s: %w", playerID, err)
	}

	return parseProfile(doc), nil
}

func (c *Client) FetchHistory(ctx context.Context, playerID string) ([]domain.RatingHistoryPoint, error) {
	u := c.fideBase.JoinPath("a_chart_data.phtml")
	q := url.Values{}
	q.Set("event", playerID)
	q.Set("period", "0")
	u.RawQuery = q.Encode()

	resp, err := c.do(ctx, request{
		op:     "fide_history",
		method: fasthttp.MethodPost,
		url:    u.String(),
		form:   url.Values{},
		headers: map[string]string{
			"Referer":          c.fideBase.JoinPath("profile", playerID, "chart").String(),
			"Origin":           c.fideBase.Scheme + "://" + c.fideBase.Host,
			"X-Requested-With": "XMLHttpRequest",
		},
	})
	if errors.Is(err, errNotFound) {
		return []domain.RatingHistoryPoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rating history %s: %w", playerID, err)
	}

	return parseHistory(resp.body)
}

// FetchRatedTournaments lists the tournaments rated for the player in the period starting at
// period, across all three disciplines. Each discipline is retried before giving up; when any
// discipline still fails the entries collected so far are returned with the error.
func (c *Client) FetchRatedTournaments(ctx context.Context, playerID string, period time.Time) ([]domain.RatedTournamentRef, error) {
	periodStr := period.Format("2006-01") + "-01"
	refs := make([]domain.RatedTournamentRef, 0)
	var failed []string

	for i, t := range ratedListTypes {
		u := c.fideBase.JoinPath("a_indv_calculations.php")
		q := url.Values{}
		q.Set("id_number", playerID)
		q.Set("rating_period", periodStr)
		q.Set("t", t.param)
		u.RawQuery = q.Encode()

		var (
			doc *goquery.Document
			err error
		)
		for attempt := 0; attempt <= constants.RatedRetryAttempts; attempt++ {
			if attempt > 0 {
				if werr := wait(ctx, c.retryBackoff); werr != nil {
					return refs, werr
				}
			}
			doc, _, err = c.getDocument(ctx, "fide_rated_"+string(t.rt), u.String())
			if err == nil || errors.Is(err, errNotFound) {
				break
			}
		}

		switch {
		case errors.Is(err, errNotFound):
		case err != nil:
			failed = append(failed, string(t.rt))
			c.logger.Warn().
				Err(err).
				Str("player_id", playerID).
				Str("period", periodStr).
				Str("rating_type", string(t.rt)).
				Msg("failed to fetch rated tournaments")
		default:
			for _, name := range parseRatedNames(doc) {
				refs = append(refs, domain.RatedTournamentRef{Name: name, RatingType: t.rt})
			}
		}

		if i < len(ratedListTypes)-1 {
			if err := wait(ctx, c.typeDelay); err != nil {
				return refs, err
			}
		}
	}

	if len(failed) > 0 {
		return refs, fmt.Errorf("failed to fetch rated tournaments for %s: %s", periodStr, strings.Join(failed, ", "))
	}
	return refs, nil
}

func parseProfile(doc *goquery.Document) *domain.Profile {
	name := strings.TrimSpace(doc.Find(".profile-top-title").First().Text())
	if name == "" {
		name = strings.TrimSpace(strings.Replace(doc.Find("head title").Text(), " FIDE Profile", "", 1))
	}
	if name == "" {
		return nil
	}

	p := &domain.Profile{Name: name}

	doc.Find(".profile-top-rating-data").Each(func(_ int, s *goquery.Selection) {
		content := strings.ToLower(s.Text())
		val, err := strconv.Atoi(strings.TrimSpace(s.Find(".profile-top-rating-val").Text()))
		if err != nil {
			return
		}
		switch {
		case strings.Contains(content, "std") || strings.Contains(content, "standard"):
			p.StandardRating = val
		case strings.Contains(content, "rapid"):
			p.RapidRating = val
		case strings.Contains(content, "blitz"):
			p.BlitzRating = val
		}
	})

	// older layouts only expose the ratings as running text
	if p.StandardRating == 0 && p.RapidRating == 0 && p.BlitzRating == 0 {
		text := doc.Find("body").Text()
		p.StandardRating = firstInt(text, stdRatingPatterns)
		p.RapidRating = firstInt(text, rapidRatingPatterns)
		p.BlitzRating = firstInt(text, blitzRatingPatterns)
	}

	p.Federation = strings.TrimSpace(doc.Find(".profile-info-country").Text())
	p.Sex = strings.TrimSpace(doc.Find(".profile-info-sex").Text())
	if by, err := strconv.Atoi(strings.TrimSpace(doc.Find(".profile-info-byear").Text())); err == nil {
		p.BirthYear = by
	}

	title := strings.TrimSpace(doc.Find(".profile-info-title p").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find(".profile-info-title").Text())
	}
	if title != "None" {
		p.Title = title
	}

	return p
}

type flexInt int

// UnmarshalJSON accepts numbers, numeric strings and null. Anything else reads as zero.
func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(v)
	return nil
}

type historyItem struct {
	Date     string  `json:"date_2"`
	Standard flexInt `json:"rating"`
	Rapid    flexInt `json:"rapid_rtng"`
	Blitz    flexInt `json:"blitz_rtng"`
}

var historyLayouts = []string{"2006-Jan", "2006-01-02", "2006-01", "Jan 2006", "2006-Jan-02"}

func parseHistory(body []byte) ([]domain.RatingHistoryPoint, error) {
	points := make([]domain.RatingHistoryPoint, 0)
	if len(strings.TrimSpace(string(body))) == 0 {
		return points, nil
	}

	var items []historyItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to decode rating history: %w", err)
	}

	allParsed := true
	for _, item := range items {
		period, ok := normalizePeriod(item.Date)
		p := domain.RatingHistoryPoint{
			Period:   period,
			Standard: positive(int(item.Standard)),
			Rapid:    positive(int(item.Rapid)),
			Blitz:    positive(int(item.Blitz)),
		}
		if p.Period == "" || (p.Standard == nil && p.Rapid == nil && p.Blitz == nil) {
			continue
		}
		if !ok {
			allParsed = false
		}
		points = append(points, p)
	}

	if allParsed {
		sort.SliceStable(points, func(i, j int) bool { return points[i].Period < points[j].Period })
	}
	return points, nil
}

// normalizePeriod turns the source's month label into YYYY-MM, keeping unknown formats as-is.
func normalizePeriod(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range historyLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01"), true
		}
	}
	return raw, false
}

func positive(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func parseRatedNames(doc *goquery.Document) []string {
	var names []string
	doc.Find(".rtng_line01 a.head1").Each(func(_ int, s *goquery.Selection) {
		if txt := strings.TrimSpace(s.Text()); txt != "" {
			names = append(names, txt)
		}
	})
	return names
}
