package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"chess-live-rating/internal/domain"
)

var tnrPattern = regexp.MustCompile(`(?i)tnr(\d+)`)

// searchCriteria selects either the FIDE id field or the name fields of the player search form.
type searchCriteria struct {
	fideID    string
	lastName  string
	firstName string
}

// DiscoverTournaments finds the player's tournaments on chess-results, first by FIDE id and then,
// when that yields nothing, by "Last, First" name.
func (c *Client) DiscoverTournaments(ctx context.Context, playerID, name string) ([]domain.TournamentRef, error) {
	refs, err := c.searchPlayer(ctx, searchCriteria{fideID: playerID})
	if err != nil {
		c.logger.Warn().Err(err).Str("player_id", playerID).Msg("tournament search by id failed")
	}
	if len(refs) > 0 || name == "" {
		return refs, err
	}

	last, first, _ := strings.Cut(name, ",")
	last, first = strings.TrimSpace(last), strings.TrimSpace(first)
	if last == "" {
		return refs, err
	}

	c.logger.Debug().Str("player_id", playerID).Str("name", name).Msg("searching tournaments by name")
	return c.searchPlayer(ctx, searchCriteria{lastName: last, firstName: first})
}

func (c *Client) searchPlayer(ctx context.Context, criteria searchCriteria) ([]domain.TournamentRef, error) {
	doc, resp, err := c.getDocument(ctx, "results_search_form", c.searchURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load search form: %w", err)
	}

	form := formFields(doc)
	name, value := submitButton(doc, "ctl00$P1$cb_suchen")
	form.Set(name, value)

	if criteria.fideID != "" {
		form.Set("ctl00$P1$txt_fideID", criteria.fideID)
		form.Del("ctl00$P1$txt_nachname")
		form.Del("ctl00$P1$txt_vorname")
	} else {
		form.Set("ctl00$P1$txt_nachname", criteria.lastName)
		if criteria.firstName != "" {
			form.Set("ctl00$P1$txt_vorname", criteria.firstName)
		}
		form.Del("ctl00$P1$txt_fideID")
	}

	result, err := c.postForm(ctx, "results_search", c.searchURL, form, resp.cookies)
	if err != nil {
		return nil, fmt.Errorf("failed to submit search: %w", err)
	}

	base, err := url.Parse(resp.finalURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search url: %w", err)
	}
	return parsePlayerSearch(result, base), nil
}

// FetchRoster maps participant names to FIDE ids. It first looks for the alphabetical list link
// on the tournament page and falls back to the art=0 view.
func (c *Client) FetchRoster(ctx context.Context, tournamentURL string) (map[string]string, error) {
	doc, resp, err := c.getDocument(ctx, "results_menu", tournamentURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tournament menu: %w", err)
	}

	listURL, err := rosterURL(resp.finalURL, findRosterLink(doc))
	if err != nil {
		return nil, err
	}

	list, _, err := c.getDocument(ctx, "results_roster", listURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roster: %w", err)
	}
	return parseRoster(list), nil
}

func (c *Client) FetchGames(ctx context.Context, tournamentURL string) (*domain.TournamentPage, error) {
	doc, _, err := c.getDocument(ctx, "results_games", tournamentURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tournament page: %w", err)
	}
	return parseTournamentPage(doc), nil
}

// FetchTimeControl reads the tournament's details view, expanding archived details through the
// "show details" postback when needed. It returns a rating type label or "" when undetermined.
func (c *Client) FetchTimeControl(ctx context.Context, tournamentURL string) (string, error) {
	m := tnrPattern.FindStringSubmatch(tournamentURL)
	if m == nil {
		return "", nil
	}
	u, err := url.Parse(tournamentURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse tournament url: %w", err)
	}
	detailsURL := fmt.Sprintf("%s://%s/tnr%s.aspx?art=1&lan=2&turdet=YES&SNode=S0", u.Scheme, u.Host, m[1])

	resp, err := c.get(ctx, "results_time_control", detailsURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch tournament details: %w", err)
	}
	html := string(resp.body)

	doc, err := parseDocument(resp.body)
	if err == nil && doc.Find("#cb_alleDetails").Length() > 0 {
		viewState, _ := doc.Find("#__VIEWSTATE").Attr("value")
		validation, _ := doc.Find("#__EVENTVALIDATION").Attr("value")
		if viewState != "" && validation != "" {
			form := url.Values{}
			form.Set("__VIEWSTATE", viewState)
			form.Set("__EVENTVALIDATION", validation)
			if gen, ok := doc.Find("#__VIEWSTATEGENERATOR").Attr("value"); ok && gen != "" {
				form.Set("__VIEWSTATEGENERATOR", gen)
			}
			form.Set("cb_alleDetails", "Mostrar detalles del torneo")

			expanded, err := c.postForm(ctx, "results_time_control", detailsURL, form, resp.cookies)
			if err == nil {
				if h, err := expanded.Html(); err == nil {
					html = h
				}
			} else {
				c.logger.Debug().Err(err).Str("url", detailsURL).Msg("details postback failed")
			}
		}
	}

	return detectDetailsRatingLabel(html), nil
}

// FetchSchedule maps round labels to their scheduled date. An empty map means no schedule is
// published.
func (c *Client) FetchSchedule(ctx context.Context, tournamentURL string) (map[string]time.Time, error) {
	rows, err := c.fetchSchedule(ctx, tournamentURL)
	if err != nil {
		return nil, err
	}
	schedule := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		schedule[r.round] = r.date
	}
	return schedule, nil
}

func (c *Client) fetchSchedule(ctx context.Context, tournamentURL string) ([]scheduleRow, error) {
	u, err := withParams(tournamentURL, map[string]string{"art": "14"})
	if err != nil {
		return nil, err
	}
	doc, _, err := c.getDocument(ctx, "results_schedule", u)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schedule: %w", err)
	}
	return parseSchedule(doc), nil
}

// SearchArea lists tournaments recently updated in a place, newest first. Rows last updated more
// than 60 days ago end the listing.
func (c *Client) SearchArea(ctx context.Context, country, place string) ([]domain.TournamentRef, error) {
	doc, resp, err := c.getDocument(ctx, "results_area_form", c.areaSearchURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load area search form: %w", err)
	}

	form := hiddenFields(doc)
	form.Set("ctl00$P1$txt_ort", place)
	form.Set("ctl00$P1$combo_land", countryCode(country))
	form.Set("ctl00$P1$combo_sort", "1")
	form.Set("ctl00$P1$cb_suchen", "Buscar")

	result, err := c.postForm(ctx, "results_area_search", c.areaSearchURL, form, resp.cookies)
	if err != nil {
		return nil, fmt.Errorf("failed to submit area search: %w", err)
	}

	return parseAreaSearch(result, c.resultsBase), nil
}

// FetchTournamentDetails gathers the general information, schedule, coordinates and top seeds of
// a tournament. Only the general information page is required; the rest is best-effort.
func (c *Client) FetchTournamentDetails(ctx context.Context, tournamentURL string) (*domain.TournamentDetails, error) {
	infoURL, err := withParams(tournamentURL, map[string]string{"lan": "2", "turdet": "YES", "art": "1"})
	if err != nil {
		return nil, err
	}

	doc, resp, err := c.getDocument(ctx, "results_details", infoURL)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tournament details: %w", err)
	}

	origin, _ := url.Parse(resp.finalURL)
	details := &domain.TournamentDetails{}

	schedule, err := c.fetchSchedule(ctx, tournamentURL)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", tournamentURL).Msg("schedule unavailable")
	}
	applySchedule(details, schedule)

	parseDetails(doc, origin, details)

	if details.MapsURL != "" {
		if lat, lng, ok := c.resolveCoords(ctx, details.MapsURL); ok {
			details.Lat, details.Lng = &lat, &lng
		}
	}

	playersURL, err := withParams(infoURL, map[string]string{"art": "0"})
	if err == nil {
		players, _, err := c.getDocument(ctx, "results_players", playersURL)
		if err != nil {
			c.logger.Debug().Err(err).Str("url", playersURL).Msg("starting rank unavailable")
		} else {
			details.TopPlayers, details.TotalPlayers = parseTopPlayers(players)
		}
	}

	return details, nil
}

func applySchedule(details *domain.TournamentDetails, rows []scheduleRow) {
	if len(rows) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].date.Before(rows[j].date) })

	details.Schedule = make([]domain.ScheduleEntry, 0, len(rows))
	for _, r := range rows {
		details.Schedule = append(details.Schedule, domain.ScheduleEntry{
			Round: r.round,
			Date:  r.date.Format(time.DateOnly),
			Time:  r.time,
		})
	}
	details.StartDate = rows[0].date.Format(time.DateOnly)
	details.EndDate = rows[len(rows)-1].date.Format(time.DateOnly)
}

// TournamentID extracts the chess-results tournament number from a tournament URL.
func TournamentID(tournamentURL string) string {
	if m := tnrPattern.FindStringSubmatch(tournamentURL); m != nil {
		return m[1]
	}
	return ""
}

func countryCode(country string) string {
	if strings.EqualFold(country, "spain") {
		return "ESP"
	}
	return strings.ToUpper(country)
}

func withParams(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
