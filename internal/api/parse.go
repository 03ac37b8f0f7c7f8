package api

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chess-live-rating/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

var (
	stdRatingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Std\.?\s*Rating\s*[:.]?\s*(\d{4})`),
		regexp.MustCompile(`(?i)Standard\s*Rating\s*[:.]?\s*(\d{4})`),
		regexp.MustCompile(`(?i)(\d{4})\s*Std`),
		regexp.MustCompile(`(?i)(\d{4})\s*Standard`),
	}
	rapidRatingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Rapid\s*Rating\s*[:.]?\s*(\d{4})`),
		regexp.MustCompile(`(?i)(\d{4})\s*Rapid`),
	}
	blitzRatingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Blitz\s*Rating\s*[:.]?\s*(\d{4})`),
		regexp.MustCompile(`(?i)(\d{4})\s*Blitz`),
	}

	timeControlLabel = regexp.MustCompile(`(?i)(?:Control de tiempo|Time control|Ritmo de juego)([^:\n\r]*):[ \t]*([^\n\r]+)`)
	timeControlParen = regexp.MustCompile(`(?i)(?:Control de tiempo|Time control)\s*\((Rapid|Blitz|Standard)\)`)
	roundsPattern    = regexp.MustCompile(`(?i)(?:Rondas|Rounds):?\s*(\d+)`)
	eloPatterns      = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Elo internacional\s*(\d+)`),
		regexp.MustCompile(`(?i)FIDE-Elo\s*(\d+)`),
		regexp.MustCompile(`(?i)Elo\s*(\d+)`),
	}
	birthYearPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Fecha de nacimiento\s*(\d{4})`),
		regexp.MustCompile(`(?i)Year of birth\s*(\d{4})`),
	}
	dateRangePattern  = regexp.MustCompile(`(?i)(?:Fecha|Date)\s*(\d{4}/\d{2}/\d{2})\s*(?:al|to|-)\s*(\d{4}/\d{2}/\d{2})`)
	singleDatePattern = regexp.MustCompile(`(?i)(?:Fecha|Date)\s*(\d{4}/\d{2}/\d{2})`)

	detailsRapid = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:Time control|Control de tiempo)\s*[^:<]*:\s*(?:<[^>]*>\s*)*Rapid`),
		regexp.MustCompile(`(?i)(?:Time control|Control de tiempo)\s*\(Rapid\)`),
		regexp.MustCompile(`Rapid Rating`),
	}
	detailsBlitz = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:Time control|Control de tiempo)\s*[^:<]*:\s*(?:<[^>]*>\s*)*Blitz`),
		regexp.MustCompile(`(?i)(?:Time control|Control de tiempo)\s*\(Blitz\)`),
		regexp.MustCompile(`Blitz Rating`),
	}

	ymdPattern     = regexp.MustCompile(`^(\d{4})[./-](\d{2})[./-](\d{2})$`)
	dmyPattern     = regexp.MustCompile(`^(\d{2})[./-](\d{2})[./-](\d{2,4})$`)
	anyYMDPattern  = regexp.MustCompile(`(\d{4})[./-](\d{2})[./-](\d{2})`)
	minutesPattern = regexp.MustCompile(`(\d+)\s*(?:min|')`)
	daysPattern    = regexp.MustCompile(`(?i)(\d+)\s*(?:d[ií]a|day)`)
	numericID      = regexp.MustCompile(`^\d+$`)
	ratingCell     = regexp.MustCompile(`^\d{3,4}$`)
	fedCell        = regexp.MustCompile(`^[A-Z]{3}$`)
	playerCount    = regexp.MustCompile(`(?i)(\d+)\s*(?:players|teilnehmer|jugadores|teams|equipos)`)
)

var titles = map[string]bool{
	"GM": true, "IM": true, "FM": true, "CM": true,
	"WGM": true, "WIM": true, "WFM": true, "WCM": true,
}

func firstInt(text string, patterns []*regexp.Regexp) int {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				return v
			}
		}
	}
	return 0
}

func cellText(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

// formFields collects the postback state of an ASP.NET form: hidden and text inputs, checked
// checkboxes, never buttons.
func formFields(doc *goquery.Document) url.Values {
	form := url.Values{}
	doc.Find("input").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		typ, _ := s.Attr("type")
		value, _ := s.Attr("value")
		switch strings.ToLower(typ) {
		case "image", "submit":
		case "checkbox":
			if _, checked := s.Attr("checked"); checked {
				if value == "" {
					value = "on"
				}
				form.Add(name, value)
			}
		default:
			form.Add(name, value)
		}
	})
	return form
}

func hiddenFields(doc *goquery.Document) url.Values {
	form := url.Values{}
	doc.Find(`input[type="hidden"]`).Each(func(_ int, s *goquery.Selection) {
		if name, ok := s.Attr("name"); ok && name != "" {
			value, _ := s.Attr("value")
			form.Add(name, value)
		}
	})
	return form
}

// submitButton picks the search button of the form, whose caption depends on the site language.
func submitButton(doc *goquery.Document, fallback string) (string, string) {
	name, value := fallback, "Search"
	doc.Find(`input[type="submit"]`).Each(func(_ int, s *goquery.Selection) {
		n, _ := s.Attr("name")
		v, _ := s.Attr("value")
		if strings.Contains(n, "cb_suchen") || strings.Contains(strings.ToLower(v), "search") {
			name, value = n, v
		}
	})
	return name, value
}

func normalizeTournamentURL(base *url.URL, href string) string {
	u, err := base.Parse(href)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("lan", "2")
	q.Set("turdet", "YES")
	u.RawQuery = q.Encode()
	return u.String()
}

// parseResultDate reads YYYY/MM/DD and DD.MM.YYYY (or two-digit year) dates.
func parseResultDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if m := ymdPattern.FindStringSubmatch(raw); m != nil {
		return civilDate(m[1], m[2], m[3])
	}
	if m := dmyPattern.FindStringSubmatch(raw); m != nil {
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		return civilDate(year, m[2], m[1])
	}
	return time.Time{}
}

func civilDate(y, m, d string) time.Time {
	year, err1 := strconv.Atoi(y)
	month, err2 := strconv.Atoi(m)
	day, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}
	}
	return t
}

func parsePlayerSearch(doc *goquery.Document, base *url.URL) []domain.TournamentRef {
	refs := make([]domain.TournamentRef, 0)
	seenRows := make(map[string]bool)
	seenLinks := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		link, _ := a.Attr("href")
		if !strings.Contains(link, "tnr") && !strings.Contains(link, "SpielerInfo") {
			return
		}
		tr := a.Closest("tr")
		if tr.Length() == 0 {
			return
		}
		rowText := cellText(tr)
		if seenRows[rowText] {
			return
		}
		seenRows[rowText] = true

		var playerName, tournamentName, dateRaw string
		tds := tr.Find("td")
		if tds.Length() >= 7 {
			playerName = cellText(tds.Eq(0))
			tournamentName = cellText(tds.Eq(5))
			dateRaw = cellText(tds.Eq(6))
		}

		best := ""
		tr.Find("a").Each(func(_ int, la *goquery.Selection) {
			h, _ := la.Attr("href")
			if !strings.Contains(h, "tnr") {
				return
			}
			if best == "" || strings.Contains(h, "art=9") {
				best = h
			}
		})
		if best == "" {
			best = link
		}
		if seenLinks[best] {
			return
		}
		seenLinks[best] = true

		full := normalizeTournamentURL(base, best)
		if full == "" {
			return
		}
		name := tournamentName
		if name == "" {
			name = playerName
		}
		refs = append(refs, domain.TournamentRef{
			ID:      TournamentID(full),
			Name:    name,
			URL:     full,
			EndDate: parseResultDate(dateRaw),
		})
	})
	return refs
}

func findRosterLink(doc *goquery.Document) string {
	found := ""
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		txt := strings.ToLower(cellText(a))
		if strings.Contains(txt, "alfabético de jugadores") ||
			strings.Contains(txt, "alphabetical list of players") ||
			strings.Contains(txt, "alphabetische liste") ||
			(strings.Contains(txt, "list") && strings.Contains(txt, "players") && !strings.Contains(txt, "ranking")) {
			found, _ = a.Attr("href")
			return found == ""
		}
		return true
	})
	return found
}

// rosterURL builds the full participant list URL. The snr parameter is dropped because it forces
// the single player view.
func rosterURL(tournamentURL, link string) (string, error) {
	base, err := url.Parse(tournamentURL)
	if err != nil {
		return "", err
	}
	u := base
	if link != "" {
		if u, err = base.Parse(link); err != nil {
			return "", err
		}
	}
	q := u.Query()
	if link == "" {
		q.Set("art", "0")
	}
	q.Del("snr")
	if q.Get("zeilen") == "" {
		q.Set("zeilen", "99999")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseRoster(doc *goquery.Document) map[string]string {
	roster := make(map[string]string)
	doc.Find("table").Each(func(_ int, tbl *goquery.Selection) {
		rows := tbl.Find("tr")
		if rows.Length() == 0 {
			return
		}

		nameIdx, idIdx := -1, -1
		rows.Eq(0).Find("td, th").Each(func(i int, h *goquery.Selection) {
			txt := strings.ToLower(cellText(h))
			if txt == "name" || txt == "nombre" || strings.Contains(txt, "spieler") || strings.Contains(txt, "player") {
				nameIdx = i
			}
			if txt == "fideid" || txt == "fide id" || txt == "fide-id" || txt == "id" {
				idIdx = i
			}
		})
		if nameIdx == -1 || idIdx == -1 {
			return
		}

		rows.Slice(1, goquery.ToEnd).Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() <= max(nameIdx, idIdx) {
				return
			}
			name := cellText(cells.Eq(nameIdx))
			id := cellText(cells.Eq(idIdx))
			if name != "" && numericID.MatchString(id) {
				roster[name] = id
			}
		})
	})
	return roster
}

func parseTournamentPage(doc *goquery.Document) *domain.TournamentPage {
	name := cellText(doc.Find("h2").First())
	if name == "" {
		name = cellText(doc.Find("h1").First())
	}
	text := doc.Find("body").Text()

	page := &domain.TournamentPage{
		Name:         name,
		TimeControl:  extractTimeControl(text),
		PlayerRating: firstInt(text, eloPatterns),
		BirthYear:    firstInt(text, birthYearPatterns),
		Rows:         parseGameRows(doc),
	}
	if m := roundsPattern.FindStringSubmatch(text); m != nil {
		page.Rounds = m[1]
	}
	if m := dateRangePattern.FindStringSubmatch(text); m != nil {
		page.StartDate = parseResultDate(m[1])
		page.EndDate = parseResultDate(m[2])
	} else if m := singleDatePattern.FindStringSubmatch(text); m != nil {
		page.StartDate = parseResultDate(m[1])
		page.EndDate = page.StartDate
	}
	return page
}

// extractTimeControl returns the time-control label text, including any parenthesised
// discipline placed before the colon.
func extractTimeControl(text string) string {
	if m := timeControlLabel.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1] + " " + m[2])
	}
	if m := timeControlParen.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

type gameColumns struct {
	change, round, name, rating, result int
}

func detectColumns(headers []string) gameColumns {
	cols := gameColumns{change: -1, round: -1, name: -1, rating: -1, result: -1}
	for i, h := range headers {
		if strings.Contains(h, "elo +/-") || strings.Contains(h, "elo+/-") || strings.Contains(h, "rtg +/-") ||
			strings.Contains(h, "rtg+/-") || strings.Contains(h, "var.") || strings.Contains(h, "w-we") {
			cols.change = i
		}
		if h == "rd" || h == "rd." || strings.Contains(h, "round") || strings.Contains(h, "ronda") {
			cols.round = i
		}
		if (strings.Contains(h, "name") || strings.Contains(h, "nombre")) && !strings.Contains(h, "team") && !strings.Contains(h, "club") {
			cols.name = i
		}
		if h == "rtg" || h == "elo" || h == "fide-elo" || h == "elo fide" {
			cols.rating = i
		}
		if strings.Contains(h, "res") || strings.Contains(h, "pts.") {
			cols.result = i
		}
	}
	return cols
}

// parseGameRows reads every results table. Tables without a rating change column are kept only
// when rating and result columns allow the change to be computed.
func parseGameRows(doc *goquery.Document) []domain.RawGameRow {
	var out []domain.RawGameRow

	doc.Find("table.CRs1").Each(func(_ int, tbl *goquery.Selection) {
		rows := tbl.Find("tr")
		if rows.Length() == 0 {
			return
		}

		var headers []string
		rows.Eq(0).Find("td, th").Each(func(_ int, h *goquery.Selection) {
			headers = append(headers, strings.ToLower(cellText(h)))
		})
		cols := detectColumns(headers)
		if cols.change == -1 && (cols.rating == -1 || cols.result == -1) {
			return
		}

		rows.Slice(1, goquery.ToEnd).Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			n := cells.Length()

			changeIdx := -1
			if cols.change != -1 {
				if n < len(headers) {
					return
				}
				changeIdx = cols.change
				// body rows sometimes carry extra leading cells; the change column sits near the end
				if n > len(headers) {
					changeIdx = n - (len(headers) - cols.change)
				}
			} else if n <= cols.rating || n <= cols.result {
				return
			}

			cell := func(i int) string {
				if i < 0 || i >= n {
					return ""
				}
				return cellText(cells.Eq(i))
			}

			out = append(out, domain.RawGameRow{
				Round:          cell(cols.round),
				OpponentName:   cell(cols.name),
				OpponentRating: cell(cols.rating),
				Result:         cell(cols.result),
				DeclaredDelta:  cell(changeIdx),
			})
		})
	})
	return out
}

// detectDetailsRatingLabel scans a details page for the discipline. Rapid wins over blitz.
func detectDetailsRatingLabel(html string) string {
	for _, re := range detailsRapid {
		if re.MatchString(html) {
			return "rapid"
		}
	}
	for _, re := range detailsBlitz {
		if re.MatchString(html) {
			return "blitz"
		}
	}
	return ""
}

type scheduleRow struct {
	round string
	date  time.Time
	time  string
}

func parseSchedule(doc *goquery.Document) []scheduleRow {
	var rows []scheduleRow
	doc.Find("table.CRs1 tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return
		}
		round := cellText(cells.Eq(0))
		date := parseScheduleDate(cellText(cells.Eq(1)))
		if round == "" || date.IsZero() {
			return
		}
		rows = append(rows, scheduleRow{round: round, date: date, time: cellText(cells.Eq(2))})
	})
	return rows
}

// parseScheduleDate accepts year-first and day-first dates with any of . / - as separator.
func parseScheduleDate(raw string) time.Time {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '.' || r == '/' || r == '-' })
	if len(parts) != 3 {
		return time.Time{}
	}
	if len(parts[0]) == 4 {
		return civilDate(parts[0], parts[1], parts[2])
	}
	return civilDate(parts[2], parts[1], parts[0])
}

// parseLastUpdateDays reads relative update labels such as "23 Horas 27 Min." or "3 Días 1 Horas".
// Header rows return -1 and unrecognised labels a large value.
func parseLastUpdateDays(text string) int {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "actualización") || strings.Contains(lower, "update") {
		return -1
	}
	if m := daysPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return v
		}
	}
	if strings.Contains(lower, "min") || strings.Contains(lower, "hora") || strings.Contains(lower, "hour") || strings.Contains(lower, "ayer") {
		return 0
	}
	return 999
}

const maxAreaUpdateDays = 60

func parseAreaSearch(doc *goquery.Document, base *url.URL) []domain.TournamentRef {
	refs := make([]domain.TournamentRef, 0)

	table := doc.Find("table").FilterFunction(func(_ int, t *goquery.Selection) bool {
		return t.Find("tr.CRg1, tr.CRg2").Length() > 0
	}).First()
	if table.Length() == 0 {
		return refs
	}

	table.Find("tr.CRg1, tr.CRg2").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		tds := tr.Find("td")
		if tds.Length() < 5 {
			return true
		}
		days := parseLastUpdateDays(cellText(tds.Eq(4)))
		if days < 0 {
			return true
		}
		if days > maxAreaUpdateDays {
			return false
		}

		name := cellText(tds.Eq(1))
		link, ok := tds.Eq(1).Find("a").Attr("href")
		if name == "" || !ok || link == "" {
			return true
		}
		full := normalizeTournamentURL(base, link)
		if full == "" {
			return true
		}
		refs = append(refs, domain.TournamentRef{ID: TournamentID(full), Name: name, URL: full})
		return true
	})
	return refs
}

// parseDetails fills details from the label/value rows of a tournament's general information view.
// Dates already derived from the schedule win over a single "date" row but not over "end date".
func parseDetails(doc *goquery.Document, origin *url.URL, details *domain.TournamentDetails) {
	if img := doc.Find(`img[src*="TournamentImages"]`).First(); img.Length() > 0 {
		if src, ok := img.Attr("src"); ok && src != "" && origin != nil {
			if u, err := origin.Parse(src); err == nil {
				details.PosterImage = u.String()
			}
		}
	}

	doc.Find(".CRs1 tr, .CRs2 tr, .daten tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		label := strings.ToLower(cellText(cells.Eq(0)))
		value := cellText(cells.Eq(1))
		if value == "" {
			return
		}

		switch {
		case strings.Contains(label, "organizer") || strings.Contains(label, "organizador"):
			details.Organizer = value
		case strings.Contains(label, "location") || strings.Contains(label, "lugar"):
			if link := cells.Eq(1).Find("a"); link.Length() > 0 {
				details.Location = cellText(link)
				details.MapsURL, _ = link.Attr("href")
			} else {
				details.Location = value
			}
		case strings.Contains(label, "elo average") || strings.Contains(label, "media de elo"):
			details.AvgElo = value
		case strings.Contains(label, "chief arbiter") || strings.Contains(label, "árbitro principal"):
			details.ChiefArbiter = value
		case strings.Contains(label, "time control") || strings.Contains(label, "control de tiempo") || strings.Contains(label, "ritmo de juego"):
			details.TimeControl = value
			if tempo := tempoFromTimeControl(value); tempo != "" {
				details.Tempo = tempo
			}
		case strings.Contains(label, "rounds") || strings.Contains(label, "rondas"):
			details.Rounds = value
		case strings.Contains(label, "end date") || strings.Contains(label, "fecha final"):
			if m := anyYMDPattern.FindStringSubmatch(value); m != nil {
				details.EndDate = m[1] + "-" + m[2] + "-" + m[3]
			}
		case label == "fecha" || label == "date":
			if m := anyYMDPattern.FindStringSubmatch(value); m != nil {
				d := m[1] + "-" + m[2] + "-" + m[3]
				if details.StartDate == "" {
					details.StartDate = d
				}
				if details.EndDate == "" {
					details.EndDate = d
				}
			}
		}
	})
}

// tempoFromTimeControl classifies by the base minutes: under 10 blitz, under 60 rapid.
func tempoFromTimeControl(tc string) string {
	m := minutesPattern.FindStringSubmatch(strings.ToLower(tc))
	if m == nil {
		return ""
	}
	mins, err := strconv.Atoi(m[1])
	if err != nil {
		return ""
	}
	switch {
	case mins < 10:
		return "Blitz"
	case mins < 60:
		return "Rapid"
	default:
		return "Standard"
	}
}

const maxTopPlayers = 5

func parseTopPlayers(doc *goquery.Document) ([]domain.TopPlayer, int) {
	table := doc.Find("table.CRs1")
	if table.Length() == 0 {
		table = doc.Find("table.CRs2")
	}
	if table.Length() == 0 {
		return nil, 0
	}
	table = table.First()
	rows := table.Find("tr")

	var players []domain.TopPlayer
	rows.Slice(1, goquery.ToEnd).EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		if len(players) >= maxTopPlayers {
			return false
		}
		tds := tr.Find("td")
		if tds.Length() < 3 {
			return true
		}

		var p domain.TopPlayer
		if link := tds.Find(`a[href*="Info"]`).First(); link.Length() > 0 {
			p.Name = cellText(link)
			if idx := link.Parent().Index(); idx > 0 {
				if t := cellText(tds.Eq(idx - 1)); titles[t] {
					p.Title = t
				}
			}
		} else {
			second, third := cellText(tds.Eq(1)), cellText(tds.Eq(2))
			if _, err := strconv.Atoi(second); err != nil && len(second) > 3 {
				p.Name = second
			} else if _, err := strconv.Atoi(third); err != nil && len(third) > 3 {
				p.Name = third
			}
		}
		if p.Name == "" {
			return true
		}

		tds.Each(func(j int, td *goquery.Selection) {
			txt := cellText(td)
			if p.Fed == "" && fedCell.MatchString(txt) {
				p.Fed = txt
			}
			if j > 1 && p.Rating == 0 && ratingCell.MatchString(txt) {
				p.Rating, _ = strconv.Atoi(txt)
			}
		})
		players = append(players, p)
		return true
	})

	total := rows.Length() - 1
	if m := playerCount.FindStringSubmatch(doc.Find("body").Text()); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			total = v
		}
	}
	return players, total
}
