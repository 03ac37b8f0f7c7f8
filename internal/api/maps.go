package api

import (
	"context"
	"regexp"
	"strconv"
)

var coordPatterns = []*regexp.Regexp{
	regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`),
	regexp.MustCompile(`!3d(-?\d+\.\d+)!4d(-?\d+\.\d+)`),
	regexp.MustCompile(`[?&](?:q|query|center|ll|sll)=(-?\d+\.\d+)(?:,|%20|%2C)(-?\d+\.\d+)`),
	regexp.MustCompile(`%2C(-?\d+\.\d+)%2C(-?\d+\.\d+)`),
}

// resolveCoords follows a maps link (short links included) and reads the coordinates from the
// final URL or, failing that, from the page body.
func (c *Client) resolveCoords(ctx context.Context, mapsURL string) (float64, float64, bool) {
	resp, err := c.do(ctx, request{
		op:      "maps_resolve",
		method:  "GET",
		url:     mapsURL,
		cookies: map[string]string{"CONSENT": "YES+"},
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("url", mapsURL).Msg("failed to resolve maps url")
		return 0, 0, false
	}

	if lat, lng, ok := extractCoords(resp.finalURL); ok {
		return lat, lng, true
	}
	return extractCoords(string(resp.body))
}

func extractCoords(text string) (float64, float64, bool) {
	for _, re := range coordPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		lat, err1 := strconv.ParseFloat(m[1], 64)
		lng, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil && lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180 {
			return lat, lng, true
		}
	}
	return 0, 0, false
}
