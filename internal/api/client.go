package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"chess-live-rating/internal/config"
	"chess-live-rating/internal/constants"
	"chess-live-rating/internal/metrics"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const maxRedirects = 5

var errNotFound = errors.New("resource not found")

// Client reads the FIDE rating site and chess-results. It implements the data source the
// aggregation and sync services depend on.
type Client struct {
	fideBase      *url.URL
	resultsBase   *url.URL
	searchURL     string
	areaSearchURL string
	timeout       time.Duration

	// pauses between rated-list requests, zeroed in tests
	retryBackoff time.Duration
	typeDelay    time.Duration

	client *fasthttp.Client
	logger zerolog.Logger
}

func NewClient(cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	fideBase, err := url.Parse(cfg.FideBaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FIDE_BASE_URL: %w", err)
	}
	resultsBase, err := url.Parse(cfg.ChessResultsBaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CHESS_RESULTS_BASE_URL: %w", err)
	}

	return &Client{
		fideBase:      fideBase,
		resultsBase:   resultsBase,
		searchURL:     cfg.ChessResultsSearchURL,
		areaSearchURL: cfg.ChessResultsAreaSearchURL,
		timeout:       cfg.HTTPTimeout,
		retryBackoff:  constants.RatedRetryBackoff,
		typeDelay:     constants.RatedRetryBackoff,
		client: &fasthttp.Client{
			MaxConnsPerHost:     32,
			ReadTimeout:         cfg.HTTPTimeout,
			WriteTimeout:        cfg.HTTPTimeout,
			MaxIdleConnDuration: 1 * time.Minute,
			MaxResponseBodySize: constants.MaxResponseSize,
			// chess-results sends oversized cookie headers on postbacks
			ReadBufferSize: 16 * 1024,
		},
		logger: logger,
	}, nil
}

type request struct {
	op      string
	method  string
	url     string
	form    url.Values
	headers map[string]string
	cookies map[string]string
}

type response struct {
	body     []byte
	finalURL string
	cookies  map[string]string
}

func (c *Client) get(ctx context.Context, op, rawURL string) (*response, error) {
	return c.do(ctx, request{op: op, method: fasthttp.MethodGet, url: rawURL})
}

func (c *Client) getDocument(ctx context.Context, op, rawURL string) (*goquery.Document, *response, error) {
	resp, err := c.get(ctx, op, rawURL)
	if err != nil {
		return nil, nil, err
	}
	doc, err := parseDocument(resp.body)
	if err != nil {
		return nil, nil, err
	}
	return doc, resp, nil
}

func (c *Client) postForm(ctx context.Context, op, rawURL string, form url.Values, cookies map[string]string) (*goquery.Document, error) {
	origin := ""
	if u, err := url.Parse(rawURL); err == nil {
		origin = u.Scheme + "://" + u.Host
	}

	resp, err := c.do(ctx, request{
		op:     op,
		method: fasthttp.MethodPost,
		url:    rawURL,
		form:   form,
		headers: map[string]string{
			"Origin":  origin,
			"Referer": rawURL,
		},
		cookies: cookies,
	})
	if err != nil {
		return nil, err
	}
	return parseDocument(resp.body)
}

// do performs the request, following redirects, and records the outcome under op.
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	start := time.Now()
	resp, err := c.roundTrip(ctx, r)

	status := "success"
	switch {
	case errors.Is(err, errNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	metrics.RecordExternalFetch(r.op, status, time.Since(start).Seconds())

	if err != nil && !errors.Is(err, errNotFound) {
		c.logger.Debug().Err(err).Str("op", r.op).Str("url", r.url).Msg("external request failed")
	}
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, r request) (*response, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	target := r.url
	method := r.method
	form := r.form
	cookies := make(map[string]string, len(r.cookies))
	for k, v := range r.cookies {
		cookies[k] = v
	}

	for i := 0; i <= maxRedirects; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()

		req.SetRequestURI(target)
		req.Header.SetMethod(method)
		req.Header.SetUserAgent(constants.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		for k, v := range r.headers {
			if v != "" {
				req.Header.Set(k, v)
			}
		}
		for k, v := range cookies {
			req.Header.SetCookie(k, v)
		}
		if form != nil {
			req.Header.SetContentType("application/x-www-form-urlencoded")
			req.SetBodyString(form.Encode())
		}

		err := c.client.DoDeadline(req, resp, deadline)
		if err != nil {
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
			return nil, fmt.Errorf("failed to request %s: %w", target, err)
		}

		collectCookies(resp, cookies)
		status := resp.StatusCode()

		if fasthttp.StatusCodeIsRedirect(status) {
			location := string(resp.Header.Peek(fasthttp.HeaderLocation))
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)

			next, err := resolveURL(target, location)
			if err != nil {
				return nil, err
			}
			target = next
			method = fasthttp.MethodGet
			form = nil
			continue
		}

		body := append([]byte(nil), resp.Body()...)
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)

		if status == fasthttp.StatusNotFound {
			return nil, errNotFound
		}
		if status != fasthttp.StatusOK {
			return nil, fmt.Errorf("unexpected status %d from %s", status, target)
		}

		return &response{body: body, finalURL: target, cookies: cookies}, nil
	}

	return nil, fmt.Errorf("too many redirects from %s", r.url)
}

func collectCookies(resp *fasthttp.Response, into map[string]string) {
	resp.Header.VisitAllCookie(func(_, value []byte) {
		cookie := fasthttp.AcquireCookie()
		defer fasthttp.ReleaseCookie(cookie)
		if err := cookie.ParseBytes(value); err == nil {
			into[string(cookie.Key())] = string(cookie.Value())
		}
	})
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", base, err)
	}
	u, err := b.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", ref, err)
	}
	return u.String(), nil
}

func parseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, nil
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
