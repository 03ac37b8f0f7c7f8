package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"chess-live-rating/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlayers struct {
	view  *domain.AggregatedPlayerView
	err   error
	force bool
	id    string
}

func (s *stubPlayers) GetOrRefresh(_ context.Context, playerID string, force bool) (*domain.AggregatedPlayerView, error) {
	s.id, s.force = playerID, force
	return s.view, s.err
}

type stubCatalog struct {
	mu        sync.Mutex
	docs      []domain.TournamentDocument
	err       error
	listed    [3]string
	triggered []string
}

func (s *stubCatalog) ListArea(_ context.Context, country, city, tempo string) ([]domain.TournamentDocument, error) {
	s.listed = [3]string{country, city, tempo}
	return s.docs, s.err
}

func (s *stubCatalog) TriggerArea(country, city string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = append(s.triggered, country+":"+city)
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func serve(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetPlayer(t *testing.T) {
	players := &stubPlayers{view: &domain.AggregatedPlayerView{PlayerID: "2201099", LiveStandard: 1767.1, IsStale: true}}
	srv := New(players, &stubCatalog{}, nil, false, zerolog.Nop())

	rec := serve(t, srv, "/api/players/2201099?refresh=true")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "2201099", players.id)
	assert.True(t, players.force)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body domain.AggregatedPlayerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 1767.1, body.LiveStandard, 0.001)
	assert.True(t, body.IsStale)
}

func TestGetPlayer_Errors(t *testing.T) {
	cases := []struct {
		name   string
		target string
		err    error
		status int
		body   string
	}{
		{"not found", "/api/players/404", domain.ErrPlayerNotFound, http.StatusNotFound, `{"error":"player not found"}`},
		{"wrapped not found", "/api/players/404", errors.Join(errors.New("lookup"), domain.ErrPlayerNotFound), http.StatusNotFound, `{"error":"player not found"}`},
		{"upstream failure", "/api/players/1", errors.New("boom"), http.StatusInternalServerError, `{"error":"failed to fetch player data"}`},
		{"bad id", "/api/players/abc", nil, http.StatusBadRequest, `{"error":"invalid player id"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := New(&stubPlayers{err: tc.err}, &stubCatalog{}, nil, false, zerolog.Nop())
			rec := serve(t, srv, tc.target)
			assert.Equal(t, tc.status, rec.Code)
			assert.JSONEq(t, tc.body, rec.Body.String())
		})
	}
}

func TestListTournaments(t *testing.T) {
	catalog := &stubCatalog{docs: []domain.TournamentDocument{{ID: "1", Name: "Open Bilbao", Country: "ESP"}}}
	srv := New(&stubPlayers{}, catalog, nil, false, zerolog.Nop())

	rec := serve(t, srv, "/api/tournaments?city=Bilbao&tempo=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [3]string{"ESP", "Bilbao", "2"}, catalog.listed)
	assert.Equal(t, []string{"ESP:Bilbao"}, catalog.triggered)

	var docs []domain.TournamentDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "Open Bilbao", docs[0].Name)
}

func TestListTournaments_NoCityDoesNotTriggerSync(t *testing.T) {
	catalog := &stubCatalog{docs: []domain.TournamentDocument{}}
	srv := New(&stubPlayers{}, catalog, nil, false, zerolog.Nop())

	rec := serve(t, srv, "/api/tournaments?country=fra")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "FRA", catalog.listed[0])
	assert.Empty(t, catalog.triggered)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListTournaments_StoreFailure(t *testing.T) {
	srv := New(&stubPlayers{}, &stubCatalog{err: errors.New("db down")}, nil, false, zerolog.Nop())
	rec := serve(t, srv, "/api/tournaments?city=Madrid")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to fetch tournaments"}`, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	ok := New(&stubPlayers{}, &stubCatalog{}, stubPinger{}, false, zerolog.Nop())
	assert.Equal(t, http.StatusOK, serve(t, ok, "/healthz").Code)

	down := New(&stubPlayers{}, &stubCatalog{}, stubPinger{err: errors.New("closed")}, false, zerolog.Nop())
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, down, "/healthz").Code)
}

func TestMetricsRoute(t *testing.T) {
	on := New(&stubPlayers{}, &stubCatalog{}, nil, true, zerolog.Nop())
	assert.Equal(t, http.StatusOK, serve(t, on, "/metrics").Code)

	off := New(&stubPlayers{}, &stubCatalog{}, nil, false, zerolog.Nop())
	assert.Equal(t, http.StatusNotFound, serve(t, off, "/metrics").Code)
}
