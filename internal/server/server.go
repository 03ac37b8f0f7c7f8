package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"chess-live-rating/internal/domain"
	"chess-live-rating/internal/middleware"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const defaultCountry = "ESP"

type PlayerViewer interface {
	GetOrRefresh(ctx context.Context, playerID string, force bool) (*domain.AggregatedPlayerView, error)
}

type AreaCatalog interface {
	ListArea(ctx context.Context, country, city, tempo string) ([]domain.TournamentDocument, error)
	TriggerArea(country, city string)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server exposes the live rating views and the stored tournament listings over HTTP.
type Server struct {
	players        PlayerViewer
	tournaments    AreaCatalog
	db             Pinger
	metricsEnabled bool
	logger         zerolog.Logger
}

func New(players PlayerViewer, tournaments AreaCatalog, db Pinger, metricsEnabled bool, logger zerolog.Logger) *Server {
	return &Server{
		players:        players,
		tournaments:    tournaments,
		db:             db,
		metricsEnabled: metricsEnabled,
		logger:         logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestID(s.logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/players/{id}", s.getPlayer)
		r.Get("/tournaments", s.listTournaments)
	})

	r.Get("/healthz", s.healthz)
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) getPlayer(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if !validPlayerID(id) {
		s.writeError(w, r, http.StatusBadRequest, "invalid player id")
		return
	}
	force := r.URL.Query().Get("refresh") == "true"

	view, err := s.players.GetOrRefresh(r.Context(), id, force)
	if err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			s.writeError(w, r, http.StatusNotFound, "player not found")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("player_id", id).Msg("failed to serve player")
		s.writeError(w, r, http.StatusInternalServerError, "failed to fetch player data")
		return
	}

	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Surrogate-Control", "no-store")
	s.writeJSON(w, r, http.StatusOK, view)
}

func (s *Server) listTournaments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	country := strings.ToUpper(strings.TrimSpace(q.Get("country")))
	if country == "" {
		country = defaultCountry
	}
	city := strings.TrimSpace(q.Get("city"))
	tempo := strings.TrimSpace(q.Get("tempo"))

	docs, err := s.tournaments.ListArea(r.Context(), country, city, tempo)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("country", country).Msg("failed to list tournaments")
		s.writeError(w, r, http.StatusInternalServerError, "failed to fetch tournaments")
		return
	}

	if city != "" {
		s.tournaments.TriggerArea(country, city)
	}
	s.writeJSON(w, r, http.StatusOK, docs)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("health check failed")
			s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, map[string]string{"error": msg})
}

// validPlayerID accepts numeric FIDE ids.
func validPlayerID(id string) bool {
	if id == "" || len(id) > 12 {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
