package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
	DBPath     string `envconfig:"DB_PATH" default:"live_rating.db"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty  bool   `envconfig:"LOG_PRETTY" default:"false"`
	Timezone   string `envconfig:"TIMEZONE" default:"UTC"`

	FideBaseURL               string        `envconfig:"FIDE_BASE_URL" default:"https://ratings.fide.com"`
	ChessResultsBaseURL       string        `envconfig:"CHESS_RESULTS_BASE_URL" default:"https://chess-results.com"`
	ChessResultsSearchURL     string        `envconfig:"CHESS_RESULTS_SEARCH_URL" default:"https://s1.chess-results.com/SpielerSuche.aspx?lan=2"`
	ChessResultsAreaSearchURL string        `envconfig:"CHESS_RESULTS_AREA_SEARCH_URL" default:"https://s2.chess-results.com/TurnierSuche.aspx?lan=2"`
	HTTPTimeout               time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`

	FreshnessWindow           time.Duration `envconfig:"FRESHNESS_WINDOW" default:"1h"`
	RatedCacheTTL             time.Duration `envconfig:"RATED_CACHE_TTL" default:"15m"`
	ProfileCacheTTL           time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"10m"`
	ScrapeConcurrency         int           `envconfig:"SCRAPE_CONCURRENCY" default:"4"`
	MaxTournaments            int           `envconfig:"MAX_TOURNAMENTS" default:"10"`
	OpponentLookupConcurrency int           `envconfig:"OPPONENT_LOOKUP_CONCURRENCY" default:"4"`

	SyncEnabled        bool          `envconfig:"SYNC_ENABLED" default:"true"`
	SyncCron           string        `envconfig:"SYNC_CRON" default:"0 */6 * * *"`
	SyncAreas          []string      `envconfig:"SYNC_AREAS" default:"ESP:Madrid,ESP:Bilbao"`
	SyncUpdateInterval time.Duration `envconfig:"SYNC_UPDATE_INTERVAL" default:"12h"`
	SyncFetchDelay     time.Duration `envconfig:"SYNC_FETCH_DELAY" default:"500ms"`
	AreaTermsPath      string        `envconfig:"AREA_TERMS_PATH"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`

	// AreaTerms overrides the built-in city search terms, loaded from AreaTermsPath.
	AreaTerms map[string][]string `ignored:"true"`
	Location  *time.Location      `ignored:"true"`
}

// Area is one country/city pair from SYNC_AREAS.
type Area struct {
	Country string
	City    string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.AreaTermsPath != "" {
		terms, err := loadAreaTerms(cfg.AreaTermsPath)
		if err != nil {
			return nil, err
		}
		cfg.AreaTerms = terms
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Bool("log_pretty", cfg.LogPretty).
		Str("timezone", cfg.Timezone).
		Dur("freshness_window", cfg.FreshnessWindow).
		Int("scrape_concurrency", cfg.ScrapeConcurrency).
		Bool("sync_enabled", cfg.SyncEnabled).
		Strs("sync_areas", cfg.SyncAreas).
		Bool("redis", cfg.RedisAddr != "").
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ScrapeConcurrency <= 0 {
		return fmt.Errorf("SCRAPE_CONCURRENCY must be positive, got %d", c.ScrapeConcurrency)
	}
	if c.OpponentLookupConcurrency <= 0 {
		return fmt.Errorf("OPPONENT_LOOKUP_CONCURRENCY must be positive, got %d", c.OpponentLookupConcurrency)
	}
	if c.MaxTournaments <= 0 {
		return fmt.Errorf("MAX_TOURNAMENTS must be positive, got %d", c.MaxTournaments)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if c.FreshnessWindow <= 0 {
		return fmt.Errorf("FRESHNESS_WINDOW must be positive")
	}
	if _, err := c.Areas(); err != nil {
		return err
	}
	return nil
}

// Areas parses SYNC_AREAS entries of the form COUNTRY:City.
func (c *Config) Areas() ([]Area, error) {
	areas := make([]Area, 0, len(c.SyncAreas))
	for _, raw := range c.SyncAreas {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		country, city, ok := strings.Cut(raw, ":")
		country, city = strings.TrimSpace(country), strings.TrimSpace(city)
		if !ok || country == "" || city == "" {
			return nil, fmt.Errorf("invalid SYNC_AREAS entry %q, expected COUNTRY:City", raw)
		}
		areas = append(areas, Area{Country: strings.ToUpper(country), City: city})
	}
	return areas, nil
}

func loadAreaTerms(path string) (map[string][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read area terms: %w", err)
	}
	terms := make(map[string][]string)
	if err := json.Unmarshal(raw, &terms); err != nil {
		return nil, fmt.Errorf("failed to parse area terms: %w", err)
	}
	return terms, nil
}

var Module = fx.Provide(Load)
