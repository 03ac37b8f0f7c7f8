package constants

import "time"

const (
	RatedRetryAttempts = 2
	RatedRetryBackoff  = 1 * time.Second
	BackgroundTimeout  = 5 * time.Minute
)

const (
	DatabaseTimeout = 5 * time.Second
	RequestTimeout  = 90 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 10 * time.Second
)

const (
	UserAgent       = "Mozilla/5.0 (compatible; chess-live-rating/1.0)"
	MaxResponseSize = 8 << 20
)
