package domain

import "errors"

var (
	ErrNotFound       = errors.New("record not found")
	ErrPlayerNotFound = errors.New("player not found")
	ErrSyncInProgress = errors.New("sync already in progress")
)
