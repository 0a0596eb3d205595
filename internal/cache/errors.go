package cache

import "errors"

// Cache errors.
var (
	ErrNotFound      = errors.New("cache entry not found")
	ErrInstallFailed = errors.New("precache install failed")
)
