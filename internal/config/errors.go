package config

import "errors"

var (
	ErrLookupAddrMissing   = errors.New("LOOKUP_ADDR is required")
	ErrInvalidRedisDB      = errors.New("REDIS_DB must be a valid integer")
	ErrInvalidCacheTTL     = errors.New("CACHE_TTL must be a valid duration")
	ErrInvalidCacheSize    = errors.New("CACHE_SIZE must be a positive integer")
	ErrInvalidBatchWindow  = errors.New("BATCH_WINDOW must be a positive duration")
	ErrInvalidFetchTimeout = errors.New("FETCH_TIMEOUT must be a valid duration")
)
