// Package storage persists the error log and small key/value records such as
// error metrics and cached transcripts.
//
// Three backends are provided: an in-memory store for tests and single-run
// deployments, SQLite for durable single-instance storage, and Redis for
// deployments that share state between replicas.
package storage

import (
	"context"
	"errors"
	"strings"
)

// CachePrefix marks keys that ClearCache may delete.
const CachePrefix = "cache:"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Store is the persistence collaborator.
type Store interface {
	// AppendLog appends entry and keeps only the newest limit entries.
	AppendLog(ctx context.Context, entry []byte, limit int) error

	// ReadLog returns the log oldest first.
	ReadLog(ctx context.Context) ([][]byte, error)

	// ClearLog removes every log entry.
	ClearLog(ctx context.Context) error

	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error

	// ClearCache deletes every key that starts with CachePrefix.
	ClearCache(ctx context.Context) error

	Close() error
}

// CacheKey builds a key under CachePrefix.
func CacheKey(parts ...string) string {
	return CachePrefix + strings.Join(parts, ":")
}

// IsCacheKey reports whether key lives under CachePrefix.
func IsCacheKey(key string) bool {
	return strings.HasPrefix(key, CachePrefix)
}
