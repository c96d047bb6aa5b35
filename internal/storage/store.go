// Package storage defines the object store that holds corpus blobs.
package storage

import (
	"context"
	"fmt"
	"time"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ObjectStore is a flat key/blob store with prefix listing.
// Get and Delete return an errs.ErrNotFound error for missing keys.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open creates the store for backend ("sqlite" or "badger").
func Open(backend, sqlitePath, badgerPath string, opts ...Option) (ObjectStore, error) {
	switch backend {
	case "sqlite", "":
		return NewSQLiteStore(sqlitePath, opts...)
	case "badger":
		return NewBadgerStore(badgerPath, opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: sqlite, badger)", backend)
	}
}
