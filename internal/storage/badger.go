package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/hyperjump/saiten/internal/errs"
)

// BadgerStore implements ObjectStore on BadgerDB. Each object is two entries: the body
// under "o/<key>" and a 16-byte record under "m/<key>" holding the big-endian UnixNano
// timestamp and the body size, so listing never reads bodies.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

const (
	objectPrefix = "o/"
	metaPrefix   = "m/"
	metaSize     = 16
)

// NewBadgerStore opens a store at path. An empty path opens an in-memory database.
func NewBadgerStore(path string, opts ...Option) (*BadgerStore, error) {
	o := buildOptions(opts)
	bopts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db, now: o.now}, nil
}

func encodeMeta(updated time.Time, size int) []byte {
	meta := make([]byte, metaSize)
	binary.BigEndian.PutUint64(meta, uint64(updated.UnixNano()))
	binary.BigEndian.PutUint64(meta[8:], uint64(size))
	return meta
}

func decodeMeta(key string, meta []byte) (ObjectInfo, error) {
	if len(meta) != metaSize {
		return ObjectInfo{}, fmt.Errorf("corrupt metadata for %s", key)
	}
	return ObjectInfo{
		Key:       key,
		UpdatedAt: time.Unix(0, int64(binary.BigEndian.Uint64(meta))),
		Size:      int64(binary.BigEndian.Uint64(meta[8:])),
	}, nil
}

// Put stores body at key, replacing any prior value.
func (s *BadgerStore) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(objectPrefix+key), body); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+key), encodeMeta(s.now(), len(body)))
	})
	if err != nil {
		return errs.Upstream(err, "put object %s", key)
	}
	return nil
}

// Get returns the body stored at key.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var body []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(objectPrefix + key))
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errs.NotFound("object not found: %s", key)
	}
	if err != nil {
		return nil, errs.Upstream(err, "get object %s", key)
	}
	return body, nil
}

// List returns objects under prefix in key order. Only metadata entries are read.
func (s *BadgerStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []ObjectInfo
	err := s.db.View(func(txn *badger.Txn) error {
		p := []byte(metaPrefix + prefix)
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		iopts.Prefix = p
		it := txn.NewIterator(iopts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(metaPrefix):])
			meta, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			info, err := decodeMeta(key, meta)
			if err != nil {
				return err
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Upstream(err, "list objects %s", prefix)
	}
	return out, nil
}

// Delete removes key.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(objectPrefix + key)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(objectPrefix + key)); err != nil {
			return err
		}
		return txn.Delete([]byte(metaPrefix + key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errs.NotFound("object not found: %s", key)
	}
	if err != nil {
		return errs.Upstream(err, "delete object %s", key)
	}
	return nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
