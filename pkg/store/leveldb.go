package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	levelKeyPrefix = "e:"
	expiryHeader   = 8
)

// LevelDB is a persistent Store backed by an on-disk LevelDB database.
//
// Each value is prefixed with its expiry as big-endian unix nanoseconds
// (zero means no expiry). Expired entries are hidden from Get and removed
// by Sweep.
type LevelDB struct {
	db     *leveldb.DB
	logger zerolog.Logger
	now    func() time.Time

	// serializes read-modify-write so PutIfAbsent is atomic within the process
	mu sync.Mutex
}

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path string, logger zerolog.Logger) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{
		db:     db,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Get returns the live value for key.
func (l *LevelDB) Get(_ context.Context, key string) ([]byte, error) {
	raw, err := l.db.Get(levelKey(key), nil)
	if err != nil {
		return nil, l.translate("get", err)
	}
	value, expires, err := decodeLevelValue(raw)
	if err != nil {
		StoreErrors.WithLabelValues("leveldb", "get").Inc()
		return nil, fmt.Errorf("leveldb get %q: %w", key, err)
	}
	if !expires.IsZero() && !l.now().Before(expires) {
		return nil, ErrNotFound
	}
	return value, nil
}

// Put stores value under key with the given ttl.
func (l *LevelDB) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.Put(levelKey(key), encodeLevelValue(value, expiryFor(l.now(), ttl)), nil); err != nil {
		return l.translate("put", err)
	}
	return nil
}

// PutIfAbsent stores value only when key has no live entry.
func (l *LevelDB) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.Get(ctx, key)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrNotFound):
		return false, err
	}
	if err := l.db.Put(levelKey(key), encodeLevelValue(value, expiryFor(l.now(), ttl)), nil); err != nil {
		return false, l.translate("claim", err)
	}
	return true, nil
}

// Delete removes key.
func (l *LevelDB) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.Delete(levelKey(key), nil); err != nil {
		return l.translate("delete", err)
	}
	return nil
}

// Sweep deletes expired entries in a single batch.
func (l *LevelDB) Sweep(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	batch := new(leveldb.Batch)

	it := l.db.NewIterator(util.BytesPrefix([]byte(levelKeyPrefix)), nil)
	for it.Next() {
		if ctx.Err() != nil {
			break
		}
		_, expires, err := decodeLevelValue(it.Value())
		if err != nil || (!expires.IsZero() && !now.Before(expires)) {
			key := make([]byte, len(it.Key()))
			copy(key, it.Key())
			batch.Delete(key)
		}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return 0, l.translate("sweep", err)
	}
	if batch.Len() == 0 {
		return 0, ctx.Err()
	}
	if err := l.db.Write(batch, nil); err != nil {
		return 0, l.translate("sweep", err)
	}
	SweptEntries.WithLabelValues("leveldb").Add(float64(batch.Len()))
	return batch.Len(), ctx.Err()
}

// Close closes the underlying database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

func (l *LevelDB) translate(op string, err error) error {
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return ErrClosed
	}
	StoreErrors.WithLabelValues("leveldb", op).Inc()
	l.logger.Error().Err(err).Str("operation", op).Msg("leveldb error")
	return fmt.Errorf("leveldb %s: %w", op, err)
}

func levelKey(key string) []byte {
	return []byte(levelKeyPrefix + key)
}

func encodeLevelValue(value []byte, expires time.Time) []byte {
	out := make([]byte, expiryHeader+len(value))
	if !expires.IsZero() {
		binary.BigEndian.PutUint64(out[:expiryHeader], uint64(expires.UnixNano()))
	}
	copy(out[expiryHeader:], value)
	return out
}

func decodeLevelValue(raw []byte) ([]byte, time.Time, error) {
	if len(raw) < expiryHeader {
		return nil, time.Time{}, fmt.Errorf("corrupt entry: %d bytes", len(raw))
	}
	var expires time.Time
	if ns := binary.BigEndian.Uint64(raw[:expiryHeader]); ns != 0 {
		expires = time.Unix(0, int64(ns))
	}
	value := make([]byte, len(raw)-expiryHeader)
	copy(value, raw[expiryHeader:])
	return value, expires, nil
}
