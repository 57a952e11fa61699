package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

// PebbleStore implements Store over a Pebble (LSM) database opened read-only.
// Every read operation runs against its own snapshot, so concurrent writers
// from another process never interleave with an in-flight scan.
type PebbleStore struct {
	db     *pebble.DB
	path   string
	logger *logrus.Logger
}

func openPebble(opts Options) (*PebbleStore, error) {
	cache := pebble.NewCache(64 << 20) // 64 MB block cache
	defer cache.Unref()

	pebbleOpts := &pebble.Options{
		Cache:    cache,
		ReadOnly: true,
		Logger:   &pebbleLogger{logger: opts.Logger},
	}

	db, err := pebble.Open(opts.Path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	opts.Logger.WithField("path", opts.Path).Info("Pebble store opened read-only")
	return &PebbleStore{db: db, path: opts.Path, logger: opts.Logger}, nil
}

// Backend returns "pebble".
func (s *PebbleStore) Backend() string { return BackendPebble }

// Path returns the store directory.
func (s *PebbleStore) Path() string { return s.path }

// Count walks all keys in a snapshot. Pebble keeps no exact entry count, so
// this is O(n) over keys (values are not fetched).
func (s *PebbleStore) Count(ctx context.Context) (uint64, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close() //nolint:errcheck

	iter, err := snap.NewIter(nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	var n uint64
	for valid := iter.First(); valid; valid = iter.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("failed during key count: %w", err)
	}
	return n, nil
}

// IterateRange returns entries [offset, offset+limit) in key order.
func (s *PebbleStore) IterateRange(ctx context.Context, offset, limit uint64) ([]Entry, error) {
	if limit == 0 {
		return nil, nil
	}

	snap := s.db.NewSnapshot()
	defer snap.Close() //nolint:errcheck

	iter, err := snap.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	entries := make([]Entry, 0, min(limit, 64))
	var idx uint64
	for valid := iter.First(); valid; valid = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if idx < offset {
			idx++
			continue
		}
		entries = append(entries, Entry{Key: clone(iter.Key()), Value: clone(iter.Value())})
		if uint64(len(entries)) >= limit {
			break
		}
		idx++
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed during range iteration: %w", err)
	}
	return entries, nil
}

// GetExact reads a single key from a snapshot.
func (s *PebbleStore) GetExact(ctx context.Context, key []byte) (*Entry, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close() //nolint:errcheck

	val, closer, err := snap.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	entry := &Entry{Key: clone(key), Value: clone(val)}
	_ = closer.Close()
	return entry, nil
}

// GetPrefix scans [prefix, prefixEnd(prefix)) bounded by limit.
func (s *PebbleStore) GetPrefix(ctx context.Context, prefix []byte, limit uint64) ([]Entry, error) {
	if limit == 0 {
		return nil, nil
	}

	snap := s.db.NewSnapshot()
	defer snap.Close() //nolint:errcheck

	iter, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	var entries []Entry
	for valid := iter.First(); valid; valid = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: clone(iter.Key()), Value: clone(iter.Value())})
		if uint64(len(entries)) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed during prefix scan: %w", err)
	}
	return entries, nil
}

// GetPattern is a full keyspace scan matching keys that contain substring.
func (s *PebbleStore) GetPattern(ctx context.Context, substring string, limit uint64) ([]Entry, error) {
	if limit == 0 {
		return nil, nil
	}
	pattern := []byte(substring)

	snap := s.db.NewSnapshot()
	defer snap.Close() //nolint:errcheck

	iter, err := snap.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	var entries []Entry
	for valid := iter.First(); valid; valid = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !bytes.Contains(iter.Key(), pattern) {
			continue
		}
		entries = append(entries, Entry{Key: clone(iter.Key()), Value: clone(iter.Value())})
		if uint64(len(entries)) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed during pattern scan: %w", err)
	}
	return entries, nil
}

// Stats returns the entry count and the engine's reported disk usage.
func (s *PebbleStore) Stats(ctx context.Context) (*Stats, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	metrics := s.db.Metrics()
	return &Stats{
		Entries:  count,
		DiskSize: int64(metrics.DiskSpaceUsage()),
		Backend:  BackendPebble,
		Path:     s.path,
	}, nil
}

// Close shuts down the Pebble handle.
func (s *PebbleStore) Close() error {
	s.logger.Info("Closing Pebble store")
	return s.db.Close()
}

// pebbleLogger adapts logrus to pebble's Logger interface (Infof + Fatalf).
type pebbleLogger struct {
	logger *logrus.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[Pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatalf("[Pebble] "+format, args...)
}

var _ Store = (*PebbleStore)(nil)
