package store

import (
	"bytes"
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerStore implements Store over a BadgerDB database opened read-only.
// Each read runs inside its own View transaction (MVCC snapshot).
type BadgerStore struct {
	db     *badger.DB
	path   string
	logger *logrus.Logger
}

func openBadger(opts Options) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithReadOnly(true).
		WithLogger(newBadgerLogger(opts.Logger)).
		WithIndexCacheSize(64 << 20).
		WithBlockCacheSize(64 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	opts.Logger.WithField("path", opts.Path).Info("Badger store opened read-only")
	return &BadgerStore{db: db, path: opts.Path, logger: opts.Logger}, nil
}

// Backend returns "badger".
func (s *BadgerStore) Backend() string { return BackendBadger }

// Path returns the store directory.
func (s *BadgerStore) Path() string { return s.path }

// Count walks all keys in a read transaction without fetching values.
func (s *BadgerStore) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchValues = false
		it := txn.NewIterator(itOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed during key count: %w", err)
	}
	return n, nil
}

// IterateRange returns entries [offset, offset+limit) in key order.
func (s *BadgerStore) IterateRange(ctx context.Context, offset, limit uint64) ([]Entry, error) {
	if limit == 0 {
		return nil, nil
	}

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var idx uint64
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if idx < offset {
				idx++
				continue
			}
			entry, err := entryFromItem(it.Item())
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
			if uint64(len(entries)) >= limit {
				return nil
			}
			idx++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed during range iteration: %w", err)
	}
	return entries, nil
}

// GetExact reads a single key.
func (s *BadgerStore) GetExact(ctx context.Context, key []byte) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		entry, err = entryFromItem(item)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return entry, nil
}

// GetPrefix scans keys beginning with prefix, bounded by limit.
func (s *BadgerStore) GetPrefix(ctx context.Context, prefix []byte, limit uint64) ([]Entry, error) {
	if limit == 0 {
		return nil, nil
	}

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = prefix
		it := txn.NewIterator(itOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := entryFromItem(it.Item())
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
			if uint64(len(entries)) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed during prefix scan: %w", err)
	}
	return entries, nil
}

// GetPattern is a full keyspace scan matching keys that contain substring.
func (s *BadgerStore) GetPattern(ctx context.Context, substring string, limit uint64) ([]Entry, error) {
	if limit == 0 {
		return nil, nil
	}
	pattern := []byte(substring)

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !bytes.Contains(it.Item().Key(), pattern) {
				continue
			}
			entry, err := entryFromItem(it.Item())
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
			if uint64(len(entries)) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed during pattern scan: %w", err)
	}
	return entries, nil
}

// Stats returns the entry count and Badger's reported LSM+vlog size.
func (s *BadgerStore) Stats(ctx context.Context) (*Stats, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	lsm, vlog := s.db.Size()
	return &Stats{
		Entries:  count,
		DiskSize: lsm + vlog,
		Backend:  BackendBadger,
		Path:     s.path,
	}, nil
}

// Close shuts down the Badger handle.
func (s *BadgerStore) Close() error {
	s.logger.Info("Closing Badger store")
	return s.db.Close()
}

func entryFromItem(item *badger.Item) (*Entry, error) {
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to copy value: %w", err)
	}
	return &Entry{Key: item.KeyCopy(nil), Value: value}, nil
}

// badgerLogger adapts logrus to BadgerDB's logger interface
type badgerLogger struct {
	logger *logrus.Logger
}

func newBadgerLogger(logger *logrus.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Tracef("[BadgerDB] "+format, args...)
}

var _ Store = (*BadgerStore)(nil)
