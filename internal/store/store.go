package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Common errors
var (
	// ErrNotFound indicates the store path does not exist.
	ErrNotFound = errors.New("store path not found")
	// ErrNotADirectory indicates the store path exists but is not a directory.
	ErrNotADirectory = errors.New("store path is not a directory")
	// ErrCorrupt indicates the store directory exists but the engine could not open it.
	ErrCorrupt = errors.New("store is corrupt or not a valid database")
	// ErrKeyNotFound is returned by GetExact when the key is absent.
	ErrKeyNotFound = errors.New("key not found")
)

// Supported backends.
const (
	BackendPebble = "pebble"
	BackendBadger = "badger"
)

// Entry is a single key/value pair read from the store. Key and Value are
// copies owned by the caller; they stay valid after the read transaction
// that produced them is closed.
type Entry struct {
	Key   []byte
	Value []byte
}

// Stats describes the opened store.
type Stats struct {
	Entries  uint64 `json:"entries"`
	DiskSize int64  `json:"disk_size"`
	Backend  string `json:"backend"`
	Path     string `json:"path"`
}

// Store provides read-only access to an embedded key-value store.
//
// A Store is opened once per process and is safe for concurrent use: every
// read operation establishes its own snapshot/read transaction, so concurrent
// external writers to the same database are tolerated and never observed
// mid-iteration.
type Store interface {
	// Backend returns the engine name ("pebble" or "badger").
	Backend() string

	// Path returns the directory the store was opened from.
	Path() string

	// Count returns the total number of entries.
	Count(ctx context.Context) (uint64, error)

	// IterateRange returns up to limit entries in native key order, starting
	// at the offset-th entry. An offset at or beyond the entry count yields
	// an empty result, not an error. Each call walks from the start of a
	// fresh snapshot; iteration is not restartable mid-stream.
	IterateRange(ctx context.Context, offset, limit uint64) ([]Entry, error)

	// GetExact returns the entry for an exact key, or ErrKeyNotFound.
	GetExact(ctx context.Context, key []byte) (*Entry, error)

	// GetPrefix returns up to limit entries whose key begins with prefix,
	// in key order.
	GetPrefix(ctx context.Context, prefix []byte, limit uint64) ([]Entry, error)

	// GetPattern returns up to limit entries whose key contains substring.
	// This is a full O(n) scan over the keyspace; there is no substring
	// index. Use GetPrefix where possible.
	GetPattern(ctx context.Context, substring string, limit uint64) ([]Entry, error)

	// Stats returns entry count and approximate on-disk size.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases the underlying database handle.
	Close() error
}

// Options configures Open.
type Options struct {
	Path    string
	Backend string // BackendPebble (default) or BackendBadger
	Logger  *logrus.Logger
}

// Open opens an existing store strictly read-only. It never creates or
// migrates a database: a missing path fails with ErrNotFound, a file path
// with ErrNotADirectory, and an unreadable database with ErrCorrupt.
func Open(opts Options) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if err := validatePath(opts.Path); err != nil {
		return nil, err
	}

	switch opts.Backend {
	case "", BackendPebble:
		return openPebble(opts)
	case BackendBadger:
		return openBadger(opts)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func validatePath(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat store path %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotADirectory, path)
	}
	return nil
}

// prefixEnd returns the exclusive upper bound for a prefix scan.
// It increments the last byte of the prefix; returns nil if all bytes overflow.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // all bytes overflowed, no upper bound
}

// clone returns a caller-owned copy of b.
func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
