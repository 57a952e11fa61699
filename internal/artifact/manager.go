// Package artifact manages request-scoped temporary files produced by field
// processors (transcoded audio, rendered images). Artifacts are created
// inside a Scope tied to one search request: if the request fails or is
// cancelled the whole scope is released, and on success the scope is adopted
// by the manager with a TTL so the UI can fetch the files before a sweeper
// deletes them. Cleanup never relies on process exit.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handle references one temporary artifact.
type Handle struct {
	ID   string
	Path string
}

type servedArtifact struct {
	path    string
	expires time.Time
}

// Manager owns the artifact directory and the set of adopted artifacts.
type Manager struct {
	root    string
	ownRoot bool // root was created by us and is removed on Close
	ttl     time.Duration
	logger  *logrus.Logger

	mu     sync.Mutex
	served map[string]servedArtifact

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Options configures NewManager.
type Options struct {
	// Dir is the artifact directory. Empty means a fresh temp directory.
	Dir string
	// TTL bounds how long an adopted artifact stays fetchable. Zero means
	// 5 minutes.
	TTL    time.Duration
	Logger *logrus.Logger
}

// NewManager creates the artifact directory and starts the expiry sweeper.
func NewManager(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}

	root := opts.Dir
	ownRoot := false
	if root == "" {
		dir, err := os.MkdirTemp("", "kvlens-artifacts-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create artifact directory: %w", err)
		}
		root = dir
		ownRoot = true
	} else if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	m := &Manager{
		root:    root,
		ownRoot: ownRoot,
		ttl:     opts.TTL,
		logger:  opts.Logger,
		served:  make(map[string]servedArtifact),
		stopCh:  make(chan struct{}),
	}
	go m.runSweeper()

	opts.Logger.WithField("path", root).Debug("Artifact manager initialized")
	return m, nil
}

// NewScope starts a fresh request-scoped artifact set.
func (m *Manager) NewScope() *Scope {
	return &Scope{manager: m}
}

// Adopt transfers a scope's artifacts to the manager for serving. The scope
// is emptied, so a later Release on it is a no-op.
func (m *Manager) Adopt(s *Scope) {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	if len(handles) == 0 {
		return
	}

	expires := time.Now().Add(m.ttl)
	m.mu.Lock()
	for _, h := range handles {
		m.served[h.ID] = servedArtifact{path: h.Path, expires: expires}
	}
	m.mu.Unlock()
}

// Lookup resolves an adopted artifact ID to its file path.
func (m *Manager) Lookup(id string) (string, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.served[id]
	if !ok || time.Now().After(a.expires) {
		return "", false
	}
	return a.path, true
}

// Count returns the number of currently adopted artifacts.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.served)
}

// Close stops the sweeper and removes everything the manager still owns.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	for id, a := range m.served {
		if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
			m.logger.WithError(err).WithField("artifact", id).Warn("Failed to remove artifact")
		}
		delete(m.served, id)
	}
	m.mu.Unlock()

	if m.ownRoot {
		return os.RemoveAll(m.root)
	}
	return nil
}

func (m *Manager) runSweeper() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepExpired(time.Now())
		}
	}
}

func (m *Manager) sweepExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.served {
		if now.After(a.expires) {
			if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
				m.logger.WithError(err).WithField("artifact", id).Warn("Failed to remove expired artifact")
			}
			delete(m.served, id)
		}
	}
}

// Scope collects the artifacts of one request. It is safe for use from the
// goroutine serving that request; Release is idempotent.
type Scope struct {
	manager *Manager
	mu      sync.Mutex
	handles []Handle
}

// Create opens a new artifact file with the given extension (e.g. ".wav").
// The caller writes the content and closes the file; the scope tracks it
// for release.
func (s *Scope) Create(ext string) (*os.File, Handle, error) {
	id := uuid.NewString()
	path := filepath.Join(s.manager.root, id+ext)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, Handle{}, fmt.Errorf("failed to create artifact: %w", err)
	}
	h := Handle{ID: id, Path: path}

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return f, h, nil
}

// Release removes every artifact still owned by the scope. Called on error
// and cancellation paths; a no-op after Adopt.
func (s *Scope) Release() {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	for _, h := range handles {
		if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
			s.manager.logger.WithError(err).WithField("artifact", h.ID).Warn("Failed to release artifact")
		}
	}
}
