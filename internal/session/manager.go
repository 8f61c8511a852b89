package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vbeats/vbeats-api/internal/compositor"
	"github.com/vbeats/vbeats-api/internal/job"
	"github.com/vbeats/vbeats-api/internal/storage"
	"github.com/vbeats/vbeats-api/internal/trim"
)

// ErrSessionNotFound is returned when a session ID is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// Factory builds the photo editor and trim controller of a new session.
type Factory func(sessionID string) (*compositor.Editor, *trim.Controller, error)

// Config configures a Manager.
type Config struct {
	Factory Factory
	Jobs    *job.Service
	Storage storage.Storage
	// TTL is the idle time after which a session is evicted.
	TTL    time.Duration
	Logger *slog.Logger
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Manager owns every live session.
type Manager struct {
	factory Factory
	jobs    *job.Service
	store   storage.Storage
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

// NewManager creates a session manager. Call Start to run the idle sweeper.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		factory:  cfg.Factory,
		jobs:     cfg.Jobs,
		store:    cfg.Storage,
		ttl:      cfg.TTL,
		logger:   logger,
		now:      now,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Create starts a new session on the photo tab.
func (m *Manager) Create() (*Session, error) {
	id := uuid.NewString()
	photo, video, err := m.factory(id)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s := newSession(id, m.now(), photo, video)
	m.mu.Lock()
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session created", slog.String("session_id", id), slog.Int("active", count))
	return s, nil
}

// Get returns a live session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Delete ends a session: its engine is released and its jobs and
// artifacts are removed. A session with a trim in flight is kept and
// trim.ErrTrimInProgress is returned.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if s.Video.Status().Trimming {
		m.mu.Unlock()
		return trim.ErrTrimInProgress
	}
	delete(m.sessions, id)
	m.mu.Unlock()
	return m.release(ctx, s)
}

func (m *Manager) release(ctx context.Context, s *Session) error {
	var errs []error
	if err := s.Video.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close trim controller: %w", err))
	}

	if m.jobs != nil {
		jobs, err := m.jobs.PurgeSession(ctx, s.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge jobs: %w", err))
		}
		var paths []string
		for _, j := range jobs {
			if j.OutputPath != "" {
				paths = append(paths, j.OutputPath)
			}
		}
		if len(paths) > 0 && m.store != nil {
			if err := m.store.CleanupTemp(ctx, paths); err != nil {
				errs = append(errs, fmt.Errorf("cleanup outputs: %w", err))
			}
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		m.logger.Warn("session released with errors",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	} else {
		m.logger.Info("session ended", slog.String("session_id", s.ID))
	}
	return err
}

// Sweep evicts sessions idle for longer than the TTL and returns how
// many were removed.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.ttl <= 0 {
		return 0
	}
	now := m.now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idleSince(now) > m.ttl && !s.Video.Status().Trimming {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.logger.Info("evicting idle session", slog.String("session_id", s.ID))
		_ = m.release(ctx, s)
	}
	return len(expired)
}

// Start runs the sweeper every interval until Close is called.
func (m *Manager) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		m.mu.Unlock()
		go m.sweepLoop(interval)
	})
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sweep(context.Background())
		}
	}
}

// Close stops the sweeper and ends every session.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if started {
		select {
		case <-m.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range all {
		// Outputs written after the purge would never be cleaned up.
		if err := s.Video.Wait(ctx); err != nil {
			m.logger.Warn("closing session with a trim still running",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := m.release(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
