// Package session holds per-user editing state: one photo editor, one
// trim controller and the active tab.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vbeats/vbeats-api/internal/compositor"
	"github.com/vbeats/vbeats-api/internal/trim"
)

// ErrInvalidTab is returned for tab names other than photo and video.
var ErrInvalidTab = errors.New("invalid tab")

// Tab names one of the two editor panels.
type Tab string

// Available tabs.
const (
	TabPhoto Tab = "photo"
	TabVideo Tab = "video"
)

// ParseTab validates a tab name.
func ParseTab(s string) (Tab, error) {
	switch Tab(s) {
	case TabPhoto, TabVideo:
		return Tab(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTab, s)
}

// Panels reports which panel is visible. Exactly one field is true.
type Panels struct {
	Photo bool `json:"photo"`
	Video bool `json:"video"`
}

// Session is the state of one editing client.
type Session struct {
	ID        string
	CreatedAt time.Time
	Photo     *compositor.Editor
	Video     *trim.Controller

	mu         sync.Mutex
	tab        Tab
	lastAccess time.Time
}

func newSession(id string, now time.Time, photo *compositor.Editor, video *trim.Controller) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now,
		Photo:      photo,
		Video:      video,
		tab:        TabPhoto,
		lastAccess: now,
	}
}

// Tab returns the active tab.
func (s *Session) Tab() Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tab
}

// SwitchTab activates a tab. Switching to the active tab is a no-op.
func (s *Session) SwitchTab(t Tab) error {
	if _, err := ParseTab(string(t)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tab = t
	return nil
}

// Panels returns panel visibility for the active tab.
func (s *Session) Panels() Panels {
	t := s.Tab()
	return Panels{Photo: t == TabPhoto, Video: t == TabVideo}
}

// LastAccess returns when the session was last looked up.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccess = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAccess)
}
