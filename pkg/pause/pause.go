package pause

import (
	"errors"
	"time"
)

var ErrHalted = errors.New("operations halted")

// Switch is the global halt flag. Pausing while paused and unpausing while
// unpaused are no-ops, mirroring the idempotent pause primitive underneath.
type Switch struct {
	paused   bool
	pausedBy string
	reason   string
	pausedAt time.Time
}

// Pause sets the flag and reports whether the state changed.
func (s *Switch) Pause(triggeredBy, reason string, now time.Time) bool {
	if s.paused {
		return false
	}
	s.paused = true
	s.pausedBy = triggeredBy
	s.reason = reason
	s.pausedAt = now
	return true
}

// Unpause clears the flag and reports whether the state changed.
func (s *Switch) Unpause(triggeredBy string) bool {
	if !s.paused {
		return false
	}
	s.paused = false
	s.pausedBy = ""
	s.reason = ""
	s.pausedAt = time.Time{}
	return true
}

func (s *Switch) Paused() bool { return s.paused }

func (s *Switch) Reason() string { return s.reason }

// Check fails with ErrHalted while the switch is engaged. Every
// value-mutating operation calls this before touching state.
func (s *Switch) Check() error {
	if s.paused {
		return ErrHalted
	}
	return nil
}
