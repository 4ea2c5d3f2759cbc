package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/efreitasn/bourse/internal/domain"
)

// Observer is called after every applied change of the session status.
type Observer func(prev, next domain.SessionStatus)

// State holds the market mode and phase. Reads are lock-free and always see
// a consistent mode/phase pair; writes are serialized.
type State struct {
	status atomic.Pointer[domain.SessionStatus]

	mu        sync.Mutex
	observers []Observer
}

func NewState(mode domain.Mode, phase domain.Phase) *State {
	s := &State{}
	s.status.Store(&domain.SessionStatus{Mode: mode, Phase: phase})
	return s
}

func (s *State) Status() domain.SessionStatus { return *s.status.Load() }

func (s *State) Phase() domain.Phase { return s.status.Load().Phase }

func (s *State) Mode() domain.Mode { return s.status.Load().Mode }

// OnTransition registers fn to be called after each change.
func (s *State) OnTransition(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// SetPhase moves to p. Only the current phase, the next phase of the daily
// cycle, or closed are accepted.
func (s *State) SetPhase(p domain.Phase) error {
	_, err := s.update(func(st *domain.SessionStatus) (bool, error) {
		if err := checkTransition(st.Phase, p); err != nil {
			return false, err
		}
		st.Phase = p
		return true, nil
	})
	return err
}

// SetPhaseIfAutomatic behaves like SetPhase but leaves the phase untouched
// and reports false when the mode is manual.
func (s *State) SetPhaseIfAutomatic(p domain.Phase) (bool, error) {
	return s.update(func(st *domain.SessionStatus) (bool, error) {
		if st.Mode != domain.ModeAutomatic {
			return false, nil
		}
		if err := checkTransition(st.Phase, p); err != nil {
			return false, err
		}
		st.Phase = p
		return true, nil
	})
}

// ForcePhase sets any known phase.
func (s *State) ForcePhase(p domain.Phase) error {
	if !p.Valid() {
		return domain.NewValidationError(domain.CodeInvalidTransition, fmt.Sprintf("unknown phase %q", p))
	}
	_, err := s.update(func(st *domain.SessionStatus) (bool, error) {
		st.Phase = p
		return true, nil
	})
	return err
}

// SetMode switches between automatic and manual. The phase is unchanged.
func (s *State) SetMode(m domain.Mode) error {
	if !m.Valid() {
		return domain.NewValidationError(domain.CodeInvalidRequest, fmt.Sprintf("unknown mode %q", m))
	}
	_, err := s.update(func(st *domain.SessionStatus) (bool, error) {
		st.Mode = m
		return true, nil
	})
	return err
}

// FailSafe sets mode manual and phase closed in one step.
func (s *State) FailSafe() {
	_, _ = s.update(func(st *domain.SessionStatus) (bool, error) {
		st.Mode = domain.ModeManual
		st.Phase = domain.PhaseClosed
		return true, nil
	})
}

func (s *State) update(fn func(st *domain.SessionStatus) (bool, error)) (bool, error) {
	s.mu.Lock()
	prev := *s.status.Load()
	next := prev
	applied, err := fn(&next)
	if err != nil || !applied {
		s.mu.Unlock()
		return false, err
	}
	s.status.Store(&next)
	observers := s.observers
	s.mu.Unlock()

	if next != prev {
		for _, fn := range observers {
			fn(prev, next)
		}
	}
	return true, nil
}

func checkTransition(from, to domain.Phase) error {
	if !to.Valid() {
		return domain.NewValidationError(domain.CodeInvalidTransition, fmt.Sprintf("unknown phase %q", to))
	}
	if to == from || to == domain.PhaseClosed || from.Next() == to {
		return nil
	}
	return domain.NewValidationError(domain.CodeInvalidTransition,
		fmt.Sprintf("cannot move from %s to %s", from, to))
}
