package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/events"
	"github.com/efreitasn/bourse/internal/session"
)

// SessionService exposes the market session to operators and publishes
// every session change.
type SessionService struct {
	state   *session.State
	stepper *session.Stepper
	logger  *slog.Logger
}

// NewSessionService creates a SessionService and starts publishing
// session.changed events.
func NewSessionService(state *session.State, stepper *session.Stepper, clock domain.Clock, pub events.Publisher, logger *slog.Logger) *SessionService {
	state.OnTransition(func(prev, next domain.SessionStatus) {
		pub.Publish(events.SessionChanged(next, clock.Now()))
	})
	return &SessionService{state: state, stepper: stepper, logger: logger}
}

// Status returns the current mode and phase.
func (s *SessionService) Status() domain.SessionStatus {
	return s.state.Status()
}

// SetMode switches between automatic and manual operation.
func (s *SessionService) SetMode(mode domain.Mode) (domain.SessionStatus, error) {
	if err := s.state.SetMode(mode); err != nil {
		return domain.SessionStatus{}, err
	}
	s.logger.Info("session mode set", slog.String("mode", string(mode)))
	return s.state.Status(), nil
}

// ForcePhase moves the session to phase. The next phase of the cycle is
// reached through the regular step, auctions included; any other phase is
// set directly.
func (s *SessionService) ForcePhase(ctx context.Context, phase domain.Phase) (domain.SessionStatus, error) {
	if !phase.Valid() {
		return domain.SessionStatus{}, domain.NewValidationError(domain.CodeInvalidTransition,
			fmt.Sprintf("unknown phase %q", phase))
	}
	current := s.state.Phase()
	switch {
	case current == phase:
	case current.Next() == phase:
		if err := s.stepper.Step(ctx, phase, false); err != nil {
			return domain.SessionStatus{}, err
		}
	default:
		if err := s.state.ForcePhase(phase); err != nil {
			return domain.SessionStatus{}, err
		}
	}
	s.logger.Info("session phase forced",
		slog.String("from", string(current)),
		slog.String("to", string(phase)),
	)
	return s.state.Status(), nil
}
