package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/efreitasn/bourse/internal/domain"
)

// HealthService is the gRPC health service name reporting the scheduler.
const HealthService = "bourse.session.Scheduler"

// HealthReporter receives the scheduler's serving status.
type HealthReporter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// Scheduler drives the session through the daily cycle while the mode is
// automatic. Any unexpected failure trips the fail-safe: mode manual, phase
// closed, scheduler halted until an operator sets the mode back to
// automatic.
type Scheduler struct {
	state    *State
	schedule *Schedule
	stepper  *Stepper
	clock    domain.Clock
	health   HealthReporter
	interval time.Duration
	logger   *slog.Logger

	halted atomic.Bool
}

func NewScheduler(state *State, schedule *Schedule, stepper *Stepper, clock domain.Clock, health HealthReporter, interval time.Duration, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		state:    state,
		schedule: schedule,
		stepper:  stepper,
		clock:    clock,
		health:   health,
		interval: interval,
		logger:   logger,
	}
	state.OnTransition(func(prev, next domain.SessionStatus) {
		if prev.Mode == domain.ModeManual && next.Mode == domain.ModeAutomatic && s.halted.Swap(false) {
			s.logger.Info("scheduler re-armed")
			s.setHealth(healthpb.HealthCheckResponse_SERVING)
		}
	})
	s.setHealth(healthpb.HealthCheckResponse_SERVING)
	return s
}

// Halted reports whether the fail-safe has tripped.
func (s *Scheduler) Halted() bool { return s.halted.Load() }

// Start polls the clock until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick walks the session from its current phase to the scheduled one, one
// step at a time.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.halted.Load() || s.state.Mode() != domain.ModeAutomatic {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.failSafe(fmt.Errorf("scheduler panicked: %v", r))
		}
	}()

	target := s.schedule.PhaseAt(s.clock.Now())
	for _, p := range s.state.Phase().PathTo(target) {
		if ctx.Err() != nil {
			return
		}
		err := s.stepper.Step(ctx, p, true)
		if errors.Is(err, ErrModeChanged) {
			s.logger.Warn("manual override during scheduled step", slog.String("phase", string(p)))
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.failSafe(fmt.Errorf("step to %s: %w", p, err))
			return
		}
		s.logger.Info("session phase changed", slog.String("phase", string(p)))
	}
}

func (s *Scheduler) failSafe(err error) {
	s.halted.Store(true)
	s.state.FailSafe()
	s.setHealth(healthpb.HealthCheckResponse_NOT_SERVING)
	s.logger.Error("scheduler halted, session set to manual and closed", slog.String("error", err.Error()))
}

func (s *Scheduler) setHealth(status healthpb.HealthCheckResponse_ServingStatus) {
	if s.health != nil {
		s.health.SetServingStatus(HealthService, status)
	}
}
