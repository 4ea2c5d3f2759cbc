package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
)

// Guard closes the market whenever the clock is outside trading hours,
// whatever phase and mode are active.
type Guard struct {
	state    *State
	schedule *Schedule
	clock    domain.Clock
	interval time.Duration
	logger   *slog.Logger
}

func NewGuard(state *State, schedule *Schedule, clock domain.Clock, interval time.Duration, logger *slog.Logger) *Guard {
	return &Guard{
		state:    state,
		schedule: schedule,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Start polls until ctx is cancelled.
func (g *Guard) Start(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Check()
		}
	}
}

// Check forces phase closed if the market is open outside trading hours.
// It reports whether it did.
func (g *Guard) Check() bool {
	phase := g.state.Phase()
	if phase == domain.PhaseClosed || g.schedule.InTradingHours(g.clock.Now()) {
		return false
	}
	if err := g.state.ForcePhase(domain.PhaseClosed); err != nil {
		return false
	}
	g.logger.Warn("market closed outside trading hours", slog.String("previous_phase", string(phase)))
	return true
}
