package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/bourse/internal/domain"
)

// ErrModeChanged is returned by a scheduled step when the operator switched
// to manual mode while the step was running. The phase is left as it was.
var ErrModeChanged = errors.New("session mode changed to manual during step")

// Auctioneer runs one call-auction pass for an instrument.
type Auctioneer interface {
	Run(ctx context.Context, symbol string, kind domain.AuctionKind, final bool) (*domain.AuctionResult, error)
}

// Notifier requests a continuous matching pass for an instrument.
type Notifier interface {
	Notify(symbol string)
}

// InstrumentLister lists instruments, optionally filtered by status.
type InstrumentLister interface {
	Instruments(status *domain.InstrumentStatus) []*domain.Instrument
}

// DayPreparer creates the price bands of a trading day.
type DayPreparer interface {
	PrepareDay(ctx context.Context, date string) (int, error)
}

// OrderExpirer cancels the open orders left at the end of the day, and the
// auction orders whose auction can no longer run in a phase.
type OrderExpirer interface {
	ExpireAll(ctx context.Context) (int, error)
	ExpireAuctionOrders(ctx context.Context, phase domain.Phase) (int, error)
}

// StepperConfig tunes the phase transitions.
type StepperConfig struct {
	Workers       int  // instruments auctioned in parallel
	ExpireAtClose bool // cancel open orders on entering closed
}

// Stepper applies one transition of the daily cycle together with its side
// effects: band preparation, auctions, matching wake-ups and expiry. It is
// shared by the scheduler and operator commands and runs one step at a time.
type Stepper struct {
	state       *State
	clock       domain.Clock
	auctions    Auctioneer
	notifier    Notifier
	instruments InstrumentLister
	days        DayPreparer
	expirer     OrderExpirer
	cfg         StepperConfig
	logger      *slog.Logger

	mu sync.Mutex
}

func NewStepper(
	state *State,
	clock domain.Clock,
	auctions Auctioneer,
	notifier Notifier,
	instruments InstrumentLister,
	days DayPreparer,
	expirer OrderExpirer,
	cfg StepperConfig,
	logger *slog.Logger,
) *Stepper {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	s := &Stepper{
		state:       state,
		clock:       clock,
		auctions:    auctions,
		notifier:    notifier,
		instruments: instruments,
		days:        days,
		expirer:     expirer,
		cfg:         cfg,
		logger:      logger,
	}
	state.OnTransition(s.expireSkippedAuctions)
	return s
}

// expireSkippedAuctions runs after every phase change. A regular step has
// already cancelled the leftovers in its final auction pass; a forced
// change, the trading-hours guard or a fail-safe stop has not.
func (s *Stepper) expireSkippedAuctions(prev, next domain.SessionStatus) {
	if prev.Phase == next.Phase {
		return
	}
	if _, err := s.expirer.ExpireAuctionOrders(context.Background(), next.Phase); err != nil {
		s.logger.Error("failed to expire auction orders",
			slog.String("phase", string(next.Phase)),
			slog.String("error", err.Error()),
		)
	}
}

// Step moves the session from its current phase to to, which must be the
// next phase of the cycle. With scheduled set, the phase change is skipped
// and ErrModeChanged returned if the mode became manual.
func (s *Stepper) Step(ctx context.Context, to domain.Phase, scheduled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.state.Phase()
	if from == to {
		return nil
	}
	if from.Next() != to {
		return domain.NewValidationError(domain.CodeInvalidTransition,
			fmt.Sprintf("cannot step from %s to %s", from, to))
	}

	switch to {
	case domain.PhasePreOpen:
		n, err := s.days.PrepareDay(ctx, s.clock.Today())
		if err != nil {
			return fmt.Errorf("prepare trading day: %w", err)
		}
		s.logger.Info("trading day prepared", slog.String("date", s.clock.Today()), slog.Int("bands", n))
		return s.setPhase(to, scheduled)

	case domain.PhaseOpeningAuction:
		if err := s.setPhase(to, scheduled); err != nil {
			return err
		}
		return s.auctionAll(ctx, domain.AuctionOpening, false)

	case domain.PhaseContinuous:
		if err := s.auctionAll(ctx, domain.AuctionOpening, true); err != nil {
			return err
		}
		if err := s.setPhase(to, scheduled); err != nil {
			return err
		}
		for _, inst := range s.trading() {
			s.notifier.Notify(inst.Symbol)
		}
		return nil

	case domain.PhaseClosingAuction:
		return s.setPhase(to, scheduled)

	case domain.PhaseClosed:
		if err := s.auctionAll(ctx, domain.AuctionClosing, true); err != nil {
			return err
		}
		if err := s.setPhase(to, scheduled); err != nil {
			return err
		}
		if s.cfg.ExpireAtClose {
			if _, err := s.expirer.ExpireAll(ctx); err != nil {
				return fmt.Errorf("expire day orders: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown phase %q", to)
}

func (s *Stepper) setPhase(p domain.Phase, scheduled bool) error {
	if !scheduled {
		return s.state.SetPhase(p)
	}
	applied, err := s.state.SetPhaseIfAutomatic(p)
	if err != nil {
		return err
	}
	if !applied {
		return ErrModeChanged
	}
	return nil
}

func (s *Stepper) trading() []*domain.Instrument {
	status := domain.InstrumentTrading
	return s.instruments.Instruments(&status)
}

// auctionAll runs the auction for every trading instrument. An auction that
// fails is logged and skipped; a panic aborts the pass.
func (s *Stepper) auctionAll(ctx context.Context, kind domain.AuctionKind, final bool) error {
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, inst := range s.trading() {
		symbol := inst.Symbol
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("auction %s panicked: %v\n%s", symbol, r, debug.Stack())
				}
			}()
			if _, err := s.auctions.Run(ctx, symbol, kind, final); err != nil {
				s.logger.Error("auction failed",
					slog.String("symbol", symbol),
					slog.String("kind", string(kind)),
					slog.Bool("final", final),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	return g.Wait()
}
