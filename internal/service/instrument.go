package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/events"
	"github.com/efreitasn/bourse/internal/store"
)

// RegisterInstrumentRequest represents the input for listing an instrument.
// Reference is the first day's reference price in minor units.
type RegisterInstrumentRequest struct {
	Symbol      string
	TotalShares int64
	Reference   int64
	Status      domain.InstrumentStatus // defaults to trading
}

// BookResponse represents an instrument's aggregated order book.
type BookResponse struct {
	Symbol     string
	Band       *domain.PriceBand
	Bids       []store.PriceLevel
	Asks       []store.PriceLevel
	Spread     *int64 // nil if either side empty
	SnapshotAt time.Time
}

// InstrumentService lists instruments and maintains their daily price bands.
type InstrumentService struct {
	ledger   *store.Ledger
	rules    domain.TradingRules
	phase    PhaseSource
	clock    domain.Clock
	notifier MatchNotifier
	pub      events.Publisher
	logger   *slog.Logger
}

// NewInstrumentService creates a new InstrumentService.
func NewInstrumentService(
	ledger *store.Ledger,
	rules domain.TradingRules,
	phase PhaseSource,
	clock domain.Clock,
	notifier MatchNotifier,
	pub events.Publisher,
	logger *slog.Logger,
) *InstrumentService {
	return &InstrumentService{
		ledger:   ledger,
		rules:    rules,
		phase:    phase,
		clock:    clock,
		notifier: notifier,
		pub:      pub,
		logger:   logger,
	}
}

// Register lists a new instrument with today's band.
func (s *InstrumentService) Register(ctx context.Context, req RegisterInstrumentRequest) (*domain.Instrument, error) {
	if !symbolRegex.MatchString(req.Symbol) {
		return nil, domain.NewValidationError(domain.CodeInvalidRequest, "symbol must match ^[A-Z0-9]{1,10}$")
	}
	if req.TotalShares <= 0 {
		return nil, domain.NewValidationError(domain.CodeInvalidRequest, "total_shares must be > 0")
	}
	if err := s.rules.CheckPrice(req.Reference); err != nil {
		return nil, err
	}
	if req.Status == "" {
		req.Status = domain.InstrumentTrading
	}
	if !req.Status.Valid() {
		return nil, domain.NewValidationError(domain.CodeInvalidRequest,
			fmt.Sprintf("status must be one of: pending_listing, trading, halted, got %q", req.Status))
	}

	now := s.clock.Now()
	inst := &domain.Instrument{
		Symbol:      req.Symbol,
		TotalShares: req.TotalShares,
		Status:      req.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.ledger.Update(ctx, []store.Key{store.InstrumentKey(req.Symbol)}, func(tx *store.Tx) error {
		if err := tx.InsertInstrument(inst); err != nil {
			return err
		}
		return tx.SaveBand(s.rules.Band(req.Symbol, s.clock.Today(), req.Reference))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("instrument listed",
		slog.String("symbol", inst.Symbol),
		slog.String("status", string(inst.Status)),
		slog.Int64("reference", req.Reference),
	)
	return inst, nil
}

// Get returns an instrument.
func (s *InstrumentService) Get(symbol string) (*domain.Instrument, error) {
	return s.ledger.Instrument(symbol)
}

// List returns the instruments, optionally filtered by status.
func (s *InstrumentService) List(status *domain.InstrumentStatus) ([]*domain.Instrument, error) {
	if status != nil && !status.Valid() {
		return nil, domain.NewValidationError(domain.CodeInvalidRequest,
			fmt.Sprintf("Invalid status filter: '%s'", *status))
	}
	return s.ledger.Instruments(status), nil
}

// SetStatus halts, resumes or lists an instrument. Resuming during the
// continuous phase wakes the matcher.
func (s *InstrumentService) SetStatus(ctx context.Context, symbol string, status domain.InstrumentStatus) (*domain.Instrument, error) {
	if !status.Valid() {
		return nil, domain.NewValidationError(domain.CodeInvalidRequest,
			fmt.Sprintf("status must be one of: pending_listing, trading, halted, got %q", status))
	}
	var inst *domain.Instrument
	err := s.ledger.Update(ctx, []store.Key{store.InstrumentKey(symbol)}, func(tx *store.Tx) error {
		i, err := tx.Instrument(symbol)
		if err != nil {
			return err
		}
		i.Status = status
		i.UpdatedAt = s.clock.Now()
		inst = i
		return tx.SaveInstrument(i)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("instrument status changed", slog.String("symbol", symbol), slog.String("status", string(status)))
	if status == domain.InstrumentTrading && s.phase.Phase() == domain.PhaseContinuous {
		s.notifier.Notify(symbol)
	}
	return inst, nil
}

// Band returns the band of symbol for today.
func (s *InstrumentService) Band(symbol string) (*domain.PriceBand, error) {
	if _, err := s.ledger.Instrument(symbol); err != nil {
		return nil, err
	}
	return s.ledger.Band(symbol, s.clock.Today())
}

// SetBand recomputes today's band of symbol around a new reference price.
// The running open/high/low/close of the day are kept. Bands only change
// while the market is closed, since open buys hold cash for the ceiling of
// the band they were placed under.
func (s *InstrumentService) SetBand(ctx context.Context, symbol string, reference int64) (*domain.PriceBand, error) {
	if phase := s.phase.Phase(); phase != domain.PhaseClosed {
		return nil, domain.NewValidationError(domain.CodePhaseNotEligible,
			fmt.Sprintf("bands can only be set while the market is closed, not during %s", phase))
	}
	if err := s.rules.CheckPrice(reference); err != nil {
		return nil, err
	}
	today := s.clock.Today()
	band := s.rules.Band(symbol, today, reference)
	err := s.ledger.Update(ctx, []store.Key{store.InstrumentKey(symbol)}, func(tx *store.Tx) error {
		if _, err := tx.Instrument(symbol); err != nil {
			return err
		}
		if prev, err := tx.Band(symbol, today); err == nil {
			band.Open, band.High, band.Low, band.Close = prev.Open, prev.High, prev.Low, prev.Close
		}
		return tx.SaveBand(band)
	})
	if err != nil {
		return nil, err
	}
	s.pub.Publish(events.BookChanged(symbol, s.clock.Now()))
	return band, nil
}

// PrepareDay creates the band of date for every instrument that has none,
// using the previous day's close as the reference, or its reference when
// it did not trade. It returns the number of bands created.
func (s *InstrumentService) PrepareDay(ctx context.Context, date string) (int, error) {
	created := 0
	for _, inst := range s.ledger.Instruments(nil) {
		if _, err := s.ledger.Band(inst.Symbol, date); err == nil {
			continue
		}
		prev, err := s.ledger.PreviousBand(inst.Symbol, date)
		if errors.Is(err, domain.ErrBandNotFound) {
			s.logger.Warn("no previous band, instrument left without a band",
				slog.String("symbol", inst.Symbol), slog.String("date", date))
			continue
		}
		if err != nil {
			return created, err
		}
		band := s.rules.Band(inst.Symbol, date, prev.LastPrice())
		err = s.ledger.Update(ctx, []store.Key{store.InstrumentKey(inst.Symbol)}, func(tx *store.Tx) error {
			return tx.SaveBand(band)
		})
		if err != nil {
			return created, fmt.Errorf("prepare band %s/%s: %w", inst.Symbol, date, err)
		}
		created++
	}
	return created, nil
}

// Book returns up to depth aggregated price levels per side of symbol.
func (s *InstrumentService) Book(symbol string, depth int) (*BookResponse, error) {
	if depth < 1 || depth > 100 {
		return nil, domain.NewValidationError(domain.CodeInvalidRequest, "depth must be between 1 and 100")
	}
	if _, err := s.ledger.Instrument(symbol); err != nil {
		return nil, err
	}
	resp := &BookResponse{Symbol: symbol, SnapshotAt: s.clock.Now()}
	if band, err := s.ledger.Band(symbol, s.clock.Today()); err == nil {
		resp.Band = band
	}
	resp.Bids, resp.Asks = s.ledger.Depth(symbol, depth)
	if len(resp.Bids) > 0 && len(resp.Asks) > 0 {
		spread := resp.Asks[0].Price - resp.Bids[0].Price
		resp.Spread = &spread
	}
	return resp, nil
}

// Trades returns the executed trades of symbol.
func (s *InstrumentService) Trades(symbol string) ([]*domain.Trade, error) {
	if _, err := s.ledger.Instrument(symbol); err != nil {
		return nil, err
	}
	return s.ledger.Trades(symbol), nil
}
