package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/engine"
	"github.com/efreitasn/bourse/internal/events"
	"github.com/efreitasn/bourse/internal/store"
)

// PhaseSource reports the current trading phase.
type PhaseSource interface {
	Phase() domain.Phase
}

// MatchNotifier requests a continuous matching pass for a symbol.
type MatchNotifier interface {
	Notify(symbol string)
}

// PlaceOrderRequest represents the input for order placement. Price is in
// minor units and must be zero for auction order types.
type PlaceOrderRequest struct {
	AccountID string
	Symbol    string
	Side      domain.OrderSide
	Type      domain.OrderType
	Quantity  int64
	Price     int64
}

// ModifyOrderRequest represents the input for order modification. At least
// one of Price and Quantity must be set.
type ModifyOrderRequest struct {
	AccountID string
	OrderID   int64
	Price     *int64
	Quantity  *int64
}

// placeable lists the phases in which each order type is accepted.
var placeable = map[domain.OrderType][]domain.Phase{
	domain.OrderTypeLimit: {domain.PhasePreOpen, domain.PhaseContinuous},
	domain.OrderTypeATO:   {domain.PhasePreOpen, domain.PhaseOpeningAuction},
	domain.OrderTypeATC:   {domain.PhaseContinuous, domain.PhaseClosingAuction},
}

// amendable lists the phases in which each order type may be cancelled or
// modified.
var amendable = map[domain.OrderType][]domain.Phase{
	domain.OrderTypeLimit: {domain.PhasePreOpen, domain.PhaseContinuous},
	domain.OrderTypeATO:   {domain.PhasePreOpen},
	domain.OrderTypeATC:   {domain.PhaseContinuous},
}

func allowed(table map[domain.OrderType][]domain.Phase, typ domain.OrderType, p domain.Phase) bool {
	for _, q := range table[typ] {
		if q == p {
			return true
		}
	}
	return false
}

// OrderService handles order placement, cancellation and modification.
type OrderService struct {
	ledger   *store.Ledger
	locks    *engine.InstrumentLocks
	rules    domain.TradingRules
	phase    PhaseSource
	clock    domain.Clock
	notifier MatchNotifier
	pub      events.Publisher
	logger   *slog.Logger
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(
	ledger *store.Ledger,
	locks *engine.InstrumentLocks,
	rules domain.TradingRules,
	phase PhaseSource,
	clock domain.Clock,
	notifier MatchNotifier,
	pub events.Publisher,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		ledger:   ledger,
		locks:    locks,
		rules:    rules,
		phase:    phase,
		clock:    clock,
		notifier: notifier,
		pub:      pub,
		logger:   logger,
	}
}

// PlaceOrder validates the request, reserves cash or shares and books the
// order. Checks run in a fixed order and the first failure is returned.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	phase := s.phase.Phase()
	if phase == domain.PhaseClosed {
		return nil, domain.NewValidationError(domain.CodeMarketClosed, "the market is closed")
	}
	if req.Type.Valid() && !allowed(placeable, req.Type, phase) {
		return nil, domain.NewValidationError(domain.CodePhaseNotEligible,
			fmt.Sprintf("%s orders are not accepted during %s", req.Type, phase))
	}
	if !req.Side.Valid() {
		return nil, domain.NewValidationError(domain.CodeInvalidSide, "side must be 'buy' or 'sell'")
	}
	if !req.Type.Valid() {
		return nil, domain.NewValidationError(domain.CodeInvalidOrderType,
			fmt.Sprintf("unknown order type: %s. Must be one of: limit, ato, atc", req.Type))
	}
	if err := s.rules.CheckQuantity(req.Quantity); err != nil {
		return nil, err
	}
	if req.Type == domain.OrderTypeLimit {
		if err := s.rules.CheckPrice(req.Price); err != nil {
			return nil, err
		}
	} else if req.Price != 0 {
		return nil, domain.NewValidationError(domain.CodeInvalidPrice, "auction orders must not include price")
	}

	inst, err := s.ledger.Instrument(req.Symbol)
	if err != nil {
		return nil, err
	}
	if inst.Status != domain.InstrumentTrading {
		return nil, domain.NewValidationError(domain.CodeInstrumentNotActive,
			fmt.Sprintf("instrument %s is %s", inst.Symbol, inst.Status))
	}
	band, err := s.ledger.Band(req.Symbol, s.clock.Today())
	if err != nil {
		return nil, err
	}
	if req.Type == domain.OrderTypeLimit {
		if err := s.rules.CheckInBand(req.Price, band); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	order := &domain.Order{
		AccountID:         req.AccountID,
		Symbol:            req.Symbol,
		Side:              req.Side,
		Type:              req.Type,
		Price:             req.Price,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		Status:            domain.OrderStatusPending,
		PlacedAt:          now,
		UpdatedAt:         now,
	}
	if req.Side == domain.OrderSideBuy {
		order.ReservedPrice = req.Price
		if req.Type.IsAuction() {
			order.ReservedPrice = band.Ceiling
		}
	}
	// Auction orders may trade anywhere up to the ceiling.
	worst := req.Price
	if req.Type.IsAuction() {
		worst = band.Ceiling
	}
	if err := s.rules.CheckNotional(req.Quantity, worst); err != nil {
		return nil, err
	}

	book := func() error {
		return s.ledger.Update(ctx, []store.Key{store.AccountKey(req.AccountID)}, func(tx *store.Tx) error {
			account, err := tx.Account(req.AccountID)
			if err != nil {
				return err
			}
			if req.Side == domain.OrderSideBuy {
				required := order.Reservation()
				if account.CashBalance < required {
					return domain.ErrInsufficientFunds
				}
				account.CashBalance -= required
				account.UpdatedAt = now
				if err := tx.SaveAccount(account); err != nil {
					return err
				}
			} else {
				reserved, err := tx.OpenSellQuantity(req.AccountID, req.Symbol, 0)
				if err != nil {
					return err
				}
				if account.Holding(req.Symbol)-reserved < req.Quantity {
					return domain.ErrInsufficientHoldings
				}
			}
			return tx.InsertOrder(order)
		})
	}
	// Auction intake holds the instrument lock so an order lands either
	// before the final auction pass or not at all.
	if kind, ok := domain.AuctionKindOf(req.Type); ok {
		err = s.locks.WhileOpen(req.Symbol, kind, book)
	} else {
		err = book()
	}
	if err != nil {
		return nil, err
	}

	s.pub.Publish(events.OrderPlaced(order, now))
	s.pub.Publish(events.BookChanged(order.Symbol, now))
	s.logger.Info("order placed",
		slog.Int64("order_id", order.OrderID),
		slog.String("account_id", order.AccountID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.String("type", string(order.Type)),
		slog.Int64("quantity", order.Quantity),
		slog.Int64("price", order.Price),
	)
	if order.Type == domain.OrderTypeLimit && phase == domain.PhaseContinuous {
		s.notifier.Notify(order.Symbol)
	}
	return order, nil
}

// GetOrder returns an order owned by accountID.
func (s *OrderService) GetOrder(accountID string, orderID int64) (*domain.Order, error) {
	o, err := s.ledger.Order(orderID)
	if err != nil {
		return nil, err
	}
	if o.AccountID != accountID {
		return nil, domain.ErrOrderNotOwned
	}
	return o, nil
}

// amendCheck applies the checks shared by cancel and modify.
func (s *OrderService) amendCheck(accountID string, orderID int64, notOpen error) (*domain.Order, error) {
	o, err := s.GetOrder(accountID, orderID)
	if err != nil {
		return nil, err
	}
	if !o.IsOpen() {
		return nil, notOpen
	}
	phase := s.phase.Phase()
	if phase == domain.PhaseClosed {
		return nil, domain.NewValidationError(domain.CodeMarketClosed, "the market is closed")
	}
	if !allowed(amendable, o.Type, phase) {
		return nil, domain.NewValidationError(domain.CodePhaseNotEligible,
			fmt.Sprintf("%s orders cannot be changed during %s", o.Type, phase))
	}
	return o, nil
}

// CancelOrder cancels an open order and releases its buy reservation.
func (s *OrderService) CancelOrder(ctx context.Context, accountID string, orderID int64) (*domain.Order, error) {
	if _, err := s.amendCheck(accountID, orderID, domain.ErrOrderNotCancellable); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var cancelled *domain.Order
	keys := []store.Key{store.AccountKey(accountID), store.OrderKey(orderID)}
	err := s.ledger.Update(ctx, keys, func(tx *store.Tx) error {
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		if !o.IsOpen() {
			return domain.ErrOrderNotCancellable
		}
		if err := engine.Cancel(tx, o, now); err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pub.Publish(events.OrderCancelled(cancelled, now))
	s.pub.Publish(events.BookChanged(cancelled.Symbol, now))
	s.logger.Info("order cancelled",
		slog.Int64("order_id", cancelled.OrderID),
		slog.String("account_id", accountID),
		slog.Int64("remaining_quantity", cancelled.RemainingQuantity),
	)
	return cancelled, nil
}

// ModifyOrder changes the price and/or quantity of an open limit order and
// adjusts its reservation. A price change or a quantity increase moves the
// order to the back of its price level.
func (s *OrderService) ModifyOrder(ctx context.Context, req ModifyOrderRequest) (*domain.Order, error) {
	if req.Price == nil && req.Quantity == nil {
		return nil, domain.NewValidationError(domain.CodeInvalidRequest, "price or quantity is required")
	}
	current, err := s.amendCheck(req.AccountID, req.OrderID, domain.ErrOrderNotModifiable)
	if err != nil {
		return nil, err
	}
	if current.Type != domain.OrderTypeLimit {
		return nil, domain.ErrOrderNotModifiable
	}
	if req.Quantity != nil {
		if err := s.rules.CheckQuantity(*req.Quantity); err != nil {
			return nil, err
		}
	}
	if req.Price != nil {
		if err := s.rules.CheckPrice(*req.Price); err != nil {
			return nil, err
		}
		band, err := s.ledger.Band(current.Symbol, s.clock.Today())
		if err != nil {
			return nil, err
		}
		if err := s.rules.CheckInBand(*req.Price, band); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	var modified *domain.Order
	keys := []store.Key{store.AccountKey(req.AccountID), store.OrderKey(req.OrderID)}
	err = s.ledger.Update(ctx, keys, func(tx *store.Tx) error {
		o, err := tx.Order(req.OrderID)
		if err != nil {
			return err
		}
		if !o.IsOpen() {
			return domain.ErrOrderNotModifiable
		}

		price, quantity := o.Price, o.Quantity
		if req.Price != nil {
			price = *req.Price
		}
		if req.Quantity != nil {
			quantity = *req.Quantity
		}
		if quantity < o.FilledQuantity {
			return domain.NewValidationError(domain.CodeInvalidQuantity,
				fmt.Sprintf("quantity must be at least the filled quantity %d", o.FilledQuantity))
		}
		remaining := quantity - o.FilledQuantity
		if err := s.rules.CheckNotional(quantity, price); err != nil {
			return err
		}

		account, err := tx.Account(o.AccountID)
		if err != nil {
			return err
		}
		switch o.Side {
		case domain.OrderSideBuy:
			delta := remaining*price - o.Reservation()
			if delta > account.CashBalance {
				return domain.ErrInsufficientFunds
			}
			if delta != 0 {
				account.CashBalance -= delta
				account.UpdatedAt = now
				if err := tx.SaveAccount(account); err != nil {
					return err
				}
			}
			o.ReservedPrice = price
		case domain.OrderSideSell:
			if remaining > o.RemainingQuantity {
				reserved, err := tx.OpenSellQuantity(o.AccountID, o.Symbol, o.OrderID)
				if err != nil {
					return err
				}
				if account.Holding(o.Symbol)-reserved < remaining {
					return domain.ErrInsufficientHoldings
				}
			}
		}

		if price != o.Price || quantity > o.Quantity {
			o.PlacedAt = now
		}
		o.Price = price
		o.Quantity = quantity
		o.RemainingQuantity = remaining
		if remaining == 0 {
			o.Status = domain.OrderStatusFilled
		}
		o.UpdatedAt = now
		if err := tx.SaveOrder(o); err != nil {
			return err
		}
		modified = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pub.Publish(events.OrderModified(modified, now))
	s.pub.Publish(events.BookChanged(modified.Symbol, now))
	s.logger.Info("order modified",
		slog.Int64("order_id", modified.OrderID),
		slog.Int64("price", modified.Price),
		slog.Int64("quantity", modified.Quantity),
	)
	if modified.IsOpen() && s.phase.Phase() == domain.PhaseContinuous {
		s.notifier.Notify(modified.Symbol)
	}
	return modified, nil
}
