package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/store"
)

var (
	accountIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	symbolRegex    = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)
)

// ValidOrderStatuses lists all valid order status values for validation.
var ValidOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusPending:         true,
	domain.OrderStatusPartiallyFilled: true,
	domain.OrderStatusFilled:          true,
	domain.OrderStatusCancelled:       true,
}

// RegisterAccountRequest represents the input for account registration.
// Cash is in minor units.
type RegisterAccountRequest struct {
	AccountID       string
	InitialCash     int64
	InitialHoldings []HoldingInput
}

// HoldingInput represents a single holding in a registration request.
type HoldingInput struct {
	Symbol   string
	Quantity int64
}

// Balance is an account's position including what open orders hold.
// CashBalance is already net of buy reservations.
type Balance struct {
	AccountID    string
	CashBalance  int64
	ReservedCash int64
	Holdings     []HoldingBalance
	UpdatedAt    time.Time
}

// HoldingBalance represents a single holding in the balance response.
type HoldingBalance struct {
	Symbol            string
	Quantity          int64
	ReservedQuantity  int64
	AvailableQuantity int64
}

// AccountService handles account registration and balance queries.
type AccountService struct {
	ledger *store.Ledger
	clock  domain.Clock
	logger *slog.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(ledger *store.Ledger, clock domain.Clock, logger *slog.Logger) *AccountService {
	return &AccountService{ledger: ledger, clock: clock, logger: logger}
}

// Register validates the request and creates a funded account.
func (s *AccountService) Register(ctx context.Context, req RegisterAccountRequest) (*domain.Account, error) {
	if !accountIDRegex.MatchString(req.AccountID) {
		return nil, domain.NewValidationError(domain.CodeInvalidRequest, "account_id must match ^[a-zA-Z0-9_-]{1,64}$")
	}
	if req.InitialCash < 0 {
		return nil, domain.NewValidationError(domain.CodeInvalidRequest, "initial_cash must be >= 0")
	}

	holdings := make(map[string]int64, len(req.InitialHoldings))
	for _, h := range req.InitialHoldings {
		if !symbolRegex.MatchString(h.Symbol) {
			return nil, domain.NewValidationError(domain.CodeInvalidRequest,
				fmt.Sprintf("holding symbol must match ^[A-Z0-9]{1,10}$, got %q", h.Symbol))
		}
		if h.Quantity <= 0 {
			return nil, domain.NewValidationError(domain.CodeInvalidRequest,
				fmt.Sprintf("holding quantity must be > 0 for symbol %s", h.Symbol))
		}
		if _, dup := holdings[h.Symbol]; dup {
			return nil, domain.NewValidationError(domain.CodeInvalidRequest,
				fmt.Sprintf("duplicate symbol in initial_holdings: %s", h.Symbol))
		}
		holdings[h.Symbol] = h.Quantity
	}

	now := s.clock.Now()
	account := &domain.Account{
		AccountID:   req.AccountID,
		CashBalance: req.InitialCash,
		Holdings:    holdings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.ledger.Update(ctx, []store.Key{store.AccountKey(req.AccountID)}, func(tx *store.Tx) error {
		return tx.InsertAccount(account)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("account registered",
		slog.String("account_id", account.AccountID),
		slog.Int64("cash", account.CashBalance),
		slog.Int("holdings", len(holdings)),
	)
	return account, nil
}

// GetBalance returns the account's cash and holdings with the amounts held
// by its open orders.
func (s *AccountService) GetBalance(accountID string) (*Balance, error) {
	account, err := s.ledger.Account(accountID)
	if err != nil {
		return nil, err
	}

	var reservedCash int64
	reservedShares := make(map[string]int64)
	for _, o := range s.ledger.OpenOrdersByAccount(accountID) {
		if o.Side == domain.OrderSideBuy {
			reservedCash += o.Reservation()
		} else {
			reservedShares[o.Symbol] += o.RemainingQuantity
		}
	}

	holdings := make([]HoldingBalance, 0, len(account.Holdings))
	for symbol, qty := range account.Holdings {
		holdings = append(holdings, HoldingBalance{
			Symbol:            symbol,
			Quantity:          qty,
			ReservedQuantity:  reservedShares[symbol],
			AvailableQuantity: qty - reservedShares[symbol],
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })

	updated := account.UpdatedAt
	if updated.IsZero() {
		updated = account.CreatedAt
	}
	return &Balance{
		AccountID:    account.AccountID,
		CashBalance:  account.CashBalance,
		ReservedCash: reservedCash,
		Holdings:     holdings,
		UpdatedAt:    updated,
	}, nil
}

// ListOrders returns a paginated list of orders for an account with optional
// status filtering.
func (s *AccountService) ListOrders(accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int, error) {
	if _, err := s.ledger.Account(accountID); err != nil {
		return nil, 0, err
	}
	if status != nil && !ValidOrderStatuses[*status] {
		return nil, 0, domain.NewValidationError(domain.CodeInvalidRequest,
			fmt.Sprintf("Invalid status filter: '%s'. Must be one of: pending, partially_filled, filled, cancelled", *status))
	}
	if page < 1 {
		return nil, 0, domain.NewValidationError(domain.CodeInvalidRequest, "page must be >= 1")
	}
	if limit < 1 || limit > 100 {
		return nil, 0, domain.NewValidationError(domain.CodeInvalidRequest, "limit must be between 1 and 100")
	}
	orders, total := s.ledger.OrdersByAccount(accountID, status, page, limit)
	return orders, total, nil
}
