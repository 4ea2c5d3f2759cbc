package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrAccountAlreadyExists    = errors.New("account_already_exists")
	ErrAccountNotFound         = errors.New("account_not_found")
	ErrInstrumentAlreadyExists = errors.New("instrument_already_exists")
	ErrInstrumentNotFound      = errors.New("instrument_not_found")
	ErrBandNotFound            = errors.New("price_band_not_found")
	ErrOrderNotFound           = errors.New("order_not_found")
	ErrOrderNotOwned           = errors.New("order_not_owned")
	ErrOrderNotCancellable     = errors.New("order_not_cancellable")
	ErrOrderNotModifiable      = errors.New("order_not_modifiable")
	ErrInsufficientFunds       = errors.New("insufficient_funds")
	ErrInsufficientHoldings    = errors.New("insufficient_holdings")
	ErrTransientStore          = errors.New("transient_store_error")
)

// Validation error codes. Each rejected rule has its own code so callers
// can tell which check failed.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeMarketClosed        = "market_closed"
	CodePhaseNotEligible    = "phase_not_eligible"
	CodeInvalidSide         = "invalid_side"
	CodeInvalidOrderType    = "invalid_order_type"
	CodeInvalidQuantity     = "invalid_quantity"
	CodeInvalidPrice        = "invalid_price"
	CodePriceOutOfBand      = "price_out_of_band"
	CodeInstrumentNotActive = "instrument_not_trading"
	CodeInvalidTransition   = "invalid_transition"
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// ErrorKind classifies errors for callers that need to react by category.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindInsufficientFunds    ErrorKind = "insufficient_funds"
	KindInsufficientHoldings ErrorKind = "insufficient_holdings"
	KindNotFound             ErrorKind = "not_found"
	KindConflict             ErrorKind = "conflict"
	KindForbidden            ErrorKind = "forbidden"
	KindTransient            ErrorKind = "transient"
	KindInternal             ErrorKind = "internal"
)

// KindOf returns the category of err.
func KindOf(err error) ErrorKind {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return KindValidation
	}
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrInsufficientHoldings):
		return KindInsufficientHoldings
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrInstrumentNotFound),
		errors.Is(err, ErrBandNotFound),
		errors.Is(err, ErrOrderNotFound):
		return KindNotFound
	case errors.Is(err, ErrOrderNotCancellable),
		errors.Is(err, ErrOrderNotModifiable),
		errors.Is(err, ErrAccountAlreadyExists),
		errors.Is(err, ErrInstrumentAlreadyExists):
		return KindConflict
	case errors.Is(err, ErrOrderNotOwned):
		return KindForbidden
	case errors.Is(err, ErrTransientStore):
		return KindTransient
	}
	return KindInternal
}
