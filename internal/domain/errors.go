package domain

import "errors"

var (
	// ErrUnknownPair is returned when a pair identifier is not part of the simulated market.
	ErrUnknownPair = errors.New("unknown pair")

	// ErrInvalidQuantity is returned when a trade quantity is zero, negative or not finite.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidAmount is returned when an administrative balance is negative.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds is returned when the quote balance cannot cover a buy.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientAsset is returned when the base balance cannot cover a sell.
	ErrInsufficientAsset = errors.New("insufficient asset")

	// ErrAccountSuspended is returned for any trade against a suspended account.
	ErrAccountSuspended = errors.New("account suspended")

	// ErrAuth is returned when credentials or tokens do not verify.
	ErrAuth = errors.New("authentication failed")

	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrInvalidAccount  = errors.New("invalid account id")
	ErrInvalidSide     = errors.New("invalid side")

	// ErrInsufficientBalance is the generic debit failure of Balances.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// IsRejection reports whether err is a business rejection that the caller may
// correct and resubmit, as opposed to an infrastructure failure.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrUnknownPair,
		ErrInvalidQuantity,
		ErrInvalidAmount,
		ErrInsufficientFunds,
		ErrInsufficientAsset,
		ErrAccountSuspended,
		ErrAccountNotFound,
		ErrInvalidSide,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// TradeError carries the context of a rejected or failed trade.
type TradeError struct {
	Op        string // "buy", "sell", "set_balance"
	AccountID string
	Pair      string
	Err       error
}

func (e *TradeError) Error() string {
	msg := e.Op + " " + e.AccountID
	if e.Pair != "" {
		msg += " " + e.Pair
	}
	return msg + ": " + e.Err.Error()
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a broker or cache connection failure.
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "publish")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
