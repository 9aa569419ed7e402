package pools

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// UnsupportedPoolError is returned for an unknown pool id.
type UnsupportedPoolError struct {
	Pool string
}

func (e *UnsupportedPoolError) Error() string {
	return fmt.Sprintf("unsupported pool %q", e.Pool)
}

// UnsupportedCoinError is returned when a pool does not mine a coin.
type UnsupportedCoinError struct {
	Pool      string
	Coin      string
	Supported []string
}

func (e *UnsupportedCoinError) Error() string {
	return fmt.Sprintf("pool %s does not support %s (supported: %s)",
		e.Pool, strings.ToUpper(e.Coin), strings.ToUpper(strings.Join(e.Supported, ", ")))
}

// WalletNotFoundError means the pool answered 404 for the address.
type WalletNotFoundError struct {
	Pool    string
	Coin    string
	Address string
}

func (e *WalletNotFoundError) Error() string {
	return fmt.Sprintf("wallet %s not found on %s (%s)", e.Address, e.Pool, e.Coin)
}

// PoolUnavailableError wraps any other non-2xx response.
type PoolUnavailableError struct {
	Pool       string
	StatusCode int
}

func (e *PoolUnavailableError) Error() string {
	return fmt.Sprintf("pool %s unavailable: HTTP %d", e.Pool, e.StatusCode)
}

// PoolReportedError carries an error message from the pool payload verbatim.
type PoolReportedError struct {
	Pool    string
	Message string
}

func (e *PoolReportedError) Error() string {
	return fmt.Sprintf("pool %s: %s", e.Pool, e.Message)
}

// IsConfigError reports whether err is a pool/coin configuration error that
// should be shown to the user rather than retried.
func IsConfigError(err error) bool {
	var pe *UnsupportedPoolError
	var ce *UnsupportedCoinError
	return errors.As(err, &pe) || errors.As(err, &ce)
}

// IsRetryable reports whether err is transient: 5xx/429 responses and
// network failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ue *PoolUnavailableError
	if errors.As(err, &ue) {
		return ue.StatusCode >= 500 || ue.StatusCode == 429
	}
	var ne net.Error
	return errors.As(err, &ne)
}
