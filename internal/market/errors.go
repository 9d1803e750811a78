package market

import (
	"errors"
	"fmt"
)

// NetworkError marks a transient transport failure. Callers retry these
// with backoff; everything else fails the stage immediately.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError marks a credential or signature rejection. Never retried.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth rejected during %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// InsufficientDataError reports that the exchange returned fewer bars
// than the caller's indicator window requires.
type InsufficientDataError struct {
	Symbol   string
	Need     int
	Got      int
	Interval string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient history for %s %s: need %d bars, got %d",
		e.Symbol, e.Interval, e.Need, e.Got)
}

func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func IsInsufficientData(err error) bool {
	var ie *InsufficientDataError
	return errors.As(err, &ie)
}
