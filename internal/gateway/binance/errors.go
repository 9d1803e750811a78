package binance

import (
	"context"
	"errors"
	"net"

	"marlin/internal/market"

	"github.com/adshao/go-binance/v2/common"
)

// Binance error codes that indicate a credential/signature problem.
// These are never retried.
const (
	codeUnauthorized     = -1002
	codeTimestampOutside = -1021
	codeBadSignature     = -1022
	codeBadAPIKeyFmt     = -2014
	codeRejectedKey      = -2015
)

// classify maps an SDK error onto the gateway taxonomy. Anything that
// looks transient (timeouts, 5xx, rate limits) becomes a NetworkError;
// credential rejections become AuthError; other API errors pass through
// untouched for the caller to interpret.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeUnauthorized, codeTimestampOutside, codeBadSignature, codeBadAPIKeyFmt, codeRejectedKey:
			return &market.AuthError{Op: op, Err: err}
		case -1003: // WAF rate limit
			return &market.NetworkError{Op: op, Err: err}
		}
		if apiErr.Code >= -1199 && apiErr.Code <= -1100 {
			// 11xx range: malformed request parameters, retrying cannot help
			return err
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &market.NetworkError{Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &market.NetworkError{Op: op, Err: err}
	}
	// The SDK wraps non-2xx responses without JSON bodies in plain
	// errors; treat those as transient.
	return &market.NetworkError{Op: op, Err: err}
}

func retryable(err error) bool {
	return market.IsNetworkError(err)
}
