package solana

import "errors"

// Error taxonomy for chain interactions. Callers branch with errors.Is;
// wrapped context (endpoint, account, signature) rides on top via %w.
var (
	// ErrUpstreamUnavailable: the RPC endpoint could not produce a usable
	// response (timeout, transport failure, rate-limit exhaustion, or a
	// missing account where one is required).
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedAccountData: account bytes exist but do not decode as the
	// expected layout.
	ErrMalformedAccountData = errors.New("malformed account data")

	// ErrTransactionFailed: a submitted transaction was rejected, expired, or
	// confirmed with an on-chain error.
	ErrTransactionFailed = errors.New("transaction failed")
)
