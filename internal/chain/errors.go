package chain

import (
	"errors"
	"fmt"
)

// ErrTransportFailure covers network errors, timeouts and other failures
// where the node never evaluated the request. Recoverable by retry/backoff.
var ErrTransportFailure = errors.New("transport failure")

// ErrRateLimited is the distinguishable rate-limit condition from the RPC
// provider.
var ErrRateLimited = errors.New("rate limited by provider")

// ErrTransactionRejected marks an RPC-level rejection of a broadcast
// ("nonce too low", "insufficient funds", ...). The provider's message is
// actionable and must reach the user verbatim; see RejectionError.
var ErrTransactionRejected = errors.New("transaction rejected")

// RejectionError carries the provider's rejection message verbatim.
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("transaction rejected: %s", e.Message)
}

func (e *RejectionError) Unwrap() error { return ErrTransactionRejected }
