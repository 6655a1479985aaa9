package custody

import (
	"fmt"
	"time"

	"golang.org/x/xerrors"
)

// ErrNoMatchingContent marks a returned signature (or a submitted
// payload) that could not be paired with its counterpart. The affected
// group fails; the rest of the request proceeds.
var ErrNoMatchingContent = xerrors.New("no matching transaction data")

// ResolutionError means a vault id could not be turned into an on-chain
// address. Nothing can be signed for an unresolved vault, so the whole
// run aborts.
type ResolutionError struct {
	VaultID string
	Err     error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolving vault %s: empty address", e.VaultID)
	}
	return fmt.Sprintf("resolving vault %s: %s", e.VaultID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// SigningTerminalFailure means the vault service ended the request in a
// state that yields no signatures. SubStatus carries the service's own
// reason text.
type SigningTerminalFailure struct {
	RequestID string
	State     RequestState
	SubStatus string
}

func (e *SigningTerminalFailure) Error() string {
	if e.SubStatus == "" {
		return fmt.Sprintf("signing request %s ended %s", e.RequestID, e.State)
	}
	return fmt.Sprintf("signing request %s ended %s: %s", e.RequestID, e.State, e.SubStatus)
}

// SigningTimeoutError means the request never reached a terminal state
// within the coordinator's deadline. Distinct from a terminal failure:
// the request may still complete later inside the service.
type SigningTimeoutError struct {
	RequestID string
	LastState RequestState
	Deadline  time.Duration
}

func (e *SigningTimeoutError) Error() string {
	return fmt.Sprintf("signing request %s still %s after %s", e.RequestID, e.LastState, e.Deadline)
}
