package custody

import (
	"github.com/stakeops/stakebatch/txwire"
)

// RequestState is the lifecycle state of an asynchronous signing request
// inside the vault service.
//
// Created → Queued → PendingAuthorization → Processing is the happy
// path; Completed and Broadcasting are success terminals, the rest of
// the terminals mean the request will never produce signatures.
type RequestState string

const (
	StateCreated              RequestState = "CREATED"
	StateQueued               RequestState = "QUEUED"
	StatePendingAuthorization RequestState = "PENDING_AUTHORIZATION"
	StateProcessing           RequestState = "PROCESSING"
	StateBroadcasting         RequestState = "BROADCASTING"
	StateCompleted            RequestState = "COMPLETED"
	StateBlocked              RequestState = "BLOCKED"
	StateCancelled            RequestState = "CANCELLED"
	StateFailed               RequestState = "FAILED"
	StateRejected             RequestState = "REJECTED"
)

// Terminal reports whether the state will never change again.
func (s RequestState) Terminal() bool {
	switch s {
	case StateCompleted, StateBroadcasting, StateBlocked, StateCancelled, StateFailed, StateRejected:
		return true
	}
	return false
}

// Failure reports whether the state is a terminal that yields no
// signatures.
func (s RequestState) Failure() bool {
	switch s {
	case StateBlocked, StateCancelled, StateFailed, StateRejected:
		return true
	}
	return false
}

// RawMessage is one payload submitted for raw signing. Index is the
// submission position; returned signatures correlate on it.
type RawMessage struct {
	Index   int    `json:"index"`
	Content []byte `json:"content"`
}

// SignedMessage is one signed payload returned by the service. Content
// echoes the submitted bytes so callers can cross-check the match.
type SignedMessage struct {
	Index     int              `json:"index"`
	Content   []byte           `json:"content"`
	Signature txwire.Signature `json:"signature"`
	PublicKey txwire.PublicKey `json:"publicKey"`
}

// RequestStatus is a point-in-time snapshot of a signing request.
type RequestStatus struct {
	ID             string          `json:"id"`
	State          RequestState    `json:"state"`
	SubStatus      string          `json:"subStatus,omitempty"`
	SignedMessages []SignedMessage `json:"signedMessages,omitempty"`
}
