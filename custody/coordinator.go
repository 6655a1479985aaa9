package custody

import (
	"bytes"
	"context"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/stake"
	"github.com/stakeops/stakebatch/txwire"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultDeadline     = 15 * time.Minute
)

// Resolver is the slice of the vault service the coordinator needs.
type Resolver interface {
	CreateRawSigning(ctx context.Context, msgs []RawMessage, sourceVault, note string) (string, error)
	GetRequest(ctx context.Context, id string) (*RequestStatus, error)
}

// AddressResolver turns vault ids into on-chain addresses.
type AddressResolver interface {
	ResolveAddress(ctx context.Context, vaultID string) (txwire.PublicKey, error)
}

// Outcome is the per-group result of one signing request. Either
// Signature and Signer are set, or Err explains why this group got no
// usable signature.
type Outcome struct {
	Signature txwire.Signature
	Signer    txwire.PublicKey
	Err       error
}

// Coordinator drives one signing request from submission to a terminal
// state and correlates the returned signatures back to the groups that
// produced them.
type Coordinator struct {
	resolver Resolver
	interval time.Duration
	deadline time.Duration
}

func NewCoordinator(resolver Resolver, interval, deadline time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Coordinator{resolver: resolver, interval: interval, deadline: deadline}
}

// Sign submits the groups' serialized contents as a single raw-signing
// request and blocks until the request terminates, the deadline passes,
// or ctx is cancelled. Poll status is logged only on state transitions.
// Transient poll errors back off and retry; they never fail the request
// by themselves.
//
// On a success terminal the returned slice has one Outcome per submitted
// group, in submission order. A failure terminal fails every group at
// once via SigningTerminalFailure; running past the deadline returns
// SigningTimeoutError.
func (c *Coordinator) Sign(ctx context.Context, groups []*stake.UnsignedGroup, sourceVault, note string) ([]Outcome, error) {
	if len(groups) == 0 {
		return nil, xerrors.New("nothing to sign")
	}
	msgs := make([]RawMessage, len(groups))
	for i, g := range groups {
		if len(g.Content) == 0 {
			return nil, xerrors.Errorf("group %d has no serialized content", i)
		}
		msgs[i] = RawMessage{Index: i, Content: g.Content}
	}

	id, err := c.resolver.CreateRawSigning(ctx, msgs, sourceVault, note)
	if err != nil {
		return nil, xerrors.Errorf("creating signing request: %w", err)
	}
	log.Infow("created signing request", "id", id, "messages", len(msgs), "vault", sourceVault)

	deadline := time.Now().Add(c.deadline)
	last := StateCreated
	bo := &backoff.Backoff{Min: c.interval, Max: 30 * time.Second, Factor: 2, Jitter: true}
	wait := c.interval

	for {
		if time.Now().After(deadline) {
			return nil, &SigningTimeoutError{RequestID: id, LastState: last, Deadline: c.deadline}
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		status, err := c.resolver.GetRequest(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			wait = bo.Duration()
			log.Warnw("polling signing request failed", "id", id, "retryIn", wait, "err", err)
			continue
		}
		bo.Reset()
		wait = c.interval

		if status.State != last {
			log.Infow("signing request state changed", "id", id, "from", last, "to", status.State)
			last = status.State
		}
		if !status.State.Terminal() {
			continue
		}
		if status.State.Failure() {
			return nil, &SigningTerminalFailure{RequestID: id, State: status.State, SubStatus: status.SubStatus}
		}
		return c.correlate(id, groups, status), nil
	}
}

// correlate pairs returned signatures with submitted groups. The
// submission index is the primary key; content equality is cross-checked
// so a service bug can never attach a signature to the wrong bytes. A
// count mismatch is a warning, not an abort: matched groups proceed,
// unmatched ones fail with ErrNoMatchingContent.
func (c *Coordinator) correlate(id string, groups []*stake.UnsignedGroup, status *RequestStatus) []Outcome {
	out := make([]Outcome, len(groups))
	seen := make([]bool, len(groups))
	matched := 0

	for _, sm := range status.SignedMessages {
		if sm.Index < 0 || sm.Index >= len(groups) {
			log.Warnw("signature for unknown submission index", "id", id, "index", sm.Index)
			continue
		}
		if seen[sm.Index] {
			log.Warnw("duplicate signature for submission index", "id", id, "index", sm.Index)
			if out[sm.Index].Err == nil {
				matched--
			}
			out[sm.Index] = Outcome{Err: xerrors.Errorf("duplicate signature for submission %d: %w", sm.Index, ErrNoMatchingContent)}
			continue
		}
		seen[sm.Index] = true
		if !bytes.Equal(sm.Content, groups[sm.Index].Content) {
			out[sm.Index] = Outcome{Err: ErrNoMatchingContent}
			continue
		}
		out[sm.Index] = Outcome{Signature: sm.Signature, Signer: sm.PublicKey}
		matched++
	}

	for i := range out {
		if !seen[i] {
			out[i] = Outcome{Err: ErrNoMatchingContent}
		}
	}
	if matched != len(groups) {
		log.Warnf("correlation mismatch on request %s: submitted %d, returned %d, matched %d",
			id, len(groups), len(status.SignedMessages), matched)
	}
	return out
}
