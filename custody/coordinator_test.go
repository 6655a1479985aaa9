package custody_test

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/custody"
	"github.com/stakeops/stakebatch/stake"
	"github.com/stakeops/stakebatch/txwire"
)

// fakeResolver walks through a scripted sequence of statuses, one per
// poll.
type fakeResolver struct {
	statuses  []*custody.RequestStatus
	pollErrs  []error
	created   int
	polls     int
	lastMsgs  []custody.RawMessage
	lastVault string
}

func (f *fakeResolver) CreateRawSigning(ctx context.Context, msgs []custody.RawMessage, sourceVault, note string) (string, error) {
	f.created++
	f.lastMsgs = msgs
	f.lastVault = sourceVault
	return "req-1", nil
}

func (f *fakeResolver) GetRequest(ctx context.Context, id string) (*custody.RequestStatus, error) {
	defer func() { f.polls++ }()
	if f.polls < len(f.pollErrs) && f.pollErrs[f.polls] != nil {
		return nil, f.pollErrs[f.polls]
	}
	i := f.polls - len(f.pollErrs)
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return f.statuses[i], nil
}

func testGroup(t *testing.T, content []byte) *stake.UnsignedGroup {
	t.Helper()
	return &stake.UnsignedGroup{Content: content}
}

func testSig(t *testing.T) txwire.Signature {
	t.Helper()
	var sig txwire.Signature
	_, err := rand.Read(sig[:])
	require.NoError(t, err)
	return sig
}

func newTestCoordinator(r custody.Resolver) *custody.Coordinator {
	return custody.NewCoordinator(r, time.Millisecond, time.Second)
}

func TestSignHappyPath(t *testing.T) {
	sig := testSig(t)
	resolver := &fakeResolver{
		statuses: []*custody.RequestStatus{
			{ID: "req-1", State: custody.StateQueued},
			{ID: "req-1", State: custody.StatePendingAuthorization},
			{ID: "req-1", State: custody.StateProcessing},
			{
				ID:    "req-1",
				State: custody.StateCompleted,
				SignedMessages: []custody.SignedMessage{
					{Index: 0, Content: []byte("tx-0"), Signature: sig},
				},
			},
		},
	}

	outcomes, err := newTestCoordinator(resolver).Sign(context.Background(),
		[]*stake.UnsignedGroup{testGroup(t, []byte("tx-0"))}, "12", "test")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	require.Equal(t, sig, outcomes[0].Signature)
	require.Equal(t, 1, resolver.created)
	require.Equal(t, "12", resolver.lastVault)
}

func TestSignTerminalFailure(t *testing.T) {
	resolver := &fakeResolver{
		statuses: []*custody.RequestStatus{
			{ID: "req-1", State: custody.StateQueued},
			{ID: "req-1", State: custody.StateBlocked, SubStatus: "BLOCKED_BY_POLICY"},
		},
	}

	_, err := newTestCoordinator(resolver).Sign(context.Background(),
		[]*stake.UnsignedGroup{testGroup(t, []byte("tx-0"))}, "12", "test")

	var terminal *custody.SigningTerminalFailure
	require.ErrorAs(t, err, &terminal)
	require.Equal(t, custody.StateBlocked, terminal.State)
	require.Contains(t, terminal.Error(), "BLOCKED_BY_POLICY")
}

func TestSignTimeout(t *testing.T) {
	resolver := &fakeResolver{
		statuses: []*custody.RequestStatus{
			{ID: "req-1", State: custody.StatePendingAuthorization},
		},
	}
	c := custody.NewCoordinator(resolver, time.Millisecond, 30*time.Millisecond)

	_, err := c.Sign(context.Background(),
		[]*stake.UnsignedGroup{testGroup(t, []byte("tx-0"))}, "12", "test")

	var timeout *custody.SigningTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, custody.StatePendingAuthorization, timeout.LastState)
}

func TestSignSurvivesTransientPollErrors(t *testing.T) {
	sig := testSig(t)
	resolver := &fakeResolver{
		pollErrs: []error{
			xerrors.New("gateway timeout"),
			xerrors.New("connection reset"),
		},
		statuses: []*custody.RequestStatus{
			{
				ID:    "req-1",
				State: custody.StateCompleted,
				SignedMessages: []custody.SignedMessage{
					{Index: 0, Content: []byte("tx-0"), Signature: sig},
				},
			},
		},
	}

	outcomes, err := newTestCoordinator(resolver).Sign(context.Background(),
		[]*stake.UnsignedGroup{testGroup(t, []byte("tx-0"))}, "12", "test")
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)
}

// Submitting two payloads and getting one signature back degrades to the
// matched payload only; the other group fails with the no-match error.
func TestSignPartialReturn(t *testing.T) {
	sig := testSig(t)
	resolver := &fakeResolver{
		statuses: []*custody.RequestStatus{
			{
				ID:    "req-1",
				State: custody.StateCompleted,
				SignedMessages: []custody.SignedMessage{
					{Index: 0, Content: []byte("tx-0"), Signature: sig},
				},
			},
		},
	}

	outcomes, err := newTestCoordinator(resolver).Sign(context.Background(),
		[]*stake.UnsignedGroup{
			testGroup(t, []byte("tx-0")),
			testGroup(t, []byte("tx-1")),
		}, "12", "test")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.NoError(t, outcomes[0].Err)
	require.Equal(t, sig, outcomes[0].Signature)
	require.ErrorIs(t, outcomes[1].Err, custody.ErrNoMatchingContent)
}

func TestSignContentMismatch(t *testing.T) {
	resolver := &fakeResolver{
		statuses: []*custody.RequestStatus{
			{
				ID:    "req-1",
				State: custody.StateCompleted,
				SignedMessages: []custody.SignedMessage{
					{Index: 0, Content: []byte("something else"), Signature: testSig(t)},
				},
			},
		},
	}

	outcomes, err := newTestCoordinator(resolver).Sign(context.Background(),
		[]*stake.UnsignedGroup{testGroup(t, []byte("tx-0"))}, "12", "test")
	require.NoError(t, err)
	require.ErrorIs(t, outcomes[0].Err, custody.ErrNoMatchingContent)
}

func TestSignSubmitsIndexedContents(t *testing.T) {
	resolver := &fakeResolver{
		statuses: []*custody.RequestStatus{
			{ID: "req-1", State: custody.StateCancelled},
		},
	}

	_, err := newTestCoordinator(resolver).Sign(context.Background(),
		[]*stake.UnsignedGroup{
			testGroup(t, []byte("tx-0")),
			testGroup(t, []byte("tx-1")),
		}, "12", "test")
	require.Error(t, err)

	require.Len(t, resolver.lastMsgs, 2)
	for i, msg := range resolver.lastMsgs {
		require.Equal(t, i, msg.Index)
	}
}

func TestStatePredicates(t *testing.T) {
	for _, s := range []custody.RequestState{custody.StateCompleted, custody.StateBroadcasting} {
		require.True(t, s.Terminal())
		require.False(t, s.Failure())
	}
	for _, s := range []custody.RequestState{custody.StateBlocked, custody.StateCancelled, custody.StateFailed, custody.StateRejected} {
		require.True(t, s.Terminal())
		require.True(t, s.Failure())
	}
	for _, s := range []custody.RequestState{custody.StateCreated, custody.StateQueued, custody.StatePendingAuthorization, custody.StateProcessing} {
		require.False(t, s.Terminal())
	}
}
