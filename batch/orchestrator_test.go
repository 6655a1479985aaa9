package batch_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/batch"
	"github.com/stakeops/stakebatch/config"
	"github.com/stakeops/stakebatch/custody"
	"github.com/stakeops/stakebatch/stake"
	"github.com/stakeops/stakebatch/txwire"
)

func testKey(t *testing.T) txwire.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var pk txwire.PublicKey
	copy(pk[:], pub)
	return pk
}

func testAccounts(t *testing.T, n int) []stake.StakeAccount {
	t.Helper()
	out := make([]stake.StakeAccount, n)
	for i := range out {
		out[i] = stake.StakeAccount{
			Address:  testKey(t).String(),
			Lamports: stake.RentExemptReserve + 1_000_000,
			Status:   stake.StatusInactive,
		}
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Node.Endpoint = "http://localhost:8899"
	cfg.Custody.Endpoint = "https://custody.example"
	cfg.Custody.APIKey = "key"
	cfg.Custody.PrivateKeyPath = "/tmp/key.pem"
	cfg.Vaults.Current = "12"
	cfg.Vaults.New = "57"
	return cfg
}

type fakeResolver struct {
	addrs map[string]txwire.PublicKey
	calls int
	err   error
}

func (f *fakeResolver) ResolveAddress(ctx context.Context, vaultID string) (txwire.PublicKey, error) {
	f.calls++
	if f.err != nil {
		return txwire.PublicKey{}, f.err
	}
	pk, ok := f.addrs[vaultID]
	if !ok {
		return txwire.PublicKey{}, &custody.ResolutionError{VaultID: vaultID}
	}
	return pk, nil
}

type fakeLister struct {
	accounts []stake.StakeAccount
	err      error
}

func (f *fakeLister) List(ctx context.Context, authority string) ([]stake.StakeAccount, error) {
	return f.accounts, f.err
}

type fakeBlockhash struct{}

func (fakeBlockhash) LatestBlockhash(ctx context.Context) (txwire.Hash, error) {
	var h txwire.Hash
	if _, err := rand.Read(h[:]); err != nil {
		return h, err
	}
	return h, nil
}

// fakeSigner signs everything, except the calls listed in failOn, which
// end in a blocked terminal state.
type fakeSigner struct {
	calls  int
	failOn map[int]bool
}

func (f *fakeSigner) Sign(ctx context.Context, groups []*stake.UnsignedGroup, sourceVault, note string) ([]custody.Outcome, error) {
	f.calls++
	if f.failOn[f.calls] {
		return nil, &custody.SigningTerminalFailure{RequestID: "req", State: custody.StateBlocked, SubStatus: "BLOCKED_BY_POLICY"}
	}
	out := make([]custody.Outcome, len(groups))
	for i := range groups {
		out[i] = custody.Outcome{Signature: txwire.Signature{1}, Signer: groups[i].FeePayer}
	}
	return out, nil
}

type fakeCaster struct {
	calls int
	errOn map[int]error
}

func (f *fakeCaster) Broadcast(ctx context.Context, content []byte, sig txwire.Signature, signer txwire.PublicKey) (string, error) {
	f.calls++
	if err := f.errOn[f.calls]; err != nil {
		return "", err
	}
	return fmt.Sprintf("tx-%d", f.calls), nil
}

type fakeSink struct {
	rows   []batch.GroupResult
	writes int
	err    error
}

func (f *fakeSink) Write(rows []batch.GroupResult) (string, error) {
	f.writes++
	f.rows = rows
	if f.err != nil {
		return "", f.err
	}
	return "report.csv", nil
}

type testHarness struct {
	cfg      *config.Config
	resolver *fakeResolver
	lister   *fakeLister
	signer   *fakeSigner
	caster   *fakeCaster
	sink     *fakeSink
	orch     *batch.Orchestrator
}

func newHarness(t *testing.T, cfg *config.Config, accounts []stake.StakeAccount) *testHarness {
	t.Helper()
	h := &testHarness{
		cfg: cfg,
		resolver: &fakeResolver{addrs: map[string]txwire.PublicKey{
			"12": testKey(t),
			"57": testKey(t),
		}},
		lister: &fakeLister{accounts: accounts},
		signer: &fakeSigner{},
		caster: &fakeCaster{},
		sink:   &fakeSink{},
	}
	builder, err := stake.NewBuilder(stake.OpChangeAuthority, fakeBlockhash{})
	require.NoError(t, err)
	h.orch = batch.NewOrchestrator(cfg, stake.OpChangeAuthority, h.resolver, h.lister, builder, h.signer, h.caster, h.sink)
	return h
}

func TestRunPartitionsAndSucceeds(t *testing.T) {
	accounts := testAccounts(t, 10)
	h := newHarness(t, testConfig(), accounts)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, summary.Groups, "10 accounts at cap 6 make groups of 6 and 4")
	require.Equal(t, 2, summary.GroupsSucceeded)
	require.Equal(t, 10, summary.AccountsSucceeded)
	require.Equal(t, "report.csv", summary.ReportLocation)

	// Every input account lands in exactly one result row.
	require.Len(t, h.sink.rows, 2)
	require.Len(t, h.sink.rows[0].Accounts, 6)
	require.Len(t, h.sink.rows[1].Accounts, 4)
	seen := map[string]int{}
	for _, row := range h.sink.rows {
		require.Equal(t, batch.StatusSuccess, row.Status)
		require.NotEmpty(t, row.TxID)
		for _, addr := range row.Accounts {
			seen[addr]++
		}
	}
	require.Len(t, seen, 10)
	for _, n := range seen {
		require.Equal(t, 1, n)
	}
}

// Signing for the middle group terminates blocked; its result is Failed
// and the other groups still go through.
func TestRunIsolatesSigningFailure(t *testing.T) {
	accounts := testAccounts(t, 13) // groups of 6, 6, 1
	h := newHarness(t, testConfig(), accounts)
	h.signer.failOn = map[int]bool{2: true}

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err, "group failures never escape the orchestrator")

	require.Equal(t, 3, summary.Groups)
	require.Equal(t, 2, summary.GroupsSucceeded)
	require.Equal(t, 1, summary.GroupsFailed)
	require.Equal(t, 6, summary.AccountsFailed)

	require.Equal(t, batch.StatusSuccess, h.sink.rows[0].Status)
	require.Equal(t, batch.StatusFailed, h.sink.rows[1].Status)
	require.Contains(t, h.sink.rows[1].Error, "BLOCKED_BY_POLICY")
	require.Empty(t, h.sink.rows[1].TxID)
	require.Equal(t, batch.StatusSuccess, h.sink.rows[2].Status)
}

func TestRunIsolatesBroadcastFailure(t *testing.T) {
	accounts := testAccounts(t, 12) // groups of 6, 6
	h := newHarness(t, testConfig(), accounts)
	h.caster.errOn = map[int]error{1: xerrors.New("blockhash not found")}

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, summary.GroupsFailed)
	require.Equal(t, 1, summary.GroupsSucceeded)
	require.Contains(t, h.sink.rows[0].Error, "blockhash not found")
}

func TestRunAbortsOnEmptyListing(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	summary, err := h.orch.Run(context.Background())

	var empty *batch.EmptyInputError
	require.ErrorAs(t, err, &empty)
	require.Nil(t, summary)
	require.Zero(t, h.sink.writes, "no results are produced")
	require.Zero(t, h.signer.calls)
}

func TestRunAbortsWhenNothingValid(t *testing.T) {
	h := newHarness(t, testConfig(), []stake.StakeAccount{
		{Address: "", Lamports: 1},
		{Address: "!!!", Lamports: 1},
	})

	_, err := h.orch.Run(context.Background())

	var empty *batch.EmptyInputError
	require.ErrorAs(t, err, &empty)
	require.True(t, empty.Filtered)
}

// Equal vault ids must fail validation before any resolution attempt.
func TestRunValidatesBeforeResolving(t *testing.T) {
	cfg := testConfig()
	cfg.Vaults.New = cfg.Vaults.Current
	h := newHarness(t, cfg, testAccounts(t, 3))

	_, err := h.orch.Run(context.Background())

	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Zero(t, h.resolver.calls, "no network call before validation")
	require.Zero(t, h.sink.writes)
}

func TestRunAbortsOnResolutionFailure(t *testing.T) {
	h := newHarness(t, testConfig(), testAccounts(t, 3))
	h.resolver.err = &custody.ResolutionError{VaultID: "12", Err: xerrors.New("service unavailable")}

	_, err := h.orch.Run(context.Background())

	var rerr *custody.ResolutionError
	require.ErrorAs(t, err, &rerr)
	require.Zero(t, h.signer.calls, "no groups are attempted")
	require.Zero(t, h.sink.writes)
}

func TestRunReportsSinkFailure(t *testing.T) {
	h := newHarness(t, testConfig(), testAccounts(t, 2))
	h.sink.err = xerrors.New("disk full")

	summary, err := h.orch.Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, summary, "the summary survives a failed report write")
	require.Equal(t, 1, summary.GroupsSucceeded)
}
