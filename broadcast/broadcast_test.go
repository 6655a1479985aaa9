package broadcast_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/broadcast"
	"github.com/stakeops/stakebatch/node"
	"github.com/stakeops/stakebatch/txwire"
)

type fakeChain struct {
	simResult  *node.SimulationResult
	simErr     error
	txid       string
	sendErr    error
	simCalls   int
	sendCalls  int
	lastSigned []byte
}

func (f *fakeChain) LatestBlockhash(ctx context.Context) (txwire.Hash, error) {
	return txwire.Hash{}, xerrors.New("not used")
}

func (f *fakeChain) SimulateTransaction(ctx context.Context, signed []byte) (*node.SimulationResult, error) {
	f.simCalls++
	if f.simErr != nil {
		return nil, f.simErr
	}
	if f.simResult != nil {
		return f.simResult, nil
	}
	return &node.SimulationResult{}, nil
}

func (f *fakeChain) BroadcastTransaction(ctx context.Context, signed []byte) (string, error) {
	f.sendCalls++
	f.lastSigned = signed
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return f.txid, nil
}

func (f *fakeChain) ListStakeAccounts(ctx context.Context, authority, cursor string, limit int) (*node.StakeAccountPage, error) {
	return nil, xerrors.New("not used")
}

func signedContent(t *testing.T) ([]byte, txwire.Signature, txwire.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var payer txwire.PublicKey
	copy(payer[:], pub)

	var stakeAcct txwire.PublicKey
	_, err = rand.Read(stakeAcct[:])
	require.NoError(t, err)
	var bh txwire.Hash
	_, err = rand.Read(bh[:])
	require.NoError(t, err)

	msg, err := txwire.NewMessage(payer, bh, []txwire.Instruction{
		txwire.NewWithdrawInstruction(stakeAcct, payer, payer, 1000),
	})
	require.NoError(t, err)
	raw := msg.Encode()

	var sig txwire.Signature
	copy(sig[:], ed25519.Sign(priv, raw))
	return raw, sig, payer
}

func TestBroadcastHappyPath(t *testing.T) {
	content, sig, signer := signedContent(t)
	chain := &fakeChain{txid: "tx-abc"}

	txid, err := broadcast.New(chain).Broadcast(context.Background(), content, sig, signer)
	require.NoError(t, err)
	require.Equal(t, "tx-abc", txid)
	require.Equal(t, 1, chain.simCalls, "preflight runs by default")
	require.Equal(t, 1, chain.sendCalls)
	require.NotEmpty(t, chain.lastSigned)
}

func TestBroadcastNeverSendsUnverified(t *testing.T) {
	content, sig, signer := signedContent(t)
	sig[3] ^= 0xff
	chain := &fakeChain{txid: "tx-abc"}

	_, err := broadcast.New(chain).Broadcast(context.Background(), content, sig, signer)

	var verr *broadcast.SignatureVerificationError
	require.ErrorAs(t, err, &verr)
	require.Zero(t, chain.simCalls)
	require.Zero(t, chain.sendCalls, "an unverified transaction must never hit the network")
}

func TestBroadcastRejectsWrongSigner(t *testing.T) {
	content, sig, _ := signedContent(t)
	var other txwire.PublicKey
	_, err := rand.Read(other[:])
	require.NoError(t, err)

	chain := &fakeChain{}
	_, err = broadcast.New(chain).Broadcast(context.Background(), content, sig, other)

	var verr *broadcast.SignatureVerificationError
	require.ErrorAs(t, err, &verr)
	require.Zero(t, chain.sendCalls)
}

func TestBroadcastSurfacesSimulationLogs(t *testing.T) {
	content, sig, signer := signedContent(t)
	chain := &fakeChain{
		simResult: &node.SimulationResult{
			Err:  "custom program error: 0x1",
			Logs: []string{"Program Stake11111 invoke [1]", "Program Stake11111 failed"},
		},
	}

	_, err := broadcast.New(chain).Broadcast(context.Background(), content, sig, signer)

	var berr *broadcast.BroadcastError
	require.ErrorAs(t, err, &berr)
	require.Contains(t, err.Error(), "custom program error: 0x1")
	require.Contains(t, err.Error(), "Program Stake11111 failed")
	require.Zero(t, chain.sendCalls, "preflight failure stops submission")
}

func TestBroadcastWrapsNetworkError(t *testing.T) {
	content, sig, signer := signedContent(t)
	chain := &fakeChain{sendErr: xerrors.New("blockhash not found")}

	_, err := broadcast.New(chain).Broadcast(context.Background(), content, sig, signer)

	var berr *broadcast.BroadcastError
	require.ErrorAs(t, err, &berr)
	require.Contains(t, err.Error(), "blockhash not found")
}

func TestBroadcastWithoutPreflight(t *testing.T) {
	content, sig, signer := signedContent(t)
	chain := &fakeChain{txid: "tx-xyz"}

	txid, err := broadcast.NewWithoutPreflight(chain).Broadcast(context.Background(), content, sig, signer)
	require.NoError(t, err)
	require.Equal(t, "tx-xyz", txid)
	require.Zero(t, chain.simCalls)
}
