package broadcast

import (
	"context"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/node"
	"github.com/stakeops/stakebatch/txwire"
)

var log = logging.Logger("broadcast")

// SignatureVerificationError means a returned signature does not verify
// against the message it claims to sign. The transaction never reaches
// the network.
type SignatureVerificationError struct {
	Signer txwire.PublicKey
	Err    error
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("signature verification failed for %s: %s", e.Signer, e.Err)
}

func (e *SignatureVerificationError) Unwrap() error { return e.Err }

// BroadcastError wraps a network rejection. Logs carries the preflight
// simulation output when the node returned any.
type BroadcastError struct {
	Err  error
	Logs []string
}

func (e *BroadcastError) Error() string {
	if len(e.Logs) == 0 {
		return fmt.Sprintf("broadcast failed: %s", e.Err)
	}
	return fmt.Sprintf("broadcast failed: %s\nsimulation logs:\n%s", e.Err, strings.Join(e.Logs, "\n"))
}

func (e *BroadcastError) Unwrap() error { return e.Err }

// Broadcaster reconstructs signed transactions and submits them.
// Preflight simulation runs before every submission unless disabled.
type Broadcaster struct {
	chain         node.ChainAPI
	skipPreflight bool
}

func New(chain node.ChainAPI) *Broadcaster {
	return &Broadcaster{chain: chain}
}

// NewWithoutPreflight skips the simulation step. Only for recovery
// tooling; normal runs always preflight.
func NewWithoutPreflight(chain node.ChainAPI) *Broadcaster {
	return &Broadcaster{chain: chain, skipPreflight: true}
}

// Broadcast attaches the signature to the serialized message, verifies
// it cryptographically, preflights, and submits. It returns the
// network-assigned transaction id. An unverified transaction is never
// transmitted.
func (b *Broadcaster) Broadcast(ctx context.Context, content []byte, sig txwire.Signature, signer txwire.PublicKey) (string, error) {
	tx, err := txwire.NewTransaction(content, sig)
	if err != nil {
		return "", xerrors.Errorf("reconstructing transaction: %w", err)
	}
	if payer := tx.Message.FeePayer(); payer != signer {
		return "", &SignatureVerificationError{
			Signer: signer,
			Err:    xerrors.Errorf("signer is not the fee payer %s", payer),
		}
	}
	if err := tx.VerifySignatures(); err != nil {
		return "", &SignatureVerificationError{Signer: signer, Err: err}
	}

	signed, err := tx.Encode()
	if err != nil {
		return "", xerrors.Errorf("encoding signed transaction: %w", err)
	}

	if !b.skipPreflight {
		sim, err := b.chain.SimulateTransaction(ctx, signed)
		if err != nil {
			return "", &BroadcastError{Err: xerrors.Errorf("preflight: %w", err)}
		}
		if sim.Err != "" {
			return "", &BroadcastError{Err: xerrors.Errorf("preflight: %s", sim.Err), Logs: sim.Logs}
		}
	}

	txid, err := b.chain.BroadcastTransaction(ctx, signed)
	if err != nil {
		return "", &BroadcastError{Err: err}
	}
	log.Infow("broadcast transaction", "txid", txid, "signer", signer)
	return txid, nil
}
