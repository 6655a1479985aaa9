package txwire

import (
	"bytes"
	"crypto/ed25519"

	"golang.org/x/xerrors"
)

// Transaction is a signed wire transaction: the signature list followed
// by the encoded message the signatures cover.
type Transaction struct {
	Signatures []Signature
	Message    *Message

	rawMessage []byte
}

// NewTransaction reassembles a transaction from an encoded message and
// the signatures collected for it, in signer order.
func NewTransaction(rawMessage []byte, sigs ...Signature) (*Transaction, error) {
	msg, err := DecodeMessage(rawMessage)
	if err != nil {
		return nil, xerrors.Errorf("decoding message: %w", err)
	}
	if len(sigs) != int(msg.NumRequiredSignatures) {
		return nil, xerrors.Errorf("message requires %d signatures, got %d", msg.NumRequiredSignatures, len(sigs))
	}
	return &Transaction{
		Signatures: sigs,
		Message:    msg,
		rawMessage: rawMessage,
	}, nil
}

// VerifySignatures checks every required signature against the signer at
// the same slot of the account table. It never returns nil for a
// transaction that should not hit the network.
func (tx *Transaction) VerifySignatures() error {
	for i, sig := range tx.Signatures {
		signer := tx.Message.AccountKeys[i]
		if !ed25519.Verify(ed25519.PublicKey(signer[:]), tx.rawMessage, sig[:]) {
			return xerrors.Errorf("signature %d does not verify against signer %s", i, signer)
		}
	}
	return nil
}

// Encode serializes the signed transaction for broadcast.
func (tx *Transaction) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeCompactU16(&buf, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		buf.Write(sig[:])
	}
	buf.Write(tx.rawMessage)
	if buf.Len() > MaxEncodedSize {
		return nil, xerrors.Errorf("encoded transaction is %d bytes, network cap is %d", buf.Len(), MaxEncodedSize)
	}
	return buf.Bytes(), nil
}
