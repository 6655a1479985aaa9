package txwire

import (
	"encoding/json"

	"github.com/mr-tron/base58"
	"golang.org/x/xerrors"
)

const (
	PublicKeyLength = 32
	SignatureLength = 64
	HashLength      = 32
)

// PublicKey is an ed25519 public key, rendered as base58 text everywhere
// it crosses a process boundary.
type PublicKey [PublicKeyLength]byte

func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	if s == "" {
		return pk, xerrors.New("empty public key")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, xerrors.Errorf("decoding public key %q: %w", s, err)
	}
	if len(raw) != PublicKeyLength {
		return pk, xerrors.Errorf("public key %q: expected %d bytes, got %d", s, PublicKeyLength, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func MustParsePublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

func (pk *PublicKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePublicKey(s)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// Hash is a recent blockhash, the liveness proof every transaction must
// carry. It expires after a couple of minutes of chain progress.
type Hash [HashLength]byte

func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := base58.Decode(s)
	if err != nil {
		return h, xerrors.Errorf("decoding blockhash %q: %w", s, err)
	}
	if len(raw) != HashLength {
		return h, xerrors.Errorf("blockhash %q: expected %d bytes, got %d", s, HashLength, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string {
	return base58.Encode(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Signature is an ed25519 signature over an encoded message.
type Signature [SignatureLength]byte

func ParseSignature(s string) (Signature, error) {
	var sig Signature
	raw, err := base58.Decode(s)
	if err != nil {
		return sig, xerrors.Errorf("decoding signature %q: %w", s, err)
	}
	if len(raw) != SignatureLength {
		return sig, xerrors.Errorf("signature %q: expected %d bytes, got %d", s, SignatureLength, len(raw))
	}
	copy(sig[:], raw)
	return sig, nil
}

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Signature) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	parsed, err := ParseSignature(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
