package txwire

import (
	"bytes"
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// MaxEncodedSize is the network's hard cap on a serialized signed
// transaction. Group caps upstream are chosen so encoded messages stay
// comfortably under it.
const MaxEncodedSize = 1232

// AccountMeta describes how one account participates in an instruction.
type AccountMeta struct {
	Key      PublicKey
	Signer   bool
	Writable bool
}

// Instruction is a single program invocation before compilation into a
// message's shared account table.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// CompiledInstruction references its program and accounts by index into
// the message's account table.
type CompiledInstruction struct {
	ProgramIndex uint8
	AccountIdxs  []uint8
	Data         []byte
}

// Message is the unsigned payload of a transaction: a header describing
// signer/writability layout, a deduplicated account table, the recent
// blockhash, and the compiled instruction list. The encoded form is what
// gets sent out for raw signing; signatures cover exactly these bytes.
type Message struct {
	NumRequiredSignatures uint8
	NumReadonlySigned     uint8
	NumReadonlyUnsigned   uint8
	AccountKeys           []PublicKey
	RecentBlockhash       Hash
	Instructions          []CompiledInstruction
}

// NewMessage compiles instructions against a fee payer and blockhash.
// The fee payer always occupies slot zero of the account table and is
// always a writable signer.
func NewMessage(feePayer PublicKey, blockhash Hash, instrs []Instruction) (*Message, error) {
	if feePayer.IsZero() {
		return nil, xerrors.New("message requires a fee payer")
	}
	if blockhash.IsZero() {
		return nil, xerrors.New("message requires a recent blockhash")
	}
	if len(instrs) == 0 {
		return nil, xerrors.New("message requires at least one instruction")
	}

	// Merge metas for the same key; signer/writable flags are sticky.
	merged := map[PublicKey]*AccountMeta{}
	order := []PublicKey{}
	note := func(m AccountMeta) {
		if prev, ok := merged[m.Key]; ok {
			prev.Signer = prev.Signer || m.Signer
			prev.Writable = prev.Writable || m.Writable
			return
		}
		cp := m
		merged[m.Key] = &cp
		order = append(order, m.Key)
	}
	note(AccountMeta{Key: feePayer, Signer: true, Writable: true})
	for _, in := range instrs {
		for _, m := range in.Accounts {
			note(m)
		}
		note(AccountMeta{Key: in.ProgramID})
	}

	// Table layout: fee payer, writable signers, readonly signers,
	// writable non-signers, readonly non-signers. Within a class the
	// first-use order is kept so encoding is deterministic.
	classes := [4][]PublicKey{}
	for _, k := range order {
		if k == feePayer {
			continue
		}
		m := merged[k]
		switch {
		case m.Signer && m.Writable:
			classes[0] = append(classes[0], k)
		case m.Signer:
			classes[1] = append(classes[1], k)
		case m.Writable:
			classes[2] = append(classes[2], k)
		default:
			classes[3] = append(classes[3], k)
		}
	}

	msg := &Message{RecentBlockhash: blockhash}
	msg.AccountKeys = append(msg.AccountKeys, feePayer)
	for _, cls := range classes {
		msg.AccountKeys = append(msg.AccountKeys, cls...)
	}
	msg.NumRequiredSignatures = uint8(1 + len(classes[0]) + len(classes[1]))
	msg.NumReadonlySigned = uint8(len(classes[1]))
	msg.NumReadonlyUnsigned = uint8(len(classes[3]))

	idx := map[PublicKey]uint8{}
	for i, k := range msg.AccountKeys {
		if i > 255 {
			return nil, xerrors.Errorf("account table overflow: %d keys", len(msg.AccountKeys))
		}
		idx[k] = uint8(i)
	}
	for _, in := range instrs {
		ci := CompiledInstruction{ProgramIndex: idx[in.ProgramID], Data: in.Data}
		for _, m := range in.Accounts {
			ci.AccountIdxs = append(ci.AccountIdxs, idx[m.Key])
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// FeePayer returns the account that signs first and pays fees.
func (m *Message) FeePayer() PublicKey {
	return m.AccountKeys[0]
}

// Encode serializes the message deterministically. Variable-length
// sections are prefixed with a compact-u16 count.
func (m *Message) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.NumRequiredSignatures)
	buf.WriteByte(m.NumReadonlySigned)
	buf.WriteByte(m.NumReadonlyUnsigned)
	writeCompactU16(&buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf.Write(k[:])
	}
	buf.Write(m.RecentBlockhash[:])
	writeCompactU16(&buf, len(m.Instructions))
	for _, ci := range m.Instructions {
		buf.WriteByte(ci.ProgramIndex)
		writeCompactU16(&buf, len(ci.AccountIdxs))
		buf.Write(ci.AccountIdxs)
		writeCompactU16(&buf, len(ci.Data))
		buf.Write(ci.Data)
	}
	return buf.Bytes()
}

// DecodeMessage parses bytes produced by Encode. It is used by the
// broadcaster to recover the signer layout before verification.
func DecodeMessage(raw []byte) (*Message, error) {
	r := bytes.NewReader(raw)
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, xerrors.Errorf("reading message header: %w", err)
	}
	m := &Message{
		NumRequiredSignatures: hdr[0],
		NumReadonlySigned:     hdr[1],
		NumReadonlyUnsigned:   hdr[2],
	}
	nkeys, err := readCompactU16(r)
	if err != nil {
		return nil, xerrors.Errorf("reading account count: %w", err)
	}
	if int(m.NumRequiredSignatures) > nkeys {
		return nil, xerrors.Errorf("message declares %d signers over %d accounts", m.NumRequiredSignatures, nkeys)
	}
	for i := 0; i < nkeys; i++ {
		var k PublicKey
		if _, err := io.ReadFull(r, k[:]); err != nil {
			return nil, xerrors.Errorf("reading account key %d: %w", i, err)
		}
		m.AccountKeys = append(m.AccountKeys, k)
	}
	if _, err := io.ReadFull(r, m.RecentBlockhash[:]); err != nil {
		return nil, xerrors.Errorf("reading blockhash: %w", err)
	}
	ninstr, err := readCompactU16(r)
	if err != nil {
		return nil, xerrors.Errorf("reading instruction count: %w", err)
	}
	for i := 0; i < ninstr; i++ {
		var ci CompiledInstruction
		pi, err := r.ReadByte()
		if err != nil {
			return nil, xerrors.Errorf("reading program index of instruction %d: %w", i, err)
		}
		ci.ProgramIndex = pi
		nacc, err := readCompactU16(r)
		if err != nil {
			return nil, xerrors.Errorf("reading account count of instruction %d: %w", i, err)
		}
		ci.AccountIdxs = make([]uint8, nacc)
		if _, err := io.ReadFull(r, ci.AccountIdxs); err != nil {
			return nil, xerrors.Errorf("reading account indexes of instruction %d: %w", i, err)
		}
		ndata, err := readCompactU16(r)
		if err != nil {
			return nil, xerrors.Errorf("reading data length of instruction %d: %w", i, err)
		}
		ci.Data = make([]byte, ndata)
		if _, err := io.ReadFull(r, ci.Data); err != nil {
			return nil, xerrors.Errorf("reading data of instruction %d: %w", i, err)
		}
		m.Instructions = append(m.Instructions, ci)
	}
	if r.Len() != 0 {
		return nil, xerrors.Errorf("%d trailing bytes after message", r.Len())
	}
	return m, nil
}

func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

func readCompactU16(r *bytes.Reader) (int, error) {
	var out uint16
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		out |= uint16(b&0x7f) << shift
		if b&0x80 == 0 {
			return int(out), nil
		}
		shift += 7
		if shift > 14 {
			return 0, xerrors.New("compact-u16 overflow")
		}
	}
}

func appendU32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func appendU64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}
