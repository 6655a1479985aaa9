package stake

import (
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/txwire"
)

// RentExemptReserve is the minimum lamport balance a stake account must
// keep to stay rent exempt. Withdrawals always leave it behind.
const RentExemptReserve uint64 = 2_282_880

// OpKind selects which bulk operation a run performs. Each kind carries
// its own group-size cap and transaction builder.
type OpKind string

const (
	OpChangeAuthority OpKind = "change-authority"
	OpWithdraw        OpKind = "withdraw"
)

// GroupCap returns the maximum accounts per transaction for the kind.
// Authority changes carry two small instructions per account; withdrawals
// carry one larger instruction each. Both caps keep the encoded message
// under the network size limit.
func (k OpKind) GroupCap() int {
	switch k {
	case OpChangeAuthority:
		return 6
	case OpWithdraw:
		return 4
	default:
		return 0
	}
}

func (k OpKind) Valid() bool {
	return k == OpChangeAuthority || k == OpWithdraw
}

func ParseOpKind(s string) (OpKind, error) {
	k := OpKind(s)
	if !k.Valid() {
		return "", xerrors.Errorf("unknown operation %q", s)
	}
	return k, nil
}

// AccountStatus is the directory's view of a stake account's lifecycle.
type AccountStatus string

const (
	StatusActive       AccountStatus = "active"
	StatusDeactivating AccountStatus = "deactivating"
	StatusInactive     AccountStatus = "inactive"
)

// StakeAccount is one target account as reported by the directory.
type StakeAccount struct {
	Address  string        `json:"address"`
	Lamports uint64        `json:"lamports"`
	Status   AccountStatus `json:"status"`
}

// Authority pairs a custody vault id with its resolved on-chain address.
// Resolved once per run and read-only afterwards.
type Authority struct {
	VaultID string
	Address txwire.PublicKey
}

// Authorities holds the run's signing identities. New is zero for
// withdrawals.
type Authorities struct {
	Current Authority
	New     Authority
}

// UnsignedGroup is one partition's worth of accounts compiled into a
// single unsigned transaction. Content is the exact byte payload handed
// to the signing service; correlation later depends on it verbatim.
type UnsignedGroup struct {
	Accounts  []StakeAccount
	FeePayer  txwire.PublicKey
	Blockhash txwire.Hash
	Content   []byte
}

// Addresses returns the member account addresses in group order.
func (g *UnsignedGroup) Addresses() []string {
	out := make([]string, len(g.Accounts))
	for i, a := range g.Accounts {
		out[i] = a.Address
	}
	return out
}
