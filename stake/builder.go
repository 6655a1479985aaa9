package stake

import (
	"context"
	"time"

	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/lib/retry"
	"github.com/stakeops/stakebatch/txwire"
)

// BuildError marks malformed group input. It fails the group, never the
// run.
type BuildError struct {
	Reason string
}

func (e *BuildError) Error() string {
	return "building transaction: " + e.Reason
}

func buildErrorf(format string, args ...interface{}) *BuildError {
	return &BuildError{Reason: xerrors.Errorf(format, args...).Error()}
}

// BlockhashSource supplies the liveness token stamped into each message.
// A fresh one is fetched per group because tokens expire while earlier
// groups wait on signing.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (txwire.Hash, error)
}

// Builder turns one validated group of accounts into an UnsignedGroup.
// Implementations are selected by operation kind at construction time.
type Builder interface {
	Kind() OpKind
	Build(ctx context.Context, accounts []StakeAccount, auth Authorities) (*UnsignedGroup, error)
}

// NewBuilder returns the builder strategy for the operation kind.
func NewBuilder(kind OpKind, chain BlockhashSource) (Builder, error) {
	switch kind {
	case OpChangeAuthority:
		return &changeAuthorityBuilder{chain: chain}, nil
	case OpWithdraw:
		return &withdrawBuilder{chain: chain}, nil
	default:
		return nil, xerrors.Errorf("no builder for operation %q", kind)
	}
}

// fetchBlockhash retries the node read; it is idempotent and a stale
// answer only shortens the group's signing window.
func fetchBlockhash(ctx context.Context, chain BlockhashSource) (txwire.Hash, error) {
	return retry.Retry(ctx, 3, 100*time.Millisecond, func(error) bool { return true }, func() (txwire.Hash, error) {
		return chain.LatestBlockhash(ctx)
	})
}

func checkGroup(accounts []StakeAccount) ([]txwire.PublicKey, error) {
	if len(accounts) == 0 {
		return nil, buildErrorf("empty group")
	}
	keys := make([]txwire.PublicKey, len(accounts))
	for i, acc := range accounts {
		if acc.Address == "" {
			return nil, buildErrorf("account %d has no address", i)
		}
		pk, err := txwire.ParsePublicKey(acc.Address)
		if err != nil {
			return nil, buildErrorf("account %d: %s", i, err)
		}
		keys[i] = pk
	}
	return keys, nil
}

type changeAuthorityBuilder struct {
	chain BlockhashSource
}

func (b *changeAuthorityBuilder) Kind() OpKind { return OpChangeAuthority }

// Build emits two authorize instructions per account, moving the staker
// and withdrawer roles from the current to the new authority. The current
// authority pays fees and is the sole signer.
func (b *changeAuthorityBuilder) Build(ctx context.Context, accounts []StakeAccount, auth Authorities) (*UnsignedGroup, error) {
	if max := b.Kind().GroupCap(); len(accounts) > max {
		return nil, buildErrorf("group of %d exceeds cap %d", len(accounts), max)
	}
	keys, err := checkGroup(accounts)
	if err != nil {
		return nil, err
	}
	if auth.New.Address.IsZero() {
		return nil, buildErrorf("authority change requires a new authority address")
	}

	blockhash, err := fetchBlockhash(ctx, b.chain)
	if err != nil {
		return nil, xerrors.Errorf("fetching blockhash: %w", err)
	}

	instrs := make([]txwire.Instruction, 0, 2*len(keys))
	for _, acct := range keys {
		instrs = append(instrs,
			txwire.NewAuthorizeInstruction(acct, auth.Current.Address, auth.New.Address, txwire.RoleStaker),
			txwire.NewAuthorizeInstruction(acct, auth.Current.Address, auth.New.Address, txwire.RoleWithdrawer),
		)
	}
	msg, err := txwire.NewMessage(auth.Current.Address, blockhash, instrs)
	if err != nil {
		return nil, xerrors.Errorf("compiling message: %w", err)
	}
	return &UnsignedGroup{
		Accounts:  accounts,
		FeePayer:  auth.Current.Address,
		Blockhash: blockhash,
		Content:   msg.Encode(),
	}, nil
}

type withdrawBuilder struct {
	chain BlockhashSource
}

func (b *withdrawBuilder) Kind() OpKind { return OpWithdraw }

// Build emits one withdraw instruction per account for its balance above
// the rent reserve, paid out to the current authority. Accounts with
// nothing withdrawable are rejected here even though the filter upstream
// should already have excluded them.
func (b *withdrawBuilder) Build(ctx context.Context, accounts []StakeAccount, auth Authorities) (*UnsignedGroup, error) {
	if max := b.Kind().GroupCap(); len(accounts) > max {
		return nil, buildErrorf("group of %d exceeds cap %d", len(accounts), max)
	}
	keys, err := checkGroup(accounts)
	if err != nil {
		return nil, err
	}

	blockhash, err := fetchBlockhash(ctx, b.chain)
	if err != nil {
		return nil, xerrors.Errorf("fetching blockhash: %w", err)
	}

	instrs := make([]txwire.Instruction, 0, len(keys))
	for i, acct := range keys {
		if accounts[i].Lamports <= RentExemptReserve {
			return nil, buildErrorf("account %s balance %d leaves nothing above the rent reserve",
				accounts[i].Address, accounts[i].Lamports)
		}
		amount := accounts[i].Lamports - RentExemptReserve
		instrs = append(instrs,
			txwire.NewWithdrawInstruction(acct, auth.Current.Address, auth.Current.Address, amount))
	}
	msg, err := txwire.NewMessage(auth.Current.Address, blockhash, instrs)
	if err != nil {
		return nil, xerrors.Errorf("compiling message: %w", err)
	}
	return &UnsignedGroup{
		Accounts:  accounts,
		FeePayer:  auth.Current.Address,
		Blockhash: blockhash,
		Content:   msg.Encode(),
	}, nil
}
