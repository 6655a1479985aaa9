package node

import (
	"context"

	"github.com/stakeops/stakebatch/stake"
	"github.com/stakeops/stakebatch/txwire"
)

// StakeAccountPage is one page of a directory listing.
type StakeAccountPage struct {
	Accounts   []stake.StakeAccount `json:"accounts"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// SimulationResult reports a preflight run of a transaction. Err is empty
// when the simulation succeeded; Logs carry the program output either way.
type SimulationResult struct {
	Err  string   `json:"err,omitempty"`
	Logs []string `json:"logs,omitempty"`
}

// ChainAPI is the subset of the node's RPC surface this tool uses.
type ChainAPI interface {
	// LatestBlockhash returns a fresh liveness token. Tokens expire
	// within minutes, so callers fetch one immediately before building.
	LatestBlockhash(ctx context.Context) (txwire.Hash, error)

	// SimulateTransaction dry-runs a signed transaction without
	// committing it.
	SimulateTransaction(ctx context.Context, signed []byte) (*SimulationResult, error)

	// BroadcastTransaction submits a signed transaction and returns the
	// network-assigned transaction id on acceptance.
	BroadcastTransaction(ctx context.Context, signed []byte) (string, error)

	// ListStakeAccounts pages through the stake accounts controlled by
	// the given authority address.
	ListStakeAccounts(ctx context.Context, authority string, cursor string, limit int) (*StakeAccountPage, error)
}
