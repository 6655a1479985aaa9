package node

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"

	"github.com/stakeops/stakebatch/txwire"
)

// ChainStruct is the jsonrpc proxy for ChainAPI. Method names go over the
// wire as "Chain.<Method>".
type ChainStruct struct {
	Internal struct {
		LatestBlockhash      func(ctx context.Context) (txwire.Hash, error)
		SimulateTransaction  func(ctx context.Context, signed []byte) (*SimulationResult, error)
		BroadcastTransaction func(ctx context.Context, signed []byte) (string, error)
		ListStakeAccounts    func(ctx context.Context, authority string, cursor string, limit int) (*StakeAccountPage, error)
	}
}

func (c *ChainStruct) LatestBlockhash(ctx context.Context) (txwire.Hash, error) {
	return c.Internal.LatestBlockhash(ctx)
}

func (c *ChainStruct) SimulateTransaction(ctx context.Context, signed []byte) (*SimulationResult, error) {
	return c.Internal.SimulateTransaction(ctx, signed)
}

func (c *ChainStruct) BroadcastTransaction(ctx context.Context, signed []byte) (string, error) {
	return c.Internal.BroadcastTransaction(ctx, signed)
}

func (c *ChainStruct) ListStakeAccounts(ctx context.Context, authority string, cursor string, limit int) (*StakeAccountPage, error) {
	return c.Internal.ListStakeAccounts(ctx, authority, cursor, limit)
}

var _ ChainAPI = (*ChainStruct)(nil)

// NewChainRPC creates an http jsonrpc client for the chain node.
func NewChainRPC(ctx context.Context, addr string, requestHeader http.Header, opts ...jsonrpc.Option) (ChainAPI, jsonrpc.ClientCloser, error) {
	var res ChainStruct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "Chain",
		[]interface{}{
			&res.Internal,
		},
		requestHeader,
		opts...,
	)
	return &res, closer, err
}
