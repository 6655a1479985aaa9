package batch

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/config"
	"github.com/stakeops/stakebatch/custody"
	"github.com/stakeops/stakebatch/stake"
	"github.com/stakeops/stakebatch/txwire"
)

var log = logging.Logger("batch")

// Lister is the account directory.
type Lister interface {
	List(ctx context.Context, authority string) ([]stake.StakeAccount, error)
}

// Signer is the signing coordinator.
type Signer interface {
	Sign(ctx context.Context, groups []*stake.UnsignedGroup, sourceVault, note string) ([]custody.Outcome, error)
}

// Caster broadcasts one signed transaction.
type Caster interface {
	Broadcast(ctx context.Context, content []byte, sig txwire.Signature, signer txwire.PublicKey) (string, error)
}

// Orchestrator drives a whole run: resolve authorities once, list and
// filter accounts once, then build → sign → broadcast each group
// strictly in sequence. Group failures are isolated; only configuration,
// resolution, and empty-input problems abort the run.
type Orchestrator struct {
	cfg      *config.Config
	kind     stake.OpKind
	resolver custody.AddressResolver
	lister   Lister
	builder  stake.Builder
	signer   Signer
	caster   Caster
	sink     ResultSink
}

func NewOrchestrator(cfg *config.Config, kind stake.OpKind, resolver custody.AddressResolver,
	lister Lister, builder stake.Builder, signer Signer, caster Caster, sink ResultSink) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		kind:     kind,
		resolver: resolver,
		lister:   lister,
		builder:  builder,
		signer:   signer,
		caster:   caster,
		sink:     sink,
	}
}

// Run executes the batch. The returned Summary is non-nil whenever any
// groups were attempted, even if persisting the report failed.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	// Config problems must surface before any network call.
	if err := o.cfg.Validate(o.kind); err != nil {
		return nil, err
	}

	auths, err := o.resolveAuthorities(ctx)
	if err != nil {
		return nil, err
	}

	accounts, err := o.lister.List(ctx, auths.Current.Address.String())
	if err != nil {
		return nil, xerrors.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, &EmptyInputError{Authority: auths.Current.Address.String()}
	}
	valid := stake.FilterValid(accounts, o.kind)
	if len(valid) == 0 {
		return nil, &EmptyInputError{Authority: auths.Current.Address.String(), Filtered: true}
	}

	groups := stake.Partition(valid, o.kind.GroupCap())
	log.Infow("starting batch", "operation", o.kind, "accounts", len(valid), "groups", len(groups))

	results := make([]GroupResult, 0, len(groups))
	for i, group := range groups {
		result := o.processGroup(ctx, i, group, auths)
		results = append(results, result)
		if ctx.Err() != nil {
			// A cancelled run still persists what it finished.
			break
		}
	}

	summary := o.summarize(results, len(valid))
	if o.sink != nil {
		loc, err := o.sink.Write(results)
		if err != nil {
			log.Errorf("persisting results: %s", err)
			return summary, xerrors.Errorf("persisting results: %w", err)
		}
		summary.ReportLocation = loc
	}
	log.Infof("batch finished: %s", summary)
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

func (o *Orchestrator) resolveAuthorities(ctx context.Context) (stake.Authorities, error) {
	var auths stake.Authorities

	cur, err := o.resolver.ResolveAddress(ctx, o.cfg.Vaults.Current)
	if err != nil {
		return auths, err
	}
	auths.Current = stake.Authority{VaultID: o.cfg.Vaults.Current, Address: cur}

	if o.kind == stake.OpChangeAuthority {
		next, err := o.resolver.ResolveAddress(ctx, o.cfg.Vaults.New)
		if err != nil {
			return auths, err
		}
		auths.New = stake.Authority{VaultID: o.cfg.Vaults.New, Address: next}
	}
	log.Infow("resolved authorities", "current", auths.Current.Address, "new", auths.New.Address)
	return auths, nil
}

// processGroup runs one group end to end. Every failure inside it is
// converted to a Failed result so the loop can move on to the next
// group.
func (o *Orchestrator) processGroup(ctx context.Context, idx int, group []stake.StakeAccount, auths stake.Authorities) GroupResult {
	addrs := make([]string, len(group))
	for i, acc := range group {
		addrs[i] = acc.Address
	}
	result := GroupResult{
		Timestamp:   time.Now().UTC(),
		Accounts:    addrs,
		Authorities: o.authoritiesLabel(auths),
	}

	txid, err := o.runGroup(ctx, idx, group, auths)
	if err != nil {
		log.Warnw("group failed", "group", idx, "accounts", len(group), "err", err)
		result.Status = StatusFailed
		result.Error = err.Error()
		return result
	}
	result.Status = StatusSuccess
	result.TxID = txid
	return result
}

func (o *Orchestrator) runGroup(ctx context.Context, idx int, group []stake.StakeAccount, auths stake.Authorities) (string, error) {
	unsigned, err := o.builder.Build(ctx, group, auths)
	if err != nil {
		return "", err
	}

	note := fmt.Sprintf("stakebatch %s group %d: %d accounts", o.kind, idx+1, len(group))
	outcomes, err := o.signer.Sign(ctx, []*stake.UnsignedGroup{unsigned}, auths.Current.VaultID, note)
	if err != nil {
		return "", err
	}
	if len(outcomes) != 1 {
		return "", xerrors.Errorf("signer returned %d outcomes for one group", len(outcomes))
	}
	if outcomes[0].Err != nil {
		return "", outcomes[0].Err
	}

	signer := outcomes[0].Signer
	if signer.IsZero() {
		signer = auths.Current.Address
	}
	return o.caster.Broadcast(ctx, unsigned.Content, outcomes[0].Signature, signer)
}

func (o *Orchestrator) authoritiesLabel(auths stake.Authorities) string {
	if o.kind == stake.OpChangeAuthority {
		return fmt.Sprintf("%s->%s", auths.Current.Address, auths.New.Address)
	}
	return auths.Current.Address.String()
}

func (o *Orchestrator) summarize(results []GroupResult, accounts int) *Summary {
	s := &Summary{Groups: len(results), AccountsTotal: accounts}
	for _, r := range results {
		if r.Status == StatusSuccess {
			s.GroupsSucceeded++
			s.AccountsSucceeded += len(r.Accounts)
		} else {
			s.GroupsFailed++
			s.AccountsFailed += len(r.Accounts)
		}
	}
	return s
}
