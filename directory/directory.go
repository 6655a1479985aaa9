package directory

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/lib/retry"
	"github.com/stakeops/stakebatch/node"
	"github.com/stakeops/stakebatch/stake"
)

var log = logging.Logger("directory")

const defaultPageSize = 200

// Directory lists the stake accounts controlled by an authority. All
// outbound calls funnel through a single worker goroutine, so bursts of
// lookups serialize into a FIFO stream spaced by the rate limiter. The
// listing endpoint is rate limited server-side; the discipline here keeps
// us off its throttle.
type Directory struct {
	chain    node.ChainAPI
	limiter  *rate.Limiter
	pageSize int

	jobs chan job
	done chan struct{}
}

type job struct {
	run func(ctx context.Context)
	ctx context.Context
	res chan error
}

// New starts the directory worker. Close releases it.
func New(chain node.ChainAPI, minInterval time.Duration, pageSize int) *Directory {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	d := &Directory{
		chain:    chain,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		pageSize: pageSize,
		jobs:     make(chan job),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Directory) run() {
	for {
		select {
		case j := <-d.jobs:
			err := d.limiter.Wait(j.ctx)
			if err == nil {
				j.run(j.ctx)
			}
			j.res <- err
		case <-d.done:
			return
		}
	}
}

func (d *Directory) Close() {
	close(d.done)
}

// submit runs f on the worker, preserving request order.
func (d *Directory) submit(ctx context.Context, f func(ctx context.Context)) error {
	j := job{run: f, ctx: ctx, res: make(chan error, 1)}
	select {
	case d.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return xerrors.New("directory closed")
	}
	select {
	case err := <-j.res:
		return err
	case <-d.done:
		return xerrors.New("directory closed")
	}
}

// List drains the paginated listing for one authority address and
// returns the complete account set.
func (d *Directory) List(ctx context.Context, authority string) ([]stake.StakeAccount, error) {
	var out []stake.StakeAccount
	cursor := ""
	pages := 0
	for {
		var page *node.StakeAccountPage
		var fetchErr error
		err := d.submit(ctx, func(ctx context.Context) {
			page, fetchErr = retry.Retry(ctx, 3, 100*time.Millisecond, transient, func() (*node.StakeAccountPage, error) {
				return d.chain.ListStakeAccounts(ctx, authority, cursor, d.pageSize)
			})
		})
		if err != nil {
			return nil, err
		}
		if fetchErr != nil {
			return nil, xerrors.Errorf("listing accounts for %s: %w", authority, fetchErr)
		}
		if page == nil {
			return nil, xerrors.Errorf("listing accounts for %s: empty page response", authority)
		}
		out = append(out, page.Accounts...)
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	log.Infow("listed stake accounts", "authority", authority, "accounts", len(out), "pages", pages)
	return out, nil
}

// transient treats every listing error as retryable; the endpoint is
// read-only and idempotent.
func transient(error) bool { return true }
