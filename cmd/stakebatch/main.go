package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/stakeops/stakebatch/build"
)

var log = logging.Logger("stakebatch")

func main() {
	logging.SetLogLevel("*", "INFO") //nolint:errcheck

	app := &cli.App{
		Name:    "stakebatch",
		Usage:   "Bulk stake-account authority changes and withdrawals through a custodial signer",
		Version: build.UserVersion(),
		Commands: []*cli.Command{
			changeAuthorityCmd,
			withdrawCmd,
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a TOML config file",
				EnvVars: []string{"STAKEBATCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "node",
				Usage:   "chain node RPC endpoint",
				EnvVars: []string{"STAKEBATCH_NODE"},
			},
			&cli.StringFlag{
				Name:    "custody-endpoint",
				Usage:   "vault service API endpoint",
				EnvVars: []string{"STAKEBATCH_CUSTODY_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:  "report-out",
				Usage: "path for the CSV result report",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "interval between signing status polls",
			},
			&cli.DurationFlag{
				Name:  "sign-deadline",
				Usage: "maximum time to wait for one signing request",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
		},
		Before: func(cctx *cli.Context) error {
			return logging.SetLogLevel("*", cctx.String("log-level"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}

// reqContext returns a context cancelled on SIGINT/SIGTERM, so a ^C
// during a run still persists the results collected so far.
func reqContext(cctx *cli.Context) context.Context {
	ctx, done := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 2)
	go func() {
		<-sigChan
		done()
	}()
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	return ctx
}
