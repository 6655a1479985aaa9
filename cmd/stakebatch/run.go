package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/batch"
	"github.com/stakeops/stakebatch/broadcast"
	"github.com/stakeops/stakebatch/config"
	"github.com/stakeops/stakebatch/custody"
	"github.com/stakeops/stakebatch/directory"
	"github.com/stakeops/stakebatch/node"
	"github.com/stakeops/stakebatch/report"
	"github.com/stakeops/stakebatch/stake"
)

var changeAuthorityCmd = &cli.Command{
	Name:  "change-authority",
	Usage: "Move staker and withdrawer authority on every controlled stake account to a new vault",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "current-vault",
			Usage:    "vault id currently holding both authorities",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "new-vault",
			Usage:    "vault id receiving both authorities",
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		return run(cctx, stake.OpChangeAuthority, cctx.String("current-vault"), cctx.String("new-vault"))
	},
}

var withdrawCmd = &cli.Command{
	Name:  "withdraw",
	Usage: "Withdraw every controlled stake account's balance above the rent reserve back to the vault",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "vault",
			Usage:    "vault id holding withdraw authority",
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		return run(cctx, stake.OpWithdraw, cctx.String("vault"), "")
	},
}

func loadConfig(cctx *cli.Context, currentVault, newVault string) (*config.Config, error) {
	cfg := config.Default()
	if path := cctx.String("config"); path != "" {
		var err error
		cfg, err = config.FromFile(path)
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.FromEnv(); err != nil {
		return nil, err
	}

	if v := cctx.String("node"); v != "" {
		cfg.Node.Endpoint = v
	}
	if v := cctx.String("custody-endpoint"); v != "" {
		cfg.Custody.Endpoint = v
	}
	if v := cctx.String("report-out"); v != "" {
		cfg.Report.Out = v
	}
	if v := cctx.Duration("poll-interval"); v > 0 {
		cfg.Signing.PollInterval = config.Duration(v)
	}
	if v := cctx.Duration("sign-deadline"); v > 0 {
		cfg.Signing.Deadline = config.Duration(v)
	}
	cfg.Vaults.Current = currentVault
	cfg.Vaults.New = newVault
	return cfg, nil
}

func run(cctx *cli.Context, kind stake.OpKind, currentVault, newVault string) error {
	ctx := reqContext(cctx)

	cfg, err := loadConfig(cctx, currentVault, newVault)
	if err != nil {
		return err
	}
	if err := cfg.Validate(kind); err != nil {
		return err
	}

	chain, closer, err := node.NewChainRPC(ctx, cfg.Node.Endpoint, nil)
	if err != nil {
		return xerrors.Errorf("connecting to node %s: %w", cfg.Node.Endpoint, err)
	}
	defer closer()

	vaults, err := custody.NewClient(cfg.Custody.Endpoint, cfg.Custody.APIKey, cfg.Custody.PrivateKeyPath)
	if err != nil {
		return err
	}

	dir := directory.New(chain, cfg.Directory.MinInterval.Std(), cfg.Directory.PageSize)
	defer dir.Close()

	builder, err := stake.NewBuilder(kind, chain)
	if err != nil {
		return err
	}

	orch := batch.NewOrchestrator(cfg, kind, vaults, dir, builder,
		custody.NewCoordinator(vaults, cfg.Signing.PollInterval.Std(), cfg.Signing.Deadline.Std()),
		broadcast.New(chain),
		report.NewCSVSink(cfg.Report.Out),
	)

	summary, err := orch.Run(ctx)
	if summary != nil {
		printSummary(summary)
	}
	return err
}

func printSummary(s *batch.Summary) {
	okc := color.New(color.FgGreen).SprintFunc()
	badc := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(os.Stdout, "groups:   %s succeeded, %s failed, %d total\n",
		okc(s.GroupsSucceeded), badc(s.GroupsFailed), s.Groups)
	fmt.Fprintf(os.Stdout, "accounts: %s succeeded, %s failed, %d total\n",
		okc(s.AccountsSucceeded), badc(s.AccountsFailed), s.AccountsTotal)
	if s.ReportLocation != "" {
		fmt.Fprintf(os.Stdout, "report:   %s\n", s.ReportLocation)
	}
}
