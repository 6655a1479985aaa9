package config

import (
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/stake"
)

// Duration wraps time.Duration so TOML round-trips it as human-readable
// text ("2s", "15m").
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Node configures the chain RPC endpoint.
type Node struct {
	Endpoint string
	Timeout  Duration
}

// Custody configures the vault service client. Credentials normally come
// from the environment, not the config file.
type Custody struct {
	Endpoint       string
	APIKey         string `envconfig:"CUSTODY_API_KEY"`
	PrivateKeyPath string `envconfig:"CUSTODY_PRIVATE_KEY_PATH"`
}

// Vaults names the signing identities for the run. New is required only
// for authority changes.
type Vaults struct {
	Current string
	New     string
}

// Signing configures the approval poll loop.
type Signing struct {
	PollInterval Duration
	Deadline     Duration
}

// Directory configures client-side rate limiting of account listing.
type Directory struct {
	MinInterval Duration
	PageSize    int
}

// Report configures where group results are persisted.
type Report struct {
	Out string
}

// Config is the single explicit configuration value the orchestrator is
// constructed with. It is validated once, before any network call.
type Config struct {
	Node      Node
	Custody   Custody
	Vaults    Vaults
	Signing   Signing
	Directory Directory
	Report    Report
}

// Default returns the baseline configuration; flags and files override it.
func Default() *Config {
	return &Config{
		Node: Node{
			Timeout: Duration(30 * time.Second),
		},
		Signing: Signing{
			PollInterval: Duration(2 * time.Second),
			Deadline:     Duration(15 * time.Minute),
		},
		Directory: Directory{
			MinInterval: Duration(500 * time.Millisecond),
			PageSize:    200,
		},
		Report: Report{
			Out: "stakebatch-report.csv",
		},
	}
}

// FromFile overlays a TOML file onto the defaults.
func FromFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, xerrors.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays custody credentials from STAKEBATCH_* environment
// variables. Secrets stay out of config files this way.
func (c *Config) FromEnv() error {
	if err := envconfig.Process("stakebatch", &c.Custody); err != nil {
		return xerrors.Errorf("reading custody credentials from env: %w", err)
	}
	return nil
}

// ValidationError aggregates everything wrong with a config. It is the
// only error Validate returns, and it is fatal before any network call.
type ValidationError struct {
	Problems error
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + e.Problems.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Problems
}

// Validate checks the config for one run of the given operation. All
// problems are reported at once rather than one per invocation.
func (c *Config) Validate(kind stake.OpKind) error {
	var merr *multierror.Error

	if !kind.Valid() {
		merr = multierror.Append(merr, xerrors.Errorf("unknown operation %q", kind))
	}
	if c.Node.Endpoint == "" {
		merr = multierror.Append(merr, xerrors.New("node endpoint is required"))
	}
	if c.Custody.Endpoint == "" {
		merr = multierror.Append(merr, xerrors.New("custody endpoint is required"))
	}
	if c.Custody.APIKey == "" {
		merr = multierror.Append(merr, xerrors.New("custody API key is required"))
	}
	if c.Custody.PrivateKeyPath == "" {
		merr = multierror.Append(merr, xerrors.New("custody private key path is required"))
	}
	if c.Signing.PollInterval.Std() <= 0 {
		merr = multierror.Append(merr, xerrors.New("signing poll interval must be positive"))
	}
	if c.Signing.Deadline.Std() <= 0 {
		merr = multierror.Append(merr, xerrors.New("signing deadline must be positive"))
	}

	if c.Vaults.Current == "" {
		merr = multierror.Append(merr, xerrors.New("current vault id is required"))
	}
	if kind == stake.OpChangeAuthority {
		merr = multierror.Append(merr, c.vaultOrderProblems()...)
	}

	if err := merr.ErrorOrNil(); err != nil {
		return &ValidationError{Problems: err}
	}
	return nil
}

// vaultOrderProblems enforces the authority-change invariant: both vaults
// present, numeric, distinct, and current strictly below new. Catching a
// swapped pair here prevents handing control of every account to the
// wrong vault.
func (c *Config) vaultOrderProblems() []error {
	var problems []error
	if c.Vaults.New == "" {
		return append(problems, xerrors.New("new vault id is required for authority changes"))
	}
	if c.Vaults.Current == "" {
		return problems
	}
	cur, err := strconv.ParseUint(c.Vaults.Current, 10, 64)
	if err != nil {
		problems = append(problems, xerrors.Errorf("current vault id %q is not numeric", c.Vaults.Current))
	}
	next, err2 := strconv.ParseUint(c.Vaults.New, 10, 64)
	if err2 != nil {
		problems = append(problems, xerrors.Errorf("new vault id %q is not numeric", c.Vaults.New))
	}
	if err != nil || err2 != nil {
		return problems
	}
	if cur == next {
		problems = append(problems, xerrors.Errorf("current and new vault ids are both %q", c.Vaults.Current))
	} else if cur > next {
		problems = append(problems, xerrors.Errorf("current vault id %s must be below new vault id %s", c.Vaults.Current, c.Vaults.New))
	}
	return problems
}
