package gagreecmd

import (
	"fmt"
	"time"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agengine"
	"github.com/gordian-engine/gagree/ag/agregistry"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// nodeConfig is the configuration of the run command.
// Every field can be set in the config file;
// the scalar and list fields also have flags and GAGREE_ environment variables.
type nodeConfig struct {
	Listen         []string `mapstructure:"listen"`
	Bootstrap      []string `mapstructure:"bootstrap"`
	ProtocolPrefix string   `mapstructure:"protocol-prefix"`

	DataDir string `mapstructure:"data-dir"`
	Store   string `mapstructure:"store"`

	// Empty to run as an observer.
	KeyFile string `mapstructure:"key-file"`

	Validators agregistry.Config `mapstructure:"validators"`

	Timeouts timeoutConfig `mapstructure:"timeouts"`

	// round-robin or weighted.
	Proposer string `mapstructure:"proposer"`

	// Validator indices passed over as proposers.
	Deprioritize []uint32 `mapstructure:"deprioritize"`

	VerifyWorkers int `mapstructure:"verify-workers"`

	DebugSocket string `mapstructure:"debug-socket"`
	MetricsAddr string `mapstructure:"metrics-addr"`

	// Sessions started at boot.
	Sessions []string `mapstructure:"sessions"`
	Resume   bool     `mapstructure:"resume"`
}

type timeoutConfig struct {
	ProposeBase      time.Duration `mapstructure:"propose-base"`
	ProposeIncrement time.Duration `mapstructure:"propose-increment"`
	PrepareBase      time.Duration `mapstructure:"prepare-base"`
	PrepareIncrement time.Duration `mapstructure:"prepare-increment"`
	CommitBase       time.Duration `mapstructure:"commit-base"`
	CommitIncrement  time.Duration `mapstructure:"commit-increment"`
}

func (t timeoutConfig) strategy() agengine.LinearTimeoutStrategy {
	return agengine.LinearTimeoutStrategy{
		ProposeBase:      t.ProposeBase,
		ProposeIncrement: t.ProposeIncrement,
		PrepareBase:      t.PrepareBase,
		PrepareIncrement: t.PrepareIncrement,
		CommitBase:       t.CommitBase,
		CommitIncrement:  t.CommitIncrement,
	}
}

func addNodeFlags(fs *pflag.FlagSet) {
	fs.StringSlice("listen", []string{"/ip4/0.0.0.0/tcp/26656"}, "libp2p listen multiaddrs")
	fs.StringSlice("bootstrap", nil, "bootstrap peer multiaddrs, including the /p2p/ component")
	fs.String("protocol-prefix", "/gagree", "libp2p protocol and topic namespace")

	fs.String("data-dir", "", "directory for persistent state")
	fs.String("store", "mem", "state backend: mem, sqlite, or pebble")

	fs.String("key-file", "", "validator key file written by keygen; empty to observe only")

	fs.String("proposer", "round-robin", "proposer selection: round-robin or weighted")
	fs.Int("verify-workers", 0, "signature verification workers; 0 for GOMAXPROCS")

	fs.String("debug-socket", "", "unix socket path for the debug API")
	fs.String("metrics-addr", "", "TCP address to serve Prometheus metrics on")

	fs.StringSlice("sessions", nil, "session IDs to start at boot")
	fs.Bool("resume", false, "require persisted state for boot sessions")
}

func loadNodeConfig(v *viper.Viper) (nodeConfig, error) {
	var cfg nodeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}

	switch cfg.Store {
	case "mem":
	case "sqlite", "pebble":
		if cfg.DataDir == "" {
			return cfg, fmt.Errorf("store %q requires data-dir", cfg.Store)
		}
	default:
		return cfg, fmt.Errorf("unknown store %q (want mem, sqlite, or pebble)", cfg.Store)
	}

	if _, err := cfg.proposerSelector(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c nodeConfig) proposerSelector() (agconsensus.ProposerSelector, error) {
	var base agconsensus.ProposerSelector
	switch c.Proposer {
	case "", "round-robin":
		base = agconsensus.RoundRobin{}
	case "weighted":
		base = agconsensus.WeightedRandom{}
	default:
		return nil, fmt.Errorf("unknown proposer selection %q (want round-robin or weighted)", c.Proposer)
	}

	if len(c.Deprioritize) > 0 {
		return agconsensus.NewDeprioritizing(base, c.Deprioritize), nil
	}
	return base, nil
}

func (c nodeConfig) bootstrapPeers() ([]peer.AddrInfo, error) {
	out := make([]peer.AddrInfo, 0, len(c.Bootstrap))
	for _, s := range c.Bootstrap {
		ai, err := peer.AddrInfoFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap address %q: %w", s, err)
		}
		out = append(out, *ai)
	}
	return out, nil
}
