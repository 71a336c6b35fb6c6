// Package agregistry contains [agconsensus.ValidatorSetRegistry] implementations.
package agregistry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/gcrypto"
)

// ErrUnknownSession is returned by [*Registry.CurrentSnapshot]
// when no set is configured for the session and there is no default.
var ErrUnknownSession = errors.New("no validator set for session")

// ValidatorConfig describes one validator in a configuration file.
type ValidatorConfig struct {
	// KeyType is the name the key type was registered under
	// in the [gcrypto.Registry], such as "ed25519".
	KeyType string `mapstructure:"key_type" json:"key_type"`

	// PubKey is the hex encoding of the raw public key bytes.
	PubKey string `mapstructure:"pub_key" json:"pub_key"`

	Weight uint64 `mapstructure:"weight" json:"weight"`
}

// SetConfig describes a whole validator set.
type SetConfig struct {
	Validators []ValidatorConfig `mapstructure:"validators" json:"validators"`

	// Optional fixed fault tolerance; see [agconsensus.WithFaultTolerance].
	FaultTolerance *uint64 `mapstructure:"fault_tolerance" json:"fault_tolerance,omitempty"`
}

// Build decodes every key in cfg through reg and returns the resulting set.
// A zero weight is treated as 1.
func Build(reg *gcrypto.Registry, cfg SetConfig) (*agconsensus.ValidatorSet, error) {
	vals := make([]agconsensus.Validator, len(cfg.Validators))
	for i, vc := range cfg.Validators {
		b, err := hex.DecodeString(vc.PubKey)
		if err != nil {
			return nil, fmt.Errorf("validator %d: decoding public key hex: %w", i, err)
		}
		pk, err := reg.Decode(vc.KeyType, b)
		if err != nil {
			return nil, fmt.Errorf("validator %d: %w", i, err)
		}

		w := vc.Weight
		if w == 0 {
			w = 1
		}
		vals[i] = agconsensus.Validator{PubKey: pk, Weight: w}
	}

	var opts []agconsensus.ValidatorSetOpt
	if cfg.FaultTolerance != nil {
		opts = append(opts, agconsensus.WithFaultTolerance(*cfg.FaultTolerance))
	}
	return agconsensus.NewValidatorSet(vals, opts...)
}

// Describe is the inverse of [Build].
func Describe(vs *agconsensus.ValidatorSet) SetConfig {
	vals := vs.Validators()
	out := SetConfig{Validators: make([]ValidatorConfig, len(vals))}
	for i, v := range vals {
		out.Validators[i] = ValidatorConfig{
			KeyType: v.PubKey.TypeName(),
			PubKey:  hex.EncodeToString(v.PubKey.PubKeyBytes()),
			Weight:  v.Weight,
		}
	}
	return out
}

// Static returns the same validator set for every session.
type Static struct {
	vs *agconsensus.ValidatorSet
}

func NewStatic(vs *agconsensus.ValidatorSet) Static {
	return Static{vs: vs}
}

func (s Static) CurrentSnapshot(context.Context, agconsensus.SessionID) (*agconsensus.ValidatorSet, error) {
	return s.vs, nil
}

// Registry maps session IDs to validator sets,
// falling back to a default set for sessions without their own entry.
//
// Entries may be added while the registry is in use;
// a running session keeps the snapshot it started with.
type Registry struct {
	mu       sync.RWMutex
	def      *agconsensus.ValidatorSet
	sessions map[agconsensus.SessionID]*agconsensus.ValidatorSet
}

// Config is the file representation of a [Registry].
type Config struct {
	Default  *SetConfig           `mapstructure:"default" json:"default,omitempty"`
	Sessions map[string]SetConfig `mapstructure:"sessions" json:"sessions,omitempty"`
}

// New returns an empty Registry with no default set.
func New() *Registry {
	return &Registry{sessions: make(map[agconsensus.SessionID]*agconsensus.ValidatorSet)}
}

// FromConfig builds every set in cfg, decoding keys through reg.
func FromConfig(reg *gcrypto.Registry, cfg Config) (*Registry, error) {
	r := New()

	if cfg.Default != nil {
		vs, err := Build(reg, *cfg.Default)
		if err != nil {
			return nil, fmt.Errorf("default validator set: %w", err)
		}
		r.def = vs
	}

	for sid, sc := range cfg.Sessions {
		vs, err := Build(reg, sc)
		if err != nil {
			return nil, fmt.Errorf("validator set for session %q: %w", sid, err)
		}
		r.sessions[agconsensus.SessionID(sid)] = vs
	}

	return r, nil
}

// SetDefault replaces the fallback set. A nil set removes it.
func (r *Registry) SetDefault(vs *agconsensus.ValidatorSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = vs
}

// Set assigns vs to sid, replacing any previous entry.
func (r *Registry) Set(sid agconsensus.SessionID, vs *agconsensus.ValidatorSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = vs
}

func (r *Registry) CurrentSnapshot(_ context.Context, sid agconsensus.SessionID) (*agconsensus.ValidatorSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if vs, ok := r.sessions[sid]; ok {
		return vs, nil
	}
	if r.def != nil {
		return r.def, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownSession, sid)
}
