package swap

import (
	"fmt"
	"math/big"

	"flowmint/core/events"
)

type storedProtocolConfig struct {
	Authority            [20]byte
	Treasury             [20]byte
	DefaultSlippageBps   uint16
	ProtectedSlippageBps uint16
	MaxPriceImpactBps    uint16
	ProtocolFeeBps       uint16
	ProtectedModeEnabled bool
	TotalSwaps           uint64
	TotalVolume          uint64
	Reserved             [64]byte
}

func (e *Engine) loadConfig() (*ProtocolConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedProtocolConfig
	ok, err := e.state.KVGet(configKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: protocol not initialised", ErrInvalidConfiguration)
	}
	return &ProtocolConfig{
		Authority:            stored.Authority,
		Treasury:             stored.Treasury,
		DefaultSlippageBps:   stored.DefaultSlippageBps,
		ProtectedSlippageBps: stored.ProtectedSlippageBps,
		MaxPriceImpactBps:    stored.MaxPriceImpactBps,
		ProtocolFeeBps:       stored.ProtocolFeeBps,
		ProtectedModeEnabled: stored.ProtectedModeEnabled,
		TotalSwaps:           stored.TotalSwaps,
		TotalVolume:          stored.TotalVolume,
		Reserved:             stored.Reserved,
	}, nil
}

func (e *Engine) putConfig(cfg *ProtocolConfig) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	stored := storedProtocolConfig{
		Authority:            cfg.Authority,
		Treasury:             cfg.Treasury,
		DefaultSlippageBps:   cfg.DefaultSlippageBps,
		ProtectedSlippageBps: cfg.ProtectedSlippageBps,
		MaxPriceImpactBps:    cfg.MaxPriceImpactBps,
		ProtocolFeeBps:       cfg.ProtocolFeeBps,
		ProtectedModeEnabled: cfg.ProtectedModeEnabled,
		TotalSwaps:           cfg.TotalSwaps,
		TotalVolume:          cfg.TotalVolume,
		Reserved:             cfg.Reserved,
	}
	return e.state.KVPut(configKey, stored)
}

// Config returns a copy of the stored protocol configuration.
func (e *Engine) Config() (*ProtocolConfig, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// Initialized reports whether the protocol configuration exists.
func (e *Engine) Initialized() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.KVGet(configKey, nil)
}

// Initialize creates the protocol configuration. It can run exactly once;
// slippage and price-impact settings must fit under the policy ceiling and
// the protected ceiling can never exceed the default. Fee and counters start
// at zero.
func (e *Engine) Initialize(authority, treasury [20]byte, defaultSlippageBps, protectedSlippageBps, maxPriceImpactBps uint16) (*ProtocolConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	exists, err := e.state.KVGet(configKey, nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: already initialised", ErrInvalidConfiguration)
	}
	if authority == ([20]byte{}) {
		return nil, fmt.Errorf("%w: authority required", ErrInvalidConfiguration)
	}
	if defaultSlippageBps > MaxSlippageBps {
		return nil, fmt.Errorf("%w: default slippage %d over ceiling %d", ErrInvalidConfiguration, defaultSlippageBps, MaxSlippageBps)
	}
	if protectedSlippageBps > defaultSlippageBps {
		return nil, fmt.Errorf("%w: protected slippage %d over default %d", ErrInvalidConfiguration, protectedSlippageBps, defaultSlippageBps)
	}
	if maxPriceImpactBps > MaxSlippageBps {
		return nil, fmt.Errorf("%w: price impact %d over ceiling %d", ErrInvalidConfiguration, maxPriceImpactBps, MaxSlippageBps)
	}
	cfg := &ProtocolConfig{
		Authority:            authority,
		Treasury:             treasury,
		DefaultSlippageBps:   defaultSlippageBps,
		ProtectedSlippageBps: protectedSlippageBps,
		MaxPriceImpactBps:    maxPriceImpactBps,
	}
	if err := e.putConfig(cfg); err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// ConfigUpdate carries the optional fields of an update_config call. Nil
// fields are left untouched; each supplied field is bound-checked
// independently.
type ConfigUpdate struct {
	DefaultSlippageBps   *uint16
	ProtectedSlippageBps *uint16
	MaxPriceImpactBps    *uint16
	ProtocolFeeBps       *uint16
	Treasury             *[20]byte
}

// UpdateConfig applies an authority-gated configuration change. The
// protected ceiling is re-validated against the possibly-updated default so
// the protected ≤ default invariant holds after every successful update.
func (e *Engine) UpdateConfig(caller [20]byte, update ConfigUpdate) (cfgOut *ProtocolConfig, err error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	snapshot := e.state.Snapshot()
	defer func() {
		if err != nil {
			e.state.RevertToSnapshot(snapshot)
		}
	}()
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if caller != cfg.Authority {
		return nil, ErrUnauthorized
	}
	if update.DefaultSlippageBps != nil {
		if *update.DefaultSlippageBps > MaxSlippageBps {
			return nil, fmt.Errorf("%w: default slippage %d over ceiling %d", ErrInvalidConfiguration, *update.DefaultSlippageBps, MaxSlippageBps)
		}
		cfg.DefaultSlippageBps = *update.DefaultSlippageBps
	}
	if update.ProtectedSlippageBps != nil {
		if *update.ProtectedSlippageBps > MaxSlippageBps {
			return nil, fmt.Errorf("%w: protected slippage %d over ceiling %d", ErrInvalidConfiguration, *update.ProtectedSlippageBps, MaxSlippageBps)
		}
		if *update.ProtectedSlippageBps > cfg.DefaultSlippageBps {
			return nil, fmt.Errorf("%w: protected slippage %d over default %d", ErrInvalidConfiguration, *update.ProtectedSlippageBps, cfg.DefaultSlippageBps)
		}
		cfg.ProtectedSlippageBps = *update.ProtectedSlippageBps
	}
	if cfg.ProtectedSlippageBps > cfg.DefaultSlippageBps {
		return nil, fmt.Errorf("%w: protected slippage %d over default %d", ErrInvalidConfiguration, cfg.ProtectedSlippageBps, cfg.DefaultSlippageBps)
	}
	if update.MaxPriceImpactBps != nil {
		if *update.MaxPriceImpactBps > MaxSlippageBps {
			return nil, fmt.Errorf("%w: price impact %d over ceiling %d", ErrInvalidConfiguration, *update.MaxPriceImpactBps, MaxSlippageBps)
		}
		cfg.MaxPriceImpactBps = *update.MaxPriceImpactBps
	}
	if update.ProtocolFeeBps != nil {
		if *update.ProtocolFeeBps > 10_000 {
			return nil, fmt.Errorf("%w: protocol fee %d over 10000", ErrInvalidConfiguration, *update.ProtocolFeeBps)
		}
		cfg.ProtocolFeeBps = *update.ProtocolFeeBps
	}
	if update.Treasury != nil {
		cfg.Treasury = *update.Treasury
	}
	if err := e.putConfig(cfg); err != nil {
		return nil, err
	}
	e.emit(events.ConfigUpdated{
		Authority:            cfg.Authority,
		DefaultSlippageBps:   cfg.DefaultSlippageBps,
		ProtectedSlippageBps: cfg.ProtectedSlippageBps,
		MaxPriceImpactBps:    cfg.MaxPriceImpactBps,
		ProtocolFeeBps:       cfg.ProtocolFeeBps,
		Treasury:             cfg.Treasury,
	})
	return cfg.Clone(), nil
}

// ToggleProtectedMode sets the protocol-wide protected-mode override.
// Authority only.
func (e *Engine) ToggleProtectedMode(caller [20]byte, enabled bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Authority {
		return ErrUnauthorized
	}
	cfg.ProtectedModeEnabled = enabled
	if err := e.putConfig(cfg); err != nil {
		return err
	}
	e.emit(events.ProtectedModeToggled{Authority: cfg.Authority, Enabled: enabled})
	return nil
}

// WithdrawFees sweeps the entire stable-asset balance of the fee vault to the
// configured treasury. Authority only; a zero balance is a successful no-op.
func (e *Engine) WithdrawFees(caller [20]byte) (swept *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	snapshot := e.state.Snapshot()
	defer func() {
		if err != nil {
			e.state.RevertToSnapshot(snapshot)
		}
	}()
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if caller != cfg.Authority {
		return nil, ErrUnauthorized
	}
	if cfg.Treasury == ([20]byte{}) {
		return nil, fmt.Errorf("%w: treasury not configured", ErrInvalidConfiguration)
	}
	vault := FeeVaultAddress()
	balance, err := e.balanceOf(vault, e.stableAsset)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.transfer(vault, cfg.Treasury, e.stableAsset, balance); err != nil {
		return nil, err
	}
	e.emit(events.FeesWithdrawn{Treasury: cfg.Treasury, Asset: e.stableAsset, Amount: cloneBigInt(balance)})
	return balance, nil
}
