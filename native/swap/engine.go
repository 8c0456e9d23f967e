package swap

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"flowmint/core/events"
	"flowmint/core/types"
	"flowmint/observability"
)

var (
	errNilState = errors.New("swap: engine state not configured")
)

// State is the surface the engine needs from the hosting execution
// environment: account balances, the typed KV store, and snapshot/revert for
// all-or-nothing settlement.
type State interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Snapshot() int
	RevertToSnapshot(id int)
}

// Engine wires route validation, aggregator execution, settlement and the
// receipt ledger together. Every entry point runs inside a state snapshot and
// reverts wholesale on failure.
type Engine struct {
	state       State
	ledger      *Ledger
	router      Router
	emitter     events.Emitter
	stableAsset string
	nowFn       func() int64
}

// NewEngine creates a swap engine with a no-op emitter and wall-clock time.
// Callers configure the state backend, router and emitter via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter:     events.NoopEmitter{},
		stableAsset: "USDC",
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine and rebinds the
// receipt ledger to it.
func (e *Engine) SetState(state State) {
	e.state = state
	if state != nil {
		e.ledger = NewLedger(state)
	} else {
		e.ledger = nil
	}
}

// SetRouter configures the aggregator boundary.
func (e *Engine) SetRouter(router Router) { e.router = router }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetStableAsset overrides the target stablecoin symbol used for merchant
// payments and fee accounting.
func (e *Engine) SetStableAsset(symbol string) error {
	normalized, err := NormalizeAsset(symbol)
	if err != nil {
		return err
	}
	e.stableAsset = normalized
	return nil
}

// StableAsset returns the configured target stablecoin symbol.
func (e *Engine) StableAsset() string { return e.stableAsset }

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Ledger exposes the receipt ledger bound to the engine's state.
func (e *Engine) Ledger() *Ledger { return e.ledger }

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// SwapIntent is the caller-declared shape of a swap request. The route
// payload is authenticated against it before anything external happens.
type SwapIntent struct {
	InputAsset       string
	OutputAsset      string
	AmountIn         *big.Int
	MinimumAmountOut *big.Int
	SlippageBps      uint16
	ProtectedMode    bool
}

// ExecuteSwap validates the intent and route, invokes the aggregator,
// verifies the realised output by re-reading the caller's balance, applies
// the protocol fee, and records the receipt. The whole call commits or
// reverts as one unit.
func (e *Engine) ExecuteSwap(caller [20]byte, routePayload []byte, intent SwapIntent) (receipt *SwapReceipt, err error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	snapshot := e.state.Snapshot()
	defer func() {
		if err != nil {
			e.state.RevertToSnapshot(snapshot)
			observability.Swap().RecordSwap("error")
		} else {
			observability.Swap().RecordSwap("ok")
		}
	}()

	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	inputAsset, err := NormalizeAsset(intent.InputAsset)
	if err != nil {
		return nil, err
	}
	outputAsset, err := NormalizeAsset(intent.OutputAsset)
	if err != nil {
		return nil, err
	}
	if inputAsset == outputAsset {
		return nil, fmt.Errorf("%w: input equals output", ErrInvalidAsset)
	}
	if intent.AmountIn == nil || intent.AmountIn.Sign() <= 0 {
		return nil, ErrAmountTooSmall
	}
	if intent.MinimumAmountOut == nil || intent.MinimumAmountOut.Sign() <= 0 {
		return nil, ErrAmountTooSmall
	}
	protected := intent.ProtectedMode || cfg.ProtectedModeEnabled
	ceiling := cfg.SlippageCeiling(protected)
	if intent.SlippageBps > ceiling {
		if protected && !intent.ProtectedMode {
			return nil, fmt.Errorf("%w: requested %d bps over protected ceiling %d", ErrProtectedModeViolation, intent.SlippageBps, ceiling)
		}
		return nil, fmt.Errorf("%w: requested %d bps over ceiling %d", ErrSlippageExceeded, intent.SlippageBps, ceiling)
	}
	balance, err := e.balanceOf(caller, inputAsset)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(intent.AmountIn) < 0 {
		return nil, ErrInsufficientBalance
	}

	route, err := DecodeRoute(routePayload)
	if err != nil {
		return nil, err
	}
	if err := route.Validate(inputAsset, outputAsset, intent.AmountIn, intent.MinimumAmountOut, ceiling); err != nil {
		return nil, err
	}
	now := e.now()
	if route.IsExpired(now) {
		return nil, ErrQuoteExpired
	}
	if protected {
		impact := route.PriceImpactBps()
		if impact.Cmp(big.NewInt(int64(cfg.MaxPriceImpactBps))) > 0 {
			return nil, fmt.Errorf("%w: %s bps over %d", ErrPriceImpactTooHigh, impact.String(), cfg.MaxPriceImpactBps)
		}
	}

	// The aggregator's declared output is never trusted: record the
	// destination balance, invoke, and measure the realised delta.
	before, err := e.balanceOf(caller, outputAsset)
	if err != nil {
		return nil, err
	}
	if err := ExecuteRoute(e.router, route); err != nil {
		return nil, err
	}
	after, err := e.balanceOf(caller, outputAsset)
	if err != nil {
		return nil, err
	}
	realized := new(big.Int).Sub(after, before)
	if realized.Sign() < 0 {
		realized = big.NewInt(0)
	}
	if err := VerifyOutput(realized, intent.MinimumAmountOut, intent.SlippageBps, route.AmountOut); err != nil {
		return nil, err
	}
	if err := e.applyProtocolFee(caller, outputAsset, realized, cfg.ProtocolFeeBps); err != nil {
		return nil, err
	}

	planRef, err := route.EncodePlan()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}
	var execRef [32]byte
	copy(execRef[:], ethcrypto.Keccak256(planRef))
	receipt = &SwapReceipt{
		User:          caller,
		InputAsset:    inputAsset,
		OutputAsset:   outputAsset,
		AmountIn:      cloneBigInt(intent.AmountIn),
		AmountOut:     realized,
		SlippageBps:   intent.SlippageBps,
		ProtectedMode: protected,
		Timestamp:     now,
		ExecutionRef:  execRef,
	}
	key, err := e.ledger.RecordSwap(receipt)
	if err != nil {
		return nil, err
	}
	volume := big.NewInt(0)
	if outputAsset == e.stableAsset {
		volume = realized
	} else if inputAsset == e.stableAsset {
		volume = intent.AmountIn
	}
	if volume.Sign() > 0 {
		if err := e.ledger.AddVolume(caller, now, volume); err != nil {
			return nil, err
		}
	}
	cfg.TotalSwaps = saturatingAdd(cfg.TotalSwaps, 1)
	cfg.TotalVolume = saturatingAdd(cfg.TotalVolume, amountToUint64(volume))
	if err := e.putConfig(cfg); err != nil {
		return nil, err
	}

	e.emit(events.SwapExecuted{
		User:          caller,
		InputAsset:    inputAsset,
		OutputAsset:   outputAsset,
		AmountIn:      cloneBigInt(intent.AmountIn),
		AmountOut:     cloneBigInt(realized),
		SlippageBps:   intent.SlippageBps,
		ProtectedMode: protected,
		Timestamp:     now,
		Receipt:       key,
	})
	return receipt, nil
}

// applyProtocolFee moves the configured share of the realised output from the
// caller to the fee vault. The fee never exceeds the realised amount.
func (e *Engine) applyProtocolFee(caller [20]byte, asset string, realized *big.Int, feeBps uint16) error {
	if feeBps == 0 || realized.Sign() <= 0 {
		return nil
	}
	fee := new(big.Int).Mul(realized, big.NewInt(int64(feeBps)))
	fee.Div(fee, big.NewInt(10_000))
	if fee.Sign() <= 0 {
		return nil
	}
	if fee.Cmp(realized) > 0 {
		fee = cloneBigInt(realized)
	}
	vault := FeeVaultAddress()
	return e.transfer(caller, vault, asset, fee)
}
