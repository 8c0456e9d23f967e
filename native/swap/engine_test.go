package swap

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"flowmint/core/events"
	"flowmint/core/state"
	"flowmint/storage"
)

const testNow int64 = 1_700_000_010

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *captureEmitter) last() events.Event {
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

type fakeRouter struct {
	fn func(call RouteCall) error
}

func (f *fakeRouter) Execute(call RouteCall) error {
	if f.fn == nil {
		return nil
	}
	return f.fn(call)
}

var (
	testAuthority = [20]byte{0xaa}
	testTreasury  = [20]byte{0xbb}
)

func newTestEngine(t *testing.T) (*Engine, *state.Manager, *captureEmitter) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := NewEngine()
	engine.SetState(manager)
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return testNow })
	if _, err := engine.Initialize(testAuthority, testTreasury, 100, 50, 300); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return engine, manager, emitter
}

func fund(t *testing.T, m *state.Manager, addr [20]byte, asset string, amount int64) {
	t.Helper()
	account, err := m.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	account.SetBalance(asset, big.NewInt(amount))
	if err := m.PutAccount(addr[:], account); err != nil {
		t.Fatalf("put account: %v", err)
	}
}

func balance(t *testing.T, m *state.Manager, addr [20]byte, asset string) *big.Int {
	t.Helper()
	account, err := m.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.Balance(asset)
}

// marketRouter simulates the aggregator settling a swap against the user's
// account: the input leg is debited and the output leg credited.
func marketRouter(m *state.Manager, user [20]byte, spend, deliver int64) *fakeRouter {
	return &fakeRouter{fn: func(call RouteCall) error {
		account, err := m.GetAccount(user[:])
		if err != nil {
			return err
		}
		sol := account.Balance("SOL")
		account.SetBalance("SOL", sol.Sub(sol, big.NewInt(spend)))
		usdc := account.Balance("USDC")
		account.SetBalance("USDC", usdc.Add(usdc, big.NewInt(deliver)))
		return m.PutAccount(user[:], account)
	}}
}

func swapIntent() SwapIntent {
	return SwapIntent{
		InputAsset:       "SOL",
		OutputAsset:      "USDC",
		AmountIn:         big.NewInt(1_000_000),
		MinimumAmountOut: big.NewInt(24_000),
		SlippageBps:      50,
	}
}

func encodeRoute(t *testing.T, route *Route) []byte {
	t.Helper()
	payload, err := route.Encode()
	if err != nil {
		t.Fatalf("encode route: %v", err)
	}
	return payload
}

func TestExecuteSwapHappyPath(t *testing.T) {
	engine, manager, emitter := newTestEngine(t)
	user := [20]byte{0x01}
	fund(t, manager, user, "SOL", 1_000_000)
	engine.SetRouter(marketRouter(manager, user, 1_000_000, 24_950))

	receipt, err := engine.ExecuteSwap(user, encodeRoute(t, testRoute()), swapIntent())
	if err != nil {
		t.Fatalf("execute swap: %v", err)
	}
	if receipt.AmountOut.Cmp(big.NewInt(24_950)) != 0 {
		t.Fatalf("realised amount %s, want 24950", receipt.AmountOut)
	}
	if got := balance(t, manager, user, "SOL"); got.Sign() != 0 {
		t.Fatalf("input not spent: %s", got)
	}
	if got := balance(t, manager, user, "USDC"); got.Cmp(big.NewInt(24_950)) != 0 {
		t.Fatalf("output balance %s", got)
	}

	fetched, ok, err := engine.Ledger().GetReceipt(receipt.Key)
	if err != nil || !ok {
		t.Fatalf("receipt lookup: %v ok=%v", err, ok)
	}
	if fetched.Timestamp != testNow {
		t.Fatalf("receipt timestamp %d", fetched.Timestamp)
	}

	cfg, err := engine.Config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.TotalSwaps != 1 || cfg.TotalVolume != 24_950 {
		t.Fatalf("global counters %d/%d", cfg.TotalSwaps, cfg.TotalVolume)
	}

	stats, err := engine.Ledger().StatsFor(user)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalSwaps != 1 || stats.TotalVolume != 24_950 {
		t.Fatalf("user counters %d/%d", stats.TotalSwaps, stats.TotalVolume)
	}

	evt, ok := emitter.last().(events.SwapExecuted)
	if !ok {
		t.Fatalf("expected SwapExecuted event, got %T", emitter.last())
	}
	if evt.User != user || evt.Receipt != receipt.Key {
		t.Fatalf("event fields mismatch")
	}
}

func TestExecuteSwapRevertsWhenRouterFails(t *testing.T) {
	engine, manager, emitter := newTestEngine(t)
	user := [20]byte{0x02}
	fund(t, manager, user, "SOL", 1_000_000)
	engine.SetRouter(&fakeRouter{fn: func(call RouteCall) error {
		// Partial effects land in state before the failure surfaces.
		account, err := manager.GetAccount(user[:])
		if err != nil {
			return err
		}
		account.SetBalance("SOL", big.NewInt(0))
		if err := manager.PutAccount(user[:], account); err != nil {
			return err
		}
		return fmt.Errorf("venue timeout")
	}})

	_, err := engine.ExecuteSwap(user, encodeRoute(t, testRoute()), swapIntent())
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("expected ErrExecutionFailed, got %v", err)
	}
	if got := balance(t, manager, user, "SOL"); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("partial effects survived the revert: %s", got)
	}
	receipts, err := engine.Ledger().ReceiptsFor(user)
	if err != nil {
		t.Fatalf("receipts: %v", err)
	}
	if len(receipts) != 0 {
		t.Fatalf("receipt recorded for failed swap")
	}
	if len(emitter.events) != 0 {
		t.Fatalf("event emitted for failed swap")
	}
}

func TestExecuteSwapRejectsUnderdelivery(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	user := [20]byte{0x03}
	fund(t, manager, user, "SOL", 1_000_000)
	// Router reports success but the measured delta is below the floor.
	engine.SetRouter(marketRouter(manager, user, 1_000_000, 23_000))

	_, err := engine.ExecuteSwap(user, encodeRoute(t, testRoute()), swapIntent())
	if !errors.Is(err, ErrInsufficientOutput) {
		t.Fatalf("expected ErrInsufficientOutput, got %v", err)
	}
	if got := balance(t, manager, user, "SOL"); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("input balance not restored: %s", got)
	}
	if got := balance(t, manager, user, "USDC"); got.Sign() != 0 {
		t.Fatalf("output balance not restored: %s", got)
	}
}

func TestExecuteSwapQuoteExpired(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	user := [20]byte{0x04}
	fund(t, manager, user, "SOL", 1_000_000)
	engine.SetRouter(marketRouter(manager, user, 1_000_000, 24_950))

	route := testRoute()
	engine.SetNowFunc(func() int64 { return route.QuoteTimestamp + route.QuoteExpirationSeconds + 1 })
	if _, err := engine.ExecuteSwap(user, encodeRoute(t, route), swapIntent()); !errors.Is(err, ErrQuoteExpired) {
		t.Fatalf("expected ErrQuoteExpired, got %v", err)
	}

	// The boundary instant itself still settles.
	engine.SetNowFunc(func() int64 { return route.QuoteTimestamp + route.QuoteExpirationSeconds })
	if _, err := engine.ExecuteSwap(user, encodeRoute(t, route), swapIntent()); err != nil {
		t.Fatalf("boundary quote rejected: %v", err)
	}
}

func TestExecuteSwapProtectedModeOverride(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	user := [20]byte{0x05}
	fund(t, manager, user, "SOL", 1_000_000)
	engine.SetRouter(marketRouter(manager, user, 1_000_000, 24_950))
	if err := engine.ToggleProtectedMode(testAuthority, true); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	// The global override tightens the ceiling even when the caller did not
	// opt in.
	intent := swapIntent()
	intent.SlippageBps = 80
	if _, err := engine.ExecuteSwap(user, encodeRoute(t, testRoute()), intent); !errors.Is(err, ErrProtectedModeViolation) {
		t.Fatalf("expected ErrProtectedModeViolation, got %v", err)
	}

	intent.ProtectedMode = true
	if _, err := engine.ExecuteSwap(user, encodeRoute(t, testRoute()), intent); !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded for opted-in caller, got %v", err)
	}

	intent.SlippageBps = 50
	if _, err := engine.ExecuteSwap(user, encodeRoute(t, testRoute()), intent); err != nil {
		t.Fatalf("swap under protected ceiling rejected: %v", err)
	}
}

func TestExecuteSwapProtectedPriceImpact(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	user := [20]byte{0x06}
	fund(t, manager, user, "SOL", 1_000_000)
	engine.SetRouter(marketRouter(manager, user, 1_000_000, 24_950))

	// 40_000 of fees over 1_000_000 input is 400 bps, over the 300 ceiling.
	route := testRoute()
	route.Steps[0].FeeAmount = big.NewInt(40_000)

	intent := swapIntent()
	intent.ProtectedMode = true
	if _, err := engine.ExecuteSwap(user, encodeRoute(t, route), intent); !errors.Is(err, ErrPriceImpactTooHigh) {
		t.Fatalf("expected ErrPriceImpactTooHigh, got %v", err)
	}

	// Unprotected callers are not subject to the impact ceiling.
	intent.ProtectedMode = false
	if _, err := engine.ExecuteSwap(user, encodeRoute(t, route), intent); err != nil {
		t.Fatalf("unprotected swap rejected on impact: %v", err)
	}
}

func TestExecuteSwapInsufficientBalance(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	user := [20]byte{0x07}
	fund(t, manager, user, "SOL", 10)
	if _, err := engine.ExecuteSwap(user, encodeRoute(t, testRoute()), swapIntent()); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestExecuteSwapSameAssetRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	intent := swapIntent()
	intent.OutputAsset = "SOL"
	if _, err := engine.ExecuteSwap([20]byte{0x08}, nil, intent); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestExecuteSwapProtocolFee(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	user := [20]byte{0x09}
	fund(t, manager, user, "SOL", 1_000_000)
	engine.SetRouter(marketRouter(manager, user, 1_000_000, 24_950))

	feeBps := uint16(100)
	if _, err := engine.UpdateConfig(testAuthority, ConfigUpdate{ProtocolFeeBps: &feeBps}); err != nil {
		t.Fatalf("update config: %v", err)
	}

	receipt, err := engine.ExecuteSwap(user, encodeRoute(t, testRoute()), swapIntent())
	if err != nil {
		t.Fatalf("execute swap: %v", err)
	}
	// 1% of 24_950, floored.
	if got := balance(t, manager, FeeVaultAddress(), "USDC"); got.Cmp(big.NewInt(249)) != 0 {
		t.Fatalf("fee vault balance %s, want 249", got)
	}
	if got := balance(t, manager, user, "USDC"); got.Cmp(big.NewInt(24_701)) != 0 {
		t.Fatalf("user output after fee %s, want 24701", got)
	}
	// The receipt records the realised output before the fee split.
	if receipt.AmountOut.Cmp(big.NewInt(24_950)) != 0 {
		t.Fatalf("receipt output %s", receipt.AmountOut)
	}
}
