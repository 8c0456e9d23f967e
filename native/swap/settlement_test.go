package swap

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"flowmint/core/events"
	"flowmint/core/state"
)

func paymentRoute() *Route {
	return &Route{
		InputAsset:  "SOL",
		OutputAsset: "USDC",
		AmountIn:    big.NewInt(1_000_000),
		AmountOut:   big.NewInt(25_000),
		SlippageBps: 50,
		Steps: []RouteStep{
			{
				Venue:       "orca",
				InputAsset:  "SOL",
				OutputAsset: "USDC",
				AmountIn:    big.NewInt(1_000_000),
				AmountOut:   big.NewInt(25_000),
				FeeAmount:   big.NewInt(2_500),
				FeeAsset:    "SOL",
			},
		},
		QuoteTimestamp:         1_700_000_000,
		QuoteExpirationSeconds: 30,
	}
}

// conversionRouter simulates the aggregator settling into the holding
// account: it spends part of the payer's input and credits the holding
// account with the stable output.
func conversionRouter(m *state.Manager, payer [20]byte, spend, deliver int64) *fakeRouter {
	return &fakeRouter{fn: func(call RouteCall) error {
		account, err := m.GetAccount(payer[:])
		if err != nil {
			return err
		}
		sol := account.Balance("SOL")
		account.SetBalance("SOL", sol.Sub(sol, big.NewInt(spend)))
		if err := m.PutAccount(payer[:], account); err != nil {
			return err
		}
		holdingAddr := HoldingAddress()
		holding, err := m.GetAccount(holdingAddr[:])
		if err != nil {
			return err
		}
		usdc := holding.Balance("USDC")
		holding.SetBalance("USDC", usdc.Add(usdc, big.NewInt(deliver)))
		return m.PutAccount(holdingAddr[:], holding)
	}}
}

func TestPayAnyTokenDirect(t *testing.T) {
	engine, manager, emitter := newTestEngine(t)
	payer := [20]byte{0x11}
	merchant := [20]byte{0x12}
	fund(t, manager, payer, "USDC", 50_000)

	intent := PaymentIntent{
		InputAsset:     "USDC",
		AmountInMax:    big.NewInt(20_000),
		ExactAmountOut: big.NewInt(12_000),
		Memo:           []byte("invoice-42"),
	}
	record, err := engine.PayAnyToken(payer, merchant, nil, intent)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	// Only the exact amount moves, not the declared maximum.
	if got := balance(t, manager, payer, "USDC"); got.Cmp(big.NewInt(38_000)) != 0 {
		t.Fatalf("payer balance %s, want 38000", got)
	}
	if got := balance(t, manager, merchant, "USDC"); got.Cmp(big.NewInt(12_000)) != 0 {
		t.Fatalf("merchant balance %s, want 12000", got)
	}
	if record.AmountIn.Cmp(big.NewInt(12_000)) != 0 {
		t.Fatalf("cost basis %s, want 12000", record.AmountIn)
	}
	if !bytes.Equal(record.Memo, []byte("invoice-42")) {
		t.Fatalf("memo mismatch: %q", record.Memo)
	}

	stats, err := engine.Ledger().StatsFor(payer)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalPayments != 1 || stats.TotalVolume != 12_000 {
		t.Fatalf("payer counters %d/%d", stats.TotalPayments, stats.TotalVolume)
	}

	evt, ok := emitter.last().(events.PaymentExecuted)
	if !ok {
		t.Fatalf("expected PaymentExecuted event, got %T", emitter.last())
	}
	if evt.Payer != payer || evt.Merchant != merchant || evt.Record != record.Key {
		t.Fatalf("event fields mismatch")
	}
}

func TestPayAnyTokenDirectMaxBelowExact(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	payer := [20]byte{0x13}
	fund(t, manager, payer, "USDC", 50_000)

	intent := PaymentIntent{
		InputAsset:     "USDC",
		AmountInMax:    big.NewInt(10_000),
		ExactAmountOut: big.NewInt(12_000),
	}
	if _, err := engine.PayAnyToken(payer, [20]byte{0x14}, nil, intent); !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("expected ErrAmountTooSmall, got %v", err)
	}
}

func TestPayAnyTokenConversionSurplusRefund(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	payer := [20]byte{0x15}
	merchant := [20]byte{0x16}
	fund(t, manager, payer, "SOL", 1_000_000)
	// 900_000 of the declared 1_000_000 budget is spent; the route delivers
	// 26_000 against an exact requirement of 24_000.
	engine.SetRouter(conversionRouter(manager, payer, 900_000, 26_000))

	intent := PaymentIntent{
		InputAsset:     "SOL",
		AmountInMax:    big.NewInt(1_000_000),
		ExactAmountOut: big.NewInt(24_000),
	}
	record, err := engine.PayAnyToken(payer, merchant, encodeRoute(t, paymentRoute()), intent)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if got := balance(t, manager, merchant, "USDC"); got.Cmp(big.NewInt(24_000)) != 0 {
		t.Fatalf("merchant received %s, want exactly 24000", got)
	}
	if got := balance(t, manager, payer, "USDC"); got.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("surplus refund %s, want 2000", got)
	}
	if got := balance(t, manager, HoldingAddress(), "USDC"); got.Sign() != 0 {
		t.Fatalf("holding account retained %s", got)
	}
	if got := balance(t, manager, payer, "SOL"); got.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("payer input balance %s, want 100000", got)
	}
	// Cost basis is the input actually consumed, not the declared maximum.
	if record.AmountIn.Cmp(big.NewInt(900_000)) != 0 {
		t.Fatalf("cost basis %s, want 900000", record.AmountIn)
	}
	if record.TargetAmount.Cmp(big.NewInt(24_000)) != 0 {
		t.Fatalf("target amount %s", record.TargetAmount)
	}
}

func TestPayAnyTokenConversionShortfallReverts(t *testing.T) {
	engine, manager, emitter := newTestEngine(t)
	payer := [20]byte{0x17}
	merchant := [20]byte{0x18}
	fund(t, manager, payer, "SOL", 1_000_000)
	engine.SetRouter(conversionRouter(manager, payer, 900_000, 20_000))

	intent := PaymentIntent{
		InputAsset:     "SOL",
		AmountInMax:    big.NewInt(1_000_000),
		ExactAmountOut: big.NewInt(24_000),
	}
	_, err := engine.PayAnyToken(payer, merchant, encodeRoute(t, paymentRoute()), intent)
	if !errors.Is(err, ErrInsufficientOutputAmount) {
		t.Fatalf("expected ErrInsufficientOutputAmount, got %v", err)
	}
	if got := balance(t, manager, payer, "SOL"); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("payer input not restored: %s", got)
	}
	if got := balance(t, manager, HoldingAddress(), "USDC"); got.Sign() != 0 {
		t.Fatalf("holding account not restored: %s", got)
	}
	if got := balance(t, manager, merchant, "USDC"); got.Sign() != 0 {
		t.Fatalf("merchant credited on failure: %s", got)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("event emitted for failed payment")
	}
	records, err := engine.Ledger().PaymentsFor(payer)
	if err != nil {
		t.Fatalf("payments: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("payment recorded for failed settlement")
	}
}

func TestPayAnyTokenConversionQuoteExpired(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	payer := [20]byte{0x19}
	fund(t, manager, payer, "SOL", 1_000_000)
	engine.SetRouter(conversionRouter(manager, payer, 900_000, 26_000))

	route := paymentRoute()
	engine.SetNowFunc(func() int64 { return route.QuoteTimestamp + route.QuoteExpirationSeconds + 1 })
	intent := PaymentIntent{
		InputAsset:     "SOL",
		AmountInMax:    big.NewInt(1_000_000),
		ExactAmountOut: big.NewInt(24_000),
	}
	if _, err := engine.PayAnyToken(payer, [20]byte{0x1a}, encodeRoute(t, route), intent); !errors.Is(err, ErrQuoteExpired) {
		t.Fatalf("expected ErrQuoteExpired, got %v", err)
	}
}

func TestPayAnyTokenZeroMerchant(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	payer := [20]byte{0x1b}
	fund(t, manager, payer, "USDC", 50_000)

	intent := PaymentIntent{
		InputAsset:     "USDC",
		AmountInMax:    big.NewInt(20_000),
		ExactAmountOut: big.NewInt(12_000),
	}
	if _, err := engine.PayAnyToken(payer, [20]byte{}, nil, intent); !errors.Is(err, ErrInvalidOwner) {
		t.Fatalf("expected ErrInvalidOwner, got %v", err)
	}
}

func TestPayAnyTokenMemoTruncatedOnRecord(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	payer := [20]byte{0x1c}
	merchant := [20]byte{0x1d}
	fund(t, manager, payer, "USDC", 50_000)

	intent := PaymentIntent{
		InputAsset:     "USDC",
		AmountInMax:    big.NewInt(20_000),
		ExactAmountOut: big.NewInt(12_000),
		Memo:           bytes.Repeat([]byte{'x'}, 300),
	}
	record, err := engine.PayAnyToken(payer, merchant, nil, intent)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if len(record.Memo) != MaxMemoLength {
		t.Fatalf("memo length %d, want %d", len(record.Memo), MaxMemoLength)
	}
}
