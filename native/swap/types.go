package swap

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// MaxSlippageBps is the policy ceiling for every slippage and price-impact
// setting (50%).
const MaxSlippageBps uint16 = 5000

// MaxMemoLength bounds the stored payment memo in bytes. Longer memos are
// truncated, never rejected.
const MaxMemoLength = 64

// ProtocolConfig is the singleton policy record governing every swap and
// payment. It is created once, mutated only by the stored authority, and
// never deleted.
type ProtocolConfig struct {
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

// Clone returns a copy callers may mutate freely.
func (c *ProtocolConfig) Clone() *ProtocolConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// SlippageCeiling resolves the slippage ceiling that applies for the supplied
// per-call protected flag, honouring the global override.
func (c *ProtocolConfig) SlippageCeiling(protected bool) uint16 {
	if protected || c.ProtectedModeEnabled {
		return c.ProtectedSlippageBps
	}
	return c.DefaultSlippageBps
}

// ValidateSlippage reports whether the requested tolerance fits under the
// active ceiling.
func (c *ProtocolConfig) ValidateSlippage(slippageBps uint16, protected bool) bool {
	return slippageBps <= c.SlippageCeiling(protected)
}

// SwapReceipt is the immutable audit record created exactly once per
// successful swap. Key is the unique derived storage address assigned by the
// ledger.
type SwapReceipt struct {
	Key           [32]byte
	User          [20]byte
	InputAsset    string
	OutputAsset   string
	AmountIn      *big.Int
	AmountOut     *big.Int
	SlippageBps   uint16
	ProtectedMode bool
	Timestamp     int64
	ExecutionRef  [32]byte
}

// Clone returns a deep copy of the receipt.
func (r *SwapReceipt) Clone() *SwapReceipt {
	if r == nil {
		return nil
	}
	clone := *r
	if r.AmountIn != nil {
		clone.AmountIn = new(big.Int).Set(r.AmountIn)
	}
	if r.AmountOut != nil {
		clone.AmountOut = new(big.Int).Set(r.AmountOut)
	}
	return &clone
}

// PaymentRecord is the immutable audit record created exactly once per
// successful merchant payment. AmountIn is the actual cost basis in the input
// asset; TargetAmount is the exact stable amount the merchant received.
type PaymentRecord struct {
	Key          [32]byte
	Payer        [20]byte
	Merchant     [20]byte
	InputAsset   string
	AmountIn     *big.Int
	TargetAmount *big.Int
	Memo         []byte
	Timestamp    int64
}

// Clone returns a deep copy of the record.
func (p *PaymentRecord) Clone() *PaymentRecord {
	if p == nil {
		return nil
	}
	clone := *p
	if p.AmountIn != nil {
		clone.AmountIn = new(big.Int).Set(p.AmountIn)
	}
	if p.TargetAmount != nil {
		clone.TargetAmount = new(big.Int).Set(p.TargetAmount)
	}
	clone.Memo = append([]byte(nil), p.Memo...)
	return &clone
}

// UserStats aggregates per-user activity. Counters only ever increase and
// saturate at their maximum instead of wrapping. The DCA and stop-loss
// counters are reserved for order types the protocol does not execute yet.
type UserStats struct {
	User                [20]byte
	TotalSwaps          uint64
	TotalPayments       uint64
	TotalVolume         uint64
	TotalDCAOrders      uint64
	TotalStopLossOrders uint64
	LastActivity        int64
}

// Clone returns a copy of the stats record.
func (s *UserStats) Clone() *UserStats {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// NormalizeAsset canonicalises an asset symbol: trimmed, uppercase, 1-16
// characters from [A-Z0-9].
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if len(trimmed) == 0 || len(trimmed) > 16 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, symbol)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q", ErrInvalidAsset, symbol)
		}
	}
	return trimmed, nil
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// amountToUint64 converts a non-negative big amount into a saturating uint64
// for use in statistic counters.
func amountToUint64(v *big.Int) uint64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
