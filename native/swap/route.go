package swap

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// RouteStep describes a single venue hop inside an aggregator route.
type RouteStep struct {
	Venue       string
	InputAsset  string
	OutputAsset string
	AmountIn    *big.Int
	AmountOut   *big.Int
	FeeAmount   *big.Int
	FeeAsset    string
}

// Route is the aggregator-supplied conversion plan for one call. It is
// adversary-controlled data: every field is re-checked against caller intent
// before any external effect. Routes are never persisted.
type Route struct {
	InputAsset             string
	OutputAsset            string
	AmountIn               *big.Int
	AmountOut              *big.Int
	SlippageBps            uint16
	Steps                  []RouteStep
	QuoteTimestamp         int64
	QuoteExpirationSeconds int64
}

type storedRouteStep struct {
	Venue       string
	InputAsset  string
	OutputAsset string
	AmountIn    *big.Int
	AmountOut   *big.Int
	FeeAmount   *big.Int
	FeeAsset    string
}

type storedRoute struct {
	InputAsset             string
	OutputAsset            string
	AmountIn               *big.Int
	AmountOut              *big.Int
	SlippageBps            uint16
	Steps                  []storedRouteStep
	QuoteTimestamp         uint64
	QuoteExpirationSeconds uint64
}

// DecodeRoute parses an RLP route payload. Any malformed payload fails the
// call before the aggregator is touched.
func DecodeRoute(payload []byte) (*Route, error) {
	var stored storedRoute
	if err := rlp.DecodeBytes(payload, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}
	quoteTs, err := uint64ToInt64(stored.QuoteTimestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: quote timestamp out of range", ErrInvalidInstructionData)
	}
	expiry, err := uint64ToInt64(stored.QuoteExpirationSeconds)
	if err != nil {
		return nil, fmt.Errorf("%w: quote expiration out of range", ErrInvalidInstructionData)
	}
	route := &Route{
		InputAsset:             stored.InputAsset,
		OutputAsset:            stored.OutputAsset,
		AmountIn:               cloneBigInt(stored.AmountIn),
		AmountOut:              cloneBigInt(stored.AmountOut),
		SlippageBps:            stored.SlippageBps,
		QuoteTimestamp:         quoteTs,
		QuoteExpirationSeconds: expiry,
	}
	for _, step := range stored.Steps {
		route.Steps = append(route.Steps, RouteStep{
			Venue:       step.Venue,
			InputAsset:  step.InputAsset,
			OutputAsset: step.OutputAsset,
			AmountIn:    cloneBigInt(step.AmountIn),
			AmountOut:   cloneBigInt(step.AmountOut),
			FeeAmount:   cloneBigInt(step.FeeAmount),
			FeeAsset:    step.FeeAsset,
		})
	}
	return route, nil
}

// Encode serialises the route into the canonical RLP payload accepted by
// DecodeRoute.
func (r *Route) Encode() ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("swap: nil route")
	}
	if r.QuoteTimestamp < 0 || r.QuoteExpirationSeconds < 0 {
		return nil, fmt.Errorf("swap: negative quote timing")
	}
	stored := storedRoute{
		InputAsset:             r.InputAsset,
		OutputAsset:            r.OutputAsset,
		AmountIn:               cloneBigInt(r.AmountIn),
		AmountOut:              cloneBigInt(r.AmountOut),
		SlippageBps:            r.SlippageBps,
		QuoteTimestamp:         uint64(r.QuoteTimestamp),
		QuoteExpirationSeconds: uint64(r.QuoteExpirationSeconds),
	}
	for _, step := range r.Steps {
		stored.Steps = append(stored.Steps, storedRouteStep{
			Venue:       step.Venue,
			InputAsset:  step.InputAsset,
			OutputAsset: step.OutputAsset,
			AmountIn:    cloneBigInt(step.AmountIn),
			AmountOut:   cloneBigInt(step.AmountOut),
			FeeAmount:   cloneBigInt(step.FeeAmount),
			FeeAsset:    step.FeeAsset,
		})
	}
	return rlp.EncodeToBytes(stored)
}

// EncodePlan serialises only the step plan, the opaque blob forwarded to the
// aggregator.
func (r *Route) EncodePlan() ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("swap: nil route")
	}
	steps := make([]storedRouteStep, 0, len(r.Steps))
	for _, step := range r.Steps {
		steps = append(steps, storedRouteStep{
			Venue:       step.Venue,
			InputAsset:  step.InputAsset,
			OutputAsset: step.OutputAsset,
			AmountIn:    cloneBigInt(step.AmountIn),
			AmountOut:   cloneBigInt(step.AmountOut),
			FeeAmount:   cloneBigInt(step.FeeAmount),
			FeeAsset:    step.FeeAsset,
		})
	}
	return rlp.EncodeToBytes(steps)
}

// Validate authenticates the route against caller intent and policy. Checks
// run in a fixed order: input asset, output asset, exact input amount (no
// partial fills), quoted output floor, quoted slippage ceiling.
func (r *Route) Validate(expectedInput, expectedOutput string, expectedAmountIn, requiredOut *big.Int, maxSlippageBps uint16) error {
	if r == nil {
		return ErrInvalidInstructionData
	}
	if r.InputAsset != expectedInput {
		return fmt.Errorf("%w: route %q caller %q", ErrInvalidInputAsset, r.InputAsset, expectedInput)
	}
	if r.OutputAsset != expectedOutput {
		return fmt.Errorf("%w: route %q caller %q", ErrInvalidOutputAsset, r.OutputAsset, expectedOutput)
	}
	if r.AmountIn == nil || expectedAmountIn == nil || r.AmountIn.Cmp(expectedAmountIn) != 0 {
		return ErrAmountMismatch
	}
	if r.AmountOut == nil || requiredOut == nil || r.AmountOut.Cmp(requiredOut) < 0 {
		return ErrInsufficientOutput
	}
	if r.SlippageBps > maxSlippageBps {
		return fmt.Errorf("%w: quoted %d bps exceeds %d", ErrSlippageExceeded, r.SlippageBps, maxSlippageBps)
	}
	return nil
}

// IsExpired reports whether the quote's validity window has elapsed at the
// supplied timestamp. The boundary instant itself is still valid.
func (r *Route) IsExpired(now int64) bool {
	if r == nil {
		return true
	}
	return now > r.QuoteTimestamp+r.QuoteExpirationSeconds
}

// PriceImpactBps estimates the route's price impact as the sum of per-step
// fee amounts over the total input, in basis points. Zero when either side of
// the ratio is zero.
func (r *Route) PriceImpactBps() *big.Int {
	if r == nil || r.AmountIn == nil || r.AmountIn.Sign() == 0 {
		return big.NewInt(0)
	}
	totalFees := big.NewInt(0)
	for _, step := range r.Steps {
		if step.FeeAmount != nil {
			totalFees.Add(totalFees, step.FeeAmount)
		}
	}
	if totalFees.Sign() == 0 {
		return big.NewInt(0)
	}
	impact := new(big.Int).Mul(totalFees, big.NewInt(10_000))
	return impact.Div(impact, r.AmountIn)
}

func uint64ToInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("value %d exceeds int64 range", value)
	}
	return int64(value), nil
}
