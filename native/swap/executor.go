package swap

import (
	"fmt"
	"math/big"
)

// RouteCall is the payload forwarded to the aggregator: the serialised step
// plan plus the declared amounts. The platform fee is always zero here; any
// protocol fee is applied during settlement, never by the aggregator.
type RouteCall struct {
	Plan           []byte
	AmountIn       *big.Int
	QuotedOut      *big.Int
	SlippageBps    uint16
	PlatformFeeBps uint16
}

// Router is the boundary to the external liquidity aggregator. Execute either
// completes, leaving its balance effects in state, or fails, in which case
// the enclosing atomic unit reverts. The call's real output is never reported
// back: callers must re-read the destination balance to learn the realised
// amount.
type Router interface {
	Execute(call RouteCall) error
}

// ExecuteRoute builds the aggregator call from a validated route and invokes
// the router. Failures are mapped onto ErrExecutionFailed.
func ExecuteRoute(router Router, route *Route) error {
	if router == nil {
		return fmt.Errorf("%w: router not configured", ErrExecutionFailed)
	}
	plan, err := route.EncodePlan()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	call := RouteCall{
		Plan:           plan,
		AmountIn:       cloneBigInt(route.AmountIn),
		QuotedOut:      cloneBigInt(route.AmountOut),
		SlippageBps:    route.SlippageBps,
		PlatformFeeBps: 0,
	}
	if err := router.Execute(call); err != nil {
		return fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	return nil
}

// CalculateSlippageBps returns the signed realised slippage in basis points:
// positive when execution beat the quote, negative when it fell short. Zero
// when the expectation is zero.
func CalculateSlippageBps(expected, actual *big.Int) *big.Int {
	if expected == nil || expected.Sign() == 0 {
		return big.NewInt(0)
	}
	diff := new(big.Int).Sub(cloneBigInt(actual), expected)
	diff.Mul(diff, big.NewInt(10_000))
	return diff.Quo(diff, expected)
}

// VerifyOutput checks the realised output against the caller's floor and the
// slippage tolerance. The floor applies unconditionally; the slippage check
// only rejects executions worse than quoted, so better-than-quoted fills
// always pass it.
func VerifyOutput(actualOut, minimumOut *big.Int, maxSlippageBps uint16, expectedOut *big.Int) error {
	if actualOut == nil || minimumOut == nil || actualOut.Cmp(minimumOut) < 0 {
		return fmt.Errorf("%w: realised %s minimum %s", ErrInsufficientOutput, formatBig(actualOut), formatBig(minimumOut))
	}
	slippage := CalculateSlippageBps(expectedOut, actualOut)
	if slippage.Sign() < 0 {
		magnitude := new(big.Int).Neg(slippage)
		if magnitude.Cmp(big.NewInt(int64(maxSlippageBps))) > 0 {
			return fmt.Errorf("%w: realised %s bps beyond %d", ErrSlippageExceeded, slippage.String(), maxSlippageBps)
		}
	}
	return nil
}

func formatBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
