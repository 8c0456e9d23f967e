package swap

import "errors"

// Policy failures. Rejected before any external effect; the caller can
// correct the request and retry.
var (
	// ErrSlippageExceeded indicates the requested or realised slippage breached the active ceiling.
	ErrSlippageExceeded = errors.New("swap: slippage exceeds tolerance")
	// ErrPriceImpactTooHigh indicates the route's aggregate fees breached the protected ceiling.
	ErrPriceImpactTooHigh = errors.New("swap: price impact exceeds threshold")
	// ErrProtectedModeViolation indicates protected policy is enforced and its conditions were not met.
	ErrProtectedModeViolation = errors.New("swap: protected mode conditions not met")
	// ErrInvalidConfiguration indicates configuration parameters outside their permitted bounds.
	ErrInvalidConfiguration = errors.New("swap: invalid configuration")
)

// Input failures. Rejected before any external effect.
var (
	// ErrAmountTooSmall indicates a zero or below-minimum amount.
	ErrAmountTooSmall = errors.New("swap: amount below minimum threshold")
	// ErrAmountTooLarge indicates an amount exceeding liquidity limits.
	ErrAmountTooLarge = errors.New("swap: amount exceeds liquidity limits")
	// ErrInsufficientBalance indicates the caller cannot cover the declared input.
	ErrInsufficientBalance = errors.New("swap: insufficient balance")
	// ErrInvalidAsset indicates an unknown or malformed asset identifier.
	ErrInvalidAsset = errors.New("swap: invalid asset")
	// ErrInvalidOwner indicates an account owned by an unexpected party.
	ErrInvalidOwner = errors.New("swap: invalid account owner")
	// ErrInvalidInstructionData indicates a route payload that failed to decode.
	ErrInvalidInstructionData = errors.New("swap: invalid instruction data")
)

// Route and quote failures. Rejected before any external effect; the caller
// must refresh the quote and retry.
var (
	// ErrQuoteExpired indicates the quote's validity window has elapsed.
	ErrQuoteExpired = errors.New("swap: quote expired")
	// ErrInvalidInputAsset indicates the route's input asset does not match caller intent.
	ErrInvalidInputAsset = errors.New("swap: route input asset mismatch")
	// ErrInvalidOutputAsset indicates the route's output asset does not match caller intent.
	ErrInvalidOutputAsset = errors.New("swap: route output asset mismatch")
	// ErrAmountMismatch indicates the route's declared input differs from caller intent.
	ErrAmountMismatch = errors.New("swap: route amount mismatch")
	// ErrInsufficientOutput indicates a quoted or realised output below the caller's requirement.
	ErrInsufficientOutput = errors.New("swap: output below minimum required")
)

// Execution failures. Detected during or after the aggregator call; the
// enclosing atomic unit reverts with no partial effect.
var (
	// ErrExecutionFailed indicates the aggregator invocation aborted.
	ErrExecutionFailed = errors.New("swap: route execution failed")
	// ErrInsufficientOutputAmount indicates the realised receipt fell short of the exact-out requirement.
	ErrInsufficientOutputAmount = errors.New("swap: realised output below exact-out requirement")
	// ErrMathOverflow indicates unrepresentable arithmetic; never silently wrapped.
	ErrMathOverflow = errors.New("swap: arithmetic overflow")
)

// Authorization failures, admin paths only.
var (
	// ErrUnauthorized indicates the caller is not the stored authority.
	ErrUnauthorized = errors.New("swap: unauthorized")
)
