package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"flowmint/core/types"
)

const (
	// TypeSwapExecuted is emitted after a swap settles and its receipt is stored.
	TypeSwapExecuted = "swap.executed"
	// TypePaymentExecuted is emitted after a merchant payment settles.
	TypePaymentExecuted = "swap.payment"
	// TypeConfigUpdated is emitted whenever the protocol configuration changes.
	TypeConfigUpdated = "swap.config_updated"
	// TypeProtectedModeToggled is emitted when the global protected-mode flag flips.
	TypeProtectedModeToggled = "swap.protected_mode"
	// TypeFeesWithdrawn is emitted when accrued protocol fees are swept to the treasury.
	TypeFeesWithdrawn = "swap.fees_withdrawn"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

// SwapExecuted captures the realised outcome of a completed swap.
type SwapExecuted struct {
	User          [20]byte
	InputAsset    string
	OutputAsset   string
	AmountIn      *big.Int
	AmountOut     *big.Int
	SlippageBps   uint16
	ProtectedMode bool
	Timestamp     int64
	Receipt       [32]byte
}

func (SwapExecuted) EventType() string { return TypeSwapExecuted }

func (e SwapExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeSwapExecuted,
		Attributes: map[string]string{
			"user":          formatAddress(e.User),
			"inputAsset":    strings.TrimSpace(e.InputAsset),
			"outputAsset":   strings.TrimSpace(e.OutputAsset),
			"amountIn":      formatAmount(e.AmountIn),
			"amountOut":     formatAmount(e.AmountOut),
			"slippageBps":   strconv.FormatUint(uint64(e.SlippageBps), 10),
			"protectedMode": strconv.FormatBool(e.ProtectedMode),
			"timestamp":     strconv.FormatInt(e.Timestamp, 10),
			"receipt":       hex.EncodeToString(e.Receipt[:]),
		},
	}
}

// PaymentExecuted captures the settled amounts of a merchant payment.
type PaymentExecuted struct {
	Payer        [20]byte
	Merchant     [20]byte
	InputAsset   string
	AmountIn     *big.Int
	TargetAmount *big.Int
	Timestamp    int64
	Record       [32]byte
}

func (PaymentExecuted) EventType() string { return TypePaymentExecuted }

func (e PaymentExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypePaymentExecuted,
		Attributes: map[string]string{
			"payer":        formatAddress(e.Payer),
			"merchant":     formatAddress(e.Merchant),
			"inputAsset":   strings.TrimSpace(e.InputAsset),
			"amountIn":     formatAmount(e.AmountIn),
			"targetAmount": formatAmount(e.TargetAmount),
			"timestamp":    strconv.FormatInt(e.Timestamp, 10),
			"record":       hex.EncodeToString(e.Record[:]),
		},
	}
}

// ConfigUpdated reports the post-update values of every tunable policy field.
type ConfigUpdated struct {
	Authority            [20]byte
	DefaultSlippageBps   uint16
	ProtectedSlippageBps uint16
	MaxPriceImpactBps    uint16
	ProtocolFeeBps       uint16
	Treasury             [20]byte
}

func (ConfigUpdated) EventType() string { return TypeConfigUpdated }

func (e ConfigUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeConfigUpdated,
		Attributes: map[string]string{
			"authority":            formatAddress(e.Authority),
			"defaultSlippageBps":   strconv.FormatUint(uint64(e.DefaultSlippageBps), 10),
			"protectedSlippageBps": strconv.FormatUint(uint64(e.ProtectedSlippageBps), 10),
			"maxPriceImpactBps":    strconv.FormatUint(uint64(e.MaxPriceImpactBps), 10),
			"protocolFeeBps":       strconv.FormatUint(uint64(e.ProtocolFeeBps), 10),
			"treasury":             formatAddress(e.Treasury),
		},
	}
}

// ProtectedModeToggled reports the new global protected-mode state.
type ProtectedModeToggled struct {
	Authority [20]byte
	Enabled   bool
}

func (ProtectedModeToggled) EventType() string { return TypeProtectedModeToggled }

func (e ProtectedModeToggled) Event() *types.Event {
	return &types.Event{
		Type: TypeProtectedModeToggled,
		Attributes: map[string]string{
			"authority": formatAddress(e.Authority),
			"enabled":   strconv.FormatBool(e.Enabled),
		},
	}
}

// FeesWithdrawn reports a fee sweep from the module vault to the treasury.
type FeesWithdrawn struct {
	Treasury [20]byte
	Asset    string
	Amount   *big.Int
}

func (FeesWithdrawn) EventType() string { return TypeFeesWithdrawn }

func (e FeesWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeFeesWithdrawn,
		Attributes: map[string]string{
			"treasury": formatAddress(e.Treasury),
			"asset":    strings.TrimSpace(e.Asset),
			"amount":   formatAmount(e.Amount),
		},
	}
}
