package swap

import (
	"fmt"
	"math/big"

	"flowmint/core/events"
	"flowmint/observability"
)

func (e *Engine) balanceOf(addr [20]byte, asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return account.Balance(asset), nil
}

// transfer moves amount of asset between two accounts. The settlement engine
// is the only caller able to move funds out of program-controlled addresses
// (the holding account and the fee vault); no key material exists for them.
func (e *Engine) transfer(from, to [20]byte, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("swap: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	balance := fromAcc.Balance(asset)
	if balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.SetBalance(asset, new(big.Int).Sub(balance, amt))
	toAcc.SetBalance(asset, new(big.Int).Add(toAcc.Balance(asset), amt))
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// PaymentIntent is the caller-declared shape of a merchant payment: spend at
// most AmountInMax of InputAsset so the merchant receives exactly
// ExactAmountOut of the target stablecoin.
type PaymentIntent struct {
	InputAsset     string
	AmountInMax    *big.Int
	ExactAmountOut *big.Int
	Memo           []byte
}

// PayAnyToken settles a merchant payment. When the input asset already is the
// target stablecoin the exact amount moves directly from payer to merchant
// with no aggregator involvement. Otherwise the route converts into the
// program-controlled holding account, the exact amount is forwarded to the
// merchant, and any surplus is refunded to the payer. The whole call commits
// or reverts as one unit.
func (e *Engine) PayAnyToken(payer, merchant [20]byte, routePayload []byte, intent PaymentIntent) (record *PaymentRecord, err error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	snapshot := e.state.Snapshot()
	defer func() {
		if err != nil {
			e.state.RevertToSnapshot(snapshot)
			observability.Swap().RecordPayment("error")
		} else {
			observability.Swap().RecordPayment("ok")
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
	if merchant == ([20]byte{}) {
		return nil, fmt.Errorf("%w: merchant address required", ErrInvalidOwner)
	}
	if intent.AmountInMax == nil || intent.AmountInMax.Sign() <= 0 {
		return nil, ErrAmountTooSmall
	}
	if intent.ExactAmountOut == nil || intent.ExactAmountOut.Sign() <= 0 {
		return nil, ErrAmountTooSmall
	}
	balance, err := e.balanceOf(payer, inputAsset)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(intent.AmountInMax) < 0 {
		return nil, ErrInsufficientBalance
	}

	now := e.now()
	var costBasis *big.Int
	if inputAsset == e.stableAsset {
		costBasis, err = e.settleDirect(payer, merchant, intent)
	} else {
		costBasis, err = e.settleConversion(payer, merchant, routePayload, intent, cfg, now)
	}
	if err != nil {
		return nil, err
	}

	record = &PaymentRecord{
		Payer:        payer,
		Merchant:     merchant,
		InputAsset:   inputAsset,
		AmountIn:     costBasis,
		TargetAmount: cloneBigInt(intent.ExactAmountOut),
		Memo:         TruncateMemo(intent.Memo),
		Timestamp:    now,
	}
	key, err := e.ledger.RecordPayment(record)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.AddVolume(payer, now, intent.ExactAmountOut); err != nil {
		return nil, err
	}
	cfg.TotalVolume = saturatingAdd(cfg.TotalVolume, amountToUint64(intent.ExactAmountOut))
	if err := e.putConfig(cfg); err != nil {
		return nil, err
	}

	e.emit(events.PaymentExecuted{
		Payer:        payer,
		Merchant:     merchant,
		InputAsset:   inputAsset,
		AmountIn:     cloneBigInt(costBasis),
		TargetAmount: cloneBigInt(intent.ExactAmountOut),
		Timestamp:    now,
		Record:       key,
	})
	return record, nil
}

// settleDirect handles the same-asset shortcut: no aggregator call, exactly
// the requested amount moves from payer to merchant, and that amount is the
// recorded cost basis.
func (e *Engine) settleDirect(payer, merchant [20]byte, intent PaymentIntent) (*big.Int, error) {
	if intent.AmountInMax.Cmp(intent.ExactAmountOut) < 0 {
		return nil, fmt.Errorf("%w: max input below exact output", ErrAmountTooSmall)
	}
	if err := e.transfer(payer, merchant, e.stableAsset, intent.ExactAmountOut); err != nil {
		return nil, err
	}
	return cloneBigInt(intent.ExactAmountOut), nil
}

// settleConversion routes the payment through the holding account: the
// aggregator settles into it, the exact amount is forwarded to the merchant,
// and any surplus is refunded to the payer in the target asset.
func (e *Engine) settleConversion(payer, merchant [20]byte, routePayload []byte, intent PaymentIntent, cfg *ProtocolConfig, now int64) (*big.Int, error) {
	inputAsset, err := NormalizeAsset(intent.InputAsset)
	if err != nil {
		return nil, err
	}
	route, err := DecodeRoute(routePayload)
	if err != nil {
		return nil, err
	}
	ceiling := cfg.SlippageCeiling(false)
	if err := route.Validate(inputAsset, e.stableAsset, intent.AmountInMax, intent.ExactAmountOut, ceiling); err != nil {
		return nil, err
	}
	if route.IsExpired(now) {
		return nil, ErrQuoteExpired
	}
	if cfg.ProtectedModeEnabled {
		impact := route.PriceImpactBps()
		if impact.Cmp(big.NewInt(int64(cfg.MaxPriceImpactBps))) > 0 {
			return nil, fmt.Errorf("%w: %s bps over %d", ErrPriceImpactTooHigh, impact.String(), cfg.MaxPriceImpactBps)
		}
	}

	holding := HoldingAddress()
	holdingBefore, err := e.balanceOf(holding, e.stableAsset)
	if err != nil {
		return nil, err
	}
	if err := ExecuteRoute(e.router, route); err != nil {
		return nil, err
	}
	holdingAfter, err := e.balanceOf(holding, e.stableAsset)
	if err != nil {
		return nil, err
	}
	received := new(big.Int).Sub(holdingAfter, holdingBefore)
	if received.Cmp(intent.ExactAmountOut) < 0 {
		return nil, fmt.Errorf("%w: received %s required %s", ErrInsufficientOutputAmount, received.String(), intent.ExactAmountOut.String())
	}
	if err := e.transfer(holding, merchant, e.stableAsset, intent.ExactAmountOut); err != nil {
		return nil, err
	}
	surplus := new(big.Int).Sub(received, intent.ExactAmountOut)
	if surplus.Sign() > 0 {
		if err := e.transfer(holding, payer, e.stableAsset, surplus); err != nil {
			return nil, err
		}
	}

	// Cost basis is inferred from what remains of the payer's input budget.
	// If the balance rose during the call the subtraction would go negative;
	// clamp to the declared maximum rather than wrap.
	payerInputAfter, err := e.balanceOf(payer, inputAsset)
	if err != nil {
		return nil, err
	}
	costBasis := new(big.Int).Sub(intent.AmountInMax, payerInputAfter)
	if costBasis.Sign() < 0 || costBasis.Cmp(intent.AmountInMax) > 0 {
		costBasis = cloneBigInt(intent.AmountInMax)
	}
	return costBasis, nil
}
