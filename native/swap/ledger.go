package swap

import (
	"fmt"
	"math"
	"math/big"
)

// Storage abstracts the subset of state manager functionality required by the
// receipt ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Ledger persists swap receipts, payment records and per-user statistics in
// the underlying key-value store. All entries are append-only: nothing is
// ever overwritten or deleted.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

type storedSwapReceipt struct {
	User          [20]byte
	InputAsset    string
	OutputAsset   string
	AmountIn      *big.Int
	AmountOut     *big.Int
	SlippageBps   uint16
	ProtectedMode bool
	Timestamp     uint64
	ExecutionRef  [32]byte
}

type storedPaymentRecord struct {
	Payer        [20]byte
	Merchant     [20]byte
	InputAsset   string
	AmountIn     *big.Int
	TargetAmount *big.Int
	MemoLen      uint8
	Memo         []byte
	Timestamp    uint64
}

type storedUserStats struct {
	User                [20]byte
	TotalSwaps          uint64
	TotalPayments       uint64
	TotalVolume         uint64
	TotalDCAOrders      uint64
	TotalStopLossOrders uint64
	LastActivity        uint64
}

// nextSequence returns the next value of the global monotonic record
// sequence. Exhausting the counter is a hard failure, never a wrap.
func (l *Ledger) nextSequence() (uint64, error) {
	var current uint64
	if _, err := l.store.KVGet(receiptSeqKey, &current); err != nil {
		return 0, err
	}
	if current == math.MaxUint64 {
		return 0, ErrMathOverflow
	}
	next := current + 1
	if err := l.store.KVPut(receiptSeqKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// RecordSwap stores a new swap receipt under a unique derived key and bumps
// the user's swap counter. The receipt's Key field is assigned here; an
// existing record under the derived key is a hard failure since receipts are
// never overwritten.
func (l *Ledger) RecordSwap(receipt *SwapReceipt) ([32]byte, error) {
	if l == nil || l.store == nil {
		return [32]byte{}, fmt.Errorf("swap: ledger not initialised")
	}
	if receipt == nil {
		return [32]byte{}, fmt.Errorf("swap: receipt must not be nil")
	}
	seq, err := l.nextSequence()
	if err != nil {
		return [32]byte{}, err
	}
	key := receiptStorageKey(receipt.User, receipt.Timestamp, seq)
	storageKey := recordKey(receiptPrefix, key)
	ok, err := l.store.KVGet(storageKey, nil)
	if err != nil {
		return [32]byte{}, err
	}
	if ok {
		return [32]byte{}, fmt.Errorf("swap: receipt %x already exists", key)
	}
	stored := storedSwapReceipt{
		User:          receipt.User,
		InputAsset:    receipt.InputAsset,
		OutputAsset:   receipt.OutputAsset,
		AmountIn:      cloneBigInt(receipt.AmountIn),
		AmountOut:     cloneBigInt(receipt.AmountOut),
		SlippageBps:   receipt.SlippageBps,
		ProtectedMode: receipt.ProtectedMode,
		Timestamp:     clampTimestamp(receipt.Timestamp),
		ExecutionRef:  receipt.ExecutionRef,
	}
	if err := l.store.KVPut(storageKey, stored); err != nil {
		return [32]byte{}, err
	}
	if err := l.store.KVAppend(userScopedKey(receiptIdxPrefix, receipt.User), key[:]); err != nil {
		return [32]byte{}, err
	}
	if err := l.bumpStats(receipt.User, receipt.Timestamp, func(stats *UserStats) {
		stats.TotalSwaps = saturatingAdd(stats.TotalSwaps, 1)
	}); err != nil {
		return [32]byte{}, err
	}
	receipt.Key = key
	return key, nil
}

// RecordPayment stores a new payment record and bumps the payer's payment
// counter. Memos beyond MaxMemoLength are truncated, never rejected; the
// stored form carries an explicit length prefix.
func (l *Ledger) RecordPayment(record *PaymentRecord) ([32]byte, error) {
	if l == nil || l.store == nil {
		return [32]byte{}, fmt.Errorf("swap: ledger not initialised")
	}
	if record == nil {
		return [32]byte{}, fmt.Errorf("swap: payment record must not be nil")
	}
	seq, err := l.nextSequence()
	if err != nil {
		return [32]byte{}, err
	}
	key := paymentStorageKey(record.Payer, record.Merchant, record.Timestamp, seq)
	storageKey := recordKey(paymentPrefix, key)
	ok, err := l.store.KVGet(storageKey, nil)
	if err != nil {
		return [32]byte{}, err
	}
	if ok {
		return [32]byte{}, fmt.Errorf("swap: payment record %x already exists", key)
	}
	memo := TruncateMemo(record.Memo)
	stored := storedPaymentRecord{
		Payer:        record.Payer,
		Merchant:     record.Merchant,
		InputAsset:   record.InputAsset,
		AmountIn:     cloneBigInt(record.AmountIn),
		TargetAmount: cloneBigInt(record.TargetAmount),
		MemoLen:      uint8(len(memo)),
		Memo:         memo,
		Timestamp:    clampTimestamp(record.Timestamp),
	}
	if err := l.store.KVPut(storageKey, stored); err != nil {
		return [32]byte{}, err
	}
	if err := l.store.KVAppend(userScopedKey(paymentIdxPrefix, record.Payer), key[:]); err != nil {
		return [32]byte{}, err
	}
	if err := l.bumpStats(record.Payer, record.Timestamp, func(stats *UserStats) {
		stats.TotalPayments = saturatingAdd(stats.TotalPayments, 1)
	}); err != nil {
		return [32]byte{}, err
	}
	record.Key = key
	record.Memo = memo
	return key, nil
}

// GetReceipt loads a swap receipt by derived key.
func (l *Ledger) GetReceipt(key [32]byte) (*SwapReceipt, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, fmt.Errorf("swap: ledger not initialised")
	}
	var stored storedSwapReceipt
	ok, err := l.store.KVGet(recordKey(receiptPrefix, key), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	ts, err := uint64ToInt64(stored.Timestamp)
	if err != nil {
		return nil, false, fmt.Errorf("swap: receipt timestamp overflow: %w", err)
	}
	return &SwapReceipt{
		Key:           key,
		User:          stored.User,
		InputAsset:    stored.InputAsset,
		OutputAsset:   stored.OutputAsset,
		AmountIn:      cloneBigInt(stored.AmountIn),
		AmountOut:     cloneBigInt(stored.AmountOut),
		SlippageBps:   stored.SlippageBps,
		ProtectedMode: stored.ProtectedMode,
		Timestamp:     ts,
		ExecutionRef:  stored.ExecutionRef,
	}, true, nil
}

// GetPayment loads a payment record by derived key.
func (l *Ledger) GetPayment(key [32]byte) (*PaymentRecord, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, fmt.Errorf("swap: ledger not initialised")
	}
	var stored storedPaymentRecord
	ok, err := l.store.KVGet(recordKey(paymentPrefix, key), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	ts, err := uint64ToInt64(stored.Timestamp)
	if err != nil {
		return nil, false, fmt.Errorf("swap: payment timestamp overflow: %w", err)
	}
	memo := append([]byte(nil), stored.Memo...)
	if int(stored.MemoLen) < len(memo) {
		memo = memo[:stored.MemoLen]
	}
	return &PaymentRecord{
		Key:          key,
		Payer:        stored.Payer,
		Merchant:     stored.Merchant,
		InputAsset:   stored.InputAsset,
		AmountIn:     cloneBigInt(stored.AmountIn),
		TargetAmount: cloneBigInt(stored.TargetAmount),
		Memo:         memo,
		Timestamp:    ts,
	}, true, nil
}

// ReceiptsFor returns every swap receipt recorded for the user, oldest first.
func (l *Ledger) ReceiptsFor(user [20]byte) ([]*SwapReceipt, error) {
	keys, err := l.loadIndex(userScopedKey(receiptIdxPrefix, user))
	if err != nil {
		return nil, err
	}
	receipts := make([]*SwapReceipt, 0, len(keys))
	for _, key := range keys {
		receipt, ok, err := l.GetReceipt(key)
		if err != nil {
			return nil, err
		}
		if ok {
			receipts = append(receipts, receipt)
		}
	}
	return receipts, nil
}

// PaymentsFor returns every payment record for the payer, oldest first.
func (l *Ledger) PaymentsFor(payer [20]byte) ([]*PaymentRecord, error) {
	keys, err := l.loadIndex(userScopedKey(paymentIdxPrefix, payer))
	if err != nil {
		return nil, err
	}
	records := make([]*PaymentRecord, 0, len(keys))
	for _, key := range keys {
		record, ok, err := l.GetPayment(key)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, record)
		}
	}
	return records, nil
}

// StatsFor loads the user's statistics. Unknown users read as zeroed stats,
// mirroring the lazy get-or-create performed on first activity.
func (l *Ledger) StatsFor(user [20]byte) (*UserStats, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("swap: ledger not initialised")
	}
	var stored storedUserStats
	ok, err := l.store.KVGet(userScopedKey(userStatsPrefix, user), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &UserStats{User: user}, nil
	}
	lastActivity, err := uint64ToInt64(stored.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("swap: stats timestamp overflow: %w", err)
	}
	return &UserStats{
		User:                stored.User,
		TotalSwaps:          stored.TotalSwaps,
		TotalPayments:       stored.TotalPayments,
		TotalVolume:         stored.TotalVolume,
		TotalDCAOrders:      stored.TotalDCAOrders,
		TotalStopLossOrders: stored.TotalStopLossOrders,
		LastActivity:        lastActivity,
	}, nil
}

// AddVolume accrues stable-denominated volume onto the user's statistics.
func (l *Ledger) AddVolume(user [20]byte, timestamp int64, amount *big.Int) error {
	return l.bumpStats(user, timestamp, func(stats *UserStats) {
		stats.TotalVolume = saturatingAdd(stats.TotalVolume, amountToUint64(amount))
	})
}

func (l *Ledger) bumpStats(user [20]byte, timestamp int64, mutate func(*UserStats)) error {
	stats, err := l.StatsFor(user)
	if err != nil {
		return err
	}
	stats.User = user
	mutate(stats)
	if timestamp > stats.LastActivity {
		stats.LastActivity = timestamp
	}
	stored := storedUserStats{
		User:                stats.User,
		TotalSwaps:          stats.TotalSwaps,
		TotalPayments:       stats.TotalPayments,
		TotalVolume:         stats.TotalVolume,
		TotalDCAOrders:      stats.TotalDCAOrders,
		TotalStopLossOrders: stats.TotalStopLossOrders,
		LastActivity:        clampTimestamp(stats.LastActivity),
	}
	return l.store.KVPut(userScopedKey(userStatsPrefix, user), stored)
}

func (l *Ledger) loadIndex(key []byte) ([][32]byte, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("swap: ledger not initialised")
	}
	var raw [][]byte
	if err := l.store.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	keys := make([][32]byte, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) != 32 {
			continue
		}
		var k [32]byte
		copy(k[:], encoded)
		keys = append(keys, k)
	}
	return keys, nil
}

// TruncateMemo bounds a memo to MaxMemoLength bytes. Oversized memos are cut,
// never rejected.
func TruncateMemo(memo []byte) []byte {
	if len(memo) > MaxMemoLength {
		memo = memo[:MaxMemoLength]
	}
	return append([]byte(nil), memo...)
}

func clampTimestamp(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}
