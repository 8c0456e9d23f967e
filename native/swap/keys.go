package swap

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	configKey        = []byte("swap/config")
	receiptSeqKey    = []byte("swap/receipts/seq")
	receiptPrefix    = []byte("swap/receipt/")
	paymentPrefix    = []byte("swap/payment/")
	userStatsPrefix  = []byte("swap/stats/")
	receiptIdxPrefix = []byte("swap/receipts/user/")
	paymentIdxPrefix = []byte("swap/payments/user/")
)

// moduleAddress deterministically derives a program-controlled account
// address for the supplied tag. Only module logic can authorise transfers out
// of these accounts; no key material exists for them.
func moduleAddress(tag string) [20]byte {
	hash := ethcrypto.Keccak256([]byte("flowmint/module/" + tag))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// FeeVaultAddress is the program-controlled account accruing protocol fees
// until the authority sweeps them to the treasury.
func FeeVaultAddress() [20]byte { return moduleAddress("fee-vault") }

// HoldingAddress is the program-controlled intermediate account conversion
// payments settle through before the split between merchant and payer.
func HoldingAddress() [20]byte { return moduleAddress("payment-holding") }

// receiptStorageKey derives the unique storage address for a swap receipt.
// The global sequence number makes repeated calls within one timestamp unit
// collision-free.
func receiptStorageKey(user [20]byte, timestamp int64, seq uint64) [32]byte {
	return derivedKey(receiptPrefix, user[:], nil, timestamp, seq)
}

// paymentStorageKey derives the unique storage address for a payment record.
func paymentStorageKey(payer, merchant [20]byte, timestamp int64, seq uint64) [32]byte {
	return derivedKey(paymentPrefix, payer[:], merchant[:], timestamp, seq)
}

func derivedKey(prefix, primary, secondary []byte, timestamp int64, seq uint64) [32]byte {
	buf := make([]byte, 0, len(prefix)+len(primary)+len(secondary)+16)
	buf = append(buf, prefix...)
	buf = append(buf, primary...)
	buf = append(buf, secondary...)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(timestamp))
	buf = append(buf, ts[:]...)
	var sq [8]byte
	binary.LittleEndian.PutUint64(sq[:], seq)
	buf = append(buf, sq[:]...)
	var key [32]byte
	copy(key[:], ethcrypto.Keccak256(buf))
	return key
}

func recordKey(prefix []byte, key [32]byte) []byte {
	buf := make([]byte, len(prefix)+len(key))
	copy(buf, prefix)
	copy(buf[len(prefix):], key[:])
	return buf
}

func userScopedKey(prefix []byte, user [20]byte) []byte {
	buf := make([]byte, len(prefix)+len(user))
	copy(buf, prefix)
	copy(buf[len(prefix):], user[:])
	return buf
}
