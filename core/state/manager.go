package state

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"flowmint/core/types"
	"flowmint/storage"
)

var accountPrefix = []byte("accounts/")

// storedBalance is the RLP-friendly shape for one asset balance. The RLP
// codec has no map support, so balances are flattened into a sorted slice for
// a canonical encoding.
type storedBalance struct {
	Asset  string
	Amount *big.Int
}

type storedAccount struct {
	Nonce    uint64
	Balances []storedBalance
}

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// Manager exposes accounts and a typed key-value surface over a raw
// storage.Database, together with snapshot/revert semantics. Every write is
// journaled; reverting a snapshot restores the exact byte values present when
// the snapshot was taken. This is the module's stand-in for the hosting
// atomic-execution environment: an entry point takes a snapshot, runs to
// completion, and reverts wholesale on any failure.
type Manager struct {
	mu      sync.Mutex
	db      storage.Database
	journal []journalEntry
}

// NewManager constructs a state manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) write(key, value []byte) error {
	prev, err := m.db.Get(key)
	existed := true
	if err != nil {
		if err != storage.ErrKeyNotFound {
			return err
		}
		existed = false
		prev = nil
	}
	m.journal = append(m.journal, journalEntry{key: string(key), prev: prev, existed: existed})
	return m.db.Put(key, value)
}

// Snapshot marks the current state and returns an identifier that can be
// passed to RevertToSnapshot. Snapshots are cheap: only subsequent writes are
// journaled.
func (m *Manager) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.journal)
}

// RevertToSnapshot undoes every write made after the supplied snapshot was
// taken. Identifiers from RevertToSnapshot calls that never happened are
// ignored rather than corrupting the journal.
func (m *Manager) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.existed {
			_ = m.db.Put([]byte(entry.key), entry.prev)
		} else {
			_ = m.db.Delete([]byte(entry.key))
		}
	}
	m.journal = m.journal[:id]
}

// GetAccount loads the account stored for the address. Unknown addresses
// yield a zeroed account rather than an error so balance reads are always
// well-defined.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(accountKey(addr))
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return types.NewAccount(), nil
		}
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	account := types.NewAccount()
	account.Nonce = stored.Nonce
	for _, balance := range stored.Balances {
		account.SetBalance(balance.Asset, balance.Amount)
	}
	return account, nil
}

// PutAccount persists the supplied account under the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account == nil {
		account = types.NewAccount()
	}
	stored := storedAccount{Nonce: account.Nonce}
	assets := make([]string, 0, len(account.Balances))
	for asset := range account.Balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		amount := account.Balances[asset]
		if amount == nil {
			amount = big.NewInt(0)
		}
		if amount.Sign() < 0 {
			return fmt.Errorf("state: negative balance for %s", asset)
		}
		stored.Balances = append(stored.Balances, storedBalance{Asset: asset, Amount: new(big.Int).Set(amount)})
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.write(accountKey(addr), encoded)
}

// KVGet decodes the value stored under key into out, reporting whether the
// key existed. A nil out only probes for existence.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(key)
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return false, nil
		}
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode value: %w", err)
	}
	return true, nil
}

// KVPut RLP-encodes the value and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode value: %w", err)
	}
	return m.write(key, encoded)
}

// KVAppend appends a raw element to the list stored under key, creating the
// list on first use.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list [][]byte
	raw, err := m.db.Get(key)
	if err != nil {
		if err != storage.ErrKeyNotFound {
			return err
		}
	} else if err := rlp.DecodeBytes(raw, &list); err != nil {
		return fmt.Errorf("state: decode list: %w", err)
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return fmt.Errorf("state: encode list: %w", err)
	}
	return m.write(key, encoded)
}

// KVGetList decodes the stored list under key into out. Missing keys decode
// as an empty list.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(key)
	if err != nil {
		if err == storage.ErrKeyNotFound {
			empty, encodeErr := rlp.EncodeToBytes([][]byte{})
			if encodeErr != nil {
				return encodeErr
			}
			return rlp.DecodeBytes(empty, out)
		}
		return err
	}
	return rlp.DecodeBytes(raw, out)
}
