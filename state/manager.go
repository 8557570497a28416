package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"launchpad/native/bundle"
	"launchpad/native/sale"
	"launchpad/storage"
)

// Manager adapts the raw key-value store to the narrow state interfaces the
// engines consume. One manager instance serves the sale ledger, the sale
// factory, the bundle ledger and the token ledger at the same time.
type Manager struct {
	db storage.Database
	mu sync.Mutex
}

// NewManager wraps a key-value database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", string(key), err)
	}
	return true, nil
}

func (m *Manager) putJSON(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", string(key), err)
	}
	return m.db.Put(key, raw)
}

func (m *Manager) getUint64(key []byte) (uint64, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: corrupt counter at %q", string(key))
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (m *Manager) putUint64(key []byte, value uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)
	return m.db.Put(key, buf)
}

func (m *Manager) getBool(key []byte) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

func (m *Manager) putBool(key []byte, value bool) error {
	b := byte(0)
	if value {
		b = 1
	}
	return m.db.Put(key, []byte{b})
}

// SaleGet implements the sale ledger state interface.
func (m *Manager) SaleGet(id uint64) (*sale.Sale, bool, error) {
	record := &sale.Sale{}
	ok, err := m.getJSON(saleRecordKey(id), record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

// SalePut persists a sale record.
func (m *Manager) SalePut(record *sale.Sale) error {
	return m.putJSON(saleRecordKey(record.ID), record)
}

// SaleCounterGet returns the highest allocated sale identifier.
func (m *Manager) SaleCounterGet() (uint64, error) {
	return m.getUint64(saleCounterKeyBytes)
}

// SaleCounterPut persists the sale identifier counter.
func (m *Manager) SaleCounterPut(value uint64) error {
	return m.putUint64(saleCounterKeyBytes, value)
}

// SaleApprovalGet implements the factory state interface.
func (m *Manager) SaleApprovalGet(saleID uint64) (*sale.Approval, bool, error) {
	approval := &sale.Approval{}
	ok, err := m.getJSON(saleApprovalKey(saleID), approval)
	if err != nil || !ok {
		return nil, false, err
	}
	return approval, true, nil
}

// SaleApprovalPut persists a factory approval.
func (m *Manager) SaleApprovalPut(approval *sale.Approval) error {
	return m.putJSON(saleApprovalKey(approval.SaleID), approval)
}

// SaleIDByFingerprintGet resolves the sale identifier indexed by a setup
// fingerprint.
func (m *Manager) SaleIDByFingerprintGet(fingerprint [32]byte) (uint64, bool, error) {
	raw, err := m.db.Get(saleFingerprintKey(fingerprint))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("state: corrupt fingerprint index")
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// SaleIDByFingerprintPut indexes a fingerprint to its reserved sale.
func (m *Manager) SaleIDByFingerprintPut(fingerprint [32]byte, saleID uint64) error {
	return m.putUint64(saleFingerprintKey(fingerprint), saleID)
}

// FactoryOperatorGet reports whether an address holds the operator role.
func (m *Manager) FactoryOperatorGet(addr [20]byte) (bool, error) {
	return m.getBool(factoryOperatorKey(addr))
}

// FactoryOperatorPut persists an operator role change.
func (m *Manager) FactoryOperatorPut(addr [20]byte, enabled bool) error {
	return m.putBool(factoryOperatorKey(addr), enabled)
}

// FactoryValidatorGet reports whether an address holds the validator role.
func (m *Manager) FactoryValidatorGet(addr [20]byte) (bool, error) {
	return m.getBool(factoryValidatorKey(addr))
}

// FactoryValidatorPut persists a validator role change.
func (m *Manager) FactoryValidatorPut(addr [20]byte, enabled bool) error {
	return m.putBool(factoryValidatorKey(addr), enabled)
}

// BundleGet implements the bundle ledger state interface.
func (m *Manager) BundleGet(id uint64) (*bundle.Bundle, bool, error) {
	record := &bundle.Bundle{}
	ok, err := m.getJSON(bundleRecordKey(id), record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

// BundlePut persists a bundle record.
func (m *Manager) BundlePut(record *bundle.Bundle) error {
	return m.putJSON(bundleRecordKey(record.ID), record)
}

// BundleDelete removes a burned bundle.
func (m *Manager) BundleDelete(id uint64) error {
	return m.db.Delete(bundleRecordKey(id))
}

// BundleCounterGet returns the highest allocated bundle identifier.
func (m *Manager) BundleCounterGet() (uint64, error) {
	return m.getUint64(bundleCounterKeyBytes)
}

// BundleCounterPut persists the bundle identifier counter.
func (m *Manager) BundleCounterPut(value uint64) error {
	return m.putUint64(bundleCounterKeyBytes, value)
}

// BundleOwnerIndexGet returns the bundle identifiers indexed to an owner.
func (m *Manager) BundleOwnerIndexGet(owner [20]byte) ([]uint64, error) {
	ids := []uint64{}
	if _, err := m.getJSON(bundleOwnerKey(owner), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// BundleOwnerIndexPut replaces the owner index entry.
func (m *Manager) BundleOwnerIndexPut(owner [20]byte, ids []uint64) error {
	if len(ids) == 0 {
		err := m.db.Delete(bundleOwnerKey(owner))
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	return m.putJSON(bundleOwnerKey(owner), ids)
}

// TokenBalanceGet implements the token ledger state interface.
func (m *Manager) TokenBalanceGet(symbol string, addr [20]byte) (*big.Int, error) {
	raw, err := m.db.Get(tokenBalanceKey(symbol, addr))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// TokenBalancePut persists a token balance.
func (m *Manager) TokenBalancePut(symbol string, addr [20]byte, balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	return m.db.Put(tokenBalanceKey(symbol, addr), balance.Bytes())
}

// TokenAllowanceGet returns the stored allowance, nil when absent.
func (m *Manager) TokenAllowanceGet(symbol string, owner, spender [20]byte) (*big.Int, error) {
	raw, err := m.db.Get(tokenAllowanceKey(symbol, owner, spender))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// TokenAllowancePut persists an allowance.
func (m *Manager) TokenAllowancePut(symbol string, owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: allowance must be non-negative")
	}
	return m.db.Put(tokenAllowanceKey(symbol, owner, spender), amount.Bytes())
}
