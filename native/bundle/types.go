package bundle

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Bit layout of a packed allocation word: the sale identifier in the top 48
// bits, the remaining amount in the middle 200 bits and the settled vested
// percentage in the low 8 bits. Values outside those ranges fail packing
// loudly instead of wrapping.
const (
	saleIDBits    = 48
	remainingBits = 200
	settledBits   = 8
)

// Allocation is a claim against one sale: the selling-token amount still
// owed and the vested percentage at the last settlement. The remaining
// amount always reflects the unvested-plus-unwithdrawn remainder;
// vested-but-unwithdrawn value is derived, never stored.
type Allocation struct {
	SaleID    uint64
	Remaining *big.Int
	Settled   uint8
}

// Clone returns a deep copy of the allocation.
func (a *Allocation) Clone() *Allocation {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Remaining != nil {
		clone.Remaining = new(big.Int).Set(a.Remaining)
	}
	return &clone
}

// Pack encodes the allocation into a single 256-bit storage word.
func (a *Allocation) Pack() (uint256.Int, error) {
	var word uint256.Int
	if a == nil {
		return word, fmt.Errorf("bundle: nil allocation")
	}
	if a.SaleID == 0 || a.SaleID >= 1<<saleIDBits {
		return word, fmt.Errorf("bundle: sale id %d does not fit the packed word", a.SaleID)
	}
	if a.Remaining == nil || a.Remaining.Sign() < 0 {
		return word, fmt.Errorf("bundle: remaining amount must be non-negative")
	}
	if a.Remaining.BitLen() > remainingBits {
		return word, fmt.Errorf("bundle: remaining amount does not fit %d bits", remainingBits)
	}
	if a.Settled > 100 {
		return word, fmt.Errorf("bundle: settled percentage %d out of range", a.Settled)
	}
	remaining, overflow := uint256.FromBig(a.Remaining)
	if overflow {
		return word, fmt.Errorf("bundle: remaining amount does not fit %d bits", remainingBits)
	}
	word.Lsh(uint256.NewInt(a.SaleID), remainingBits+settledBits)
	word.Or(&word, new(uint256.Int).Lsh(remaining, settledBits))
	word.Or(&word, uint256.NewInt(uint64(a.Settled)))
	return word, nil
}

// UnpackAllocation decodes a packed storage word. Unpacking exactly inverts
// Pack.
func UnpackAllocation(word uint256.Int) (*Allocation, error) {
	saleID := new(uint256.Int).Rsh(&word, remainingBits+settledBits).Uint64()
	if saleID == 0 {
		return nil, fmt.Errorf("bundle: packed word has no sale id")
	}
	remaining := new(uint256.Int).Rsh(&word, settledBits)
	remaining.And(remaining, new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), remainingBits), 1))
	settled := word.Uint64() & (1<<settledBits - 1)
	if settled > 100 {
		return nil, fmt.Errorf("bundle: packed word carries settled percentage %d", settled)
	}
	return &Allocation{
		SaleID:    saleID,
		Remaining: remaining.ToBig(),
		Settled:   uint8(settled),
	}, nil
}

// Bundle is an ordered, non-empty list of allocations owned by exactly one
// transferable identity.
type Bundle struct {
	ID          uint64
	Owner       [20]byte
	Allocations []*Allocation
}

// Clone returns a deep copy of the bundle.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Allocations = make([]*Allocation, len(b.Allocations))
	for i, a := range b.Allocations {
		clone.Allocations[i] = a.Clone()
	}
	return &clone
}

// allocationFor returns the allocation referencing the given sale, if any.
func (b *Bundle) allocationFor(saleID uint64) *Allocation {
	for _, a := range b.Allocations {
		if a.SaleID == saleID {
			return a
		}
	}
	return nil
}

type storedBundle struct {
	ID    uint64   `json:"id"`
	Owner string   `json:"owner"`
	Words []string `json:"words"`
}

// MarshalJSON persists the bundle with one packed word per allocation, the
// minimal on-ledger representation.
func (b *Bundle) MarshalJSON() ([]byte, error) {
	words := make([]string, len(b.Allocations))
	for i, a := range b.Allocations {
		word, err := a.Pack()
		if err != nil {
			return nil, err
		}
		words[i] = word.Hex()
	}
	return json.Marshal(storedBundle{
		ID:    b.ID,
		Owner: hex.EncodeToString(b.Owner[:]),
		Words: words,
	})
}

// UnmarshalJSON rebuilds a bundle from its packed persisted form.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	stored := storedBundle{}
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	owner, err := hex.DecodeString(stored.Owner)
	if err != nil || len(owner) != 20 {
		return fmt.Errorf("bundle: invalid stored owner %q", stored.Owner)
	}
	allocations := make([]*Allocation, len(stored.Words))
	for i, encoded := range stored.Words {
		word, err := uint256.FromHex(encoded)
		if err != nil {
			return fmt.Errorf("bundle: invalid packed word %d: %w", i, err)
		}
		allocation, err := UnpackAllocation(*word)
		if err != nil {
			return err
		}
		allocations[i] = allocation
	}
	b.ID = stored.ID
	copy(b.Owner[:], owner)
	b.Allocations = allocations
	return nil
}
