package bundle

import (
	"errors"
	"math/big"
	"sort"

	"launchpad/core/events"
	"launchpad/core/types"
)

var (
	errNilState          = errors.New("bundle ledger: state not configured")
	errNilSales          = errors.New("bundle ledger: sale info not configured")
	ErrBundleNotFound    = errors.New("bundle ledger: bundle not found")
	ErrNotBundleOwner    = errors.New("bundle ledger: caller is not the bundle owner")
	errNotTransferable   = errors.New("bundle ledger: bundle holds non-transferable allocations")
	errEmptyBundle       = errors.New("bundle ledger: bundle must hold at least one allocation")
	errInvalidRecipient  = errors.New("bundle ledger: invalid transfer recipient")
	errDuplicateSaleRefs = errors.New("bundle ledger: allocations must reference distinct sales")
)

type ledgerState interface {
	BundleGet(id uint64) (*Bundle, bool, error)
	BundlePut(*Bundle) error
	BundleDelete(id uint64) error
	BundleCounterGet() (uint64, error)
	BundleCounterPut(uint64) error
	BundleOwnerIndexGet(owner [20]byte) ([]uint64, error)
	BundleOwnerIndexPut(owner [20]byte, ids []uint64) error
}

// SaleInfo is the slice of the sale ledger the bundle side consults: the
// vesting clock, token identities and the future-token linkage.
type SaleInfo interface {
	SaleExists(id uint64) (bool, error)
	Listed(id uint64) (bool, error)
	VestedPercentage(id uint64) (uint8, error)
	SellingToken(id uint64) (string, error)
	Transferable(id uint64) (bool, error)
	FutureTokenLink(id uint64) (bool, uint64, error)
	VaultAddress(id uint64) ([20]byte, error)
}

// Ledger owns every bundle record: the identity registry, the owner index
// and the withdrawable math. All mutations from the manager flow through it.
type Ledger struct {
	state   ledgerState
	sales   SaleInfo
	emitter events.Emitter
}

// NewLedger constructs a bundle ledger with default dependencies.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetSales configures the sale-ledger view used for vesting lookups.
func (l *Ledger) SetSales(sales SaleInfo) { l.sales = sales }

// SetEmitter configures the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || evt == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(WrapEvent(evt))
}

// Bundle returns a copy of the bundle record.
func (l *Ledger) Bundle(id uint64) (*Bundle, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	bundle, ok, err := l.state.BundleGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || bundle == nil {
		return nil, ErrBundleNotFound
	}
	return bundle, nil
}

// OwnerOf returns the owner of a bundle.
func (l *Ledger) OwnerOf(id uint64) ([20]byte, error) {
	bundle, err := l.Bundle(id)
	if err != nil {
		return [20]byte{}, err
	}
	return bundle.Owner, nil
}

// BundlesOf returns the sorted bundle identifiers owned by an address.
func (l *Ledger) BundlesOf(owner [20]byte) ([]uint64, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	ids, err := l.state.BundleOwnerIndexGet(owner)
	if err != nil {
		return nil, err
	}
	sorted := make([]uint64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted, nil
}

func validateAllocations(allocations []*Allocation) error {
	if len(allocations) == 0 {
		return errEmptyBundle
	}
	seen := make(map[uint64]bool, len(allocations))
	for _, a := range allocations {
		if a == nil || a.Remaining == nil || a.Remaining.Sign() <= 0 {
			return errors.New("bundle ledger: allocation amount must be positive")
		}
		if seen[a.SaleID] {
			return errDuplicateSaleRefs
		}
		seen[a.SaleID] = true
		if _, err := (&Allocation{SaleID: a.SaleID, Remaining: a.Remaining, Settled: a.Settled}).Pack(); err != nil {
			return err
		}
	}
	return nil
}

// mint registers a new bundle for the owner and returns its identity.
func (l *Ledger) mint(owner [20]byte, allocations []*Allocation) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	if err := validateAllocations(allocations); err != nil {
		return 0, err
	}
	counter, err := l.state.BundleCounterGet()
	if err != nil {
		return 0, err
	}
	id := counter + 1
	if err := l.state.BundleCounterPut(id); err != nil {
		return 0, err
	}
	cloned := make([]*Allocation, len(allocations))
	for i, a := range allocations {
		cloned[i] = a.Clone()
	}
	bundle := &Bundle{ID: id, Owner: owner, Allocations: cloned}
	if err := l.state.BundlePut(bundle); err != nil {
		return 0, err
	}
	if err := l.indexAdd(owner, id); err != nil {
		return 0, err
	}
	l.emit(BundleMintedEvent(id, hexAddr(owner), len(allocations)))
	return id, nil
}

func (l *Ledger) putBundle(bundle *Bundle) error {
	if err := validateAllocations(bundle.Allocations); err != nil {
		return err
	}
	return l.state.BundlePut(bundle)
}

// burn removes a bundle and its owner-index entry.
func (l *Ledger) burn(id uint64) error {
	bundle, err := l.Bundle(id)
	if err != nil {
		return err
	}
	if err := l.state.BundleDelete(id); err != nil {
		return err
	}
	if err := l.indexRemove(bundle.Owner, id); err != nil {
		return err
	}
	l.emit(BundleBurnedEvent(id, hexAddr(bundle.Owner)))
	return nil
}

func (l *Ledger) indexAdd(owner [20]byte, id uint64) error {
	ids, err := l.state.BundleOwnerIndexGet(owner)
	if err != nil {
		return err
	}
	return l.state.BundleOwnerIndexPut(owner, append(ids, id))
}

func (l *Ledger) indexRemove(owner [20]byte, id uint64) error {
	ids, err := l.state.BundleOwnerIndexGet(owner)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	return l.state.BundleOwnerIndexPut(owner, filtered)
}

// Transfer reassigns a bundle to a new owner. Plain transfers are fee-less
// but require every referenced sale to allow transferability.
func (l *Ledger) Transfer(caller [20]byte, id uint64, to [20]byte) error {
	if l == nil || l.sales == nil {
		return errNilSales
	}
	if to == ([20]byte{}) {
		return errInvalidRecipient
	}
	bundle, err := l.Bundle(id)
	if err != nil {
		return err
	}
	if bundle.Owner != caller {
		return ErrNotBundleOwner
	}
	for _, a := range bundle.Allocations {
		transferable, err := l.sales.Transferable(a.SaleID)
		if err != nil {
			return err
		}
		if !transferable {
			return errNotTransferable
		}
	}
	if err := l.indexRemove(bundle.Owner, id); err != nil {
		return err
	}
	previous := bundle.Owner
	bundle.Owner = to
	if err := l.state.BundlePut(bundle); err != nil {
		return err
	}
	if err := l.indexAdd(to, id); err != nil {
		return err
	}
	l.emit(BundleTransferredEvent(id, hexAddr(previous), hexAddr(to)))
	return nil
}

// withdrawable computes the selling-token amount currently claimable from an
// allocation. The settled percentage marks how far prior withdrawals have
// consumed the vested share, so nothing is ever counted twice.
func (l *Ledger) withdrawable(a *Allocation) (*big.Int, error) {
	current, err := l.sales.VestedPercentage(a.SaleID)
	if err != nil {
		return nil, err
	}
	// Remaining only ever holds unwithdrawn value, so at full vesting the
	// whole remainder is claimable no matter how far prior withdrawals
	// pushed the settled mark.
	if current >= 100 {
		return new(big.Int).Set(a.Remaining), nil
	}
	if current <= a.Settled {
		return big.NewInt(0), nil
	}
	out := new(big.Int).Mul(a.Remaining, big.NewInt(int64(current-a.Settled)))
	return out.Div(out, big.NewInt(int64(100-a.Settled))), nil
}

// Withdrawables returns, per allocation, the sale identifier and the amount
// currently claimable from the bundle.
func (l *Ledger) Withdrawables(id uint64) ([]uint64, []*big.Int, error) {
	if l == nil || l.sales == nil {
		return nil, nil, errNilSales
	}
	bundle, err := l.Bundle(id)
	if err != nil {
		return nil, nil, err
	}
	saleIDs := make([]uint64, len(bundle.Allocations))
	amounts := make([]*big.Int, len(bundle.Allocations))
	for i, a := range bundle.Allocations {
		saleIDs[i] = a.SaleID
		amount, err := l.withdrawable(a)
		if err != nil {
			return nil, nil, err
		}
		amounts[i] = amount
	}
	return saleIDs, amounts, nil
}
