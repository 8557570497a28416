package bundle

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"launchpad/core/events"
	"launchpad/core/types"
)

var (
	errFeeWalletNotSet     = errors.New("bundle manager: fee wallet not configured")
	errSplitLengthMismatch = errors.New("bundle manager: length of kept amounts does not match bundle")
	errKeptTooLarge        = errors.New("bundle manager: kept amounts cannot be larger than remaining amounts")
	errNothingKept         = errors.New("bundle manager: split must keep a positive amount")
	errNotMergeable        = errors.New("bundle manager: all bundles must be owned by the same owner")
	errTooFewBundles       = errors.New("bundle manager: at least two bundles required")
	errDuplicateBundles    = errors.New("bundle manager: duplicate bundle ids")
	errNotCoupon           = errors.New("bundle manager: allocation does not belong to a future-token sale")
	errCouponShape         = errors.New("bundle manager: coupon bundle must hold a single allocation")
	errSwapLinkMismatch    = errors.New("bundle manager: sale does not redeem this coupon")
	errWithdrawMismatch    = errors.New("bundle manager: length of amounts does not match bundle")
	errNotWithdrawable     = errors.New("bundle manager: cannot withdraw not available tokens")
)

// FeePoints is the default protocol fee on split and merge, parts per
// FeeDenominator (100 = 1%).
const (
	FeePoints      = 100
	FeeDenominator = 10_000
)

// TokenLedger is the fungible-token collaborator used to pay withdrawn
// allocations out of the sale vaults.
type TokenLedger interface {
	Transfer(symbol string, from, to [20]byte, amount *big.Int) error
}

// Manager implements the split, merge, swap and withdraw algorithms over
// bundle ledger entries. It stores no state of its own: every read and
// write goes through the ledger.
type Manager struct {
	ledger    *Ledger
	tokens    TokenLedger
	feeWallet [20]byte
	feePoints uint32
	emitter   events.Emitter
}

// NewManager constructs a manager bound to the bundle ledger.
func NewManager(ledger *Ledger) *Manager {
	return &Manager{
		ledger:    ledger,
		feePoints: FeePoints,
		emitter:   events.NoopEmitter{},
	}
}

// SetTokens configures the fungible-token collaborator.
func (m *Manager) SetTokens(tokens TokenLedger) { m.tokens = tokens }

// SetFeeWallet configures the protocol fee recipient.
func (m *Manager) SetFeeWallet(addr [20]byte) { m.feeWallet = addr }

// SetFeePoints overrides the split/merge fee, parts per FeeDenominator.
func (m *Manager) SetFeePoints(points uint32) { m.feePoints = points }

// SetEmitter configures the event emitter used by the manager.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

func (m *Manager) emit(evt *types.Event) {
	if m == nil || evt == nil || m.emitter == nil {
		return
	}
	m.emitter.Emit(WrapEvent(evt))
}

func (m *Manager) fee(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(m.feePoints)))
	return out.Div(out, big.NewInt(FeeDenominator))
}

// creditFee mints or extends the fee wallet's allocation for a sale.
func (m *Manager) creditFee(saleID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if m.feeWallet == ([20]byte{}) {
		return errFeeWalletNotSet
	}
	return m.MintOrExtend(m.feeWallet, saleID, amount)
}

// MintOrExtend credits a fresh allocation to the owner. While the sale is
// unlisted, a further credit for the same sale extends the owner's existing
// allocation in place instead of minting a new identity; once the vesting
// clock runs, every credit mints its own bundle.
func (m *Manager) MintOrExtend(owner [20]byte, saleID uint64, amount *big.Int) error {
	if m == nil || m.ledger == nil || m.ledger.sales == nil {
		return errNilSales
	}
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("bundle manager: allocation amount must be positive")
	}
	exists, err := m.ledger.sales.SaleExists(saleID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bundle manager: unknown sale %d", saleID)
	}
	listed, err := m.ledger.sales.Listed(saleID)
	if err != nil {
		return err
	}
	if !listed {
		ids, err := m.ledger.BundlesOf(owner)
		if err != nil {
			return err
		}
		for _, id := range ids {
			bundle, err := m.ledger.Bundle(id)
			if err != nil {
				return err
			}
			if existing := bundle.allocationFor(saleID); existing != nil {
				existing.Remaining = new(big.Int).Add(existing.Remaining, amount)
				if err := m.ledger.putBundle(bundle); err != nil {
					return err
				}
				m.emit(BundleExtendedEvent(id, saleID, amount.String()))
				return nil
			}
		}
	}
	_, err = m.ledger.mint(owner, []*Allocation{{SaleID: saleID, Remaining: amount}})
	return err
}

// Split carves keptAmounts out of a bundle into a new identity owned by the
// caller. The fee is charged per allocation on its full remaining amount
// and deducted from the non-kept side; the original identity keeps the
// remainders, or is burned when every allocation reaches zero.
func (m *Manager) Split(caller [20]byte, id uint64, keptAmounts []*big.Int) (uint64, error) {
	if m == nil || m.ledger == nil {
		return 0, errNilState
	}
	bundle, err := m.ledger.Bundle(id)
	if err != nil {
		return 0, err
	}
	if bundle.Owner != caller {
		return 0, ErrNotBundleOwner
	}
	if len(keptAmounts) != len(bundle.Allocations) {
		return 0, errSplitLengthMismatch
	}
	kept := make([]*Allocation, 0, len(bundle.Allocations))
	remainder := make([]*Allocation, 0, len(bundle.Allocations))
	for i, a := range bundle.Allocations {
		keep := keptAmounts[i]
		if keep == nil || keep.Sign() < 0 {
			return 0, errors.New("bundle manager: kept amount must be non-negative")
		}
		fee := m.fee(a.Remaining)
		maxKeep := new(big.Int).Sub(a.Remaining, fee)
		if keep.Cmp(maxKeep) > 0 {
			return 0, errKeptTooLarge
		}
		if keep.Sign() > 0 {
			kept = append(kept, &Allocation{SaleID: a.SaleID, Remaining: new(big.Int).Set(keep), Settled: a.Settled})
		}
		left := new(big.Int).Sub(maxKeep, keep)
		if left.Sign() > 0 {
			remainder = append(remainder, &Allocation{SaleID: a.SaleID, Remaining: left, Settled: a.Settled})
		}
		if err := m.creditFee(a.SaleID, fee); err != nil {
			return 0, err
		}
	}
	if len(kept) == 0 {
		return 0, errNothingKept
	}
	if len(remainder) == 0 {
		if err := m.ledger.burn(id); err != nil {
			return 0, err
		}
	} else {
		bundle.Allocations = remainder
		if err := m.ledger.putBundle(bundle); err != nil {
			return 0, err
		}
	}
	keptID, err := m.ledger.mint(caller, kept)
	if err != nil {
		return 0, err
	}
	m.emit(BundleSplitEvent(id, keptID, hexAddr(caller)))
	return keptID, nil
}

// AreMergeable reports whether the bundles can be merged and, when they
// cannot, the reason. Bundles of unrelated sales are explicitly mergeable.
func (m *Manager) AreMergeable(caller [20]byte, ids []uint64) (bool, string, error) {
	if m == nil || m.ledger == nil {
		return false, "", errNilState
	}
	if len(ids) < 2 {
		return false, errTooFewBundles.Error(), nil
	}
	seen := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return false, errDuplicateBundles.Error(), nil
		}
		seen[id] = true
		owner, err := m.ledger.OwnerOf(id)
		if err != nil {
			if errors.Is(err, ErrBundleNotFound) {
				return false, err.Error(), nil
			}
			return false, "", err
		}
		if owner != caller {
			return false, errNotMergeable.Error(), nil
		}
	}
	return true, "bundles are mergeable", nil
}

// Merge consumes the source bundles into a single new identity holding one
// allocation per distinct sale, ordered by sale identifier. The fee is
// charged per resulting sale on the summed amount.
func (m *Manager) Merge(caller [20]byte, ids []uint64) (uint64, error) {
	mergeable, reason, err := m.AreMergeable(caller, ids)
	if err != nil {
		return 0, err
	}
	if !mergeable {
		return 0, fmt.Errorf("bundle manager: %s", reason)
	}
	sums := make(map[uint64]*big.Int)
	settled := make(map[uint64]uint8)
	order := make([]uint64, 0)
	for _, id := range ids {
		bundle, err := m.ledger.Bundle(id)
		if err != nil {
			return 0, err
		}
		for _, a := range bundle.Allocations {
			if sums[a.SaleID] == nil {
				sums[a.SaleID] = big.NewInt(0)
				order = append(order, a.SaleID)
			}
			sums[a.SaleID] = sums[a.SaleID].Add(sums[a.SaleID], a.Remaining)
			// The most settled source pins the merged percentage so a
			// merge can never inflate the withdrawable amount.
			if a.Settled > settled[a.SaleID] {
				settled[a.SaleID] = a.Settled
			}
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	merged := make([]*Allocation, 0, len(order))
	for _, saleID := range order {
		sum := sums[saleID]
		fee := m.fee(sum)
		if err := m.creditFee(saleID, fee); err != nil {
			return 0, err
		}
		result := new(big.Int).Sub(sum, fee)
		if result.Sign() > 0 {
			merged = append(merged, &Allocation{SaleID: saleID, Remaining: result, Settled: settled[saleID]})
		}
	}
	for _, id := range ids {
		if err := m.ledger.burn(id); err != nil {
			return 0, err
		}
	}
	mergedID, err := m.ledger.mint(caller, merged)
	if err != nil {
		return 0, err
	}
	m.emit(BundleMergedEvent(ids, mergedID, hexAddr(caller)))
	return mergedID, nil
}

// Swap redeems a future-token coupon bundle against the real sale that
// lists it, preserving the remaining amount and restarting the vested
// percentage on the new sale's clock.
func (m *Manager) Swap(caller [20]byte, id uint64, newSaleID uint64) (uint64, error) {
	if m == nil || m.ledger == nil || m.ledger.sales == nil {
		return 0, errNilSales
	}
	bundle, err := m.ledger.Bundle(id)
	if err != nil {
		return 0, err
	}
	if bundle.Owner != caller {
		return 0, ErrNotBundleOwner
	}
	if len(bundle.Allocations) != 1 {
		return 0, errCouponShape
	}
	coupon := bundle.Allocations[0]
	isFuture, _, err := m.ledger.sales.FutureTokenLink(coupon.SaleID)
	if err != nil {
		return 0, err
	}
	if !isFuture {
		return 0, errNotCoupon
	}
	_, link, err := m.ledger.sales.FutureTokenLink(newSaleID)
	if err != nil {
		return 0, err
	}
	if link != coupon.SaleID {
		return 0, errSwapLinkMismatch
	}
	if err := m.ledger.burn(id); err != nil {
		return 0, err
	}
	swappedID, err := m.ledger.mint(caller, []*Allocation{{
		SaleID:    newSaleID,
		Remaining: new(big.Int).Set(coupon.Remaining),
	}})
	if err != nil {
		return 0, err
	}
	m.emit(BundleSwappedEvent(id, swappedID, coupon.SaleID, newSaleID))
	return swappedID, nil
}

// Withdraw claims vested selling tokens from a bundle, one requested amount
// per allocation with zero meaning "all available". A withdrawal that
// leaves value behind burns the identity and re-mints the reduced bundle
// under a fresh one (see DESIGN.md); an emptied bundle is simply burned.
func (m *Manager) Withdraw(caller [20]byte, id uint64, amounts []*big.Int) (uint64, error) {
	if m == nil || m.ledger == nil || m.tokens == nil {
		return 0, errNilState
	}
	bundle, err := m.ledger.Bundle(id)
	if err != nil {
		return 0, err
	}
	if bundle.Owner != caller {
		return 0, ErrNotBundleOwner
	}
	if len(amounts) != len(bundle.Allocations) {
		return 0, errWithdrawMismatch
	}
	remaining := make([]*Allocation, 0, len(bundle.Allocations))
	withdrew := false
	for i, a := range bundle.Allocations {
		available, err := m.ledger.withdrawable(a)
		if err != nil {
			return 0, err
		}
		request := amounts[i]
		if request == nil || request.Sign() == 0 {
			request = available
		}
		if request.Sign() < 0 || request.Cmp(available) > 0 {
			return 0, errNotWithdrawable
		}
		if request.Sign() == 0 {
			remaining = append(remaining, a.Clone())
			continue
		}
		selling, err := m.ledger.sales.SellingToken(a.SaleID)
		if err != nil {
			return 0, err
		}
		vault, err := m.ledger.sales.VaultAddress(a.SaleID)
		if err != nil {
			return 0, err
		}
		if err := m.tokens.Transfer(selling, vault, caller, request); err != nil {
			return 0, err
		}
		withdrew = true
		updated, err := settleWithdrawal(a, available, request)
		if err != nil {
			return 0, err
		}
		if updated != nil {
			remaining = append(remaining, updated)
		}
		m.emit(BundleWithdrawnEvent(id, a.SaleID, hexAddr(caller), request.String()))
	}
	if !withdrew {
		return id, nil
	}
	if err := m.ledger.burn(id); err != nil {
		return 0, err
	}
	if len(remaining) == 0 {
		return 0, nil
	}
	return m.ledger.mint(caller, remaining)
}

// settleWithdrawal reduces an allocation after withdrawing the requested
// amount and moves its settled percentage forward so the leftover vested
// share stays claimable without double counting. Returns nil when the
// allocation is exhausted.
func settleWithdrawal(a *Allocation, available, request *big.Int) (*Allocation, error) {
	left := new(big.Int).Sub(a.Remaining, request)
	if left.Sign() == 0 {
		return nil, nil
	}
	current := a.Settled
	// available > 0 implies the current vested percentage is above the
	// settled one; recover it from the withdrawable ratio instead of
	// consulting the clock twice within one operation.
	unvested := new(big.Int).Sub(a.Remaining, available)
	if unvested.Sign() == 0 {
		// Fully vested: whatever is left stays claimable at any time.
		return &Allocation{SaleID: a.SaleID, Remaining: left, Settled: 100}, nil
	}
	leftAvailable := new(big.Int).Sub(available, request)
	if leftAvailable.Sign() == 0 {
		// The whole vested share was taken: the settled mark catches up
		// with the current percentage, derived from
		// available = remaining * (cur - settled) / (100 - settled).
		num := new(big.Int).Mul(available, big.NewInt(int64(100-a.Settled)))
		num.Add(num, new(big.Int).Mul(a.Remaining, big.NewInt(int64(a.Settled))))
		cur := new(big.Int).Div(num, a.Remaining)
		if !cur.IsInt64() || cur.Int64() > 100 {
			return nil, fmt.Errorf("bundle manager: settled percentage overflow")
		}
		current = uint8(cur.Int64())
		return &Allocation{SaleID: a.SaleID, Remaining: left, Settled: current}, nil
	}
	// Partial withdrawal: solve for the settled mark that keeps the
	// leftover vested share claimable, rounding up so the future
	// withdrawable can never exceed the escrowed balance.
	num := new(big.Int).Mul(available, big.NewInt(int64(100-a.Settled)))
	num.Add(num, new(big.Int).Mul(a.Remaining, big.NewInt(int64(a.Settled))))
	cur := new(big.Int).Div(num, a.Remaining)
	num = new(big.Int).Mul(left, cur)
	num.Sub(num, new(big.Int).Mul(leftAvailable, big.NewInt(100)))
	den := new(big.Int).Sub(left, leftAvailable)
	settled := new(big.Int).Add(num, new(big.Int).Sub(den, big.NewInt(1)))
	settled.Div(settled, den)
	if settled.Sign() < 0 {
		settled = big.NewInt(0)
	}
	if !settled.IsInt64() || settled.Int64() > 100 {
		return nil, fmt.Errorf("bundle manager: settled percentage overflow")
	}
	return &Allocation{SaleID: a.SaleID, Remaining: left, Settled: uint8(settled.Int64())}, nil
}
