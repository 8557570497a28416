package bundle

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"launchpad/core/events"
)

type mockState struct {
	bundles map[uint64]*Bundle
	counter uint64
	index   map[[20]byte][]uint64
}

func newMockState() *mockState {
	return &mockState{
		bundles: make(map[uint64]*Bundle),
		index:   make(map[[20]byte][]uint64),
	}
}

func (m *mockState) BundleGet(id uint64) (*Bundle, bool, error) {
	bundle, ok := m.bundles[id]
	if !ok {
		return nil, false, nil
	}
	return bundle.Clone(), true, nil
}

func (m *mockState) BundlePut(b *Bundle) error {
	m.bundles[b.ID] = b.Clone()
	return nil
}

func (m *mockState) BundleDelete(id uint64) error {
	delete(m.bundles, id)
	return nil
}

func (m *mockState) BundleCounterGet() (uint64, error) { return m.counter, nil }

func (m *mockState) BundleCounterPut(v uint64) error {
	m.counter = v
	return nil
}

func (m *mockState) BundleOwnerIndexGet(owner [20]byte) ([]uint64, error) {
	return append([]uint64(nil), m.index[owner]...), nil
}

func (m *mockState) BundleOwnerIndexPut(owner [20]byte, ids []uint64) error {
	m.index[owner] = append([]uint64(nil), ids...)
	return nil
}

type mockSale struct {
	listed       bool
	vested       uint8
	selling      string
	transferable bool
	future       bool
	link         uint64
	vault        [20]byte
}

type mockSales struct {
	sales map[uint64]*mockSale
}

func newMockSales() *mockSales { return &mockSales{sales: make(map[uint64]*mockSale)} }

func (m *mockSales) sale(id uint64) (*mockSale, error) {
	s, ok := m.sales[id]
	if !ok {
		return nil, fmt.Errorf("sale %d not found", id)
	}
	return s, nil
}

func (m *mockSales) SaleExists(id uint64) (bool, error) {
	_, ok := m.sales[id]
	return ok, nil
}

func (m *mockSales) Listed(id uint64) (bool, error) {
	s, err := m.sale(id)
	if err != nil {
		return false, err
	}
	return s.listed, nil
}

func (m *mockSales) VestedPercentage(id uint64) (uint8, error) {
	s, err := m.sale(id)
	if err != nil {
		return 0, err
	}
	return s.vested, nil
}

func (m *mockSales) SellingToken(id uint64) (string, error) {
	s, err := m.sale(id)
	if err != nil {
		return "", err
	}
	return s.selling, nil
}

func (m *mockSales) Transferable(id uint64) (bool, error) {
	s, err := m.sale(id)
	if err != nil {
		return false, err
	}
	return s.transferable, nil
}

func (m *mockSales) FutureTokenLink(id uint64) (bool, uint64, error) {
	s, err := m.sale(id)
	if err != nil {
		return false, 0, err
	}
	return s.future, s.link, nil
}

func (m *mockSales) VaultAddress(id uint64) ([20]byte, error) {
	s, err := m.sale(id)
	if err != nil {
		return [20]byte{}, err
	}
	return s.vault, nil
}

type transfer struct {
	symbol   string
	from, to [20]byte
	amount   *big.Int
}

type mockTokens struct {
	transfers []transfer
}

func (m *mockTokens) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	m.transfers = append(m.transfers, transfer{symbol: symbol, from: from, to: to, amount: new(big.Int).Set(amount)})
	return nil
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func newTestManager(t *testing.T) (*Manager, *Ledger, *mockState, *mockSales, *mockTokens) {
	t.Helper()
	state := newMockState()
	sales := newMockSales()
	tokens := &mockTokens{}
	ledger := NewLedger()
	ledger.SetState(state)
	ledger.SetSales(sales)
	manager := NewManager(ledger)
	manager.SetTokens(tokens)
	manager.SetFeeWallet(addr(0xfe))
	return manager, ledger, state, sales, tokens
}

// totalRemaining sums every live allocation for a sale across all bundles.
func totalRemaining(t *testing.T, state *mockState, saleID uint64) *big.Int {
	t.Helper()
	total := big.NewInt(0)
	for _, bundle := range state.bundles {
		for _, a := range bundle.Allocations {
			if a.SaleID == saleID {
				total.Add(total, a.Remaining)
			}
		}
	}
	return total
}

func TestMintOrExtendBeforeListing(t *testing.T) {
	manager, ledger, _, sales, _ := newTestManager(t)
	emitter := &events.MemoryEmitter{}
	ledger.SetEmitter(emitter)
	manager.SetEmitter(emitter)
	owner := addr(1)
	sales.sales[7] = &mockSale{selling: "TKN"}

	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(50)))

	emitted := emitter.Events()
	require.Len(t, emitted, 2)
	require.Equal(t, EventTypeMinted, emitted[0].EventType())
	require.Equal(t, EventTypeExtended, emitted[1].EventType())

	ids, err := ledger.BundlesOf(owner)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	bundle, err := ledger.Bundle(ids[0])
	require.NoError(t, err)
	require.Len(t, bundle.Allocations, 1)
	require.Equal(t, "150", bundle.Allocations[0].Remaining.String())
}

func TestMintOrExtendAfterListing(t *testing.T) {
	manager, ledger, _, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[7] = &mockSale{selling: "TKN"}

	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))
	sales.sales[7].listed = true
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(50)))

	ids, err := ledger.BundlesOf(owner)
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestSplitChargesFeeFromRemainder(t *testing.T) {
	manager, ledger, state, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[7] = &mockSale{selling: "TKN"}
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))

	keptID, err := manager.Split(owner, 1, []*big.Int{big.NewInt(30)})
	require.NoError(t, err)

	kept, err := ledger.Bundle(keptID)
	require.NoError(t, err)
	require.Equal(t, "30", kept.Allocations[0].Remaining.String())

	source, err := ledger.Bundle(1)
	require.NoError(t, err)
	require.Equal(t, "69", source.Allocations[0].Remaining.String())

	feeIDs, err := ledger.BundlesOf(addr(0xfe))
	require.NoError(t, err)
	require.Len(t, feeIDs, 1)
	fee, err := ledger.Bundle(feeIDs[0])
	require.NoError(t, err)
	require.Equal(t, "1", fee.Allocations[0].Remaining.String())

	require.Equal(t, "100", totalRemaining(t, state, 7).String())
}

func TestSplitRejectsOversizedKeep(t *testing.T) {
	manager, _, _, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[7] = &mockSale{selling: "TKN"}
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))

	_, err := manager.Split(owner, 1, []*big.Int{big.NewInt(100)})
	require.ErrorIs(t, err, errKeptTooLarge)

	_, err = manager.Split(owner, 1, []*big.Int{big.NewInt(10), big.NewInt(10)})
	require.ErrorIs(t, err, errSplitLengthMismatch)

	_, err = manager.Split(addr(2), 1, []*big.Int{big.NewInt(10)})
	require.ErrorIs(t, err, ErrNotBundleOwner)
}

func TestSplitBurnsEmptiedSource(t *testing.T) {
	manager, ledger, _, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[7] = &mockSale{selling: "TKN"}
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))

	keptID, err := manager.Split(owner, 1, []*big.Int{big.NewInt(99)})
	require.NoError(t, err)

	_, err = ledger.Bundle(1)
	require.ErrorIs(t, err, ErrBundleNotFound)

	kept, err := ledger.Bundle(keptID)
	require.NoError(t, err)
	require.Equal(t, "99", kept.Allocations[0].Remaining.String())
}

func TestMergeSumsPerSale(t *testing.T) {
	manager, ledger, state, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[7] = &mockSale{selling: "TKN", listed: true}
	sales.sales[9] = &mockSale{selling: "OTH", listed: true}
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(1000)))
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(500)))
	require.NoError(t, manager.MintOrExtend(owner, 9, big.NewInt(200)))

	mergedID, err := manager.Merge(owner, []uint64{1, 2, 3})
	require.NoError(t, err)

	merged, err := ledger.Bundle(mergedID)
	require.NoError(t, err)
	require.Len(t, merged.Allocations, 2)
	require.Equal(t, uint64(7), merged.Allocations[0].SaleID)
	require.Equal(t, "1485", merged.Allocations[0].Remaining.String())
	require.Equal(t, uint64(9), merged.Allocations[1].SaleID)
	require.Equal(t, "198", merged.Allocations[1].Remaining.String())

	for _, id := range []uint64{1, 2, 3} {
		_, err := ledger.Bundle(id)
		require.ErrorIs(t, err, ErrBundleNotFound)
	}

	require.Equal(t, "1500", totalRemaining(t, state, 7).String())
	require.Equal(t, "200", totalRemaining(t, state, 9).String())
}

func TestMergeKeepsHighestSettledMark(t *testing.T) {
	manager, ledger, state, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[7] = &mockSale{selling: "TKN", listed: true}
	state.counter = 0
	id1, err := ledger.mint(owner, []*Allocation{{SaleID: 7, Remaining: big.NewInt(1000), Settled: 20}})
	require.NoError(t, err)
	id2, err := ledger.mint(owner, []*Allocation{{SaleID: 7, Remaining: big.NewInt(1000), Settled: 40}})
	require.NoError(t, err)

	mergedID, err := manager.Merge(owner, []uint64{id1, id2})
	require.NoError(t, err)
	merged, err := ledger.Bundle(mergedID)
	require.NoError(t, err)
	require.Equal(t, uint8(40), merged.Allocations[0].Settled)
}

func TestAreMergeableRequiresSameOwner(t *testing.T) {
	manager, _, _, sales, _ := newTestManager(t)
	sales.sales[7] = &mockSale{selling: "TKN"}
	require.NoError(t, manager.MintOrExtend(addr(1), 7, big.NewInt(100)))
	require.NoError(t, manager.MintOrExtend(addr(2), 7, big.NewInt(100)))

	ok, reason, err := manager.AreMergeable(addr(1), []uint64{1, 2})
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, reason, "same owner")

	_, err = manager.Merge(addr(1), []uint64{1, 2})
	require.Error(t, err)
}

func TestSwapRedeemsCoupon(t *testing.T) {
	manager, ledger, _, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[3] = &mockSale{selling: "IOU", future: true}
	sales.sales[8] = &mockSale{selling: "TKN", link: 3}
	require.NoError(t, manager.MintOrExtend(owner, 3, big.NewInt(500)))

	swappedID, err := manager.Swap(owner, 1, 8)
	require.NoError(t, err)
	require.NotEqual(t, uint64(1), swappedID)

	swapped, err := ledger.Bundle(swappedID)
	require.NoError(t, err)
	require.Equal(t, uint64(8), swapped.Allocations[0].SaleID)
	require.Equal(t, "500", swapped.Allocations[0].Remaining.String())
	require.Equal(t, uint8(0), swapped.Allocations[0].Settled)

	_, err = ledger.Bundle(1)
	require.ErrorIs(t, err, ErrBundleNotFound)
}

func TestSwapRejectsBadLinkage(t *testing.T) {
	manager, _, _, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[3] = &mockSale{selling: "IOU", future: true}
	sales.sales[4] = &mockSale{selling: "TKN"}
	sales.sales[8] = &mockSale{selling: "TKN", link: 99}
	require.NoError(t, manager.MintOrExtend(owner, 3, big.NewInt(500)))
	require.NoError(t, manager.MintOrExtend(owner, 4, big.NewInt(500)))

	_, err := manager.Swap(owner, 1, 8)
	require.ErrorIs(t, err, errSwapLinkMismatch)

	_, err = manager.Swap(owner, 2, 8)
	require.ErrorIs(t, err, errNotCoupon)
}

func TestWithdrawStaircase(t *testing.T) {
	manager, ledger, _, sales, tokens := newTestManager(t)
	owner := addr(1)
	vault := addr(0xaa)
	sales.sales[7] = &mockSale{selling: "TKN", listed: true, vault: vault}
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))

	sales.sales[7].vested = 20
	newID, err := manager.Withdraw(owner, 1, []*big.Int{nil})
	require.NoError(t, err)
	require.NotEqual(t, uint64(1), newID)

	require.Len(t, tokens.transfers, 1)
	require.Equal(t, "20", tokens.transfers[0].amount.String())
	require.Equal(t, vault, tokens.transfers[0].from)
	require.Equal(t, owner, tokens.transfers[0].to)

	bundle, err := ledger.Bundle(newID)
	require.NoError(t, err)
	require.Equal(t, "80", bundle.Allocations[0].Remaining.String())
	require.Equal(t, uint8(20), bundle.Allocations[0].Settled)

	sales.sales[7].vested = 50
	_, amounts, err := ledger.Withdrawables(newID)
	require.NoError(t, err)
	require.Equal(t, "30", amounts[0].String())
}

func TestWithdrawPartialKeepsRemainderClaimable(t *testing.T) {
	manager, ledger, _, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[7] = &mockSale{selling: "TKN", listed: true, vault: addr(0xaa)}
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))

	sales.sales[7].vested = 20
	newID, err := manager.Withdraw(owner, 1, []*big.Int{big.NewInt(10)})
	require.NoError(t, err)

	bundle, err := ledger.Bundle(newID)
	require.NoError(t, err)
	require.Equal(t, "90", bundle.Allocations[0].Remaining.String())

	_, amounts, err := ledger.Withdrawables(newID)
	require.NoError(t, err)
	require.Equal(t, "10", amounts[0].String())

	sales.sales[7].vested = 100
	_, amounts, err = ledger.Withdrawables(newID)
	require.NoError(t, err)
	require.Equal(t, "90", amounts[0].String())
}

func TestWithdrawFullBurnsBundle(t *testing.T) {
	manager, ledger, _, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[7] = &mockSale{selling: "TKN", listed: true, vault: addr(0xaa)}
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))

	sales.sales[7].vested = 100
	newID, err := manager.Withdraw(owner, 1, []*big.Int{nil})
	require.NoError(t, err)
	require.Zero(t, newID)

	_, err = ledger.Bundle(1)
	require.ErrorIs(t, err, ErrBundleNotFound)
	ids, err := ledger.BundlesOf(owner)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestWithdrawPartialAtFullVestingKeepsRemainderClaimable(t *testing.T) {
	manager, ledger, _, sales, tokens := newTestManager(t)
	owner := addr(1)
	vault := addr(0xaa)
	sales.sales[7] = &mockSale{selling: "TKN", listed: true, vault: vault}
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))

	sales.sales[7].vested = 100
	newID, err := manager.Withdraw(owner, 1, []*big.Int{big.NewInt(40)})
	require.NoError(t, err)
	require.NotEqual(t, uint64(1), newID)

	bundle, err := ledger.Bundle(newID)
	require.NoError(t, err)
	require.Equal(t, "60", bundle.Allocations[0].Remaining.String())
	require.Equal(t, uint8(100), bundle.Allocations[0].Settled)

	_, amounts, err := ledger.Withdrawables(newID)
	require.NoError(t, err)
	require.Equal(t, "60", amounts[0].String())

	lastID, err := manager.Withdraw(owner, newID, []*big.Int{nil})
	require.NoError(t, err)
	require.Zero(t, lastID)

	require.Len(t, tokens.transfers, 2)
	require.Equal(t, "60", tokens.transfers[1].amount.String())
	_, err = ledger.Bundle(newID)
	require.ErrorIs(t, err, ErrBundleNotFound)
}

func TestWithdrawRejectsUnvestedRequest(t *testing.T) {
	manager, _, _, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[7] = &mockSale{selling: "TKN", listed: true, vault: addr(0xaa)}
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))

	sales.sales[7].vested = 20
	_, err := manager.Withdraw(owner, 1, []*big.Int{big.NewInt(21)})
	require.ErrorIs(t, err, errNotWithdrawable)
}

func TestWithdrawNothingAvailableKeepsIdentity(t *testing.T) {
	manager, ledger, _, sales, _ := newTestManager(t)
	owner := addr(1)
	sales.sales[7] = &mockSale{selling: "TKN", listed: true, vault: addr(0xaa)}
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))

	id, err := manager.Withdraw(owner, 1, []*big.Int{nil})
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	_, err = ledger.Bundle(1)
	require.NoError(t, err)
}

func TestTransferRequiresTransferableSales(t *testing.T) {
	manager, ledger, _, sales, _ := newTestManager(t)
	owner := addr(1)
	recipient := addr(2)
	sales.sales[7] = &mockSale{selling: "TKN"}
	require.NoError(t, manager.MintOrExtend(owner, 7, big.NewInt(100)))

	require.ErrorIs(t, ledger.Transfer(owner, 1, recipient), errNotTransferable)

	sales.sales[7].transferable = true
	require.NoError(t, ledger.Transfer(owner, 1, recipient))

	got, err := ledger.OwnerOf(1)
	require.NoError(t, err)
	require.Equal(t, recipient, got)

	ids, err := ledger.BundlesOf(owner)
	require.NoError(t, err)
	require.Empty(t, ids)

	require.ErrorIs(t, ledger.Transfer(owner, 1, owner), ErrNotBundleOwner)
}

func TestAllocationPackRoundTrip(t *testing.T) {
	original := &Allocation{SaleID: 77, Remaining: big.NewInt(123456789), Settled: 42}
	word, err := original.Pack()
	require.NoError(t, err)
	decoded, err := UnpackAllocation(word)
	require.NoError(t, err)
	require.Equal(t, original.SaleID, decoded.SaleID)
	require.Equal(t, original.Remaining.String(), decoded.Remaining.String())
	require.Equal(t, original.Settled, decoded.Settled)

	_, err = (&Allocation{SaleID: 0, Remaining: big.NewInt(1)}).Pack()
	require.Error(t, err)
	_, err = (&Allocation{SaleID: 1, Remaining: big.NewInt(1), Settled: 101}).Pack()
	require.Error(t, err)
	oversized := new(big.Int).Lsh(big.NewInt(1), 200)
	_, err = (&Allocation{SaleID: 1, Remaining: oversized}).Pack()
	require.Error(t, err)
}
