package state

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"launchpad/native/bundle"
	"launchpad/native/sale"
	"launchpad/native/token"
	"launchpad/native/vesting"
	"launchpad/storage"
)

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func TestExecCommitsOnSuccess(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	err := manager.Exec(func(m *Manager) error {
		return m.SaleCounterPut(7)
	})
	require.NoError(t, err)

	counter, err := manager.SaleCounterGet()
	require.NoError(t, err)
	require.Equal(t, uint64(7), counter)
}

func TestExecRollsBackOnError(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	require.NoError(t, manager.SaleCounterPut(1))

	boom := errors.New("boom")
	err := manager.Exec(func(m *Manager) error {
		if err := m.SaleCounterPut(99); err != nil {
			return err
		}
		if err := m.FactoryOperatorPut(addr(9), true); err != nil {
			return err
		}
		// The scoped view sees its own writes before failing.
		counter, err := m.SaleCounterGet()
		if err != nil {
			return err
		}
		require.Equal(t, uint64(99), counter)
		return boom
	})
	require.ErrorIs(t, err, boom)

	counter, err := manager.SaleCounterGet()
	require.NoError(t, err)
	require.Equal(t, uint64(1), counter)
	isOperator, err := manager.FactoryOperatorGet(addr(9))
	require.NoError(t, err)
	require.False(t, isOperator)
}

func TestExecSerializesConcurrentTransactions(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	const workers = 64
	ids := make(chan uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.Exec(func(m *Manager) error {
				counter, err := m.SaleCounterGet()
				if err != nil {
					return err
				}
				next := counter + 1
				if err := m.SaleCounterPut(next); err != nil {
					return err
				}
				ids <- next
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool, workers)
	for id := range ids {
		require.False(t, seen[id], "identifier %d allocated twice", id)
		seen[id] = true
	}
	require.Len(t, seen, workers)

	counter, err := manager.SaleCounterGet()
	require.NoError(t, err)
	require.Equal(t, uint64(workers), counter)
}

func TestStateRoundTrips(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	approval := &sale.Approval{SaleID: 3, Fingerprint: [32]byte{1, 2, 3}, Status: sale.ApprovalApproved}
	require.NoError(t, manager.SaleApprovalPut(approval))
	loaded, ok, err := manager.SaleApprovalGet(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, approval.Fingerprint, loaded.Fingerprint)
	require.Equal(t, sale.ApprovalApproved, loaded.Status)

	require.NoError(t, manager.SaleIDByFingerprintPut(approval.Fingerprint, 3))
	id, ok, err := manager.SaleIDByFingerprintGet(approval.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), id)
	_, ok, err = manager.SaleIDByFingerprintGet([32]byte{9})
	require.NoError(t, err)
	require.False(t, ok)

	record := &bundle.Bundle{
		ID:    5,
		Owner: addr(1),
		Allocations: []*bundle.Allocation{
			{SaleID: 3, Remaining: big.NewInt(1234), Settled: 40},
		},
	}
	require.NoError(t, manager.BundlePut(record))
	got, ok, err := manager.BundleGet(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.Owner, got.Owner)
	require.Equal(t, "1234", got.Allocations[0].Remaining.String())
	require.Equal(t, uint8(40), got.Allocations[0].Settled)

	require.NoError(t, manager.BundleDelete(5))
	_, ok, err = manager.BundleGet(5)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, manager.BundleOwnerIndexPut(addr(1), []uint64{5, 6}))
	ids, err := manager.BundleOwnerIndexGet(addr(1))
	require.NoError(t, err)
	require.Equal(t, []uint64{5, 6}, ids)
	require.NoError(t, manager.BundleOwnerIndexPut(addr(1), nil))
	ids, err = manager.BundleOwnerIndexGet(addr(1))
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, manager.TokenBalancePut("TKN", addr(2), big.NewInt(777)))
	balance, err := manager.TokenBalanceGet("TKN", addr(2))
	require.NoError(t, err)
	require.Equal(t, "777", balance.String())

	require.NoError(t, manager.TokenAllowancePut("TKN", addr(2), addr(3), big.NewInt(50)))
	allowance, err := manager.TokenAllowanceGet("TKN", addr(2), addr(3))
	require.NoError(t, err)
	require.Equal(t, "50", allowance.String())
}

// Wires every engine over one manager and drives a sale from approval to a
// vested withdrawal, all against the persistent store.
func TestFullPipelineOverStore(t *testing.T) {
	var (
		admin     = addr(0xad)
		operator  = addr(0x09)
		seller    = addr(0x01)
		investor  = addr(0x02)
		feeWallet = addr(0xfe)
	)
	now := int64(1_000_000)

	manager := NewManager(storage.NewMemDB())

	tokens := token.NewLedger()
	tokens.SetState(manager)

	saleLedger := sale.NewLedger()
	saleLedger.SetState(manager)
	saleLedger.SetNowFunc(func() int64 { return now })

	factory := sale.NewFactory(saleLedger)
	factory.SetState(manager)
	factory.SetAdmin(admin)
	require.NoError(t, factory.SetOperator(admin, operator, true))

	bundleLedger := bundle.NewLedger()
	bundleLedger.SetState(manager)
	bundleLedger.SetSales(saleLedger)

	bundles := bundle.NewManager(bundleLedger)
	bundles.SetTokens(tokens)
	bundles.SetFeeWallet(feeWallet)

	engine := sale.NewEngine(saleLedger)
	engine.SetTokens(tokens)
	engine.SetBundles(bundles)
	engine.SetFeeWallet(feeWallet)

	schedule, err := vesting.ValidateAndPack([]vesting.Step{
		{WaitTime: 0, Percentage: 20},
		{WaitTime: 30, Percentage: 100},
	})
	require.NoError(t, err)
	setup := &sale.Setup{
		Owner:            seller,
		MinAmount:        big.NewInt(100),
		CapAmount:        big.NewInt(5000),
		TotalValue:       big.NewInt(10000),
		PricingToken:     2,
		PricingPayment:   1,
		PaymentToken:     "USDT",
		SellingToken:     "TKN",
		VestingSchedule:  schedule,
		TokenFeePoints:   500,
		PaymentFeePoints: 250,
	}

	fingerprint, err := sale.Fingerprint(setup, nil, setup.PaymentToken)
	require.NoError(t, err)
	saleID, err := factory.ApproveSale(operator, fingerprint)
	require.NoError(t, err)
	_, err = factory.NewSale(seller, saleID, setup, nil, setup.PaymentToken, nil)
	require.NoError(t, err)

	require.NoError(t, tokens.Mint("TKN", seller, big.NewInt(21_000)))
	require.NoError(t, tokens.Mint("USDT", investor, big.NewInt(10_000)))

	require.NoError(t, engine.Launch(seller, saleID))
	require.NoError(t, saleLedger.ApproveInvestor(seller, saleID, investor, big.NewInt(2000)))
	require.NoError(t, engine.Invest(investor, saleID, big.NewInt(1000)))

	ids, err := bundleLedger.BundlesOf(investor)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	require.NoError(t, saleLedger.TriggerTokenListing(seller, saleID))

	// 20% of the 1900-token allocation vests at listing.
	newID, err := bundles.Withdraw(investor, ids[0], []*big.Int{nil})
	require.NoError(t, err)
	balance, err := tokens.BalanceOf("TKN", investor)
	require.NoError(t, err)
	require.Equal(t, "380", balance.String())

	now += 30 * 24 * 3600
	_, amounts, err := bundleLedger.Withdrawables(newID)
	require.NoError(t, err)
	require.Equal(t, "1520", amounts[0].String())
}
