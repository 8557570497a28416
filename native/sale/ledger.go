package sale

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"launchpad/core/events"
	"launchpad/core/types"
)

var (
	errNilState      = errors.New("sale ledger: state not configured")
	ErrSaleNotFound  = errors.New("sale ledger: sale not found")
	ErrNotSaleOwner  = errors.New("sale ledger: caller is not the sale owner")
	errAlreadyListed = errors.New("sale ledger: token already listed")
)

const secondsPerDay = 24 * 3600

type ledgerState interface {
	SaleGet(id uint64) (*Sale, bool, error)
	SalePut(*Sale) error
	SaleCounterGet() (uint64, error)
	SaleCounterPut(uint64) error
}

// Ledger is the authoritative table of sales: setup parameters, investment
// totals, per-investor approvals and the vesting anchor time.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
	nowFn   func() int64
}

// NewLedger constructs a sale ledger with default dependencies.
func NewLedger() *Ledger {
	return &Ledger{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || evt == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(WrapEvent(evt))
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

// NextSaleID allocates the next unused sale identifier. Identifiers are
// monotonically increasing and never reused.
func (l *Ledger) NextSaleID() (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	counter, err := l.state.SaleCounterGet()
	if err != nil {
		return 0, err
	}
	next := counter + 1
	if err := l.state.SaleCounterPut(next); err != nil {
		return 0, err
	}
	return next, nil
}

// Sale returns the ledger entry for the given identifier.
func (l *Ledger) Sale(id uint64) (*Sale, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	sale, ok, err := l.state.SaleGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || sale == nil {
		return nil, ErrSaleNotFound
	}
	return sale, nil
}

// SaleExists reports whether a sale with the given identifier has been
// created.
func (l *Ledger) SaleExists(id uint64) (bool, error) {
	if l == nil || l.state == nil {
		return false, errNilState
	}
	_, ok, err := l.state.SaleGet(id)
	return ok, err
}

func (l *Ledger) putSale(sale *Sale) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return l.state.SalePut(sale)
}

// createSale persists a freshly approved sale. Only the factory calls this.
func (l *Ledger) createSale(id uint64, setup *Setup) (*Sale, error) {
	if existing, ok, err := l.state.SaleGet(id); err != nil {
		return nil, err
	} else if ok && existing != nil {
		return nil, fmt.Errorf("sale ledger: sale %d already exists", id)
	}
	sale := &Sale{
		ID:             id,
		Setup:          setup,
		RemainingValue: big.NewInt(0),
		InvestedValue:  big.NewInt(0),
		Approved:       make(map[string]*big.Int),
		Spent:          make(map[string]*big.Int),
	}
	if err := l.putSale(sale); err != nil {
		return nil, err
	}
	return sale.Clone(), nil
}

func mulDiv(amount *big.Int, num, den uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(num))
	return out.Div(out, new(big.Int).SetUint64(den))
}

// FromValueToTokensAmount converts a payment-denominated value into selling
// token units using the sale's pricing ratio. Integer floor division.
func (l *Ledger) FromValueToTokensAmount(id uint64, value *big.Int) (*big.Int, error) {
	sale, err := l.Sale(id)
	if err != nil {
		return nil, err
	}
	if value == nil || value.Sign() < 0 {
		return nil, fmt.Errorf("sale ledger: value must be non-negative")
	}
	return mulDiv(value, sale.Setup.PricingToken, sale.Setup.PricingPayment), nil
}

// TokensAmountAndFeeByValue converts a payment value into selling tokens and
// computes the token-side fee. Both use floor division so charged amounts
// never exceed the available balance.
func (l *Ledger) TokensAmountAndFeeByValue(id uint64, value *big.Int) (*big.Int, *big.Int, error) {
	sale, err := l.Sale(id)
	if err != nil {
		return nil, nil, err
	}
	if value == nil || value.Sign() < 0 {
		return nil, nil, fmt.Errorf("sale ledger: value must be non-negative")
	}
	tokens := mulDiv(value, sale.Setup.PricingToken, sale.Setup.PricingPayment)
	fee := mulDiv(tokens, uint64(sale.Setup.TokenFeePoints), FeeDenominator)
	return tokens, fee, nil
}

func addrKey(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

// ApproveInvestor records the payment cap an investor may spend in a sale.
// Only the sale owner may approve investors.
func (l *Ledger) ApproveInvestor(caller [20]byte, id uint64, investor [20]byte, amount *big.Int) error {
	return l.ApproveInvestors(caller, id, [][20]byte{investor}, []*big.Int{amount})
}

// ApproveInvestors records payment caps for a batch of investors.
func (l *Ledger) ApproveInvestors(caller [20]byte, id uint64, investors [][20]byte, amounts []*big.Int) error {
	sale, err := l.Sale(id)
	if err != nil {
		return err
	}
	if sale.Setup.Owner != caller {
		return ErrNotSaleOwner
	}
	if len(investors) != len(amounts) {
		return fmt.Errorf("sale ledger: investors and amounts length mismatch")
	}
	if sale.Approved == nil {
		sale.Approved = make(map[string]*big.Int)
	}
	for i, investor := range investors {
		amount := amounts[i]
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("sale ledger: approved amount must be positive")
		}
		sale.Approved[addrKey(investor)] = new(big.Int).Set(amount)
		l.emit(InvestorApprovedEvent(id, hexAddr(investor), amount.String()))
	}
	return l.putSale(sale)
}

// ApprovedAmount returns the approved cap for the investor, zero when the
// investor was never approved.
func (l *Ledger) ApprovedAmount(id uint64, investor [20]byte) (*big.Int, error) {
	sale, err := l.Sale(id)
	if err != nil {
		return nil, err
	}
	if amount, ok := sale.Approved[addrKey(investor)]; ok && amount != nil {
		return new(big.Int).Set(amount), nil
	}
	return big.NewInt(0), nil
}

// TriggerTokenListing anchors the vesting clock at the current time. It can
// be called exactly once per sale, by the sale owner.
func (l *Ledger) TriggerTokenListing(caller [20]byte, id uint64) error {
	sale, err := l.Sale(id)
	if err != nil {
		return err
	}
	if sale.Setup.Owner != caller {
		return ErrNotSaleOwner
	}
	if sale.Listed() {
		return errAlreadyListed
	}
	sale.TokenListedAt = l.now()
	if err := l.putSale(sale); err != nil {
		return err
	}
	l.emit(TokenListedEvent(id, sale.TokenListedAt))
	return nil
}

// Listed reports whether the sale's token listing has been triggered.
func (l *Ledger) Listed(id uint64) (bool, error) {
	sale, err := l.Sale(id)
	if err != nil {
		return false, err
	}
	return sale.Listed(), nil
}

// VestedPercentage returns the staircase vested percentage for a sale at the
// current time. Zero before listing.
func (l *Ledger) VestedPercentage(id uint64) (uint8, error) {
	sale, err := l.Sale(id)
	if err != nil {
		return 0, err
	}
	if !sale.Listed() {
		return 0, nil
	}
	elapsed := l.now() - sale.TokenListedAt
	if elapsed < 0 {
		elapsed = 0
	}
	return sale.Setup.VestingSchedule.VestedPercentage(uint32(elapsed / secondsPerDay)), nil
}

// SellingToken returns the selling token symbol for the sale.
func (l *Ledger) SellingToken(id uint64) (string, error) {
	sale, err := l.Sale(id)
	if err != nil {
		return "", err
	}
	return sale.Setup.SellingToken, nil
}

// Transferable reports whether bundles holding allocations of this sale may
// be transferred.
func (l *Ledger) Transferable(id uint64) (bool, error) {
	sale, err := l.Sale(id)
	if err != nil {
		return false, err
	}
	return sale.Setup.TokenIsTransferable, nil
}

// FutureTokenLink returns whether the sale is a future-token coupon and, for
// real-token sales, the coupon sale they redeem.
func (l *Ledger) FutureTokenLink(id uint64) (bool, uint64, error) {
	sale, err := l.Sale(id)
	if err != nil {
		return false, 0, err
	}
	return sale.Setup.IsFutureToken, sale.Setup.FutureTokenSaleID, nil
}

// VaultAddress returns the escrow address for a sale.
func (l *Ledger) VaultAddress(id uint64) ([20]byte, error) {
	sale, err := l.Sale(id)
	if err != nil {
		return [20]byte{}, err
	}
	return sale.VaultAddress(), nil
}
