package sale

import (
	"errors"
	"math/big"

	"launchpad/core/events"
	"launchpad/core/types"
)

var (
	errAlreadyLaunched  = errors.New("sale: already launched")
	errNotLaunched      = errors.New("sale: not launched yet")
	errBelowMinimum     = errors.New("sale: investment below minimum amount")
	errCapExceeded      = errors.New("sale: investment exceeds approved amount")
	errCapacityExceeded = errors.New("sale: investment exceeds remaining capacity")
	errFeeWalletNotSet  = errors.New("sale: fee wallet not configured")
	errWithdrawTooLarge = errors.New("sale: withdrawal exceeds payment balance")
)

// TokenLedger is the fungible-token collaborator the engine pulls payment
// and selling tokens through. The engine only calls these operations, it
// never implements them.
type TokenLedger interface {
	BalanceOf(symbol string, addr [20]byte) (*big.Int, error)
	Transfer(symbol string, from, to [20]byte, amount *big.Int) error
	TransferFrom(symbol string, spender, from, to [20]byte, amount *big.Int) error
}

// BundleMinter mints or extends allocation bundles when an investment
// succeeds. Implemented by the bundle manager.
type BundleMinter interface {
	MintOrExtend(owner [20]byte, saleID uint64, amount *big.Int) error
}

// Engine holds the seller-facing sale operations: launch, extend, invest
// and payment withdrawal. All sale state lives in the ledger; the engine
// moves tokens and updates ledger entries.
type Engine struct {
	ledger    *Ledger
	tokens    TokenLedger
	bundles   BundleMinter
	feeWallet [20]byte
	emitter   events.Emitter
}

// NewEngine constructs a sale engine bound to the ledger.
func NewEngine(ledger *Ledger) *Engine {
	return &Engine{
		ledger:  ledger,
		emitter: events.NoopEmitter{},
	}
}

// SetTokens configures the fungible-token collaborator.
func (e *Engine) SetTokens(tokens TokenLedger) { e.tokens = tokens }

// SetBundles configures the allocation-bundle minter.
func (e *Engine) SetBundles(bundles BundleMinter) { e.bundles = bundles }

// SetFeeWallet configures the protocol fee recipient.
func (e *Engine) SetFeeWallet(addr [20]byte) { e.feeWallet = addr }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

// Launch funds the sale: the seller escrows the selling tokens covering the
// total value plus the token fee. A sale launches exactly once.
func (e *Engine) Launch(caller [20]byte, saleID uint64) error {
	sale, err := e.ledger.Sale(saleID)
	if err != nil {
		return err
	}
	if sale.Setup.Owner != caller {
		return ErrNotSaleOwner
	}
	if sale.Launched {
		return errAlreadyLaunched
	}
	tokens, fee, err := e.ledger.TokensAmountAndFeeByValue(saleID, sale.Setup.TotalValue)
	if err != nil {
		return err
	}
	deposit := new(big.Int).Add(tokens, fee)
	if err := e.tokens.TransferFrom(sale.Setup.SellingToken, caller, caller, sale.VaultAddress(), deposit); err != nil {
		return err
	}
	sale.Launched = true
	sale.RemainingValue = new(big.Int).Set(sale.Setup.TotalValue)
	if err := e.ledger.putSale(sale); err != nil {
		return err
	}
	e.emit(SaleLaunchedEvent(saleID, sale.Setup.TotalValue.String(), tokens.String()))
	return nil
}

// Extend tops up a launched sale with extra capacity, pulling the matching
// selling tokens and fee from the seller.
func (e *Engine) Extend(caller [20]byte, saleID uint64, extraValue *big.Int) error {
	sale, err := e.ledger.Sale(saleID)
	if err != nil {
		return err
	}
	if sale.Setup.Owner != caller {
		return ErrNotSaleOwner
	}
	if !sale.Launched {
		return errNotLaunched
	}
	if sale.Listed() {
		return errAlreadyListed
	}
	if extraValue == nil || extraValue.Sign() <= 0 {
		return errors.New("sale: extra value must be positive")
	}
	tokens, fee, err := e.ledger.TokensAmountAndFeeByValue(saleID, extraValue)
	if err != nil {
		return err
	}
	deposit := new(big.Int).Add(tokens, fee)
	if err := e.tokens.TransferFrom(sale.Setup.SellingToken, caller, caller, sale.VaultAddress(), deposit); err != nil {
		return err
	}
	sale.Setup.TotalValue = new(big.Int).Add(sale.Setup.TotalValue, extraValue)
	sale.RemainingValue = new(big.Int).Add(sale.RemainingValue, extraValue)
	if err := e.ledger.putSale(sale); err != nil {
		return err
	}
	e.emit(SaleExtendedEvent(saleID, extraValue.String(), tokens.String()))
	return nil
}

// Invest spends payment tokens against the investor's approved cap. The
// payment fee is forwarded to the fee wallet immediately; the rest funds the
// sale vault. The investor's bundle is minted or extended with the bought
// allocation net of the token fee, and the fee wallet receives the fee share
// as its own allocation.
func (e *Engine) Invest(caller [20]byte, saleID uint64, value *big.Int) error {
	sale, err := e.ledger.Sale(saleID)
	if err != nil {
		return err
	}
	if !sale.Launched {
		return errNotLaunched
	}
	if e.feeWallet == ([20]byte{}) {
		return errFeeWalletNotSet
	}
	if value == nil || value.Sign() <= 0 {
		return errors.New("sale: investment must be positive")
	}
	if value.Cmp(sale.Setup.MinAmount) < 0 {
		return errBelowMinimum
	}
	key := addrKey(caller)
	approved := sale.Approved[key]
	if approved == nil {
		approved = big.NewInt(0)
	}
	spent := sale.Spent[key]
	if spent == nil {
		spent = big.NewInt(0)
	}
	cumulative := new(big.Int).Add(spent, value)
	if cumulative.Cmp(approved) > 0 || cumulative.Cmp(sale.Setup.CapAmount) > 0 {
		return errCapExceeded
	}
	if value.Cmp(sale.RemainingValue) > 0 {
		return errCapacityExceeded
	}
	tokens, tokenFee, err := e.ledger.TokensAmountAndFeeByValue(saleID, value)
	if err != nil {
		return err
	}
	paymentFee := mulDiv(value, uint64(sale.Setup.PaymentFeePoints), FeeDenominator)
	if paymentFee.Sign() > 0 {
		if err := e.tokens.TransferFrom(sale.Setup.PaymentToken, caller, caller, e.feeWallet, paymentFee); err != nil {
			return err
		}
	}
	netPayment := new(big.Int).Sub(value, paymentFee)
	if err := e.tokens.TransferFrom(sale.Setup.PaymentToken, caller, caller, sale.VaultAddress(), netPayment); err != nil {
		return err
	}
	sale.RemainingValue = new(big.Int).Sub(sale.RemainingValue, value)
	sale.InvestedValue = new(big.Int).Add(sale.InvestedValue, value)
	if sale.Spent == nil {
		sale.Spent = make(map[string]*big.Int)
	}
	sale.Spent[key] = cumulative
	if err := e.ledger.putSale(sale); err != nil {
		return err
	}
	investorTokens := new(big.Int).Sub(tokens, tokenFee)
	if err := e.bundles.MintOrExtend(caller, saleID, investorTokens); err != nil {
		return err
	}
	if tokenFee.Sign() > 0 {
		if err := e.bundles.MintOrExtend(e.feeWallet, saleID, tokenFee); err != nil {
			return err
		}
	}
	e.emit(InvestedEvent(saleID, hexAddr(caller), value.String(), investorTokens.String()))
	return nil
}

// WithdrawPayment sends collected payment tokens from the sale vault to the
// sale owner. A zero amount withdraws everything currently withdrawable.
func (e *Engine) WithdrawPayment(caller [20]byte, saleID uint64, amount *big.Int) (*big.Int, error) {
	sale, err := e.ledger.Sale(saleID)
	if err != nil {
		return nil, err
	}
	if sale.Setup.Owner != caller {
		return nil, ErrNotSaleOwner
	}
	balance, err := e.tokens.BalanceOf(sale.Setup.PaymentToken, sale.VaultAddress())
	if err != nil {
		return nil, err
	}
	withdrawal := amount
	if withdrawal == nil || withdrawal.Sign() == 0 {
		withdrawal = balance
	}
	if withdrawal.Sign() < 0 {
		return nil, errors.New("sale: withdrawal must be non-negative")
	}
	if withdrawal.Cmp(balance) > 0 {
		return nil, errWithdrawTooLarge
	}
	if err := e.tokens.Transfer(sale.Setup.PaymentToken, sale.VaultAddress(), caller, withdrawal); err != nil {
		return nil, err
	}
	e.emit(PaymentWithdrawnEvent(saleID, hexAddr(caller), withdrawal.String()))
	return new(big.Int).Set(withdrawal), nil
}
