package sale

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"launchpad/native/token"
	"launchpad/native/vesting"
)

// FeeDenominator is the divisor applied to every fee-points field. All fee
// points are parts per 10,000 (tokenFeePoints of 500 charges 5%).
const FeeDenominator = 10_000

// Setup carries the full economic configuration of a sale. Every field is
// bound by the setup fingerprint: mutating any of them between approval and
// creation invalidates the approval.
type Setup struct {
	Owner               [20]byte          `json:"owner"`
	MinAmount           *big.Int          `json:"minAmount"`
	CapAmount           *big.Int          `json:"capAmount"`
	TotalValue          *big.Int          `json:"totalValue"`
	PricingToken        uint64            `json:"pricingToken"`
	PricingPayment      uint64            `json:"pricingPayment"`
	PaymentToken        string            `json:"paymentToken"`
	SellingToken        string            `json:"sellingToken"`
	VestingSchedule     *vesting.Schedule `json:"vestingSchedule"`
	TokenIsTransferable bool              `json:"tokenIsTransferable"`
	TokenFeePoints      uint32            `json:"tokenFeePoints"`
	ExtraFeePoints      uint32            `json:"extraFeePoints"`
	PaymentFeePoints    uint32            `json:"paymentFeePoints"`
	IsFutureToken       bool              `json:"isFutureToken"`
	FutureTokenSaleID   uint64            `json:"futureTokenSaleId"`
}

// Clone returns a deep copy of the setup.
func (s *Setup) Clone() *Setup {
	if s == nil {
		return nil
	}
	clone := *s
	if s.MinAmount != nil {
		clone.MinAmount = new(big.Int).Set(s.MinAmount)
	}
	if s.CapAmount != nil {
		clone.CapAmount = new(big.Int).Set(s.CapAmount)
	}
	if s.TotalValue != nil {
		clone.TotalValue = new(big.Int).Set(s.TotalValue)
	}
	return &clone
}

// SanitizeSetup validates and normalises a setup, returning a cloned
// instance with canonical token casing and non-nil amount fields.
func SanitizeSetup(s *Setup) (*Setup, error) {
	if s == nil {
		return nil, fmt.Errorf("sale: nil setup")
	}
	clone := s.Clone()
	if clone.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("sale: setup owner required")
	}
	if clone.TotalValue == nil || clone.TotalValue.Sign() <= 0 {
		return nil, fmt.Errorf("sale: total value must be positive")
	}
	if clone.MinAmount == nil {
		clone.MinAmount = big.NewInt(0)
	}
	if clone.MinAmount.Sign() < 0 {
		return nil, fmt.Errorf("sale: min amount must be non-negative")
	}
	if clone.CapAmount == nil || clone.CapAmount.Sign() <= 0 {
		return nil, fmt.Errorf("sale: cap amount must be positive")
	}
	if clone.MinAmount.Cmp(clone.CapAmount) > 0 {
		return nil, fmt.Errorf("sale: min amount above cap amount")
	}
	if clone.PricingToken == 0 || clone.PricingPayment == 0 {
		return nil, fmt.Errorf("sale: pricing ratio must be positive")
	}
	payment, err := token.NormalizeSymbol(clone.PaymentToken)
	if err != nil {
		return nil, err
	}
	clone.PaymentToken = payment
	selling, err := token.NormalizeSymbol(clone.SellingToken)
	if err != nil {
		return nil, err
	}
	clone.SellingToken = selling
	if clone.VestingSchedule == nil {
		return nil, fmt.Errorf("sale: vesting schedule required")
	}
	for _, points := range []uint32{clone.TokenFeePoints, clone.ExtraFeePoints, clone.PaymentFeePoints} {
		if points > FeeDenominator {
			return nil, fmt.Errorf("sale: fee points %d out of range", points)
		}
	}
	if clone.IsFutureToken && clone.FutureTokenSaleID != 0 {
		return nil, fmt.Errorf("sale: future-token coupon cannot link to another sale")
	}
	return clone, nil
}

// Sale is the authoritative ledger entry for one sale: its immutable setup
// plus the mutable investment and listing state.
type Sale struct {
	ID             uint64              `json:"id"`
	Setup          *Setup              `json:"setup"`
	Launched       bool                `json:"launched"`
	RemainingValue *big.Int            `json:"remainingValue"`
	InvestedValue  *big.Int            `json:"investedValue"`
	TokenListedAt  int64               `json:"tokenListedAt"`
	Approved       map[string]*big.Int `json:"approved"`
	Spent          map[string]*big.Int `json:"spent"`
}

// Clone returns a deep copy of the sale record.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Setup = s.Setup.Clone()
	if s.RemainingValue != nil {
		clone.RemainingValue = new(big.Int).Set(s.RemainingValue)
	}
	if s.InvestedValue != nil {
		clone.InvestedValue = new(big.Int).Set(s.InvestedValue)
	}
	clone.Approved = cloneAmounts(s.Approved)
	clone.Spent = cloneAmounts(s.Spent)
	return &clone
}

func cloneAmounts(src map[string]*big.Int) map[string]*big.Int {
	if src == nil {
		return nil
	}
	out := make(map[string]*big.Int, len(src))
	for k, v := range src {
		if v != nil {
			out[k] = new(big.Int).Set(v)
		}
	}
	return out
}

// VaultAddress derives the deterministic escrow address holding this sale's
// token and payment balances.
func (s *Sale) VaultAddress() [20]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.ID)
	digest := ethcrypto.Keccak256([]byte("launchpad/sale/vault"), buf[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// Listed reports whether the token listing has been triggered.
func (s *Sale) Listed() bool { return s.TokenListedAt > 0 }
