package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	errNilState              = errors.New("token ledger: state not configured")
	errInvalidAmount         = errors.New("token ledger: amount must be positive")
	errInsufficientFunds     = errors.New("token ledger: insufficient balance")
	errInsufficientAllowance = errors.New("token ledger: insufficient allowance")
)

type ledgerState interface {
	TokenBalanceGet(symbol string, addr [20]byte) (*big.Int, error)
	TokenBalancePut(symbol string, addr [20]byte, balance *big.Int) error
	TokenAllowanceGet(symbol string, owner, spender [20]byte) (*big.Int, error)
	TokenAllowancePut(symbol string, owner, spender [20]byte, amount *big.Int) error
}

// Ledger implements the fungible-token operations the sale and bundle
// engines rely on: balance queries, allowances and transfers. It is the
// in-process stand-in for the external token collaborators.
type Ledger struct {
	state ledgerState
}

// NewLedger constructs a token ledger without a state backend.
func NewLedger() *Ledger {
	return &Ledger{}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// NormalizeSymbol canonicalises a token symbol to its uppercase form.
func NormalizeSymbol(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("token ledger: empty token symbol")
	}
	return trimmed, nil
}

func (l *Ledger) balance(symbol string, addr [20]byte) (*big.Int, error) {
	bal, err := l.state.TokenBalanceGet(symbol, addr)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

// BalanceOf returns the balance held by addr.
func (l *Ledger) BalanceOf(symbol string, addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return l.balance(normalized, addr)
}

// Mint credits freshly issued tokens to the recipient.
func (l *Ledger) Mint(symbol string, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	bal, err := l.balance(normalized, to)
	if err != nil {
		return err
	}
	return l.state.TokenBalancePut(normalized, to, new(big.Int).Add(bal, amount))
}

// Approve sets the allowance granted by owner to spender.
func (l *Ledger) Approve(symbol string, owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token ledger: allowance must be non-negative")
	}
	return l.state.TokenAllowancePut(normalized, owner, spender, new(big.Int).Set(amount))
}

// Allowance returns the remaining allowance granted by owner to spender.
func (l *Ledger) Allowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	allowance, err := l.state.TokenAllowanceGet(normalized, owner, spender)
	if err != nil {
		return nil, err
	}
	if allowance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(allowance), nil
}

// Transfer moves tokens between two accounts. A zero amount is a no-op.
func (l *Ledger) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	return l.transfer(normalized, from, to, amount)
}

func (l *Ledger) transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal, err := l.balance(symbol, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	toBal, err := l.balance(symbol, to)
	if err != nil {
		return err
	}
	if err := l.state.TokenBalancePut(symbol, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.state.TokenBalancePut(symbol, to, new(big.Int).Add(toBal, amount))
}

// TransferFrom moves tokens on behalf of the owner, consuming the spender's
// allowance.
func (l *Ledger) TransferFrom(symbol string, spender, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	if spender != from {
		allowance, err := l.Allowance(normalized, from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return errInsufficientAllowance
		}
		if err := l.state.TokenAllowancePut(normalized, from, spender, new(big.Int).Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return l.transfer(normalized, from, to, amount)
}
