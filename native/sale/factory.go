package sale

import (
	"errors"

	"launchpad/core/events"
	"launchpad/core/types"
	"launchpad/native/token"
)

var (
	ErrNotOperator      = errors.New("sale factory: caller is not an operator")
	ErrNotAdmin         = errors.New("sale factory: caller is not the admin")
	errNotApproved      = errors.New("sale factory: non approved sale or modified params")
	ErrInvalidSignature = errors.New("sale factory: invalid signature")
	errAlreadyApproved  = errors.New("sale factory: fingerprint already approved")
)

// ApprovalStatus tracks the two-phase commit state of one sale identifier.
type ApprovalStatus uint8

const (
	ApprovalUnknown ApprovalStatus = iota
	ApprovalApproved
	ApprovalCreated
)

// Approval binds a reserved sale identifier to the fingerprint the operator
// approved. Creation succeeds only while the status is ApprovalApproved and
// the recomputed fingerprint matches.
type Approval struct {
	SaleID      uint64         `json:"saleId"`
	Fingerprint [32]byte       `json:"fingerprint"`
	Status      ApprovalStatus `json:"status"`
}

type factoryState interface {
	SaleApprovalGet(saleID uint64) (*Approval, bool, error)
	SaleApprovalPut(*Approval) error
	SaleIDByFingerprintGet(fingerprint [32]byte) (uint64, bool, error)
	SaleIDByFingerprintPut(fingerprint [32]byte, saleID uint64) error
	FactoryOperatorGet(addr [20]byte) (bool, error)
	FactoryOperatorPut(addr [20]byte, enabled bool) error
	FactoryValidatorGet(addr [20]byte) (bool, error)
	FactoryValidatorPut(addr [20]byte, enabled bool) error
}

// Factory gates sale creation behind the operator approval of a setup
// fingerprint. A seller can only turn an approved fingerprint into a live
// sale by submitting the exact parameters that were approved.
type Factory struct {
	state            factoryState
	ledger           *Ledger
	admin            [20]byte
	requireSignature bool
	emitter          events.Emitter
}

// NewFactory constructs a factory bound to the sale ledger.
func NewFactory(ledger *Ledger) *Factory {
	return &Factory{
		ledger:  ledger,
		emitter: events.NoopEmitter{},
	}
}

// SetState configures the state backend used by the factory.
func (f *Factory) SetState(state factoryState) { f.state = state }

// SetAdmin configures the identity allowed to manage operators and
// validators.
func (f *Factory) SetAdmin(addr [20]byte) { f.admin = addr }

// SetRequireSignature toggles the validator-signature creation variant.
func (f *Factory) SetRequireSignature(required bool) { f.requireSignature = required }

// SetEmitter configures the event emitter used by the factory.
func (f *Factory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

func (f *Factory) emit(evt *types.Event) {
	if f == nil || evt == nil || f.emitter == nil {
		return
	}
	f.emitter.Emit(WrapEvent(evt))
}

// SetOperator grants or revokes the operator role. Admin only.
func (f *Factory) SetOperator(caller, operator [20]byte, enabled bool) error {
	if f == nil || f.state == nil {
		return errNilState
	}
	if caller != f.admin {
		return ErrNotAdmin
	}
	if err := f.state.FactoryOperatorPut(operator, enabled); err != nil {
		return err
	}
	f.emit(OperatorUpdatedEvent(hexAddr(operator), enabled))
	return nil
}

// IsOperator reports whether the address holds the operator role.
func (f *Factory) IsOperator(addr [20]byte) (bool, error) {
	if f == nil || f.state == nil {
		return false, errNilState
	}
	return f.state.FactoryOperatorGet(addr)
}

// SetValidator grants or revokes the validator role. Admin only.
func (f *Factory) SetValidator(caller, validator [20]byte, enabled bool) error {
	if f == nil || f.state == nil {
		return errNilState
	}
	if caller != f.admin {
		return ErrNotAdmin
	}
	return f.state.FactoryValidatorPut(validator, enabled)
}

// IsValidator reports whether the address holds the validator role.
func (f *Factory) IsValidator(addr [20]byte) (bool, error) {
	if f == nil || f.state == nil {
		return false, errNilState
	}
	return f.state.FactoryValidatorGet(addr)
}

// ApproveSale records an operator approval for a setup fingerprint and
// reserves the sale identifier the seller must later use.
func (f *Factory) ApproveSale(caller [20]byte, fingerprint [32]byte) (uint64, error) {
	if f == nil || f.state == nil {
		return 0, errNilState
	}
	isOperator, err := f.state.FactoryOperatorGet(caller)
	if err != nil {
		return 0, err
	}
	if !isOperator {
		return 0, ErrNotOperator
	}
	if _, ok, err := f.state.SaleIDByFingerprintGet(fingerprint); err != nil {
		return 0, err
	} else if ok {
		return 0, errAlreadyApproved
	}
	saleID, err := f.ledger.NextSaleID()
	if err != nil {
		return 0, err
	}
	approval := &Approval{SaleID: saleID, Fingerprint: fingerprint, Status: ApprovalApproved}
	if err := f.state.SaleApprovalPut(approval); err != nil {
		return 0, err
	}
	if err := f.state.SaleIDByFingerprintPut(fingerprint, saleID); err != nil {
		return 0, err
	}
	f.emit(SaleApprovedEvent(saleID, fingerprint))
	return saleID, nil
}

// SaleIDByFingerprint resolves the sale identifier reserved for an approved
// fingerprint.
func (f *Factory) SaleIDByFingerprint(fingerprint [32]byte) (uint64, error) {
	if f == nil || f.state == nil {
		return 0, errNilState
	}
	saleID, ok, err := f.state.SaleIDByFingerprintGet(fingerprint)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errNotApproved
	}
	return saleID, nil
}

// NewSale turns an approved fingerprint into a live sale. Anyone may submit
// it (practically the seller); the recomputed fingerprint must match the
// approval, and in the signature variant the attestation must recover to a
// whitelisted validator.
func (f *Factory) NewSale(caller [20]byte, saleID uint64, setup *Setup, extraData []byte, paymentToken string, signature []byte) (*Sale, error) {
	if f == nil || f.state == nil {
		return nil, errNilState
	}
	approval, ok, err := f.state.SaleApprovalGet(saleID)
	if err != nil {
		return nil, err
	}
	if !ok || approval == nil || approval.Status != ApprovalApproved {
		return nil, errNotApproved
	}
	fingerprint, err := Fingerprint(setup, extraData, paymentToken)
	if err != nil {
		return nil, err
	}
	if fingerprint != approval.Fingerprint {
		return nil, errNotApproved
	}
	if f.requireSignature {
		signer, err := RecoverValidator(fingerprint, signature)
		if err != nil {
			return nil, ErrInvalidSignature
		}
		isValidator, err := f.state.FactoryValidatorGet(signer)
		if err != nil {
			return nil, err
		}
		if !isValidator {
			return nil, ErrInvalidSignature
		}
	}
	sanitized, err := SanitizeSetup(setup)
	if err != nil {
		return nil, err
	}
	// The payment token submitted at creation is the one bound into the
	// fingerprint; it overrides whatever the setup carried.
	sanitized.PaymentToken, err = token.NormalizeSymbol(paymentToken)
	if err != nil {
		return nil, err
	}
	sale, err := f.ledger.createSale(saleID, sanitized)
	if err != nil {
		return nil, err
	}
	approval.Status = ApprovalCreated
	if err := f.state.SaleApprovalPut(approval); err != nil {
		return nil, err
	}
	f.emit(NewSaleEvent(saleID, hexAddr(sanitized.Owner), sanitized.SellingToken))
	return sale, nil
}
