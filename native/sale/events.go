package sale

import (
	"encoding/hex"
	"strconv"

	"launchpad/core/events"
	"launchpad/core/types"
)

const (
	// EventTypeSaleApproved is emitted when an operator approves a setup fingerprint.
	EventTypeSaleApproved = "sale.approved"
	// EventTypeNewSale is emitted when an approved sale goes live.
	EventTypeNewSale = "sale.created"
	// EventTypeSaleLaunched is emitted when the seller escrows the sale inventory.
	EventTypeSaleLaunched = "sale.launched"
	// EventTypeSaleExtended is emitted when the seller tops up the sale capacity.
	EventTypeSaleExtended = "sale.extended"
	// EventTypeInvested is emitted when an investment succeeds.
	EventTypeInvested = "sale.invested"
	// EventTypeInvestorApproved is emitted when the seller approves an investor cap.
	EventTypeInvestorApproved = "sale.investor.approved"
	// EventTypeTokenListed is emitted when the vesting clock is anchored.
	EventTypeTokenListed = "sale.token.listed"
	// EventTypePaymentWithdrawn is emitted when the seller withdraws payment proceeds.
	EventTypePaymentWithdrawn = "sale.payment.withdrawn"
	// EventTypeOperatorUpdated is emitted when the operator role changes.
	EventTypeOperatorUpdated = "sale.operator.updated"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

// SaleApprovedEvent records the operator approval of a setup fingerprint.
func SaleApprovedEvent(saleID uint64, fingerprint [32]byte) *types.Event {
	return &types.Event{
		Type: EventTypeSaleApproved,
		Attributes: map[string]string{
			"saleId":      formatID(saleID),
			"fingerprint": hex.EncodeToString(fingerprint[:]),
		},
	}
}

// NewSaleEvent records a sale going live.
func NewSaleEvent(saleID uint64, owner string, sellingToken string) *types.Event {
	return &types.Event{
		Type: EventTypeNewSale,
		Attributes: map[string]string{
			"saleId":       formatID(saleID),
			"owner":        owner,
			"sellingToken": sellingToken,
		},
	}
}

// SaleLaunchedEvent records a sale being funded by the seller.
func SaleLaunchedEvent(saleID uint64, totalValue string, tokens string) *types.Event {
	return &types.Event{
		Type: EventTypeSaleLaunched,
		Attributes: map[string]string{
			"saleId":     formatID(saleID),
			"totalValue": totalValue,
			"tokens":     tokens,
		},
	}
}

// SaleExtendedEvent records a capacity top-up.
func SaleExtendedEvent(saleID uint64, extraValue string, tokens string) *types.Event {
	return &types.Event{
		Type: EventTypeSaleExtended,
		Attributes: map[string]string{
			"saleId":     formatID(saleID),
			"extraValue": extraValue,
			"tokens":     tokens,
		},
	}
}

// InvestedEvent records a successful investment.
func InvestedEvent(saleID uint64, investor string, value string, tokens string) *types.Event {
	return &types.Event{
		Type: EventTypeInvested,
		Attributes: map[string]string{
			"saleId":   formatID(saleID),
			"investor": investor,
			"value":    value,
			"tokens":   tokens,
		},
	}
}

// InvestorApprovedEvent records an investor cap approval.
func InvestorApprovedEvent(saleID uint64, investor string, amount string) *types.Event {
	return &types.Event{
		Type: EventTypeInvestorApproved,
		Attributes: map[string]string{
			"saleId":   formatID(saleID),
			"investor": investor,
			"amount":   amount,
		},
	}
}

// TokenListedEvent records the vesting clock anchor.
func TokenListedEvent(saleID uint64, listedAt int64) *types.Event {
	return &types.Event{
		Type: EventTypeTokenListed,
		Attributes: map[string]string{
			"saleId":   formatID(saleID),
			"listedAt": strconv.FormatInt(listedAt, 10),
		},
	}
}

// PaymentWithdrawnEvent records a seller payment withdrawal.
func PaymentWithdrawnEvent(saleID uint64, owner string, amount string) *types.Event {
	return &types.Event{
		Type: EventTypePaymentWithdrawn,
		Attributes: map[string]string{
			"saleId": formatID(saleID),
			"owner":  owner,
			"amount": amount,
		},
	}
}

// OperatorUpdatedEvent records an operator role change.
func OperatorUpdatedEvent(operator string, enabled bool) *types.Event {
	return &types.Event{
		Type: EventTypeOperatorUpdated,
		Attributes: map[string]string{
			"operator": operator,
			"enabled":  strconv.FormatBool(enabled),
		},
	}
}
