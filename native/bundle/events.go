package bundle

import (
	"encoding/hex"
	"strconv"
	"strings"

	"launchpad/core/events"
	"launchpad/core/types"
)

const (
	// EventTypeMinted is emitted when a new bundle identity is registered.
	EventTypeMinted = "bundle.minted"
	// EventTypeBurned is emitted when a bundle identity is retired.
	EventTypeBurned = "bundle.burned"
	// EventTypeTransferred is emitted when a bundle changes owner.
	EventTypeTransferred = "bundle.transferred"
	// EventTypeExtended is emitted when a pre-listing credit grows an allocation in place.
	EventTypeExtended = "bundle.extended"
	// EventTypeSplit is emitted when a bundle is split into a kept part and a remainder.
	EventTypeSplit = "bundle.split"
	// EventTypeMerged is emitted when several bundles collapse into one.
	EventTypeMerged = "bundle.merged"
	// EventTypeSwapped is emitted when a future-token coupon is redeemed.
	EventTypeSwapped = "bundle.swapped"
	// EventTypeWithdrawn is emitted per allocation when vested tokens are claimed.
	EventTypeWithdrawn = "bundle.withdrawn"
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

// BundleMintedEvent records a new bundle identity.
func BundleMintedEvent(id uint64, owner string, allocations int) *types.Event {
	return &types.Event{
		Type: EventTypeMinted,
		Attributes: map[string]string{
			"bundleId":    formatID(id),
			"owner":       owner,
			"allocations": strconv.Itoa(allocations),
		},
	}
}

// BundleBurnedEvent records the retirement of a bundle identity.
func BundleBurnedEvent(id uint64, owner string) *types.Event {
	return &types.Event{
		Type: EventTypeBurned,
		Attributes: map[string]string{
			"bundleId": formatID(id),
			"owner":    owner,
		},
	}
}

// BundleTransferredEvent records an ownership change.
func BundleTransferredEvent(id uint64, from, to string) *types.Event {
	return &types.Event{
		Type: EventTypeTransferred,
		Attributes: map[string]string{
			"bundleId": formatID(id),
			"from":     from,
			"to":       to,
		},
	}
}

// BundleExtendedEvent records an in-place allocation top-up before listing.
func BundleExtendedEvent(id uint64, saleID uint64, amount string) *types.Event {
	return &types.Event{
		Type: EventTypeExtended,
		Attributes: map[string]string{
			"bundleId": formatID(id),
			"saleId":   formatID(saleID),
			"amount":   amount,
		},
	}
}

// BundleSplitEvent records a split, linking the source and the kept identity.
func BundleSplitEvent(sourceID, keptID uint64, owner string) *types.Event {
	return &types.Event{
		Type: EventTypeSplit,
		Attributes: map[string]string{
			"sourceId": formatID(sourceID),
			"keptId":   formatID(keptID),
			"owner":    owner,
		},
	}
}

// BundleMergedEvent records a merge, listing every consumed identity.
func BundleMergedEvent(sourceIDs []uint64, mergedID uint64, owner string) *types.Event {
	sources := make([]string, len(sourceIDs))
	for i, id := range sourceIDs {
		sources[i] = formatID(id)
	}
	return &types.Event{
		Type: EventTypeMerged,
		Attributes: map[string]string{
			"sourceIds": strings.Join(sources, ","),
			"mergedId":  formatID(mergedID),
			"owner":     owner,
		},
	}
}

// BundleSwappedEvent records a future-token coupon redemption.
func BundleSwappedEvent(sourceID, swappedID, couponSaleID, saleID uint64) *types.Event {
	return &types.Event{
		Type: EventTypeSwapped,
		Attributes: map[string]string{
			"sourceId":     formatID(sourceID),
			"swappedId":    formatID(swappedID),
			"couponSaleId": formatID(couponSaleID),
			"saleId":       formatID(saleID),
		},
	}
}

// BundleWithdrawnEvent records a vested-token claim against one allocation.
func BundleWithdrawnEvent(id uint64, saleID uint64, owner string, amount string) *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"bundleId": formatID(id),
			"saleId":   formatID(saleID),
			"owner":    owner,
			"amount":   amount,
		},
	}
}
