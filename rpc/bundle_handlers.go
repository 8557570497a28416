package rpc

import (
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"launchpad/native/bundle"
)

type allocationResponse struct {
	SaleID    uint64 `json:"saleId"`
	Remaining string `json:"remaining"`
	Settled   uint8  `json:"settled"`
}

type bundleResponse struct {
	ID          uint64               `json:"id"`
	Owner       string               `json:"owner"`
	Allocations []allocationResponse `json:"allocations"`
}

func bundleView(record *bundle.Bundle) *bundleResponse {
	allocations := make([]allocationResponse, len(record.Allocations))
	for i, a := range record.Allocations {
		allocations[i] = allocationResponse{
			SaleID:    a.SaleID,
			Remaining: a.Remaining.String(),
			Settled:   a.Settled,
		}
	}
	return &bundleResponse{
		ID:          record.ID,
		Owner:       encodeAddress(record.Owner),
		Allocations: allocations,
	}
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.view().bundleLedger.Bundle(id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, bundleView(record))
}

func (s *Server) handleBundlesOf(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ids, err := s.view().bundleLedger.BundlesOf(owner)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]uint64{"bundleIds": ids})
}

func (s *Server) handleWithdrawables(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	saleIDs, amounts, err := s.view().bundleLedger.Withdrawables(id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	entries := make([]map[string]string, len(saleIDs))
	for i := range saleIDs {
		entries[i] = map[string]string{
			"saleId": formatUint(saleIDs[i]),
			"amount": amounts[i].String(),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"withdrawables": entries})
}

func (s *Server) handleTransferBundle(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
		To     string `json:"to"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.exec(func(e *engines) error {
		return e.bundleLedger.Transfer(caller, id, to)
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"bundleId": id})
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller      string   `json:"caller"`
		KeptAmounts []string `json:"keptAmounts"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	kept := make([]*big.Int, len(req.KeptAmounts))
	for i, encoded := range req.KeptAmounts {
		if kept[i], err = parseAmount(encoded); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		if kept[i] == nil {
			kept[i] = big.NewInt(0)
		}
	}
	var keptID uint64
	if err := s.exec(func(e *engines) error {
		keptID, err = e.bundles.Split(caller, id, kept)
		return err
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]uint64{"bundleId": keptID})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string   `json:"caller"`
		IDs    []uint64 `json:"bundleIds"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var mergedID uint64
	if err := s.exec(func(e *engines) error {
		mergedID, err = e.bundles.Merge(caller, req.IDs)
		return err
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]uint64{"bundleId": mergedID})
}

func (s *Server) handleAreMergeable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string   `json:"caller"`
		IDs    []uint64 `json:"bundleIds"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	mergeable, reason, err := s.view().bundles.AreMergeable(caller, req.IDs)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"mergeable": mergeable,
		"reason":    reason,
	})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
		SaleID uint64 `json:"saleId"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var swappedID uint64
	if err := s.exec(func(e *engines) error {
		swappedID, err = e.bundles.Swap(caller, id, req.SaleID)
		return err
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]uint64{"bundleId": swappedID})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller  string   `json:"caller"`
		Amounts []string `json:"amounts"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amounts := make([]*big.Int, len(req.Amounts))
	for i, encoded := range req.Amounts {
		if amounts[i], err = parseAmount(encoded); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	var newID uint64
	if err := s.exec(func(e *engines) error {
		newID, err = e.bundles.Withdraw(caller, id, amounts)
		return err
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"bundleId": newID})
}
