package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"

	"launchpad/native/sale"
	"launchpad/native/vesting"
)

type vestingStepPayload struct {
	WaitTime   uint32 `json:"waitTime"`
	Percentage uint8  `json:"percentage"`
}

type setupPayload struct {
	Owner               string               `json:"owner"`
	MinAmount           string               `json:"minAmount"`
	CapAmount           string               `json:"capAmount"`
	TotalValue          string               `json:"totalValue"`
	PricingToken        uint64               `json:"pricingToken"`
	PricingPayment      uint64               `json:"pricingPayment"`
	PaymentToken        string               `json:"paymentToken"`
	SellingToken        string               `json:"sellingToken"`
	Vesting             []vestingStepPayload `json:"vesting"`
	TokenIsTransferable bool                 `json:"tokenIsTransferable"`
	TokenFeePoints      uint32               `json:"tokenFeePoints"`
	ExtraFeePoints      uint32               `json:"extraFeePoints"`
	PaymentFeePoints    uint32               `json:"paymentFeePoints"`
	IsFutureToken       bool                 `json:"isFutureToken"`
	FutureTokenSaleID   uint64               `json:"futureTokenSaleId"`
}

func (p *setupPayload) toSetup() (*sale.Setup, error) {
	owner, err := parseAddress(p.Owner)
	if err != nil {
		return nil, err
	}
	minAmount, err := parseAmount(p.MinAmount)
	if err != nil {
		return nil, err
	}
	capAmount, err := parseAmount(p.CapAmount)
	if err != nil {
		return nil, err
	}
	totalValue, err := parseAmount(p.TotalValue)
	if err != nil {
		return nil, err
	}
	steps := make([]vesting.Step, len(p.Vesting))
	for i, step := range p.Vesting {
		steps[i] = vesting.Step{WaitTime: step.WaitTime, Percentage: step.Percentage}
	}
	schedule, err := vesting.ValidateAndPack(steps)
	if err != nil {
		return nil, err
	}
	return &sale.Setup{
		Owner:               owner,
		MinAmount:           minAmount,
		CapAmount:           capAmount,
		TotalValue:          totalValue,
		PricingToken:        p.PricingToken,
		PricingPayment:      p.PricingPayment,
		PaymentToken:        p.PaymentToken,
		SellingToken:        p.SellingToken,
		VestingSchedule:     schedule,
		TokenIsTransferable: p.TokenIsTransferable,
		TokenFeePoints:      p.TokenFeePoints,
		ExtraFeePoints:      p.ExtraFeePoints,
		PaymentFeePoints:    p.PaymentFeePoints,
		IsFutureToken:       p.IsFutureToken,
		FutureTokenSaleID:   p.FutureTokenSaleID,
	}, nil
}

type saleResponse struct {
	ID               uint64 `json:"id"`
	Owner            string `json:"owner"`
	Launched         bool   `json:"launched"`
	Listed           bool   `json:"listed"`
	TotalValue       string `json:"totalValue"`
	RemainingValue   string `json:"remainingValue"`
	InvestedValue    string `json:"investedValue"`
	PaymentToken     string `json:"paymentToken"`
	SellingToken     string `json:"sellingToken"`
	VestedPercentage uint8  `json:"vestedPercentage"`
}

func saleView(e *engines, record *sale.Sale) (*saleResponse, error) {
	vested, err := e.saleLedger.VestedPercentage(record.ID)
	if err != nil {
		return nil, err
	}
	return &saleResponse{
		ID:               record.ID,
		Owner:            encodeAddress(record.Setup.Owner),
		Launched:         record.Launched,
		Listed:           record.Listed(),
		TotalValue:       record.Setup.TotalValue.String(),
		RemainingValue:   record.RemainingValue.String(),
		InvestedValue:    record.InvestedValue.String(),
		PaymentToken:     record.Setup.PaymentToken,
		SellingToken:     record.Setup.SellingToken,
		VestedPercentage: vested,
	}, nil
}

func parseFingerprint(encoded string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("invalid fingerprint %q", encoded)
	}
	copy(out[:], raw)
	return out, nil
}

func (s *Server) handleSetOperator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		Operator string `json:"operator"`
		Enabled  bool   `json:"enabled"`
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
	operator, err := parseAddress(req.Operator)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.exec(func(e *engines) error {
		return e.factory.SetOperator(caller, operator, req.Enabled)
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleSetValidator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    string `json:"caller"`
		Validator string `json:"validator"`
		Enabled   bool   `json:"enabled"`
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
	validator, err := parseAddress(req.Validator)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.exec(func(e *engines) error {
		return e.factory.SetValidator(caller, validator, req.Enabled)
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleApproveSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller      string `json:"caller"`
		Fingerprint string `json:"fingerprint"`
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
	fingerprint, err := parseFingerprint(req.Fingerprint)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var saleID uint64
	if err := s.exec(func(e *engines) error {
		saleID, err = e.factory.ApproveSale(caller, fingerprint)
		return err
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]uint64{"saleId": saleID})
}

func (s *Server) handleNewSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller       string       `json:"caller"`
		SaleID       uint64       `json:"saleId"`
		Setup        setupPayload `json:"setup"`
		ExtraData    string       `json:"extraData"`
		PaymentToken string       `json:"paymentToken"`
		Signature    string       `json:"signature"`
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
	setup, err := req.Setup.toSetup()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	extraData, err := hex.DecodeString(req.ExtraData)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid extra data: %w", err))
		return
	}
	signature, err := hex.DecodeString(req.Signature)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid signature encoding: %w", err))
		return
	}
	var response *saleResponse
	if err := s.exec(func(e *engines) error {
		record, err := e.factory.NewSale(caller, req.SaleID, setup, extraData, req.PaymentToken, signature)
		if err != nil {
			return err
		}
		response, err = saleView(e, record)
		return err
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, response)
}

func (s *Server) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	e := s.view()
	record, err := e.saleLedger.Sale(id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	response, err := saleView(e, record)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
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
	if err := s.exec(func(e *engines) error {
		return e.saleEngine.Launch(caller, id)
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"saleId": id})
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller     string `json:"caller"`
		ExtraValue string `json:"extraValue"`
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
	extraValue, err := parseAmount(req.ExtraValue)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.exec(func(e *engines) error {
		return e.saleEngine.Extend(caller, id, extraValue)
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"saleId": id})
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
		Value  string `json:"value"`
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
	value, err := parseAmount(req.Value)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.exec(func(e *engines) error {
		return e.saleEngine.Invest(caller, id, value)
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"saleId": id})
}

func (s *Server) handleApproveInvestors(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller    string   `json:"caller"`
		Investors []string `json:"investors"`
		Amounts   []string `json:"amounts"`
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
	investors := make([][20]byte, len(req.Investors))
	for i, encoded := range req.Investors {
		if investors[i], err = parseAddress(encoded); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	amounts := make([]*big.Int, len(req.Amounts))
	for i, encoded := range req.Amounts {
		if amounts[i], err = parseAmount(encoded); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.exec(func(e *engines) error {
		return e.saleLedger.ApproveInvestors(caller, id, investors, amounts)
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"approved": len(investors)})
}

func (s *Server) handleTriggerListing(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
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
	if err := s.exec(func(e *engines) error {
		return e.saleLedger.TriggerTokenListing(caller, id)
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"saleId": id})
}

func (s *Server) handleWithdrawPayment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
		Amount string `json:"amount"`
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
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var withdrawn *big.Int
	if err := s.exec(func(e *engines) error {
		withdrawn, err = e.saleEngine.WithdrawPayment(caller, id, amount)
		return err
	}); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"withdrawn": withdrawn.String()})
}
