package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"launchpad/crypto"
	"launchpad/native/bundle"
	"launchpad/native/sale"
	"launchpad/native/token"
	"launchpad/state"
)

// Params carries the node-level wiring the engines need on every request.
type Params struct {
	Admin            [20]byte
	FeeWallet        [20]byte
	FeePoints        uint32
	RequireSignature bool
}

// Server exposes the sale and bundle operations over HTTP. Every mutating
// handler runs inside a state transaction: either the whole operation lands
// or none of it does.
type Server struct {
	state  *state.Manager
	params Params
	log    *slog.Logger
	router chi.Router
}

// NewServer builds the HTTP surface over a state manager.
func NewServer(st *state.Manager, params Params, log *slog.Logger) *Server {
	s := &Server{state: st, params: params, log: log}
	m := newMetrics()
	r := chi.NewRouter()
	r.Use(m.instrument)
	r.Use(rateLimit(rate.NewLimiter(rate.Limit(200), 400)))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Method(http.MethodGet, "/metrics", m.handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/operators", s.handleSetOperator)
		r.Post("/validators", s.handleSetValidator)

		r.Route("/sales", func(r chi.Router) {
			r.Post("/approve", s.handleApproveSale)
			r.Post("/", s.handleNewSale)
			r.Get("/{id}", s.handleGetSale)
			r.Post("/{id}/launch", s.handleLaunch)
			r.Post("/{id}/extend", s.handleExtend)
			r.Post("/{id}/invest", s.handleInvest)
			r.Post("/{id}/investors", s.handleApproveInvestors)
			r.Post("/{id}/list", s.handleTriggerListing)
			r.Post("/{id}/withdraw-payment", s.handleWithdrawPayment)
		})

		r.Route("/bundles", func(r chi.Router) {
			r.Get("/{id}", s.handleGetBundle)
			r.Get("/{id}/withdrawables", s.handleWithdrawables)
			r.Post("/{id}/transfer", s.handleTransferBundle)
			r.Post("/{id}/split", s.handleSplit)
			r.Post("/{id}/swap", s.handleSwap)
			r.Post("/{id}/withdraw", s.handleWithdraw)
			r.Post("/merge", s.handleMerge)
			r.Post("/mergeable", s.handleAreMergeable)
		})

		r.Get("/owners/{addr}/bundles", s.handleBundlesOf)
	})
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// engines bundles every ledger wired over one state view.
type engines struct {
	tokens       *token.Ledger
	saleLedger   *sale.Ledger
	factory      *sale.Factory
	saleEngine   *sale.Engine
	bundleLedger *bundle.Ledger
	bundles      *bundle.Manager
}

func (s *Server) wire(m *state.Manager) *engines {
	e := &engines{}
	e.tokens = token.NewLedger()
	e.tokens.SetState(m)

	e.saleLedger = sale.NewLedger()
	e.saleLedger.SetState(m)

	e.factory = sale.NewFactory(e.saleLedger)
	e.factory.SetState(m)
	e.factory.SetAdmin(s.params.Admin)
	e.factory.SetRequireSignature(s.params.RequireSignature)

	e.bundleLedger = bundle.NewLedger()
	e.bundleLedger.SetState(m)
	e.bundleLedger.SetSales(e.saleLedger)

	e.bundles = bundle.NewManager(e.bundleLedger)
	e.bundles.SetTokens(e.tokens)
	e.bundles.SetFeeWallet(s.params.FeeWallet)
	e.bundles.SetFeePoints(s.params.FeePoints)

	e.saleEngine = sale.NewEngine(e.saleLedger)
	e.saleEngine.SetTokens(e.tokens)
	e.saleEngine.SetBundles(e.bundles)
	e.saleEngine.SetFeeWallet(s.params.FeeWallet)
	return e
}

// exec runs fn inside a state transaction with freshly wired engines.
func (s *Server) exec(fn func(*engines) error) error {
	return s.state.Exec(func(m *state.Manager) error {
		return fn(s.wire(m))
	})
}

// view wires engines over the live store for read-only handlers.
func (s *Server) view() *engines { return s.wire(s.state) }

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && s.log != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if s.log != nil {
		s.log.Warn("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseAddress(encoded string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(encoded))
	if err != nil {
		return out, fmt.Errorf("invalid address %q: %w", encoded, err)
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func parseAmount(encoded string) (*big.Int, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", encoded)
	}
	return amount, nil
}

func parseID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid identifier %q", raw)
	}
	return id, nil
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func encodeAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.LPPrefix, addr[:]).String()
}

var errNotFound = errors.New("not found")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errNotFound),
		errors.Is(err, sale.ErrSaleNotFound),
		errors.Is(err, bundle.ErrBundleNotFound):
		return http.StatusNotFound
	case errors.Is(err, sale.ErrNotOperator),
		errors.Is(err, sale.ErrNotAdmin),
		errors.Is(err, sale.ErrNotSaleOwner),
		errors.Is(err, sale.ErrInvalidSignature),
		errors.Is(err, bundle.ErrNotBundleOwner):
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}
