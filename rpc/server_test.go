package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"launchpad/crypto"
	"launchpad/native/bundle"
	"launchpad/native/sale"
	"launchpad/native/token"
	"launchpad/native/vesting"
	"launchpad/state"
	"launchpad/storage"
)

type testActor struct {
	addr    [20]byte
	encoded string
}

func newActor(t *testing.T) testActor {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	address := key.PubKey().Address()
	var raw [20]byte
	copy(raw[:], address.Bytes())
	return testActor{addr: raw, encoded: address.String()}
}

type rpcFixture struct {
	server   *httptest.Server
	manager  *state.Manager
	admin    testActor
	operator testActor
	seller   testActor
	investor testActor
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	f := &rpcFixture{
		manager:  state.NewManager(storage.NewMemDB()),
		admin:    newActor(t),
		operator: newActor(t),
		seller:   newActor(t),
		investor: newActor(t),
	}
	feeWallet := newActor(t)
	srv := NewServer(f.manager, Params{
		Admin:     f.admin.addr,
		FeeWallet: feeWallet.addr,
		FeePoints: 100,
	}, nil)
	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *rpcFixture) post(t *testing.T, path string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (f *rpcFixture) get(t *testing.T, path string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func testSetupPayload(owner string) setupPayload {
	return setupPayload{
		Owner:          owner,
		MinAmount:      "100",
		CapAmount:      "5000",
		TotalValue:     "10000",
		PricingToken:   2,
		PricingPayment: 1,
		PaymentToken:   "USDT",
		SellingToken:   "TKN",
		Vesting: []vestingStepPayload{
			{WaitTime: 0, Percentage: 20},
			{WaitTime: 30, Percentage: 100},
		},
		TokenFeePoints:   500,
		PaymentFeePoints: 250,
	}
}

func fingerprintFor(t *testing.T, payload setupPayload) string {
	t.Helper()
	owner, err := parseAddress(payload.Owner)
	require.NoError(t, err)
	schedule, err := vesting.ValidateAndPack([]vesting.Step{
		{WaitTime: 0, Percentage: 20},
		{WaitTime: 30, Percentage: 100},
	})
	require.NoError(t, err)
	setup := &sale.Setup{
		Owner:            owner,
		MinAmount:        big.NewInt(100),
		CapAmount:        big.NewInt(5000),
		TotalValue:       big.NewInt(10000),
		PricingToken:     2,
		PricingPayment:   1,
		PaymentToken:     "USDT",
		SellingToken:     "TKN",
		VestingSchedule:  schedule,
		TokenFeePoints:   500,
		PaymentFeePoints: 250,
	}
	digest, err := sale.Fingerprint(setup, nil, "USDT")
	require.NoError(t, err)
	return hex.EncodeToString(digest[:])
}

func TestSalePipelineOverHTTP(t *testing.T) {
	f := newRPCFixture(t)

	resp := f.post(t, "/v1/operators", map[string]interface{}{
		"caller":   f.admin.encoded,
		"operator": f.operator.encoded,
		"enabled":  true,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := testSetupPayload(f.seller.encoded)
	fingerprint := fingerprintFor(t, payload)

	var approved struct {
		SaleID uint64 `json:"saleId"`
	}
	resp = f.post(t, "/v1/sales/approve", map[string]string{
		"caller":      f.operator.encoded,
		"fingerprint": fingerprint,
	}, &approved)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, uint64(1), approved.SaleID)

	var created saleResponse
	resp = f.post(t, "/v1/sales/", map[string]interface{}{
		"caller":       f.seller.encoded,
		"saleId":       approved.SaleID,
		"setup":        payload,
		"paymentToken": "USDT",
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "10000", created.TotalValue)
	require.False(t, created.Launched)

	// Fund the seller and investor directly through the store.
	tokens := token.NewLedger()
	tokens.SetState(f.manager)
	require.NoError(t, tokens.Mint("TKN", f.seller.addr, big.NewInt(21_000)))
	require.NoError(t, tokens.Mint("USDT", f.investor.addr, big.NewInt(10_000)))

	resp = f.post(t, fmt.Sprintf("/v1/sales/%d/launch", approved.SaleID), map[string]string{
		"caller": f.seller.encoded,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.post(t, fmt.Sprintf("/v1/sales/%d/investors", approved.SaleID), map[string]interface{}{
		"caller":    f.seller.encoded,
		"investors": []string{f.investor.encoded},
		"amounts":   []string{"2000"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.post(t, fmt.Sprintf("/v1/sales/%d/invest", approved.SaleID), map[string]string{
		"caller": f.investor.encoded,
		"value":  "1000",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched saleResponse
	resp = f.get(t, fmt.Sprintf("/v1/sales/%d", approved.SaleID), &fetched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "9000", fetched.RemainingValue)
	require.Equal(t, "1000", fetched.InvestedValue)

	var owned struct {
		BundleIDs []uint64 `json:"bundleIds"`
	}
	resp = f.get(t, "/v1/owners/"+f.investor.encoded+"/bundles", &owned)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, owned.BundleIDs, 1)

	var record bundleResponse
	resp = f.get(t, fmt.Sprintf("/v1/bundles/%d", owned.BundleIDs[0]), &record)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, record.Allocations, 1)
	require.Equal(t, "1900", record.Allocations[0].Remaining)
}

func TestFailedOperationLeavesStateUntouched(t *testing.T) {
	f := newRPCFixture(t)

	// Approving a sale without the operator role must fail and leave the
	// sale counter untouched.
	resp := f.post(t, "/v1/sales/approve", map[string]string{
		"caller":      f.seller.encoded,
		"fingerprint": fingerprintFor(t, testSetupPayload(f.seller.encoded)),
	}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	counter, err := f.manager.SaleCounterGet()
	require.NoError(t, err)
	require.Zero(t, counter)
}

func TestBadRequestsAreRejected(t *testing.T) {
	f := newRPCFixture(t)

	resp := f.post(t, "/v1/sales/approve", map[string]string{
		"caller":      "not-an-address",
		"fingerprint": "00",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.get(t, "/v1/sales/999", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.get(t, "/v1/bundles/999", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusForMapsSentinelErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{sale.ErrSaleNotFound, http.StatusNotFound},
		{bundle.ErrBundleNotFound, http.StatusNotFound},
		{sale.ErrNotOperator, http.StatusForbidden},
		{sale.ErrNotAdmin, http.StatusForbidden},
		{sale.ErrNotSaleOwner, http.StatusForbidden},
		{sale.ErrInvalidSignature, http.StatusForbidden},
		{bundle.ErrNotBundleOwner, http.StatusForbidden},
		{fmt.Errorf("launch: %w", sale.ErrNotSaleOwner), http.StatusForbidden},
		{fmt.Errorf("lookup: %w", bundle.ErrBundleNotFound), http.StatusNotFound},
		{errors.New("sale: investment exceeds remaining capacity"), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, statusFor(tc.err), tc.err.Error())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newRPCFixture(t)
	resp := f.get(t, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}
