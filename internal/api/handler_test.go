package api_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayo6706/seller-ledger/internal/api"
	"github.com/ayo6706/seller-ledger/internal/api/middleware"
	"github.com/ayo6706/seller-ledger/internal/config"
	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/idempotency"
	"github.com/ayo6706/seller-ledger/internal/repository/memory"
	"github.com/ayo6706/seller-ledger/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "seller-ledger-test"
	testJWTAudience = "seller-ledger-api-test"
	testIntakeKey   = "intake-test-key"
)

type testAPI struct {
	handler http.Handler
	auth    *middleware.Authenticator
	store   *memory.Store
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.NewStore()
	cfg := &config.Config{
		HTTPPort:              "0",
		StorageDriver:         config.StorageDriverMemory,
		JWTSecret:             testJWTSecret,
		JWTIssuer:             testJWTIssuer,
		JWTAudience:           testJWTAudience,
		IntakeHMACKey:         testIntakeKey,
		CommissionRatePercent: decimal.NewFromInt(10),
		MinWithdrawal:         domain.Money(100_00),
		PublicRateLimitRPS:    1000,
		AuthRateLimitRPS:      1000,
		IdempotencyTTL:        time.Hour,
	}
	retry := service.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaximumBackoff: 2 * time.Millisecond}
	ledger := service.NewLedgerService(store, retry)
	services := api.Services{
		Ledger: ledger,
		Withdrawals: service.NewWithdrawalService(store, ledger, service.WithdrawalConfig{
			CommissionRatePercent: cfg.CommissionRatePercent,
			MinWithdrawal:         cfg.MinWithdrawal,
		}),
		Orders: service.NewOrderService(store, ledger, retry),
		Intake: service.NewIntakeService(store, cfg.IntakeHMACKey, false),
	}
	idemStore := idempotency.NewStore(nil, store, cfg.IdempotencyTTL)
	router := api.NewRouter(cfg, zap.NewNop(), nil, idemStore, nil, services)

	return &testAPI{
		handler: router.Routes(),
		auth:    middleware.NewAuthenticator(testJWTSecret, testJWTIssuer, testJWTAudience),
		store:   store,
	}
}

func (a *testAPI) token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	tok, err := a.auth.IssueToken(userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

type requestOption func(*http.Request)

func withToken(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func (a *testAPI) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func computeHMAC(payload []byte, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func intakePayload(t *testing.T, orderID, sellerID uuid.UUID, sellerTotal string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"order_id":  orderID.String(),
		"seller_id": sellerID.String(),
		"line_items": []map[string]any{
			{"product_id": "sku-1", "name": "Kettle", "quantity": 1, "unit_price": "500.00"},
		},
		"total":        "500.00",
		"seller_total": sellerTotal,
		"payment_mode": "online",
	})
	require.NoError(t, err)
	return raw
}

// deliverOrder pushes an order through intake and walks it to delivered as the seller.
func (a *testAPI) deliverOrder(t *testing.T, sellerID uuid.UUID, sellerTotal string) uuid.UUID {
	t.Helper()
	orderID := uuid.New()
	payload := intakePayload(t, orderID, sellerID, sellerTotal)
	w := a.do(t, http.MethodPost, "/v1/intake/orders", payload, withHeader("X-Intake-Signature", computeHMAC(payload, testIntakeKey)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	tok := a.token(t, sellerID, middleware.RoleSeller)
	for _, status := range []string{"packed", "shipped", "in_transit", "delivered"} {
		w := a.do(t, http.MethodPatch, "/v1/orders/"+orderID.String()+"/status", map[string]string{"status": status}, withToken(tok))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	return orderID
}

func TestRFC7807ProblemDetails(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, http.MethodGet, "/v1/wallet", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	body := decode[map[string]any](t, w)
	assert.NotEmpty(t, body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/v1/wallet", body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestHealthMetricsAndDocs(t *testing.T) {
	a := setupAPI(t)

	for _, path := range []string{"/health/live", "/health/ready", "/metrics", "/openapi.yaml", "/docs/index.html"} {
		t.Run(path, func(t *testing.T) {
			w := a.do(t, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestIntakeEndpoint(t *testing.T) {
	a := setupAPI(t)
	orderID, sellerID := uuid.New(), uuid.New()
	payload := intakePayload(t, orderID, sellerID, "450.00")
	sig := withHeader("X-Intake-Signature", computeHMAC(payload, testIntakeKey))

	w := a.do(t, http.MethodPost, "/v1/intake/orders", payload, sig)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[service.IntakeResult](t, w)
	assert.True(t, res.Created)
	assert.Equal(t, domain.Money(450_00), res.Order.SellerTotal)

	w = a.do(t, http.MethodPost, "/v1/intake/orders", payload, sig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[service.IntakeResult](t, w).Created)

	changed := intakePayload(t, orderID, sellerID, "400.00")
	w = a.do(t, http.MethodPost, "/v1/intake/orders", changed, withHeader("X-Intake-Signature", computeHMAC(changed, testIntakeKey)))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodPost, "/v1/intake/orders", payload, withHeader("X-Intake-Signature", computeHMAC(payload, "wrong")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrderLifecycleCreditsWallet(t *testing.T) {
	a := setupAPI(t)
	sellerID := uuid.New()
	orderID := a.deliverOrder(t, sellerID, "450.00")
	tok := a.token(t, sellerID, middleware.RoleSeller)

	w := a.do(t, http.MethodGet, "/v1/wallet", nil, withToken(tok))
	require.Equal(t, http.StatusOK, w.Code)
	wallet := decode[map[string]any](t, w)
	assert.Equal(t, "450.00", wallet["available_balance"])
	assert.Equal(t, "450.00", wallet["total_earnings"])

	w = a.do(t, http.MethodGet, "/v1/orders/"+orderID.String(), nil, withToken(tok))
	require.Equal(t, http.StatusOK, w.Code)
	details := decode[service.OrderDetails](t, w)
	assert.Equal(t, domain.OrderStatusDelivered, details.Status)
	assert.Len(t, details.History, 5)

	w = a.do(t, http.MethodGet, "/v1/seller-orders?status=delivered", nil, withToken(tok))
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[map[string]any](t, w)
	assert.Len(t, page["items"], 1)

	w = a.do(t, http.MethodGet, "/v1/ledger", nil, withToken(tok))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string]any](t, w)["items"], 1)

	// A redelivered delivered event is answered without a second credit.
	w = a.do(t, http.MethodPatch, "/v1/orders/"+orderID.String()+"/status", map[string]string{"status": "delivered"}, withToken(tok))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do(t, http.MethodGet, "/v1/ledger", nil, withToken(tok))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string]any](t, w)["items"], 1)
}

func TestOrderStatusErrors(t *testing.T) {
	a := setupAPI(t)
	sellerID := uuid.New()
	orderID := a.deliverOrder(t, sellerID, "450.00")
	tok := a.token(t, sellerID, middleware.RoleSeller)
	path := "/v1/orders/" + orderID.String() + "/status"

	w := a.do(t, http.MethodPatch, path, map[string]string{"status": "shipped"}, withToken(tok))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = a.do(t, http.MethodPatch, path, map[string]string{"status": "cancelled"}, withToken(tok))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPatch, path, map[string]string{"status": "teleported"}, withToken(tok))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	other := a.token(t, uuid.New(), middleware.RoleSeller)
	w = a.do(t, http.MethodPatch, path, map[string]string{"status": "cancelled", "note": "x"}, withToken(other))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodPatch, path, map[string]string{"status": "cancelled", "note": "damaged in transit"}, withToken(tok))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/v1/wallet", nil, withToken(tok))
	wallet := decode[map[string]any](t, w)
	assert.Equal(t, "0.00", wallet["available_balance"])
	assert.Equal(t, "450.00", wallet["lifetime_revenue"])
}

func TestAdminCanUpdateAnyOrder(t *testing.T) {
	a := setupAPI(t)
	sellerID := uuid.New()
	orderID := uuid.New()
	payload := intakePayload(t, orderID, sellerID, "450.00")
	w := a.do(t, http.MethodPost, "/v1/intake/orders", payload, withHeader("X-Intake-Signature", computeHMAC(payload, testIntakeKey)))
	require.Equal(t, http.StatusCreated, w.Code)

	admin := a.token(t, uuid.New(), middleware.RoleAdmin)
	w = a.do(t, http.MethodPatch, "/v1/orders/"+orderID.String()+"/status", map[string]string{"status": "packed"}, withToken(admin))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodPatch, "/v1/orders/"+orderID.String()+"/status",
		map[string]string{"status": "shipped", "seller_id": uuid.NewString()}, withToken(admin))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWithdrawalFlow(t *testing.T) {
	a := setupAPI(t)
	sellerID := uuid.New()
	a.deliverOrder(t, sellerID, "450.00")
	seller := a.token(t, sellerID, middleware.RoleSeller)
	admin := a.token(t, uuid.New(), middleware.RoleAdmin)

	w := a.do(t, http.MethodPost, "/v1/withdrawals", map[string]string{"amount": "200.00"}, withToken(seller))
	require.Equal(t, http.StatusBadRequest, w.Code)

	key := withHeader("Idempotency-Key", "wd-1")
	w = a.do(t, http.MethodPost, "/v1/withdrawals", map[string]string{"amount": "200.00", "note": "rent"}, withToken(seller), key)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[map[string]any](t, w)
	id := created["id"].(string)
	breakdown := created["breakdown"].(map[string]any)
	assert.Equal(t, "20.00", breakdown["commission_amount"])
	assert.Equal(t, "3.60", breakdown["gst_on_commission"])
	assert.Equal(t, "176.40", breakdown["net_payable"])

	replay := a.do(t, http.MethodPost, "/v1/withdrawals", map[string]string{"amount": "200.00", "note": "rent"}, withToken(seller), key)
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.NotEmpty(t, replay.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, id, decode[map[string]any](t, replay)["id"])

	w = a.do(t, http.MethodPost, "/v1/withdrawals", map[string]string{"amount": "300.00"}, withToken(seller), key)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodGet, "/v1/wallet", nil, withToken(seller))
	wallet := decode[map[string]any](t, w)
	assert.Equal(t, "250.00", wallet["available_balance"])
	assert.Equal(t, "200.00", wallet["held_for_pending_withdrawals"])

	w = a.do(t, http.MethodPost, "/v1/withdrawals/"+id+"/decision", map[string]string{"decision": "approved"}, withToken(seller))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, "/v1/withdrawals/"+id+"/processing", nil, withToken(admin))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, "/v1/withdrawals/"+id+"/decision", map[string]string{"decision": "approved", "note": "paid"}, withToken(admin))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "approved", decode[map[string]any](t, w)["status"])

	w = a.do(t, http.MethodPost, "/v1/withdrawals/"+id+"/decision", map[string]string{"decision": "rejected"}, withToken(admin))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodGet, "/v1/sellers/"+sellerID.String()+"/wallet", nil, withToken(admin))
	require.Equal(t, http.StatusOK, w.Code)
	wallet = decode[map[string]any](t, w)
	assert.Equal(t, "250.00", wallet["available_balance"])
	assert.Equal(t, "0.00", wallet["held_for_pending_withdrawals"])
	assert.Equal(t, "200.00", wallet["total_withdrawn"])

	w = a.do(t, http.MethodGet, "/v1/sellers/"+sellerID.String()+"/ledger?limit=2", nil, withToken(admin))
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[map[string]any](t, w)
	assert.Len(t, page["items"], 2)
	assert.NotEmpty(t, page["next_cursor"])
}

func TestWithdrawalValidationAndBalance(t *testing.T) {
	a := setupAPI(t)
	sellerID := uuid.New()
	a.deliverOrder(t, sellerID, "150.00")
	seller := a.token(t, sellerID, middleware.RoleSeller)

	w := a.do(t, http.MethodPost, "/v1/withdrawals", map[string]any{"amount": 0}, withToken(seller), withHeader("Idempotency-Key", "v-1"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	problem := decode[map[string]any](t, w)
	errs, ok := problem["errors"].(map[string]any)
	require.True(t, ok, w.Body.String())
	assert.Contains(t, errs, "amount")

	w = a.do(t, http.MethodPost, "/v1/withdrawals", map[string]string{"amount": "10.005"}, withToken(seller), withHeader("Idempotency-Key", "v-2"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/v1/withdrawals", map[string]string{"amount": "50.00"}, withToken(seller), withHeader("Idempotency-Key", "v-3"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/v1/withdrawals", map[string]string{"amount": "150.01"}, withToken(seller), withHeader("Idempotency-Key", "v-4"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = a.do(t, http.MethodPost, "/v1/withdrawals", map[string]string{"amount": "100", "surprise": "x"}, withToken(seller), withHeader("Idempotency-Key", "v-5"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Hundredths beyond int64 must not wrap into a small valid amount.
	w = a.do(t, http.MethodPost, "/v1/withdrawals", map[string]string{"amount": "184467440737095616.16"}, withToken(seller), withHeader("Idempotency-Key", "v-6"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/v1/wallet", nil, withToken(seller))
	require.Equal(t, http.StatusOK, w.Code)
	wallet := decode[map[string]any](t, w)
	assert.Equal(t, "150.00", wallet["available_balance"])
}

func TestWithdrawalScopingAndCancel(t *testing.T) {
	a := setupAPI(t)
	sellerID := uuid.New()
	a.deliverOrder(t, sellerID, "450.00")
	seller := a.token(t, sellerID, middleware.RoleSeller)
	otherSeller := a.token(t, uuid.New(), middleware.RoleSeller)
	admin := a.token(t, uuid.New(), middleware.RoleAdmin)

	w := a.do(t, http.MethodPost, "/v1/withdrawals", map[string]string{"amount": "100.00"}, withToken(seller), withHeader("Idempotency-Key", "c-1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[map[string]any](t, w)["id"].(string)

	// Same client key from another seller is a different request.
	w = a.do(t, http.MethodPost, "/v1/withdrawals", map[string]string{"amount": "100.00"}, withToken(otherSeller), withHeader("Idempotency-Key", "c-1"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = a.do(t, http.MethodGet, "/v1/withdrawals/"+id, nil, withToken(otherSeller))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = a.do(t, http.MethodGet, "/v1/withdrawals/"+id, nil, withToken(admin))
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/v1/withdrawals?status=pending", nil, withToken(otherSeller))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[map[string]any](t, w)["items"])
	w = a.do(t, http.MethodGet, "/v1/withdrawals?seller_id="+sellerID.String(), nil, withToken(admin))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string]any](t, w)["items"], 1)

	w = a.do(t, http.MethodPost, "/v1/withdrawals/"+id+"/cancel", map[string]string{"note": "changed my mind"}, withToken(otherSeller))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = a.do(t, http.MethodPost, "/v1/withdrawals/"+id+"/cancel", map[string]string{"note": "changed my mind"}, withToken(seller))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cancelled", decode[map[string]any](t, w)["status"])

	w = a.do(t, http.MethodGet, "/v1/wallet", nil, withToken(seller))
	assert.Equal(t, "450.00", decode[map[string]any](t, w)["available_balance"])
}

func TestRoleEnforcement(t *testing.T) {
	a := setupAPI(t)
	seller := a.token(t, uuid.New(), middleware.RoleSeller)
	admin := a.token(t, uuid.New(), middleware.RoleAdmin)

	w := a.do(t, http.MethodGet, "/v1/sellers/"+uuid.NewString()+"/wallet", nil, withToken(seller))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodGet, "/v1/wallet", nil, withToken(admin))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodGet, "/v1/wallet", nil, withToken("not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	foreign := middleware.NewAuthenticator("another-secret-0123456789-another", testJWTIssuer, testJWTAudience)
	tok, err := foreign.IssueToken(uuid.New(), middleware.RoleSeller, time.Hour)
	require.NoError(t, err)
	w = a.do(t, http.MethodGet, "/v1/wallet", nil, withToken(tok))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, http.MethodGet, "/v1/wallet", nil, withToken(a.token(t, uuid.New(), "support")))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
