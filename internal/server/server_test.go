package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/MoonPathBot/internal/config"
	"github.com/digkill/MoonPathBot/internal/history"
	"github.com/digkill/MoonPathBot/internal/metrics"
	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/payment"
	"github.com/digkill/MoonPathBot/internal/repository"
	"github.com/digkill/MoonPathBot/internal/securestore"
	"github.com/digkill/MoonPathBot/internal/service"
	"github.com/digkill/MoonPathBot/internal/session"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

type stubLedger struct {
	payments []models.Payment
}

func (l stubLedger) ListByNamespace(_ context.Context, _ string, limit int) ([]models.Payment, error) {
	if len(l.payments) > limit {
		return l.payments[:limit], nil
	}
	return l.payments, nil
}

type fixture struct {
	kv      repository.KV
	plans   *service.PlanService
	metrics *metrics.Collector
	handler http.Handler
}

func newFixture(t *testing.T, mutate func(*config.Config, *Deps)) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := repository.NewMemoryKV()
	plans := service.NewPlanService(securestore.New(kv, securestore.NewObfuscator("secret"), log), log)
	m := metrics.New()
	cfg := config.Config{
		AdminUsername:    "admin",
		AdminPassword:    "pw",
		APIRatePerSecond: 100,
		APIBurst:         100,
	}
	deps := Deps{
		KV:       kv,
		Plans:    plans,
		Payments: service.NewPaymentService(log, payment.NewGateway(0), nil, m),
		Metrics:  m,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	return &fixture{kv: kv, plans: plans, metrics: m, handler: NewServer(cfg, log, deps).Handler()}
}

func (f *fixture) do(method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.SetBasicAuth("admin", "pw")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestProcessPayment(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantKey    string
		wantText   string
	}{
		{
			name:       "success with plan object",
			body:       `{"cardNumber":"4242424242424242","expiry":"12 / 30","cvc":"123","plan":{"name":"MoonPath Plus","price":"$4.99"}}`,
			wantStatus: http.StatusOK,
			wantKey:    "message",
			wantText:   "Successfully subscribed to MoonPath Plus.",
		},
		{
			name:       "success with plan string",
			body:       `{"cardNumber":"4242 4242 4242 4242","expiry":"12 / 30","cvc":"123","plan":"MoonPath Premium"}`,
			wantStatus: http.StatusOK,
			wantKey:    "message",
			wantText:   "Successfully subscribed to MoonPath Premium.",
		},
		{
			name:       "insufficient funds",
			body:       `{"cardNumber":"5105105105105100","expiry":"12 / 30","cvc":"123","plan":"MoonPath Plus"}`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantText:   "Your card has insufficient funds.",
		},
		{
			name:       "declined",
			body:       `{"cardNumber":"4111111111111111","expiry":"12 / 30","cvc":"123","plan":"MoonPath Plus"}`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantText:   "Your card was declined.",
		},
		{
			name:       "missing fields",
			body:       `{"cardNumber":"4242424242424242","plan":"MoonPath Plus"}`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantText:   msgMissingFields,
		},
		{
			name:       "bad luhn",
			body:       `{"cardNumber":"4242424242424241","expiry":"12 / 30","cvc":"123","plan":"MoonPath Plus"}`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantText:   "Please enter a valid card number.",
		},
		{
			name:       "unknown plan",
			body:       `{"cardNumber":"4242424242424242","expiry":"12 / 30","cvc":"123","plan":"Gold"}`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantText:   msgUnknownPlan,
		},
		{
			name:       "free plan",
			body:       `{"cardNumber":"4242424242424242","expiry":"12 / 30","cvc":"123","plan":"Free"}`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantText:   "Choose a paid plan to continue.",
		},
		{
			name:       "plan of wrong type",
			body:       `{"cardNumber":"4242424242424242","expiry":"12 / 30","cvc":"123","plan":7}`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantText:   "invalid json",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.do(http.MethodPost, "/api/process-payment", tt.body, false)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantText, decode(t, rec)[tt.wantKey])
		})
	}
}

func TestProcessPaymentMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/process-payment", "", false)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method Not Allowed", decode(t, rec)["error"])
}

func TestProcessPaymentRateLimited(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *Deps) {
		cfg.APIRatePerSecond = 0.001
		cfg.APIBurst = 1
	})
	body := `{"cardNumber":"4242424242424242","expiry":"12 / 30","cvc":"123","plan":"MoonPath Plus"}`
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/process-payment", body, false).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "/api/process-payment", body, false).Code)
}

func TestListPlans(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/plans", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var plans []models.SubscriptionPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plans))
	require.Len(t, plans, 3)
	assert.Equal(t, models.PlanFree, plans[0].Name)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "", false).Code)

	f = newFixture(t, func(_ *config.Config, d *Deps) { d.Health = stubPinger{err: errors.New("down")} })
	rec := f.do(http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode(t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"cardNumber":"4111111111111111","expiry":"12 / 30","cvc":"123","plan":"MoonPath Plus"}`
	f.do(http.MethodPost, "/api/process-payment", body, false)

	rec := f.do(http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `moonpath_payment_attempts_total{outcome="declined"} 1`)
}

func TestAdminRequiresAuth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/admin/chats/42/plan", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "moonpath")
}

func TestAdminChatPlanAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ns := session.Namespace(42)
	require.NoError(t, f.plans.Select(ctx, ns, models.PlanPremium))

	store := history.NewStore(f.kv, ns, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, store.Append(ctx, models.HistoricReading{
		ID:         "r1",
		Date:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		UserInputs: models.UserInputs{Mood: models.MoodHopeful, MoonPhase: models.MoonPhaseFull},
		Reading:    models.Reading{Content: models.DailyReading{ClosingLine: "end"}},
	}))

	rec := f.do(http.MethodGet, "/admin/chats/42/plan", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.PlanPremium), decode(t, rec)["plan"])

	rec = f.do(http.MethodGet, "/admin/chats/42/history", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "chat:42", out["namespace"])
	assert.Len(t, out["history"], 1)

	rec = f.do(http.MethodGet, "/admin/chats/abc/history", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminChatPayments(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/admin/chats/42/payments", "", true).Code)

	f = newFixture(t, func(_ *config.Config, d *Deps) {
		d.Ledger = stubLedger{payments: []models.Payment{{ID: 2, Plan: models.PlanPlus, CardLast4: "4242", Status: models.PaymentStatusSucceeded}}}
	})
	rec := f.do(http.MethodGet, "/admin/chats/42/payments", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []paymentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "4242", out[0].CardLast4)
}

func TestPlanNameUnmarshal(t *testing.T) {
	tests := []struct {
		body string
		want planName
	}{
		{body: `"MoonPath Plus"`, want: "MoonPath Plus"},
		{body: `{"name":"MoonPath Premium","price":"$9.99"}`, want: "MoonPath Premium"},
		{body: `null`, want: ""},
	}
	for _, tt := range tests {
		var p planName
		require.NoError(t, p.UnmarshalJSON([]byte(tt.body)), tt.body)
		assert.Equal(t, tt.want, p)
	}
	var p planName
	assert.Error(t, p.UnmarshalJSON([]byte(`[1]`)))
}
