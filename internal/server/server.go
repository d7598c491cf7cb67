// Package server exposes the payment endpoint, the plan catalog, health and
// metrics, and a basic-auth support API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"

	"github.com/digkill/MoonPathBot/internal/config"
	"github.com/digkill/MoonPathBot/internal/history"
	"github.com/digkill/MoonPathBot/internal/metrics"
	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/payment"
	"github.com/digkill/MoonPathBot/internal/repository"
	"github.com/digkill/MoonPathBot/internal/service"
	"github.com/digkill/MoonPathBot/internal/session"
)

// webNamespace is the ledger namespace of payments made over HTTP.
const webNamespace = "web"

const (
	msgMissingFields = "Missing required payment fields."
	msgUnknownPlan   = "Unknown plan."
	adminPaymentsMax = 50
)

type Payments interface {
	Submit(ctx context.Context, namespace string, req service.PaymentRequest) (*service.Confirmation, error)
}

type Plans interface {
	Catalog() []models.SubscriptionPlan
	Current(ctx context.Context, namespace string) models.Plan
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type PaymentLister interface {
	ListByNamespace(ctx context.Context, namespace string, limit int) ([]models.Payment, error)
}

// Deps are the collaborators behind the HTTP API. Health, Ledger and Metrics may be nil.
type Deps struct {
	KV       repository.KV
	Health   Pinger
	Plans    Plans
	Payments Payments
	Ledger   PaymentLister
	Metrics  *metrics.Collector
}

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	deps     Deps
	validate *validator.Validate
	router   *chi.Mux
}

func NewServer(cfg config.Config, log *slog.Logger, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     cfg.HTTPListenAddr,
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
		log:      log,
		deps:     deps,
		validate: validator.New(),
		router:   r,
	}
	limiter := newRateLimiter(cfg.APIRatePerSecond, cfg.APIBurst, log)

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method Not Allowed"})
	})
	r.Get("/healthz", s.handleHealth)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	r.Route("/api", func(api chi.Router) {
		api.Get("/plans", s.handleListPlans)
		api.With(limiter.middleware).Post("/process-payment", s.handleProcessPayment)
	})
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Route("/admin/chats/{chatID}", func(r chi.Router) {
			r.Get("/history", s.handleChatHistory)
			r.Get("/plan", s.handleChatPlan)
			if deps.Ledger != nil {
				r.Get("/payments", s.handleChatPayments)
			}
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type paymentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// planName accepts either "MoonPath Plus" or {"name": "MoonPath Plus"}.
type planName string

func (p *planName) UnmarshalJSON(data []byte) error {
	value := gjson.ParseBytes(data)
	switch {
	case value.Type == gjson.Null:
		*p = ""
	case value.Type == gjson.String:
		*p = planName(value.Str)
	case value.IsObject():
		*p = planName(value.Get("name").String())
	default:
		return errors.New("plan must be a string or an object with a name")
	}
	return nil
}

type paymentRequest struct {
	CardNumber string   `json:"cardNumber" validate:"required"`
	Expiry     string   `json:"expiry" validate:"required"`
	CVC        string   `json:"cvc" validate:"required"`
	Plan       planName `json:"plan" validate:"required"`
}

func (s *Server) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgMissingFields})
		return
	}
	plan := models.Plan(req.Plan)
	if !plan.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgUnknownPlan})
		return
	}

	confirmation, err := s.deps.Payments.Submit(r.Context(), webNamespace, service.PaymentRequest{
		Card: payment.Card{Number: req.CardNumber, Expiry: req.Expiry, CVC: req.CVC},
		Plan: plan,
	})
	if err != nil {
		status := http.StatusBadRequest
		var (
			verr    *payment.ValidationError
			decline *payment.DeclineError
		)
		if !errors.As(err, &verr) && !errors.As(err, &decline) && !errors.Is(err, service.ErrFreePlanPurchase) {
			s.log.Error("process payment", "err", err)
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, errorResponse{Error: service.PaymentMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{Success: true, Message: confirmation.Message})
}

func (s *Server) handleListPlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Plans.Catalog())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			s.log.Warn("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	namespace, ok := chatNamespace(w, r)
	if !ok {
		return
	}
	store := history.NewStore(s.deps.KV, namespace, s.log)
	store.Load(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": namespace,
		"history":   store.All(),
	})
}

func (s *Server) handleChatPlan(w http.ResponseWriter, r *http.Request) {
	namespace, ok := chatNamespace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": namespace,
		"plan":      s.deps.Plans.Current(r.Context(), namespace),
	})
}

type paymentRecord struct {
	ID        int64                `json:"id"`
	Plan      models.Plan          `json:"plan"`
	CardLast4 string               `json:"cardLast4"`
	Status    models.PaymentStatus `json:"status"`
	Message   string               `json:"message"`
	CreatedAt time.Time            `json:"createdAt"`
}

func (s *Server) handleChatPayments(w http.ResponseWriter, r *http.Request) {
	namespace, ok := chatNamespace(w, r)
	if !ok {
		return
	}
	payments, err := s.deps.Ledger.ListByNamespace(r.Context(), namespace, adminPaymentsMax)
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]paymentRecord, 0, len(payments))
	for _, p := range payments {
		out = append(out, paymentRecord{
			ID:        p.ID,
			Plan:      p.Plan,
			CardLast4: p.CardLast4,
			Status:    p.Status,
			Message:   p.Message,
			CreatedAt: p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func chatNamespace(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "chatID")), 10, 64)
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return "", false
	}
	return session.Namespace(id), true
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="moonpath"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
