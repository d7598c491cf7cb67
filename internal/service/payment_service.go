package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/MoonPathBot/internal/metrics"
	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/payment"
)

var ErrFreePlanPurchase = errors.New("the free plan cannot be purchased")

// Ledger records payment attempts.
type Ledger interface {
	Create(ctx context.Context, p *models.Payment) error
}

type PaymentRequest struct {
	Card payment.Card
	Plan models.Plan
}

type Confirmation struct {
	Plan    models.Plan
	Message string
}

// PaymentService runs the simulated checkout. It never changes the stored plan.
type PaymentService struct {
	log     *slog.Logger
	gateway *payment.Gateway
	ledger  Ledger
	metrics *metrics.Collector
}

func NewPaymentService(log *slog.Logger, gateway *payment.Gateway, ledger Ledger, m *metrics.Collector) *PaymentService {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentService{log: log, gateway: gateway, ledger: ledger, metrics: m}
}

// Submit validates the card and charges it for req.Plan. Failures are
// *payment.ValidationError or *payment.DeclineError; both carry user-facing text.
func (s *PaymentService) Submit(ctx context.Context, namespace string, req PaymentRequest) (*Confirmation, error) {
	if !req.Plan.Valid() {
		return nil, fmt.Errorf("unknown plan %q", req.Plan)
	}
	if req.Plan == models.PlanFree {
		return nil, ErrFreePlanPurchase
	}

	msg, err := s.gateway.Charge(ctx, req.Card, req.Plan)
	status := models.PaymentStatusSucceeded
	var (
		verr    *payment.ValidationError
		decline *payment.DeclineError
	)
	switch {
	case err == nil:
	case errors.As(err, &verr):
		status = models.PaymentStatusInvalid
		msg = verr.Error()
	case errors.As(err, &decline):
		status = decline.Status
		msg = decline.Message
	default:
		return nil, fmt.Errorf("charge card: %w", err)
	}

	s.metrics.PaymentAttempt(string(status))
	s.record(ctx, &models.Payment{
		Namespace: namespace,
		Plan:      req.Plan,
		CardLast4: req.Card.Last4(),
		Status:    status,
		Message:   msg,
	})
	if err != nil {
		s.log.Info("payment rejected", "namespace", namespace, "plan", req.Plan, "status", status)
		return nil, err
	}
	s.log.Info("payment accepted", "namespace", namespace, "plan", req.Plan)
	return &Confirmation{Plan: req.Plan, Message: msg}, nil
}

func (s *PaymentService) record(ctx context.Context, p *models.Payment) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Create(ctx, p); err != nil {
		s.log.Warn("record payment", "namespace", p.Namespace, "err", err)
	}
}

// PaymentMessage returns the user-facing text for a Submit failure.
func PaymentMessage(err error) string {
	var (
		verr    *payment.ValidationError
		decline *payment.DeclineError
	)
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.As(err, &decline):
		return decline.Message
	case errors.Is(err, ErrFreePlanPurchase):
		return "Choose a paid plan to continue."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The payment was interrupted. Please try again."
	default:
		return "Payment could not be processed. Please try again."
	}
}
