// Package payment validates card details and simulates the checkout gateway with fixed test cards.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/digkill/MoonPathBot/internal/models"
)

const msgUnsupportedCard = "This card is not supported for testing."

// DeclineError is a gateway refusal of a structurally valid card.
type DeclineError struct {
	Status  models.PaymentStatus
	Message string
}

func (e *DeclineError) Error() string {
	return e.Message
}

type outcome struct {
	status  models.PaymentStatus
	message string
}

var testCards = map[string]outcome{
	"4242424242424242": {status: models.PaymentStatusSucceeded},
	"5555555555555555": {status: models.PaymentStatusSucceeded},
	"4111111111111111": {status: models.PaymentStatusDeclined, message: "Your card was declined."},
	"4012888818888":    {status: models.PaymentStatusDeclined, message: "Your card number is invalid."},
	"5105105105105100": {status: models.PaymentStatusInsufficientFunds, message: "Your card has insufficient funds."},
}

type Gateway struct {
	delay time.Duration
	now   func() time.Time
}

func NewGateway(delay time.Duration) *Gateway {
	return &Gateway{delay: delay, now: time.Now}
}

// Charge validates card, waits the simulated gateway latency and looks the
// number up in the test table. It returns the success message for plan.
func (g *Gateway) Charge(ctx context.Context, card Card, plan models.Plan) (string, error) {
	if err := Validate(card, g.now()); err != nil {
		return "", err
	}

	if g.delay > 0 {
		timer := time.NewTimer(g.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	digits, _ := normalizeNumber(card.Number)
	result, ok := testCards[digits]
	if !ok {
		return "", &DeclineError{Status: models.PaymentStatusUnsupported, Message: msgUnsupportedCard}
	}
	if result.status != models.PaymentStatusSucceeded {
		return "", &DeclineError{Status: result.status, Message: result.message}
	}
	return fmt.Sprintf("Successfully subscribed to %s.", plan), nil
}
