package payment

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	FieldCardNumber = "cardNumber"
	FieldExpiry     = "expiry"
	FieldCVC        = "cvc"
)

const (
	msgMissingFields = "Missing required payment fields."
	msgInvalidCard   = "Please enter a valid card number."
	msgExpiryFormat  = "Expiry must be in MM / YY format."
	msgInvalidMonth  = "Invalid month."
	msgExpired       = "This card has expired."
	msgInvalidCVC    = "CVC must be 3 or 4 digits."
)

type Card struct {
	Number string
	Expiry string
	CVC    string
}

// Last4 returns the last four digits of the card number, or "" when it has fewer.
func (c Card) Last4() string {
	digits, ok := normalizeNumber(c.Number)
	if !ok || len(digits) < 4 {
		return ""
	}
	return digits[len(digits)-4:]
}

type FieldError struct {
	Field   string
	Message string
}

// ValidationError carries one message per failing field, in form order.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, " ")
}

// Message returns the message for field, or "".
func (e *ValidationError) Message(field string) string {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Message
		}
	}
	return ""
}

// Validate runs the structural card checks against the month of now.
func Validate(card Card, now time.Time) error {
	if strings.TrimSpace(card.Number) == "" || strings.TrimSpace(card.Expiry) == "" || strings.TrimSpace(card.CVC) == "" {
		return &ValidationError{Fields: []FieldError{{Message: msgMissingFields}}}
	}

	var fields []FieldError
	digits, ok := normalizeNumber(card.Number)
	if !ok || len(digits) < 13 || len(digits) > 19 || !Luhn(digits) {
		fields = append(fields, FieldError{Field: FieldCardNumber, Message: msgInvalidCard})
	}
	if err := ValidateExpiry(card.Expiry, now); err != nil {
		fields = append(fields, FieldError{Field: FieldExpiry, Message: err.Error()})
	}
	if err := ValidateCVC(card.CVC); err != nil {
		fields = append(fields, FieldError{Field: FieldCVC, Message: err.Error()})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Luhn reports whether number passes the mod-10 checksum. Spaces and dashes
// are ignored; any other non-digit fails.
func Luhn(number string) bool {
	digits, ok := normalizeNumber(number)
	if !ok || digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ValidateExpiry accepts exactly "MM / YY" for a month not before the month of now.
func ValidateExpiry(expiry string, now time.Time) error {
	parts := strings.Split(expiry, " / ")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 || !allDigits(parts[0]) || !allDigits(parts[1]) {
		return errors.New(msgExpiryFormat)
	}
	month, _ := strconv.Atoi(parts[0])
	yy, _ := strconv.Atoi(parts[1])
	if month < 1 || month > 12 {
		return errors.New(msgInvalidMonth)
	}
	year := 2000 + yy
	if year < now.Year() || (year == now.Year() && month < int(now.Month())) {
		return errors.New(msgExpired)
	}
	return nil
}

func ValidateCVC(cvc string) error {
	if len(cvc) < 3 || len(cvc) > 4 || !allDigits(cvc) {
		return errors.New(msgInvalidCVC)
	}
	return nil
}

// FormatExpiry turns loose input such as "1228", "12/28" or "12 / 2028" into "MM / YY".
// Input with fewer than three digits is returned as the bare digits.
func FormatExpiry(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if len(clean) < 3 {
		return clean
	}
	if len(clean) == 6 {
		// MMYYYY
		clean = clean[:2] + clean[4:]
	}
	end := min(len(clean), 4)
	return clean[:2] + " / " + clean[2:end]
}

func normalizeNumber(number string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(number) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return "", false
		}
	}
	return b.String(), true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
