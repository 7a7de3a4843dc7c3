package square

import (
	"errors"
	"strings"
	"unicode/utf8"

	sq "github.com/square/square-go-sdk"
)

// Field limits enforced by the Payments API.
const (
	maxIdempotencyKeyLen = 45
	maxNoteLen           = 500
	maxReferenceIDLen    = 40
)

// PaymentCreateParams describes an off-session charge against a card on file.
// Amounts are in minor units of Currency.
type PaymentCreateParams struct {
	AmountMinor    int64
	Currency       string
	LocationID     string
	CustomerID     string
	SourceID       string
	IdempotencyKey string
	Note           string
	ReferenceID    string
}

func (p PaymentCreateParams) validate() error {
	var errs []error
	if p.AmountMinor <= 0 {
		errs = append(errs, errors.New("amount must be positive"))
	}
	if strings.TrimSpace(p.SourceID) == "" {
		errs = append(errs, errors.New("source id is required"))
	}
	// Square rejects card-on-file sources without the owning customer.
	if strings.TrimSpace(p.CustomerID) == "" {
		errs = append(errs, errors.New("customer id is required"))
	}
	if len(p.IdempotencyKey) > maxIdempotencyKeyLen {
		errs = append(errs, errors.New("idempotency key exceeds 45 characters"))
	}
	return errors.Join(errs...)
}

func (p PaymentCreateParams) toSquareRequest(idempotencyKey string) *sq.CreatePaymentRequest {
	autocomplete := true
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		LocationID:     ptrString(p.LocationID),
		CustomerID:     ptrString(p.CustomerID),
		SourceID:       p.SourceID,
		Autocomplete:   &autocomplete,
		AmountMoney:    moneyPtr(p.AmountMinor, p.Currency),
		Note:           ptrString(truncate(p.Note, maxNoteLen)),
		ReferenceID:    ptrString(truncate(p.ReferenceID, maxReferenceIDLen)),
	}
	return req
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount <= 0 {
		return nil
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = "USD"
	}
	c := sq.Currency(code)
	return &sq.Money{Amount: &amount, Currency: &c}
}
