package notifications

import (
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// FormatAmount renders a minor-unit amount in its major unit, e.g. 15000 USD
// becomes "150.00".
func FormatAmount(amountMinor int64, currency enums.Currency) string {
	exp := currency.MinorUnitExponent()
	return decimal.New(amountMinor, -exp).StringFixed(exp)
}

// Decorate returns a copy of payload with a display amount added when the
// payload carries amount_minor and currency.
func Decorate(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	amount, ok := payload["amount_minor"].(int64)
	if !ok {
		return out
	}
	code, ok := payload["currency"].(string)
	if !ok {
		return out
	}
	currency := enums.Currency(code)
	if !currency.IsValid() {
		return out
	}
	out["amount_display"] = FormatAmount(amount, currency) + " " + currency.String()
	return out
}
