package enums

import (
	"fmt"
	"strings"
)

// Currency is an ISO-4217 code accepted for obligations. Amounts are always
// stored in the currency's minor unit.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyCAD Currency = "CAD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyAUD Currency = "AUD"
	CurrencyMXN Currency = "MXN"
	CurrencyJPY Currency = "JPY"
)

var validCurrencies = []Currency{
	CurrencyUSD,
	CurrencyCAD,
	CurrencyEUR,
	CurrencyGBP,
	CurrencyAUD,
	CurrencyMXN,
	CurrencyJPY,
}

var zeroDecimalCurrencies = map[Currency]struct{}{
	CurrencyJPY: {},
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// MinorUnitExponent returns the number of decimal places between the major and
// minor unit.
func (c Currency) MinorUnitExponent() int32 {
	if _, ok := zeroDecimalCurrencies[c]; ok {
		return 0
	}
	return 2
}

// ParseCurrency converts a raw string into a Currency. Lower-case input is
// normalized.
func ParseCurrency(value string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validCurrencies {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
