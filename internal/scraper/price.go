package scraper

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Price is a monetary amount with its currency code. Amounts stay decimal
// end to end so storefront prices never pick up float rounding.
type Price struct {
	Amount   decimal.Decimal
	Currency string
}

func (p Price) String() string { return p.Amount.StringFixed(2) + " " + p.Currency }

var priceAmount = regexp.MustCompile(`\d+(?:[.,\s]\d+)*`)

// symbol lookups are ordered so parsing stays deterministic
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"€", "EUR"},
	{"$", "USD"},
	{"£", "GBP"},
}

var currencyCodes = []string{"EUR", "USD", "GBP"}

// ParsePrice extracts an amount and currency from a rendered price string
// such as "19,99€", "$59.99" or "4.99 GBP". European comma decimals are
// accepted. Unrecognised currencies default to EUR, the comparison site's
// home currency.
func ParsePrice(raw string) (Price, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Price{}, errors.New("empty price")
	}

	currency := "EUR"
	upper := strings.ToUpper(raw)
	for _, code := range currencyCodes {
		if strings.Contains(upper, code) {
			currency = code
			break
		}
	}
	for _, c := range currencySymbols {
		if strings.Contains(raw, c.symbol) {
			currency = c.code
			break
		}
	}

	m := priceAmount.FindString(raw)
	if m == "" {
		return Price{}, fmt.Errorf("no amount in price %q", raw)
	}
	amount, err := decimal.NewFromString(normalizeAmount(m))
	if err != nil {
		return Price{}, fmt.Errorf("parse amount %q: %w", m, err)
	}
	return Price{Amount: amount, Currency: currency}, nil
}

// normalizeAmount reduces a matched amount to a plain decimal string.
// "." and "," can each act as grouping or decimal separator depending on
// locale ("1.234,56" vs "1,234.56"); when both appear the later one is the
// decimal point, a lone separator is decimal only when at most two digits
// follow it.
func normalizeAmount(m string) string {
	m = strings.ReplaceAll(m, " ", "")
	dot := strings.LastIndex(m, ".")
	comma := strings.LastIndex(m, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			m = strings.ReplaceAll(m, ".", "")
			m = strings.Replace(m, ",", ".", 1)
		} else {
			m = strings.ReplaceAll(m, ",", "")
		}
	case comma >= 0:
		if strings.Count(m, ",") == 1 && len(m)-comma-1 <= 2 {
			m = strings.Replace(m, ",", ".", 1)
		} else {
			m = strings.ReplaceAll(m, ",", "")
		}
	case dot >= 0:
		if strings.Count(m, ".") > 1 || len(m)-dot-1 > 2 {
			m = strings.ReplaceAll(m, ".", "")
		}
	}
	return m
}
