package enums

import (
	"fmt"
	"strings"
)

// Currency is an ISO 4217 code a plan can be priced in.
type Currency string

const (
	CurrencyAFN Currency = "AFN"
	CurrencyUSD Currency = "USD"
)

// decimal places of the smallest unit, per currency
var currencyMinorUnits = map[Currency]int32{
	CurrencyAFN: 2,
	CurrencyUSD: 2,
}

func (c Currency) String() string {
	return string(c)
}

func (c Currency) IsValid() bool {
	_, ok := currencyMinorUnits[c]
	return ok
}

// MinorUnits is the number of decimal places amounts in c are shown with.
func (c Currency) MinorUnits() int32 {
	if units, ok := currencyMinorUnits[c]; ok {
		return units
	}
	return 2
}

// ParseCurrency accepts any casing and surrounding space.
func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid currency %q", value)
	}
	return c, nil
}
