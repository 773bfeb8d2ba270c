// Package fees computes the licensing fee owed for a set of request items.
// All amounts are decimal local currency (AOA).
package fees

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sgal-dev/sgal/internal/shared"
)

// MinimumFee is the floor applied once to the aggregate fee.
const MinimumFee = 2000

// Bracket maps a base-value ceiling to a rate in percent. A zero ceiling
// marks the open-ended top bracket.
type Bracket struct {
	UpTo float64
	Rate float64
}

// Brackets is the tier table over an item's base value in local currency.
var Brackets = []Bracket{
	{UpTo: 5_000_000, Rate: 0.60},
	{UpTo: 50_000_000, Rate: 0.40},
	{UpTo: 0, Rate: 0.18},
}

// Item is one fee-bearing line. CustomRate, when set (from the item's tariff
// code), overrides the bracket lookup regardless of value.
type Item struct {
	BaseValue  float64
	CustomRate *float64
}

// Line is the computed fee for one item.
type Line struct {
	BaseValue  float64 `json:"base_value"`
	Rate       float64 `json:"rate"`
	Fee        float64 `json:"fee"`
	Overridden bool    `json:"overridden"`
}

// Quote is the result of a fee computation.
type Quote struct {
	Lines        []Line  `json:"lines"`
	Subtotal     float64 `json:"subtotal"`
	Total        float64 `json:"total"`
	FloorApplied bool    `json:"floor_applied"`
}

// RateFor returns the bracket rate (percent) for a base value.
func RateFor(base float64) float64 {
	for _, b := range Brackets {
		if b.UpTo == 0 || base <= b.UpTo {
			return b.Rate
		}
	}
	return Brackets[len(Brackets)-1].Rate
}

// Compute prices every item against its own base value, sums the per-item
// fees, then applies the minimum floor once to the sum.
func Compute(items []Item) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	q := Quote{Lines: make([]Line, 0, len(items))}
	for _, item := range items {
		if item.BaseValue < 0 {
			return Quote{}, fmt.Errorf("%w: negative base value", shared.ErrValidation)
		}
		rate := RateFor(item.BaseValue)
		overridden := false
		if item.CustomRate != nil {
			if *item.CustomRate < 0 {
				return Quote{}, fmt.Errorf("%w: negative tariff rate", shared.ErrValidation)
			}
			rate = *item.CustomRate
			overridden = true
		}
		fee := item.BaseValue * rate / 100
		q.Lines = append(q.Lines, Line{BaseValue: item.BaseValue, Rate: rate, Fee: fee, Overridden: overridden})
		q.Subtotal += fee
	}
	q.Total = q.Subtotal
	if q.Total < MinimumFee {
		q.Total = MinimumFee
		q.FloorApplied = true
	}
	return q, nil
}

var printer = message.NewPrinter(language.EuropeanPortuguese)

// FormatLocal renders an AOA amount for certificates and notifications.
func FormatLocal(amount float64) string {
	return printer.Sprintf("%.2f Kz", amount)
}
