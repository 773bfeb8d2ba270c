package currency

import "time"

// LocalCode is the ISO code of the local currency all fees are owed in.
const LocalCode = "AOA"

// Currency is mutable reference data. Workflows snapshot the rate at
// submission time; later edits never reprice a submitted request.
type Currency struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Symbol      string    `json:"symbol"`
	RateToLocal float64   `json:"rate_to_local"`
	UpdatedAt   time.Time `json:"updated_at"`
}
