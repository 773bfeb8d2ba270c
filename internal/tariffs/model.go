package tariffs

// TariffCode classifies a request item. A non-nil CustomRate (percentage,
// e.g. 0.5 for 0.5%) overrides the value-bracket rate for that item.
type TariffCode struct {
	ID          int64    `json:"id"`
	Code        string   `json:"code"`
	Description string   `json:"description"`
	CustomRate  *float64 `json:"custom_rate,omitempty"`
}
