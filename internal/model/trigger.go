package model

import "encoding/json"

// TriggerPayload is the evaluation payload stored verbatim on a trigger row.
// Which fields are set depends on the filter type.
type TriggerPayload struct {
	PriceChangePercent *float64 `json:"price_change_percent,omitempty"`
	PriceFrom          *float64 `json:"price_from,omitempty"`
	PriceTo            *float64 `json:"price_to,omitempty"`
	VolumePeriod       *float64 `json:"volume_period,omitempty"`
	Volume24h          *float64 `json:"volume_24h,omitempty"`
	SpikeCoefficient   *float64 `json:"spike_coefficient,omitempty"`
	AverageVolume      *float64 `json:"average_volume,omitempty"`
	URL                string   `json:"url"`
	FirstCandleTS      *int64   `json:"first_candle_timestamp,omitempty"`
	LastCandleTS       *int64   `json:"last_candle_timestamp,omitempty"`
}

// JSON returns the JSON-encoded payload.
func (p *TriggerPayload) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}

// Trigger is an immutable record of one filter match. FilterName and
// FilterType are copied at emission time so the row survives later renames.
type Trigger struct {
	ID          int64          `json:"id"`
	FilterID    int64          `json:"filter_id"`
	FilterName  string         `json:"filter_name"`
	FilterType  FilterType     `json:"filter_type"`
	Symbol      string         `json:"symbol"`
	Market      Market         `json:"market"`
	TriggeredAt int64          `json:"triggered_at"` // unix seconds
	Data        TriggerPayload `json:"data"`
	Notified    bool           `json:"notified"`
}

// TriggerMark is the compact in-cache form of a recent trigger, kept to
// annotate the live chart.
type TriggerMark struct {
	Time       int64      `json:"time"` // unix seconds
	FilterName string     `json:"filter_name"`
	FilterType FilterType `json:"filter_type"`
}

// Mark returns the chart annotation form of the trigger.
func (t *Trigger) Mark() TriggerMark {
	return TriggerMark{
		Time:       t.TriggeredAt,
		FilterName: t.FilterName,
		FilterType: t.FilterType,
	}
}

// Float is a convenience for building optional payload fields.
func Float(v float64) *float64 { return &v }

// Int64 is a convenience for building optional payload fields.
func Int64(v int64) *int64 { return &v }
