package ohlcv

// Bar is one OHLCV record. Timestamp is epoch seconds aligned to the bar
// interval boundary and uniquely keys the bar within one (market, asset,
// interval) series.
type Bar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}
