package market

import "time"

type PriceQuote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// BatchResult carries the per-symbol outcome of a batched price fetch.
// Failed symbols appear in Errors and are absent from Prices.
type BatchResult struct {
	Prices map[string]PriceQuote `json:"prices"`
	Errors map[string]error      `json:"-"`
}

type SourceStats struct {
	Requests  int64
	Retries   int64
	CacheHits int64
	LastError string
	LastErrAt time.Time
}
