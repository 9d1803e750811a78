package market

import "context"

// Source is the market-data contract the orchestration pipeline depends
// on. The Binance implementation lives in gateway/binance; tests supply
// fakes.
type Source interface {
	// GetPrice returns the latest quote for one symbol.
	GetPrice(ctx context.Context, symbol string) (PriceQuote, error)

	// FetchHistory returns up to limit closed candles, oldest first.
	// Returns InsufficientDataError when the exchange has fewer bars
	// than minBars.
	FetchHistory(ctx context.Context, symbol, interval string, limit, minBars int) ([]Candle, error)

	// GetOrderBook returns a depth snapshot limited to the given number
	// of levels per side.
	GetOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)

	// GetPricesBatch fetches quotes for many symbols concurrently. One
	// symbol failing never fails the batch.
	GetPricesBatch(ctx context.Context, symbols []string) BatchResult

	Stats() SourceStats

	Close() error
}
