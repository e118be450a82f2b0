package market

import "context"

// Source fetches candle history from an exchange.
type Source interface {
	Name() string
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}
