package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when the upstream market-data source cannot
// serve a request. Callers are expected to degrade to simulated pricing.
var ErrUnavailable = errors.New("market data unavailable")

// Candle is a single OHLCV bar.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Snapshot bundles the current price with recent history for a symbol.
type Snapshot struct {
	Symbol       string          `json:"symbol"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Timeframe    string          `json:"timeframe"`
	Candles      []Candle        `json:"candles"`
}

// Execution is the result of a real (non-simulated) order placement.
type Execution struct {
	Price      decimal.Decimal
	Commission decimal.Decimal
	OrderRef   string
}

// Oracle supplies market prices and, optionally, real order execution.
// Every method may fail; the execution engine treats failure as a signal
// to fall back, never as a caller-visible error.
type Oracle interface {
	// GetCurrentPrice returns the latest known price for a symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// GetMarketSnapshot returns the current price plus recent candles.
	GetMarketSnapshot(ctx context.Context, symbol, timeframe string) (*Snapshot, error)

	// AttemptRealExecution places a live order for the given intent and
	// returns the achieved price and commission. Implementations without
	// live connectivity return ErrUnavailable.
	AttemptRealExecution(ctx context.Context, symbol, side string, quantity decimal.Decimal) (*Execution, error)
}
