package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// Compile-time interface check.
var _ Oracle = (*AlpacaOracle)(nil)

// AlpacaOracle resolves prices from the Alpaca market-data API and
// places live paper orders through the Alpaca trading API. Any failure
// is surfaced as an error for the engine to fall back on; no retries
// happen here.
type AlpacaOracle struct {
	trading        *alpaca.Client
	data           *marketdata.Client
	commissionRate decimal.Decimal
}

// NewAlpacaOracle creates an oracle configured with the given Alpaca
// credentials and endpoints. Empty URLs use the SDK defaults.
func NewAlpacaOracle(apiKey, apiSecret, baseURL, dataURL string, commissionRate decimal.Decimal) *AlpacaOracle {
	tradingOpts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		tradingOpts.BaseURL = baseURL
	}

	dataOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		dataOpts.BaseURL = dataURL
	}

	return &AlpacaOracle{
		trading:        alpaca.NewClient(tradingOpts),
		data:           marketdata.NewClient(dataOpts),
		commissionRate: commissionRate,
	}
}

// GetCurrentPrice returns the latest trade price for a symbol.
func (o *AlpacaOracle) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	trade, err := o.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: latest trade for %s: %v", ErrUnavailable, symbol, err)
	}
	return decimal.NewFromFloat(trade.Price), nil
}

// GetMarketSnapshot returns the latest price plus recent bars.
func (o *AlpacaOracle) GetMarketSnapshot(ctx context.Context, symbol, timeframe string) (*Snapshot, error) {
	current, err := o.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	tf := alpacaTimeframe(timeframe)
	bars, err := o.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  tf,
		Start:      time.Now().AddDate(0, 0, -30),
		TotalLimit: 50,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bars for %s: %v", ErrUnavailable, symbol, err)
	}

	candles := make([]Candle, 0, len(bars))
	for _, bar := range bars {
		candles = append(candles, Candle{
			Timestamp: bar.Timestamp,
			Open:      decimal.NewFromFloat(bar.Open),
			High:      decimal.NewFromFloat(bar.High),
			Low:       decimal.NewFromFloat(bar.Low),
			Close:     decimal.NewFromFloat(bar.Close),
			Volume:    decimal.NewFromInt(int64(bar.Volume)),
		})
	}

	return &Snapshot{
		Symbol:       symbol,
		CurrentPrice: current,
		Timeframe:    timeframe,
		Candles:      candles,
	}, nil
}

// AttemptRealExecution submits a market order to Alpaca and reports the
// achieved fill price. When the fill price is not yet known (the order
// is still working), the latest trade price stands in so the ledger can
// commit immediately.
func (o *AlpacaOracle) AttemptRealExecution(ctx context.Context, symbol, side string, quantity decimal.Decimal) (*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	orderSide := alpaca.Buy
	if side == "SELL" {
		orderSide = alpaca.Sell
	}

	order, err := o.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &quantity,
		Side:        orderSide,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: place order for %s: %v", ErrUnavailable, symbol, err)
	}

	var price decimal.Decimal
	if order.FilledAvgPrice != nil {
		price = *order.FilledAvgPrice
	} else {
		price, err = o.GetCurrentPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
	}

	return &Execution{
		Price:      price,
		Commission: price.Mul(quantity).Mul(o.commissionRate),
		OrderRef:   order.ID,
	}, nil
}

func alpacaTimeframe(timeframe string) marketdata.TimeFrame {
	switch timeframe {
	case "1m":
		return marketdata.OneMin
	case "1h":
		return marketdata.OneHour
	case "1d", "1D":
		return marketdata.OneDay
	default:
		return marketdata.OneDay
	}
}
