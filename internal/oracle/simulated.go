package oracle

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// seedPrices anchor the random walk for well-known symbols. Unknown
// symbols start at a generic mid price.
var seedPrices = map[string]float64{
	"BTCUSDT":  50000,
	"ETHUSDT":  3000,
	"SOLUSDT":  150,
	"BNBUSDT":  600,
	"XRPUSDT":  0.55,
	"ADAUSDT":  0.45,
	"DOGEUSDT": 0.12,
}

const defaultSeedPrice = 100

// SimulatedOracle prices symbols with a bounded random walk and
// simulates exchange executions with configurable latency, success rate
// and price variance.
type SimulatedOracle struct {
	MinLatency     int     // in milliseconds
	MaxLatency     int
	SuccessRate    float64 // 0-1, probability a simulated live execution succeeds
	PriceVariance  float64 // max relative slippage applied to executions
	CommissionRate decimal.Decimal

	mu     sync.Mutex
	prices map[string]decimal.Decimal
	rng    *rand.Rand
}

// NewSimulatedOracle creates a simulated oracle with the given flat
// commission rate and default latency/variance characteristics.
func NewSimulatedOracle(commissionRate decimal.Decimal) *SimulatedOracle {
	return &SimulatedOracle{
		MinLatency:     5,
		MaxLatency:     30,
		SuccessRate:    0.95,
		PriceVariance:  0.002,
		CommissionRate: commissionRate,
		prices:         make(map[string]decimal.Decimal),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GetCurrentPrice advances the symbol's random walk one step and returns
// the new price.
func (o *SimulatedOracle) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := o.sleep(ctx); err != nil {
		return decimal.Zero, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.step(symbol), nil
}

// GetMarketSnapshot synthesizes a candle history around the walk price.
func (o *SimulatedOracle) GetMarketSnapshot(ctx context.Context, symbol, timeframe string) (*Snapshot, error) {
	if err := o.sleep(ctx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	current := o.step(symbol)
	interval := timeframeInterval(timeframe)

	// Walk backwards from the current price so the newest candle closes
	// at it, filling the slice oldest first.
	const candleCount = 50
	candles := make([]Candle, candleCount)
	price := current
	for i := 0; i < candleCount; i++ {
		open := o.jitter(price)
		high := decimal.Max(open, price).Mul(decimal.NewFromFloat(1.001))
		low := decimal.Min(open, price).Mul(decimal.NewFromFloat(0.999))
		candles[candleCount-1-i] = Candle{
			Timestamp: time.Now().Add(-time.Duration(i) * interval),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    decimal.NewFromInt(int64(o.rng.Intn(10000) + 100)),
		}
		price = open
	}

	return &Snapshot{
		Symbol:       symbol,
		CurrentPrice: current,
		Timeframe:    timeframe,
		Candles:      candles,
	}, nil
}

// AttemptRealExecution simulates a live exchange order: random latency,
// a success-rate gate and bounded slippage around the walk price.
func (o *SimulatedOracle) AttemptRealExecution(ctx context.Context, symbol, side string, quantity decimal.Decimal) (*Execution, error) {
	if err := o.sleep(ctx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.rng.Float64() > o.SuccessRate {
		log.Warn().
			Str("component", "simulated_oracle").
			Str("symbol", symbol).
			Float64("success_rate", o.SuccessRate).
			Msg("simulated execution failed success rate threshold")
		return nil, fmt.Errorf("%w: execution rejected for %s", ErrUnavailable, symbol)
	}

	price := o.jitter(o.step(symbol))
	commission := price.Mul(quantity).Mul(o.CommissionRate)

	return &Execution{
		Price:      price,
		Commission: commission,
		OrderRef:   fmt.Sprintf("SIM-%d", o.rng.Int63()),
	}, nil
}

// step advances the random walk for a symbol by up to ±0.1% and returns
// the new price. Caller holds o.mu.
func (o *SimulatedOracle) step(symbol string) decimal.Decimal {
	price, ok := o.prices[symbol]
	if !ok {
		seed, found := seedPrices[symbol]
		if !found {
			seed = defaultSeedPrice
		}
		price = decimal.NewFromFloat(seed)
	}

	drift := decimal.NewFromFloat(1 + (o.rng.Float64()*0.002 - 0.001))
	price = price.Mul(drift)
	o.prices[symbol] = price
	return price
}

// jitter applies bounded slippage to a price. Caller holds o.mu.
func (o *SimulatedOracle) jitter(price decimal.Decimal) decimal.Decimal {
	v := 1 + (o.rng.Float64()*2-1)*o.PriceVariance
	return price.Mul(decimal.NewFromFloat(v))
}

// sleep simulates network latency, honoring context cancellation.
func (o *SimulatedOracle) sleep(ctx context.Context) error {
	o.mu.Lock()
	latency := o.MinLatency
	if o.MaxLatency > o.MinLatency {
		latency += o.rng.Intn(o.MaxLatency - o.MinLatency + 1)
	}
	o.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(latency) * time.Millisecond):
		return nil
	}
}

func timeframeInterval(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d", "1D":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}
