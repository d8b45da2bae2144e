package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFastOracle() *SimulatedOracle {
	o := NewSimulatedOracle(decimal.NewFromFloat(0.001))
	o.MinLatency = 0
	o.MaxLatency = 0
	return o
}

func TestGetCurrentPriceWalksWithinBounds(t *testing.T) {
	t.Parallel()
	o := newFastOracle()
	ctx := context.Background()

	previous, err := o.GetCurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, previous.IsPositive())

	for i := 0; i < 20; i++ {
		price, err := o.GetCurrentPrice(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.True(t, price.IsPositive())

		// Each step moves at most 0.1% in either direction.
		ratio, _ := price.Div(previous).Float64()
		assert.InDelta(t, 1.0, ratio, 0.0011)
		previous = price
	}
}

func TestGetCurrentPriceUnknownSymbolSeeded(t *testing.T) {
	t.Parallel()
	o := newFastOracle()

	price, err := o.GetCurrentPrice(context.Background(), "OBSCUREUSDT")
	require.NoError(t, err)
	assert.True(t, price.IsPositive())
}

func TestAttemptRealExecutionSuccess(t *testing.T) {
	t.Parallel()
	o := newFastOracle()
	o.SuccessRate = 1

	qty := decimal.NewFromFloat(0.25)
	execution, err := o.AttemptRealExecution(context.Background(), "BTCUSDT", "BUY", qty)
	require.NoError(t, err)

	assert.True(t, execution.Price.IsPositive())
	assert.NotEmpty(t, execution.OrderRef)
	expected := execution.Price.Mul(qty).Mul(o.CommissionRate)
	assert.True(t, execution.Commission.Equal(expected),
		"commission %s, expected %s", execution.Commission, expected)
}

func TestAttemptRealExecutionRespectsSuccessRate(t *testing.T) {
	t.Parallel()
	o := newFastOracle()
	o.SuccessRate = 0

	_, err := o.AttemptRealExecution(context.Background(), "BTCUSDT", "BUY", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGetMarketSnapshot(t *testing.T) {
	t.Parallel()
	o := newFastOracle()

	snapshot, err := o.GetMarketSnapshot(context.Background(), "ETHUSDT", "1h")
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", snapshot.Symbol)
	assert.Equal(t, "1h", snapshot.Timeframe)
	assert.True(t, snapshot.CurrentPrice.IsPositive())
	require.Len(t, snapshot.Candles, 50)

	for _, candle := range snapshot.Candles {
		assert.True(t, candle.High.GreaterThanOrEqual(candle.Low))
		assert.True(t, candle.Volume.IsPositive())
	}
	// Candles are ordered oldest first.
	first := snapshot.Candles[0].Timestamp
	last := snapshot.Candles[len(snapshot.Candles)-1].Timestamp
	assert.True(t, first.Before(last))
}

func TestSleepHonorsContext(t *testing.T) {
	t.Parallel()
	o := newFastOracle()
	o.MinLatency = 500
	o.MaxLatency = 500

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := o.GetCurrentPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
