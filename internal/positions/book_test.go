package positions

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ksred/paper-api/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestBook(t *testing.T) *Book {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Position{}))

	return NewBook(db)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApplyFillOpensPosition(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	result, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d("0.1"), d("50000"))
	require.NoError(t, err)

	assert.True(t, result.RealizedPnL.IsZero())
	assert.False(t, result.Closed)
	require.NotNil(t, result.Position)
	assert.Equal(t, types.PositionLong, result.Position.Side)
	assert.True(t, result.Position.Quantity.Equal(d("0.1")))
	assert.True(t, result.Position.AvgEntryPrice.Equal(d("50000")))

	stored, err := book.GetPosition("acct-1", "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Quantity.Equal(d("0.1")))
}

func TestApplyFillSellOpensShort(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	result, err := book.ApplyFill("acct-1", "ETHUSDT", types.SideSell, d("2"), d("3000"))
	require.NoError(t, err)
	assert.Equal(t, types.PositionShort, result.Position.Side)
	assert.True(t, result.Position.Quantity.Equal(d("2")))
}

func TestApplyFillWeightedAverage(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	fills := []struct {
		qty, price string
	}{
		{"0.1", "50000"},
		{"0.2", "53000"},
		{"0.3", "51000"},
	}

	var result *FillResult
	var err error
	for _, fill := range fills {
		result, err = book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d(fill.qty), d(fill.price))
		require.NoError(t, err)
	}

	// avg = (0.1*50000 + 0.2*53000 + 0.3*51000) / 0.6 = 30900 / 0.6 = 51500
	assert.True(t, result.Position.Quantity.Equal(d("0.6")),
		"quantity = %s", result.Position.Quantity)
	assert.True(t, result.Position.AvgEntryPrice.Equal(d("51500")),
		"avg price = %s", result.Position.AvgEntryPrice)
}

func TestApplyFillWeightedAverageExactRational(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	// Repeated small adds must not drift: Σ(qi·pi)/Σqi.
	totalCost := decimal.Zero
	totalQty := decimal.Zero
	var result *FillResult
	for i := 0; i < 50; i++ {
		qty := d("0.003")
		price := d("41237.55").Add(decimal.NewFromInt(int64(i)))
		var err error
		result, err = book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, qty, price)
		require.NoError(t, err)
		totalCost = totalCost.Add(qty.Mul(price))
		totalQty = totalQty.Add(qty)
	}

	expected := totalCost.Div(totalQty)
	diff := result.Position.AvgEntryPrice.Sub(expected).Abs()
	assert.True(t, diff.LessThan(d("0.0000001")),
		"avg %s, expected %s", result.Position.AvgEntryPrice, expected)
	assert.True(t, result.Position.Quantity.Equal(totalQty))
}

func TestApplyFillPartialClose(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	_, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d("0.5"), d("50000"))
	require.NoError(t, err)

	result, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideSell, d("0.2"), d("52000"))
	require.NoError(t, err)

	assert.True(t, result.Reduced)
	assert.False(t, result.Closed)
	// (52000 - 50000) * 0.2 = 400
	assert.True(t, result.RealizedPnL.Equal(d("400")), "realized = %s", result.RealizedPnL)
	// Average entry never moves on a reduce.
	assert.True(t, result.Position.AvgEntryPrice.Equal(d("50000")))
	assert.True(t, result.Position.Quantity.Equal(d("0.3")))
}

func TestApplyFillFullCloseDeletesPosition(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	_, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d("0.1"), d("50000"))
	require.NoError(t, err)

	result, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideSell, d("0.1"), d("52000"))
	require.NoError(t, err)

	assert.True(t, result.Closed)
	assert.Nil(t, result.Position)
	assert.True(t, result.RealizedPnL.Equal(d("200")))
	assert.True(t, result.UnconsumedQty.IsZero())

	stored, err := book.GetPosition("acct-1", "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, stored, "closed position must be deleted, not kept at zero")
}

func TestApplyFillShortCloseRealizesInverse(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	_, err := book.ApplyFill("acct-1", "ETHUSDT", types.SideSell, d("2"), d("3000"))
	require.NoError(t, err)

	// Buying back lower is a profit on a short.
	result, err := book.ApplyFill("acct-1", "ETHUSDT", types.SideBuy, d("2"), d("2900"))
	require.NoError(t, err)
	assert.True(t, result.Closed)
	assert.True(t, result.RealizedPnL.Equal(d("200")), "realized = %s", result.RealizedPnL)
}

func TestApplyFillExcessQuantityUnconsumed(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	_, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d("0.2"), d("50000"))
	require.NoError(t, err)

	// The book never auto-flips; the excess comes back to the caller.
	result, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideSell, d("0.5"), d("51000"))
	require.NoError(t, err)

	assert.True(t, result.Closed)
	assert.True(t, result.RealizedPnL.Equal(d("200")), "realized = %s", result.RealizedPnL)
	assert.True(t, result.UnconsumedQty.Equal(d("0.3")), "unconsumed = %s", result.UnconsumedQty)

	stored, err := book.GetPosition("acct-1", "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestApplyFillRejectsInvalidQuantity(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	_, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, decimal.Zero, d("50000"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d("-1"), d("50000"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d("1"), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestRefreshUnrealizedAggregates(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	_, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d("0.1"), d("50000"))
	require.NoError(t, err)
	_, err = book.ApplyFill("acct-1", "ETHUSDT", types.SideSell, d("2"), d("3000"))
	require.NoError(t, err)

	prices := map[string]decimal.Decimal{
		"BTCUSDT": d("51000"),
		"ETHUSDT": d("2950"),
	}
	total, err := book.RefreshUnrealized("acct-1", func(symbol string) (decimal.Decimal, error) {
		return prices[symbol], nil
	})
	require.NoError(t, err)

	// LONG: (51000-50000)*0.1 = 100; SHORT: (2950-3000)*2*-1 = 100
	assert.True(t, total.Equal(d("200")), "total = %s", total)
}

func TestRefreshUnrealizedPartialFailure(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	_, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d("0.1"), d("50000"))
	require.NoError(t, err)
	_, err = book.ApplyFill("acct-1", "ETHUSDT", types.SideBuy, d("2"), d("3000"))
	require.NoError(t, err)

	// One failing symbol zeroes its contribution and does not fail the sweep.
	total, err := book.RefreshUnrealized("acct-1", func(symbol string) (decimal.Decimal, error) {
		if symbol == "ETHUSDT" {
			return decimal.Zero, errors.New("feed down")
		}
		return d("51000"), nil
	})
	require.NoError(t, err)
	assert.True(t, total.Equal(d("100")), "total = %s", total)

	eth, err := book.GetPosition("acct-1", "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, eth.UnrealizedPnL.IsZero())
}

func TestApplyFillCorruptPositionIsFatal(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	_, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d("0.1"), d("50000"))
	require.NoError(t, err)

	// Corrupt the stored row behind the book's back.
	position, err := book.GetPosition("acct-1", "BTCUSDT")
	require.NoError(t, err)
	position.Quantity = decimal.Zero
	require.NoError(t, book.db.UpsertPosition(position))

	_, err = book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d("0.1"), d("50000"))
	assert.ErrorIs(t, err, ErrCorruptPosition)
}

func TestPositionsAreScopedByAccount(t *testing.T) {
	t.Parallel()
	book := newTestBook(t)

	_, err := book.ApplyFill("acct-1", "BTCUSDT", types.SideBuy, d("0.1"), d("50000"))
	require.NoError(t, err)
	_, err = book.ApplyFill("acct-2", "BTCUSDT", types.SideBuy, d("0.4"), d("49000"))
	require.NoError(t, err)

	first, err := book.GetPositionsByAccount("acct-1")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, first[0].Quantity.Equal(d("0.1")))
}
