package positions

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/paper-api/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrPositionNotFound is returned when a position id does not exist.
	ErrPositionNotFound = errors.New("position not found")

	// ErrInvalidQuantity is returned for fills with a non-positive quantity.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrCorruptPosition indicates a stored position with quantity <= 0.
	// This is a data-corruption condition, not a business error.
	ErrCorruptPosition = errors.New("stored position has non-positive quantity")
)

// PriceLookup resolves the current price for a symbol. Used by the
// unrealized P&L sweep.
type PriceLookup func(symbol string) (decimal.Decimal, error)

// FillResult reports the outcome of applying a fill to the book.
type FillResult struct {
	// RealizedPnL is the profit or loss locked in by this fill. Zero for
	// opening and extending fills.
	RealizedPnL decimal.Decimal
	// Position is the resulting open position, nil when the fill closed it.
	Position *types.Position
	// Reduced is true when the fill went against an existing position,
	// i.e. realized P&L was committed (possibly zero).
	Reduced bool
	// Closed is true when the fill removed the position entirely.
	Closed bool
	// UnconsumedQty is the part of the fill quantity exceeding the open
	// opposite-side quantity. The book never auto-flips; the caller is
	// expected to resubmit the excess as a new opening fill.
	UnconsumedQty decimal.Decimal
}

// Book owns all open positions and their average-cost accounting. It is
// only ever invoked from inside the execution engine's per-account
// critical section, so it does no locking of its own.
type Book struct {
	db *Database
}

// NewBook creates a position book backed by the given database.
func NewBook(gormDB *gorm.DB) *Book {
	return &Book{db: NewDatabase(gormDB)}
}

// GetPosition returns the open position for (account, symbol), or nil.
func (b *Book) GetPosition(accountID, symbol string) (*types.Position, error) {
	return b.db.GetPosition(accountID, symbol)
}

// GetPositionByID returns the position with the given id, or
// ErrPositionNotFound.
func (b *Book) GetPositionByID(positionID string) (*types.Position, error) {
	position, err := b.db.GetPositionByID(positionID)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrPositionNotFound
	}
	return position, nil
}

// GetPositionsByAccount lists all open positions of an account.
func (b *Book) GetPositionsByAccount(accountID string) ([]types.Position, error) {
	return b.db.GetPositionsByAccount(accountID)
}

// ApplyFill applies a BUY or SELL fill to the book and persists the
// resulting position state.
//
// A fill in the direction of the existing position (or with no existing
// position) opens or extends exposure at the quantity-weighted average
// entry price. A fill against the existing position reduces it,
// realizing P&L on the reduced quantity; the average entry price never
// changes on a reduce. A reduce that consumes the whole position deletes
// it and reports any excess quantity as unconsumed.
func (b *Book) ApplyFill(accountID, symbol, side string, quantity, executionPrice decimal.Decimal) (*FillResult, error) {
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	if !executionPrice.IsPositive() {
		return nil, fmt.Errorf("%w: execution price %s", ErrInvalidQuantity, executionPrice)
	}

	position, err := b.db.GetPosition(accountID, symbol)
	if err != nil {
		return nil, err
	}

	// Opening a new position: BUY opens LONG, SELL opens SHORT.
	if position == nil {
		positionSide := types.PositionLong
		if side == types.SideSell {
			positionSide = types.PositionShort
		}
		now := time.Now()
		position = &types.Position{
			PositionID:    uuid.New().String(),
			AccountID:     accountID,
			Symbol:        symbol,
			Side:          positionSide,
			Quantity:      quantity,
			AvgEntryPrice: executionPrice,
			CurrentPrice:  executionPrice,
			UnrealizedPnL: decimal.Zero,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := b.db.UpsertPosition(position); err != nil {
			return nil, err
		}
		return &FillResult{RealizedPnL: decimal.Zero, Position: position}, nil
	}

	if !position.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: position %s quantity %s",
			ErrCorruptPosition, position.PositionID, position.Quantity)
	}

	if sameDirection(position.Side, side) {
		return b.extend(position, quantity, executionPrice)
	}
	return b.reduce(position, quantity, executionPrice)
}

// extend adds to an existing position at the weighted-average price:
// newAvg = (oldQty*oldAvg + fillQty*fillPrice) / (oldQty + fillQty).
func (b *Book) extend(position *types.Position, quantity, executionPrice decimal.Decimal) (*FillResult, error) {
	newQty := position.Quantity.Add(quantity)
	totalCost := position.Quantity.Mul(position.AvgEntryPrice).Add(quantity.Mul(executionPrice))

	position.AvgEntryPrice = totalCost.Div(newQty)
	position.Quantity = newQty
	position.CurrentPrice = executionPrice
	position.UpdatedAt = time.Now()

	if err := b.db.UpsertPosition(position); err != nil {
		return nil, err
	}
	return &FillResult{RealizedPnL: decimal.Zero, Position: position}, nil
}

// reduce closes all or part of a position against an opposite-side fill.
func (b *Book) reduce(position *types.Position, quantity, executionPrice decimal.Decimal) (*FillResult, error) {
	closedQty := decimal.Min(quantity, position.Quantity)
	unconsumed := quantity.Sub(closedQty)

	// (price - avgEntry) * qty for LONG, inverted for SHORT.
	realized := executionPrice.Sub(position.AvgEntryPrice).
		Mul(closedQty).
		Mul(position.DirectionSign())

	if closedQty.Equal(position.Quantity) {
		if err := b.db.DeletePosition(position); err != nil {
			return nil, err
		}
		return &FillResult{
			RealizedPnL:   realized,
			Reduced:       true,
			Closed:        true,
			UnconsumedQty: unconsumed,
		}, nil
	}

	position.Quantity = position.Quantity.Sub(closedQty)
	position.CurrentPrice = executionPrice
	position.UpdatedAt = time.Now()
	if err := b.db.UpsertPosition(position); err != nil {
		return nil, err
	}
	return &FillResult{RealizedPnL: realized, Reduced: true, Position: position}, nil
}

// RefreshUnrealized recomputes the unrealized P&L of every open position
// of an account using the supplied price lookup and returns the
// aggregate. A lookup failure for one symbol zeroes that position's
// contribution instead of failing the sweep; one bad symbol must not
// block the others.
func (b *Book) RefreshUnrealized(accountID string, lookup PriceLookup) (decimal.Decimal, error) {
	openPositions, err := b.db.GetPositionsByAccount(accountID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for i := range openPositions {
		position := &openPositions[i]

		price, err := lookup(position.Symbol)
		if err != nil {
			log.Warn().
				Str("component", "position_book").
				Str("account_id", accountID).
				Str("symbol", position.Symbol).
				Err(err).
				Msg("price lookup failed, zeroing unrealized pnl")
			position.UnrealizedPnL = decimal.Zero
		} else {
			position.CurrentPrice = price
			position.UnrealizedPnL = price.Sub(position.AvgEntryPrice).
				Mul(position.Quantity).
				Mul(position.DirectionSign())
			total = total.Add(position.UnrealizedPnL)
		}

		position.UpdatedAt = time.Now()
		if err := b.db.UpsertPosition(position); err != nil {
			return decimal.Zero, err
		}
	}

	return total, nil
}

func sameDirection(positionSide, fillSide string) bool {
	return (positionSide == types.PositionLong && fillSide == types.SideBuy) ||
		(positionSide == types.PositionShort && fillSide == types.SideSell)
}
