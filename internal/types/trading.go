package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order sides as submitted by clients
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Position directions
const (
	PositionLong  = "LONG"
	PositionShort = "SHORT"
)

// Order types
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Order statuses. MARKET orders never enter PENDING; FILLED and
// CANCELLED are terminal.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
)

// Account is a virtual trading account. Balance and equity are held as
// decimals so repeated fills never accumulate floating-point drift.
// Equity and UnrealizedPnL are derived fields computed by the execution
// engine; the registry only persists them.
type Account struct {
	gorm.Model    `json:"-"`
	AccountID     string          `gorm:"uniqueIndex" json:"account_id"`
	OwnerID       string          `gorm:"index" json:"owner_id"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `gorm:"type:numeric(30,10)" json:"balance"`
	Equity        decimal.Decimal `gorm:"type:numeric(30,10)" json:"equity"`
	RealizedPnL   decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10)" json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10)" json:"unrealized_pnl"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Position is an open holding. At most one position exists per
// (account, symbol); a position whose quantity reaches zero is deleted,
// never kept at zero.
type Position struct {
	gorm.Model    `json:"-"`
	PositionID    string          `gorm:"uniqueIndex" json:"position_id"`
	AccountID     string          `gorm:"index" json:"account_id"`
	Symbol        string          `gorm:"index" json:"symbol"`
	Side          string          `json:"side"` // LONG or SHORT
	Quantity      decimal.Decimal `gorm:"type:numeric(30,10)" json:"quantity"`
	AvgEntryPrice decimal.Decimal `gorm:"type:numeric(20,10)" json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `gorm:"type:numeric(20,10)" json:"current_price"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10)" json:"unrealized_pnl"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// DirectionSign returns +1 for LONG and -1 for SHORT, the multiplier
// applied to (price - avgEntry) when valuing the position.
func (p *Position) DirectionSign() decimal.Decimal {
	if p.Side == PositionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Order records a single trade intent and its outcome. Immutable once
// created except for status transitions and terminal fill fields.
type Order struct {
	gorm.Model     `json:"-"`
	OrderID        string              `gorm:"uniqueIndex" json:"order_id"`
	AccountID      string              `gorm:"index" json:"account_id"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`       // BUY or SELL
	OrderType      string              `json:"order_type"` // MARKET or LIMIT
	Quantity       decimal.Decimal     `gorm:"type:numeric(30,10)" json:"quantity"`
	Price          decimal.NullDecimal `gorm:"type:numeric(20,10)" json:"price"` // requested; null for MARKET
	ExecutionPrice decimal.Decimal     `gorm:"type:numeric(20,10)" json:"execution_price"`
	Amount         decimal.Decimal     `gorm:"type:numeric(30,10)" json:"amount"`
	Commission     decimal.Decimal     `gorm:"type:numeric(30,10)" json:"commission"`
	Status         string              `gorm:"index" json:"status"`
	RealFill       bool                `json:"real_fill"` // real exchange fill vs simulated
	FilledAt       *time.Time          `json:"filled_at,omitempty"`
	CancelledAt    *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}
