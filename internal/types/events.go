package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event type identifiers carried on the notification stream.
const (
	EventOrderExecuted = "order_executed"
	EventOrderError    = "order_error"
)

// ExecutionEvent is broadcast after an order has been committed to the
// ledger. The ledger state is already final when observers see it.
type ExecutionEvent struct {
	Type           string          `json:"type"`
	AccountID      string          `json:"account_id"`
	OrderID        string          `json:"order_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	Amount         decimal.Decimal `json:"amount"`
	Commission     decimal.Decimal `json:"commission"`
	RealFill       bool            `json:"real_fill"`
	Timestamp      time.Time       `json:"timestamp"`
	Summary        string          `json:"summary"`
}

// NewExecutionEvent builds the broadcast payload for a filled order.
func NewExecutionEvent(order *Order) ExecutionEvent {
	fillKind := "simulated"
	if order.RealFill {
		fillKind = "real"
	}
	return ExecutionEvent{
		Type:           EventOrderExecuted,
		AccountID:      order.AccountID,
		OrderID:        order.OrderID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Quantity:       order.Quantity,
		ExecutionPrice: order.ExecutionPrice,
		Amount:         order.Amount,
		Commission:     order.Commission,
		RealFill:       order.RealFill,
		Timestamp:      time.Now(),
		Summary: fmt.Sprintf("%s %s %s @ %s (%s fill)",
			order.Side, order.Quantity.String(), order.Symbol,
			order.ExecutionPrice.String(), fillKind),
	}
}

// ErrorEvent is broadcast when an order is rejected before commit.
type ErrorEvent struct {
	Type      string    `json:"type"`
	AccountID string    `json:"account_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewErrorEvent builds the broadcast payload for a rejected order.
func NewErrorEvent(accountID, symbol, side, message string) ErrorEvent {
	return ErrorEvent{
		Type:      EventOrderError,
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		Message:   message,
		Timestamp: time.Now(),
	}
}
