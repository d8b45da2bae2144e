package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/paper-api/internal/accounts"
	"github.com/ksred/paper-api/internal/notify"
	"github.com/ksred/paper-api/internal/oracle"
	"github.com/ksred/paper-api/internal/positions"
	"github.com/ksred/paper-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// lastResortPrice is used only when live execution, the price hint, the
// oracle and the per-symbol cache have all failed to yield a price. The
// fallback path must always produce one.
var lastResortPrice = decimal.NewFromInt(1)

// Engine orchestrates a single order from intent to committed ledger
// state. It is the unit of atomicity: every mutation of one account's
// balance, positions and order set happens inside that account's
// critical section.
type Engine struct {
	accounts       *accounts.Service
	book           *positions.Book
	orders         *Database
	oracle         oracle.Oracle
	sink           notify.Sink
	locks          *accountLocks
	commissionRate decimal.Decimal
	oracleTimeout  time.Duration
	logger         zerolog.Logger

	// newOrderID generates globally unique order ids. Replaceable in
	// tests to exercise the duplicate-id invariant.
	newOrderID func() string

	// lastPrices remembers the most recent resolved price per symbol as
	// the penultimate pricing fallback.
	priceMu    sync.Mutex
	lastPrices map[string]decimal.Decimal
}

// NewEngine wires the execution engine. The notification sink is
// injected here; the engine never reaches observers through ambient
// state.
func NewEngine(
	gormDB *gorm.DB,
	accountSvc *accounts.Service,
	book *positions.Book,
	priceOracle oracle.Oracle,
	sink notify.Sink,
	commissionRate decimal.Decimal,
	oracleTimeout time.Duration,
) *Engine {
	return &Engine{
		accounts:       accountSvc,
		book:           book,
		orders:         NewDatabase(gormDB),
		oracle:         priceOracle,
		sink:           sink,
		locks:          newAccountLocks(),
		commissionRate: commissionRate,
		oracleTimeout:  oracleTimeout,
		logger:         log.With().Str("component", "execution_engine").Logger(),
		newOrderID:     func() string { return uuid.New().String() },
		lastPrices:     make(map[string]decimal.Decimal),
	}
}

// Accounts exposes the registry for read paths (handlers, bootstrap).
func (e *Engine) Accounts() *accounts.Service { return e.accounts }

// Book exposes the position book for read paths.
func (e *Engine) Book() *positions.Book { return e.book }

// GetOrder returns the order with the given id, or ErrOrderNotFound.
func (e *Engine) GetOrder(orderID string) (*types.Order, error) {
	order, err := e.orders.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// GetOrdersByAccount lists recent orders for an account, newest first.
func (e *Engine) GetOrdersByAccount(accountID string, limit int) ([]types.Order, error) {
	return e.orders.GetOrdersByAccount(accountID, limit)
}

// PlaceMarketOrder executes a market order end to end: price
// resolution, balance validation, position and account mutation,
// persistence and event emission. The returned order has status FILLED.
//
// priceHint, when non-nil, is preferred over an oracle lookup if live
// execution fails. The pricing fallback chain never fails; upstream
// degradation is recorded on the order as a simulated fill.
func (e *Engine) PlaceMarketOrder(ctx context.Context, accountID, symbol, side string, quantity decimal.Decimal, priceHint *decimal.Decimal) (*types.Order, error) {
	if err := validateIntent(side, quantity); err != nil {
		return nil, err
	}

	// Resolve the execution price before taking the account lock so a
	// slow oracle never serializes unrelated work on this account.
	price, commission, realFill := e.resolveExecution(ctx, symbol, side, quantity, priceHint)

	lock := e.locks.get(accountID)
	lock.Lock()
	defer lock.Unlock()

	account, err := e.accounts.GetAccount(accountID)
	if err != nil {
		e.emitError(accountID, symbol, side, err)
		return nil, err
	}

	amount := quantity.Mul(price)

	if side == types.SideBuy {
		totalCost := amount.Add(commission)
		if account.Balance.LessThan(totalCost) {
			err := fmt.Errorf("%w: need %s, have %s",
				ErrInsufficientBalance, totalCost.String(), account.Balance.String())
			e.emitError(accountID, symbol, side, err)
			return nil, err
		}
	}

	order := &types.Order{
		OrderID:        e.newOrderID(),
		AccountID:      accountID,
		Symbol:         symbol,
		Side:           side,
		OrderType:      types.OrderTypeMarket,
		Quantity:       quantity,
		ExecutionPrice: price,
		Amount:         amount,
		Commission:     commission,
		RealFill:       realFill,
	}

	if _, err := e.commitFill(ctx, account, order); err != nil {
		return nil, err
	}
	return order, nil
}

// PlaceLimitOrder validates and persists a limit order with status
// PENDING. No position or account state changes until a separate fill
// path; only cancellation is supported from PENDING.
func (e *Engine) PlaceLimitOrder(ctx context.Context, accountID, symbol, side string, quantity, limitPrice decimal.Decimal) (*types.Order, error) {
	if err := validateIntent(side, quantity); err != nil {
		return nil, err
	}
	if !limitPrice.IsPositive() {
		return nil, fmt.Errorf("%w: limit price %s", ErrInvalidQuantity, limitPrice)
	}

	lock := e.locks.get(accountID)
	lock.Lock()
	defer lock.Unlock()

	account, err := e.accounts.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	if side == types.SideBuy {
		totalCost := quantity.Mul(limitPrice).
			Mul(decimal.NewFromInt(1).Add(e.commissionRate))
		if account.Balance.LessThan(totalCost) {
			return nil, fmt.Errorf("%w: need %s, have %s",
				ErrInsufficientBalance, totalCost.String(), account.Balance.String())
		}
	}

	now := time.Now()
	order := &types.Order{
		OrderID:   e.newOrderID(),
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		OrderType: types.OrderTypeLimit,
		Quantity:  quantity,
		Price:     decimal.NewNullDecimal(limitPrice),
		Status:    types.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.orders.CreateOrder(order); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("order_id", order.OrderID).
		Str("account_id", accountID).
		Str("symbol", symbol).
		Str("side", side).
		Msg("limit order accepted")

	return order, nil
}

// CancelOrder transitions a PENDING order to CANCELLED. Any other
// starting status is an invalid transition.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (*types.Order, error) {
	order, err := e.GetOrder(orderID)
	if err != nil {
		return nil, err
	}

	lock := e.locks.get(order.AccountID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read inside the critical section; the status may have moved.
	order, err = e.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != types.OrderStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, orderID, order.Status)
	}

	now := time.Now()
	order.Status = types.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now

	if err := e.orders.UpdateOrder(order); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("order_id", orderID).
		Str("account_id", order.AccountID).
		Msg("order cancelled")

	return order, nil
}

// ClosePosition synthesizes an opposite-side market order for the full
// open quantity and commits it, deleting the position. When closePrice
// is nil the current market price is used.
func (e *Engine) ClosePosition(ctx context.Context, positionID string, closePrice *decimal.Decimal) (*types.Order, decimal.Decimal, error) {
	position, err := e.book.GetPositionByID(positionID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	// Resolve the close price before taking the account lock, as with
	// market orders.
	var price decimal.Decimal
	if closePrice != nil {
		price = *closePrice
	} else {
		price = e.fallbackPrice(ctx, position.Symbol, nil)
	}

	lock := e.locks.get(position.AccountID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read inside the critical section; a racing order may have
	// reduced or closed the position, and the close must be sized off
	// what the book holds now.
	position, err = e.book.GetPositionByID(positionID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	side := types.SideSell
	if position.Side == types.PositionShort {
		side = types.SideBuy
	}
	commission := position.Quantity.Mul(price).Mul(e.commissionRate)

	account, err := e.accounts.GetAccount(position.AccountID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	order := &types.Order{
		OrderID:        e.newOrderID(),
		AccountID:      position.AccountID,
		Symbol:         position.Symbol,
		Side:           side,
		OrderType:      types.OrderTypeMarket,
		Quantity:       position.Quantity,
		ExecutionPrice: price,
		Amount:         position.Quantity.Mul(price),
		Commission:     commission,
	}

	fill, err := e.commitFill(ctx, account, order)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return order, fill.RealizedPnL, nil
}

// RefreshAccountEquity recomputes unrealized P&L for all of an
// account's positions and persists the resulting equity. It takes the
// same per-account lock as order placement so a sweep and a fill can
// never interleave into an inconsistent equity figure.
func (e *Engine) RefreshAccountEquity(ctx context.Context, accountID string) error {
	lock := e.locks.get(accountID)
	lock.Lock()
	defer lock.Unlock()

	account, err := e.accounts.GetAccount(accountID)
	if err != nil {
		return err
	}

	unrealized, err := e.book.RefreshUnrealized(accountID, e.priceLookup(ctx))
	if err != nil {
		return err
	}

	account.UnrealizedPnL = unrealized
	account.Equity = account.Balance.Add(unrealized)
	return e.accounts.UpdateAccount(account)
}

// commitFill runs the commit sequence for a marketable order with the
// account lock held: persist the order, apply the fill to the book,
// mutate and persist the account, recompute equity, emit the event.
// A persistence failure after the order row is written is reported as a
// LedgerInconsistencyError naming the entity that failed.
func (e *Engine) commitFill(ctx context.Context, account *types.Account, order *types.Order) (*positions.FillResult, error) {
	now := time.Now()
	order.Status = types.OrderStatusFilled
	order.FilledAt = &now
	order.CreatedAt = now
	order.UpdatedAt = now

	if err := e.orders.CreateOrder(order); err != nil {
		// Nothing was mutated; duplicate ids and store failures reject cleanly.
		return nil, err
	}

	fill, err := e.book.ApplyFill(account.AccountID, order.Symbol, order.Side, order.Quantity, order.ExecutionPrice)
	if err != nil {
		if errors.Is(err, positions.ErrCorruptPosition) || errors.Is(err, positions.ErrInvalidQuantity) {
			return nil, err
		}
		return nil, &LedgerInconsistencyError{OrderID: order.OrderID, Entity: "position", Err: err}
	}

	if !fill.UnconsumedQty.IsZero() {
		e.logger.Warn().
			Str("order_id", order.OrderID).
			Str("symbol", order.Symbol).
			Str("unconsumed_qty", fill.UnconsumedQty.String()).
			Msg("fill exceeded open position, excess not applied")
	}

	// BUY debits cost plus commission, SELL credits proceeds net of it.
	if order.Side == types.SideBuy {
		account.Balance = account.Balance.Sub(order.Amount).Sub(order.Commission)
	} else {
		account.Balance = account.Balance.Add(order.Amount).Sub(order.Commission)
	}

	if fill.Reduced {
		account.RealizedPnL = account.RealizedPnL.Add(fill.RealizedPnL)
		account.TotalTrades++
		switch {
		case fill.RealizedPnL.IsPositive():
			account.WinningTrades++
		case fill.RealizedPnL.IsNegative():
			account.LosingTrades++
		}
	}

	if err := e.accounts.UpdateAccount(account); err != nil {
		return nil, &LedgerInconsistencyError{OrderID: order.OrderID, Entity: "account", Err: err}
	}

	unrealized, err := e.book.RefreshUnrealized(account.AccountID, e.priceLookup(ctx))
	if err != nil {
		return nil, &LedgerInconsistencyError{OrderID: order.OrderID, Entity: "position", Err: err}
	}
	account.UnrealizedPnL = unrealized
	account.Equity = account.Balance.Add(unrealized)
	if err := e.accounts.UpdateAccount(account); err != nil {
		return nil, &LedgerInconsistencyError{OrderID: order.OrderID, Entity: "account", Err: err}
	}

	e.logger.Info().
		Str("order_id", order.OrderID).
		Str("account_id", account.AccountID).
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Str("quantity", order.Quantity.String()).
		Str("execution_price", order.ExecutionPrice.String()).
		Str("realized_pnl", fill.RealizedPnL.String()).
		Bool("real_fill", order.RealFill).
		Msg("order committed")

	e.sink.OrderExecuted(types.NewExecutionEvent(order))

	return fill, nil
}

// resolveExecution determines the execution price for a market order.
// It tries a live exchange execution first; on any failure it degrades
// to the price hint, then the oracle's current price, then the last
// price this engine resolved for the symbol. It never fails.
func (e *Engine) resolveExecution(ctx context.Context, symbol, side string, quantity decimal.Decimal, priceHint *decimal.Decimal) (price, commission decimal.Decimal, realFill bool) {
	execCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
	defer cancel()

	execution, err := e.oracle.AttemptRealExecution(execCtx, symbol, side, quantity)
	if err == nil {
		e.rememberPrice(symbol, execution.Price)
		return execution.Price, execution.Commission, true
	}

	e.logger.Debug().
		Str("symbol", symbol).
		Err(err).
		Msg("live execution unavailable, simulating fill")

	price = e.fallbackPrice(ctx, symbol, priceHint)
	commission = quantity.Mul(price).Mul(e.commissionRate)
	return price, commission, false
}

// fallbackPrice yields a simulated execution price: hint, then oracle,
// then last-known, then a fixed last resort.
func (e *Engine) fallbackPrice(ctx context.Context, symbol string, priceHint *decimal.Decimal) decimal.Decimal {
	if priceHint != nil && priceHint.IsPositive() {
		e.rememberPrice(symbol, *priceHint)
		return *priceHint
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
	defer cancel()
	if price, err := e.oracle.GetCurrentPrice(lookupCtx, symbol); err == nil && price.IsPositive() {
		e.rememberPrice(symbol, price)
		return price
	}

	e.priceMu.Lock()
	last, ok := e.lastPrices[symbol]
	e.priceMu.Unlock()
	if ok {
		return last
	}

	e.logger.Warn().
		Str("symbol", symbol).
		Msg("no price source available, using last-resort price")
	return lastResortPrice
}

// priceLookup adapts the oracle to the position book's lookup shape,
// bounding each call with the oracle timeout.
func (e *Engine) priceLookup(ctx context.Context) positions.PriceLookup {
	return func(symbol string) (decimal.Decimal, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
		defer cancel()
		price, err := e.oracle.GetCurrentPrice(lookupCtx, symbol)
		if err != nil {
			return decimal.Zero, err
		}
		e.rememberPrice(symbol, price)
		return price, nil
	}
}

func (e *Engine) rememberPrice(symbol string, price decimal.Decimal) {
	e.priceMu.Lock()
	e.lastPrices[symbol] = price
	e.priceMu.Unlock()
}

func (e *Engine) emitError(accountID, symbol, side string, err error) {
	e.sink.OrderError(types.NewErrorEvent(accountID, symbol, side, err.Error()))
}

func validateIntent(side string, quantity decimal.Decimal) error {
	if side != types.SideBuy && side != types.SideSell {
		return fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidQuantity, quantity)
	}
	return nil
}
