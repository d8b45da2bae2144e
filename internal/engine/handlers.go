package engine

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/ksred/paper-api/internal/accounts"
	"github.com/ksred/paper-api/internal/auth"
	"github.com/ksred/paper-api/internal/positions"
	"github.com/ksred/paper-api/internal/types"
	"github.com/ksred/paper-api/pkg/response"
	"github.com/shopspring/decimal"
)

// GinHandlers contains HTTP handlers for order and position endpoints
type GinHandlers struct {
	engine *Engine
}

// NewGinHandlers creates a new set of HTTP handlers for the engine
func NewGinHandlers(engine *Engine) *GinHandlers {
	return &GinHandlers{
		engine: engine,
	}
}

type placeOrderRequest struct {
	AccountID string           `json:"account_id" binding:"required"`
	Symbol    string           `json:"symbol" binding:"required"`
	Side      string           `json:"side" binding:"required"`
	OrderType string           `json:"order_type"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

type closePositionRequest struct {
	ClosePrice *decimal.Decimal `json:"close_price,omitempty"`
}

// PlaceOrderHandler handles POST requests to place market and limit
// orders on an account owned by the authenticated client.
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req placeOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if !h.ownsAccount(c, req.AccountID) {
			return
		}

		var (
			order *types.Order
			err   error
		)
		switch req.OrderType {
		case types.OrderTypeLimit:
			if req.Price == nil {
				response.BadRequest(c, "Price is required for limit orders")
				return
			}
			order, err = h.engine.PlaceLimitOrder(c.Request.Context(),
				req.AccountID, req.Symbol, req.Side, req.Quantity, *req.Price)
		case types.OrderTypeMarket, "":
			order, err = h.engine.PlaceMarketOrder(c.Request.Context(),
				req.AccountID, req.Symbol, req.Side, req.Quantity, req.Price)
		default:
			response.BadRequest(c, "Order type must be MARKET or LIMIT")
			return
		}

		if err != nil {
			respondEngineError(c, err)
			return
		}
		response.Success(c, order)
	}
}

// CancelOrderHandler handles DELETE requests to cancel a pending order.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.engine.GetOrder(orderID)
		if err != nil {
			respondEngineError(c, err)
			return
		}
		if !h.ownsAccount(c, order.AccountID) {
			return
		}

		cancelled, err := h.engine.CancelOrder(c.Request.Context(), orderID)
		if err != nil {
			respondEngineError(c, err)
			return
		}
		response.Success(c, cancelled)
	}
}

// GetOrderHandler handles GET requests for a single order.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		order, err := h.engine.GetOrder(orderID)
		if err != nil {
			respondEngineError(c, err)
			return
		}
		if !h.ownsAccount(c, order.AccountID) {
			return
		}
		response.Success(c, order)
	}
}

// ListOrdersHandler handles GET requests for an account's order history.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		if !h.ownsAccount(c, accountID) {
			return
		}

		orders, err := h.engine.GetOrdersByAccount(accountID, 100)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, orders)
	}
}

// ListPositionsHandler handles GET requests for an account's open positions.
func (h *GinHandlers) ListPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		if !h.ownsAccount(c, accountID) {
			return
		}

		openPositions, err := h.engine.Book().GetPositionsByAccount(accountID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, openPositions)
	}
}

// ClosePositionHandler handles POST requests to close an open position
// at the supplied price, or at market when none is given.
func (h *GinHandlers) ClosePositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		positionID := c.Param("position_id")
		if positionID == "" {
			response.BadRequest(c, "Position ID is required")
			return
		}

		position, err := h.engine.Book().GetPositionByID(positionID)
		if err != nil {
			respondEngineError(c, err)
			return
		}
		if !h.ownsAccount(c, position.AccountID) {
			return
		}

		var req closePositionRequest
		if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
			response.BadRequest(c, err.Error())
			return
		}

		order, realized, err := h.engine.ClosePosition(c.Request.Context(), positionID, req.ClosePrice)
		if err != nil {
			respondEngineError(c, err)
			return
		}

		response.Success(c, gin.H{
			"order":        order,
			"realized_pnl": realized,
		})
	}
}

// ownsAccount verifies the account belongs to the authenticated client.
// On failure it writes the response and returns false.
func (h *GinHandlers) ownsAccount(c *gin.Context, accountID string) bool {
	claims, exists := c.Get("claims")
	if !exists {
		response.Unauthorized(c, "Missing authentication claims")
		return false
	}

	ownerID := auth.GetClientID(claims)
	if ownerID == "" {
		response.Unauthorized(c, "Invalid client ID in token")
		return false
	}

	account, err := h.engine.Accounts().GetAccount(accountID)
	if err != nil || account.OwnerID != ownerID {
		response.NotFound(c, "Account not found")
		return false
	}
	return true
}

// respondEngineError maps the engine error taxonomy to HTTP responses.
// Validation errors are actionable client errors; a ledger
// inconsistency is surfaced as a critical server error.
func respondEngineError(c *gin.Context, err error) {
	var inconsistency *LedgerInconsistencyError
	switch {
	case errors.As(err, &inconsistency):
		response.InternalError(c, inconsistency.Error())
	case errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, positions.ErrPositionNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidSide),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, positions.ErrInvalidQuantity):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrDuplicateOrder):
		response.Conflict(c, err.Error())
	default:
		response.InternalError(c, "An unexpected error occurred")
	}
}
