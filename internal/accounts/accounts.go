package accounts

import (
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/paper-api/internal/auth"
	"github.com/ksred/paper-api/internal/types"
	"github.com/ksred/paper-api/pkg/response"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrAccountNotFound is returned when a requested account does not
	// exist in the cache or the store.
	ErrAccountNotFound = errors.New("account not found")
)

// Service is the authoritative registry for accounts. It keeps a
// cache-aside in-memory view in front of the store: reads fill the cache
// on miss, every write goes to the store first and then re-caches. The
// cache is rebuildable from the store at startup, nothing lives only in
// memory.
//
// Structs never cross the cache boundary by reference: every read hands
// out a copy and every write caches a copy, so a caller mutating its
// account in place cannot race concurrent readers or leak uncommitted
// state into the cache.
type Service struct {
	db *Database

	mu    sync.RWMutex
	cache map[string]*types.Account
}

// NewService creates a new account registry backed by the given database.
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		cache: make(map[string]*types.Account),
	}
}

// CreateAccount allocates a new account with the given opening balance.
// It never fails on business rules; a store failure is the only error.
func (s *Service) CreateAccount(ownerID string, initialBalance decimal.Decimal, currency string) (*types.Account, error) {
	now := time.Now()
	account := &types.Account{
		AccountID:     uuid.New().String(),
		OwnerID:       ownerID,
		Currency:      currency,
		Balance:       initialBalance,
		Equity:        initialBalance,
		RealizedPnL:   decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.db.CreateAccount(account); err != nil {
		return nil, err
	}

	cached := *account
	s.mu.Lock()
	s.cache[account.AccountID] = &cached
	s.mu.Unlock()

	return account, nil
}

// GetAccount returns a copy of the account with the given id,
// cache-first. A miss loads from the store and populates the cache.
// Returns ErrAccountNotFound when the account does not exist.
func (s *Service) GetAccount(accountID string) (*types.Account, error) {
	s.mu.RLock()
	cached, ok := s.cache[accountID]
	if ok {
		account := *cached
		s.mu.RUnlock()
		return &account, nil
	}
	s.mu.RUnlock()

	account, err := s.db.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	entry := *account
	s.mu.Lock()
	s.cache[accountID] = &entry
	s.mu.Unlock()

	return account, nil
}

// GetAccountsByOwner lists all accounts belonging to an owner. Reads
// through to the store; the result is not cached as a set.
func (s *Service) GetAccountsByOwner(ownerID string) ([]types.Account, error) {
	return s.db.GetAccountsByOwner(ownerID)
}

// UpdateAccount persists the full account record and re-caches a copy.
// Derived fields (equity, unrealized P&L) are taken as computed by the
// caller; the registry does not recompute them. When the store write
// fails the cache entry is dropped, so an uncommitted mutation is never
// served; the next read rebuilds the entry from the store.
func (s *Service) UpdateAccount(account *types.Account) error {
	account.UpdatedAt = time.Now()

	if err := s.db.UpdateAccount(account); err != nil {
		s.mu.Lock()
		delete(s.cache, account.AccountID)
		s.mu.Unlock()
		return err
	}

	cached := *account
	s.mu.Lock()
	s.cache[account.AccountID] = &cached
	s.mu.Unlock()

	return nil
}

// ListAccountIDs returns every account id known to the store.
func (s *Service) ListAccountIDs() ([]string, error) {
	return s.db.ListAccountIDs()
}

// GinHandlers contains HTTP handlers for account endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for account endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type createAccountRequest struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Currency       string          `json:"currency"`
}

// CreateAccountHandler handles POST requests to open a new paper account
// for the authenticated owner.
func (h *GinHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		ownerID := auth.GetClientID(claims)
		if ownerID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		var req createAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if req.InitialBalance.IsNegative() {
			response.BadRequest(c, "Initial balance must not be negative")
			return
		}
		if req.Currency == "" {
			req.Currency = "USDT"
		}

		account, err := h.service.CreateAccount(ownerID, req.InitialBalance, req.Currency)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, account)
	}
}

// GetAccountHandler handles GET requests for a single account. The
// account must belong to the authenticated owner.
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		ownerID := auth.GetClientID(claims)
		if ownerID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		accountID := c.Param("account_id")
		if accountID == "" {
			response.BadRequest(c, "Account ID is required")
			return
		}

		account, err := h.service.GetAccount(accountID)
		if err != nil || account.OwnerID != ownerID {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, account)
	}
}
