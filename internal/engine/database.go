package engine

import (
	"errors"
	"fmt"

	"github.com/ksred/paper-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateOrder persists a new order. A reused order id is a hard error:
// the store rejects it, never silently overwrites.
func (d *Database) CreateOrder(order *types.Order) error {
	existing, err := d.GetOrder(order.OrderID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, order.OrderID)
	}

	if err := d.db.Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateOrder, order.OrderID)
		}
		return err
	}
	return nil
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrdersByAccount(accountID string, limit int) ([]types.Order, error) {
	var orders []types.Order
	query := d.db.Where("account_id = ?", accountID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateOrder persists status transitions and terminal fill fields.
func (d *Database) UpdateOrder(order *types.Order) error {
	return d.db.Save(order).Error
}
