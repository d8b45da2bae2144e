package positions

import (
	"errors"

	"github.com/ksred/paper-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// UpsertPosition persists a position, creating it on first write.
func (d *Database) UpsertPosition(position *types.Position) error {
	return d.db.Save(position).Error
}

func (d *Database) GetPosition(accountID, symbol string) (*types.Position, error) {
	var position types.Position
	err := d.db.Where("account_id = ? AND symbol = ?", accountID, symbol).First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

func (d *Database) GetPositionByID(positionID string) (*types.Position, error) {
	var position types.Position
	if err := d.db.Where("position_id = ?", positionID).First(&position).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

func (d *Database) GetPositionsByAccount(accountID string) ([]types.Position, error) {
	var positions []types.Position
	if err := d.db.Where("account_id = ?", accountID).Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

// DeletePosition removes a closed position outright. Hard delete: a
// position that reaches zero quantity must not linger as a soft-deleted
// row blocking re-entry on the same symbol.
func (d *Database) DeletePosition(position *types.Position) error {
	return d.db.Unscoped().Delete(position).Error
}
