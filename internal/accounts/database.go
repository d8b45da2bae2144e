package accounts

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

func (d *Database) CreateAccount(account *types.Account) error {
	return d.db.Create(account).Error
}

func (d *Database) GetAccount(accountID string) (*types.Account, error) {
	var account types.Account
	if err := d.db.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (d *Database) GetAccountsByOwner(ownerID string) ([]types.Account, error) {
	var accounts []types.Account
	if err := d.db.Where("owner_id = ?", ownerID).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (d *Database) UpdateAccount(account *types.Account) error {
	return d.db.Save(account).Error
}

// ListAccountIDs returns the ids of every account in the store. Used by
// the background equity sweep.
func (d *Database) ListAccountIDs() ([]string, error) {
	var ids []string
	if err := d.db.Model(&types.Account{}).Pluck("account_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
