package migrations

import (
	"github.com/ksred/paper-api/internal/types"
	"gorm.io/gorm"
)

// AddTradeCounters ensures the account table carries the realized P&L
// accumulator and win/loss counters introduced after the first schema.
func AddTradeCounters(db *gorm.DB) error {
	return db.AutoMigrate(&types.Account{})
}
