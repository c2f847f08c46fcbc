package migrations

import (
	"gorm.io/gorm"

	"github.com/PAFGYM/k-quant-system-sub002/internal/orders"
)

// AddOrderIndexes creates the order tables and the composite indexes the ledger
// queries lean on
func AddOrderIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&orders.OrderRecord{}, &orders.TransitionRecord{}); err != nil {
		return err
	}

	indexes := []string{
		// active orders per ticker
		`CREATE INDEX IF NOT EXISTS idx_order_records_ticker_state
		 ON order_records(ticker, state)`,

		// today's orders
		`CREATE INDEX IF NOT EXISTS idx_order_records_ordered_at
		 ON order_records(ordered_at)`,

		`CREATE INDEX IF NOT EXISTS idx_transition_records_occurred_at
		 ON transition_records(occurred_at)`,
	}
	return execAll(db, indexes)
}

func execAll(db *gorm.DB, statements []string) error {
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
