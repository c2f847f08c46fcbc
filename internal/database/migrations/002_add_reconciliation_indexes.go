package migrations

import (
	"gorm.io/gorm"

	"github.com/PAFGYM/k-quant-system-sub002/internal/reconciliation"
)

// AddReconciliationIndexes creates the report tables and their lookup indexes
func AddReconciliationIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&reconciliation.ReportRecord{}, &reconciliation.MismatchRecord{}); err != nil {
		return err
	}

	indexes := []string{
		// latest report lookup
		`CREATE INDEX IF NOT EXISTS idx_report_records_status_ran_at
		 ON report_records(status, ran_at)`,

		`CREATE INDEX IF NOT EXISTS idx_mismatch_records_kind_severity
		 ON mismatch_records(kind, severity)`,
	}
	return execAll(db, indexes)
}
