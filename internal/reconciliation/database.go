package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/PAFGYM/k-quant-system-sub002/internal/safety"
)

// ErrNoReport is returned before any report was stored or produced
var ErrNoReport = errors.New("no reconciliation report")

type ReportRecord struct {
	gorm.Model        `json:"-"`
	ReportID          string    `gorm:"uniqueIndex" json:"report_id"`
	RanAt             time.Time `gorm:"index" json:"ran_at"`
	Status            string    `gorm:"index" json:"status"`
	InternalPositions int       `json:"internal_positions"`
	BrokerPositions   int       `json:"broker_positions"`
	MatchedPositions  int       `json:"matched_positions"`
	MismatchCount     int       `json:"mismatch_count"`
	LevelBefore       string    `json:"safety_level_before"`
	LevelAfter        string    `json:"safety_level_after"`
	Error             string    `json:"error"`
}

type MismatchRecord struct {
	gorm.Model    `json:"-"`
	ReportID      string  `gorm:"index" json:"report_id"`
	Kind          string  `json:"kind"`
	Severity      string  `json:"severity"`
	Ticker        string  `gorm:"index" json:"ticker"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	InternalValue float64 `json:"internal_value"`
	BrokerValue   float64 `json:"broker_value"`
	Diff          float64 `json:"diff"`
	DetailsJSON   string  `json:"details"`
}

// Database is the gorm-backed report Store
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// SaveReport stores the report and its mismatches in one transaction.
func (d *Database) SaveReport(ctx context.Context, report *Report) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := ReportRecord{
			ReportID:          report.ReportID,
			RanAt:             report.Timestamp,
			Status:            string(report.Status),
			InternalPositions: report.InternalPositions,
			BrokerPositions:   report.BrokerPositions,
			MatchedPositions:  report.MatchedPositions,
			MismatchCount:     report.MismatchCount(),
			LevelBefore:       report.LevelBefore.String(),
			LevelAfter:        report.LevelAfter.String(),
			Error:             report.Error,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("save report %s: %w", report.ReportID, err)
		}

		for _, m := range report.Mismatches {
			details := ""
			if len(m.Details) > 0 {
				b, err := json.Marshal(m.Details)
				if err != nil {
					return fmt.Errorf("encode mismatch details: %w", err)
				}
				details = string(b)
			}
			mr := MismatchRecord{
				ReportID:      report.ReportID,
				Kind:          string(m.Kind),
				Severity:      string(m.Severity),
				Ticker:        m.Ticker,
				Name:          m.Name,
				Description:   m.Description,
				InternalValue: m.InternalValue,
				BrokerValue:   m.BrokerValue,
				Diff:          m.Diff,
				DetailsJSON:   details,
			}
			if err := tx.Create(&mr).Error; err != nil {
				return fmt.Errorf("save mismatch for %s: %w", m.Ticker, err)
			}
		}
		return nil
	})
}

// LatestReport loads the most recently run report.
func (d *Database) LatestReport(ctx context.Context) (*Report, error) {
	var record ReportRecord
	if err := d.db.WithContext(ctx).Order("ran_at desc, id desc").First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoReport
		}
		return nil, err
	}

	var rows []MismatchRecord
	if err := d.db.WithContext(ctx).Where("report_id = ?", record.ReportID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	before, _ := safety.ParseLevel(record.LevelBefore)
	after, _ := safety.ParseLevel(record.LevelAfter)
	report := &Report{
		ReportID:          record.ReportID,
		Timestamp:         record.RanAt,
		Status:            Status(record.Status),
		Mismatches:        make([]Mismatch, 0, len(rows)),
		InternalPositions: record.InternalPositions,
		BrokerPositions:   record.BrokerPositions,
		MatchedPositions:  record.MatchedPositions,
		LevelBefore:       before,
		LevelAfter:        after,
		Error:             record.Error,
	}
	for _, row := range rows {
		m := Mismatch{
			Kind:          Kind(row.Kind),
			Severity:      Severity(row.Severity),
			Ticker:        row.Ticker,
			Name:          row.Name,
			Description:   row.Description,
			InternalValue: row.InternalValue,
			BrokerValue:   row.BrokerValue,
			Diff:          row.Diff,
		}
		if row.DetailsJSON != "" {
			_ = json.Unmarshal([]byte(row.DetailsJSON), &m.Details)
		}
		report.Mismatches = append(report.Mismatches, m)
	}
	return report, nil
}

// CountByStatus returns how many stored reports ended in each status.
func (d *Database) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := d.db.WithContext(ctx).Model(&ReportRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[Status]int64, len(rows))
	for _, r := range rows {
		out[Status(r.Status)] = r.Count
	}
	return out, nil
}
