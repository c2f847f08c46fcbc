package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderRecord is the persisted snapshot of an order
type OrderRecord struct {
	gorm.Model     `json:"-"`
	OrderID        string          `gorm:"uniqueIndex" json:"order_id"`
	IdempotencyKey string          `gorm:"index" json:"idempotency_key"`
	Ticker         string          `gorm:"index" json:"ticker"`
	Name           string          `json:"name"`
	Side           string          `json:"side"`
	Quantity       int64           `json:"quantity"`
	Price          float64         `json:"price"`
	Kind           string          `json:"kind"`
	Strategy       string          `json:"strategy"`
	State          string          `gorm:"index" json:"state"`
	BrokerOrderID  string          `json:"broker_order_id"`
	FilledQuantity int64           `json:"filled_quantity"`
	AvgFillPrice   float64         `json:"avg_fill_price"`
	FilledAmount   decimal.Decimal `gorm:"type:decimal(24,4)" json:"filled_amount"`
	BlockReason    string          `json:"block_reason"`
	RejectReason   string          `json:"reject_reason"`
	FilledAt       *time.Time      `json:"filled_at"`
	OrderedAt      time.Time       `json:"ordered_at"`
	LastChangeAt   time.Time       `json:"last_change_at"`
}

// TransitionRecord is one persisted audit log entry
type TransitionRecord struct {
	gorm.Model `json:"-"`
	OrderID    string    `gorm:"uniqueIndex:idx_order_transition_seq" json:"order_id"`
	Seq        int       `gorm:"uniqueIndex:idx_order_transition_seq" json:"seq"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Database is the gorm-backed Store
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// SaveOrder upserts the order row and appends transitions not yet stored, in one transaction.
func (d *Database) SaveOrder(ctx context.Context, order *Order) error {
	tx := d.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var record OrderRecord
	err := tx.Where("order_id = ?", order.OrderID).First(&record).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		tx.Rollback()
		return fmt.Errorf("load order %s: %w", order.OrderID, err)
	}

	fillRecord(&record, order)
	if err := tx.Save(&record).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("save order %s: %w", order.OrderID, err)
	}

	var stored int64
	if err := tx.Model(&TransitionRecord{}).Where("order_id = ?", order.OrderID).Count(&stored).Error; err != nil {
		tx.Rollback()
		return err
	}
	for i := int(stored); i < len(order.Transitions); i++ {
		t := order.Transitions[i]
		tr := TransitionRecord{
			OrderID:    order.OrderID,
			Seq:        i,
			FromState:  string(t.From),
			ToState:    string(t.To),
			Reason:     t.Reason,
			OccurredAt: t.Timestamp,
		}
		if err := tx.Create(&tr).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("save transition %d of %s: %w", i, order.OrderID, err)
		}
	}

	return tx.Commit().Error
}

func fillRecord(r *OrderRecord, o *Order) {
	r.OrderID = o.OrderID
	r.IdempotencyKey = o.IdempotencyKey
	r.Ticker = o.Ticker
	r.Name = o.Name
	r.Side = string(o.Side)
	r.Quantity = o.Quantity
	r.Price = o.Price
	r.Kind = string(o.Kind)
	r.Strategy = o.Strategy
	r.State = string(o.State)
	r.BrokerOrderID = o.BrokerOrderID
	r.FilledQuantity = o.FilledQuantity
	r.AvgFillPrice = o.AvgFillPrice
	r.FilledAmount = o.FilledAmount
	r.BlockReason = o.BlockReason
	r.RejectReason = o.RejectReason
	r.OrderedAt = o.CreatedAt
	r.LastChangeAt = o.UpdatedAt
	if o.State == StateFilled && r.FilledAt == nil {
		at := o.UpdatedAt
		r.FilledAt = &at
	}
}

// GetOrder loads a stored order with its transitions.
func (d *Database) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var record OrderRecord
	if err := d.db.WithContext(ctx).Where("order_id = ?", orderID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", orderID, ErrOrderNotFound)
		}
		return nil, err
	}

	var trs []TransitionRecord
	if err := d.db.WithContext(ctx).Where("order_id = ?", orderID).Order("seq asc").Find(&trs).Error; err != nil {
		return nil, err
	}

	o := &Order{
		OrderID:        record.OrderID,
		IdempotencyKey: record.IdempotencyKey,
		Ticker:         record.Ticker,
		Name:           record.Name,
		Side:           Side(record.Side),
		Quantity:       record.Quantity,
		Price:          record.Price,
		Kind:           Kind(record.Kind),
		Strategy:       record.Strategy,
		State:          State(record.State),
		BrokerOrderID:  record.BrokerOrderID,
		FilledQuantity: record.FilledQuantity,
		AvgFillPrice:   record.AvgFillPrice,
		FilledAmount:   record.FilledAmount,
		BlockReason:    record.BlockReason,
		RejectReason:   record.RejectReason,
		CreatedAt:      record.OrderedAt,
		UpdatedAt:      record.LastChangeAt,
		Transitions:    make([]Transition, 0, len(trs)),
	}
	for _, t := range trs {
		o.Transitions = append(o.Transitions, Transition{
			From:      State(t.FromState),
			To:        State(t.ToState),
			Reason:    t.Reason,
			Timestamp: t.OccurredAt,
		})
	}
	return o, nil
}

// CountByState returns stored order counts per state.
func (d *Database) CountByState(ctx context.Context) (map[State]int64, error) {
	var rows []struct {
		State string
		Count int64
	}
	if err := d.db.WithContext(ctx).Model(&OrderRecord{}).
		Select("state, count(*) as count").
		Group("state").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[State]int64, len(rows))
	for _, r := range rows {
		out[State(r.State)] = r.Count
	}
	return out, nil
}
