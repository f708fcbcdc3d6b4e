package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/util"
)

// orderRecord is the orders table row.
type orderRecord struct {
	ID            string  `gorm:"primaryKey;type:varchar(36)"`
	Type          string  `gorm:"type:varchar(16);not null"`
	TokenIn       string  `gorm:"not null"`
	TokenOut      string  `gorm:"not null"`
	Amount        string  `gorm:"type:numeric;not null"`
	LimitPrice    *string `gorm:"type:numeric"`
	Status        string  `gorm:"type:varchar(32);index;not null"`
	DexSelected   string
	ExecutedPrice string
	TxHash        string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (orderRecord) TableName() string { return "orders" }

func recordOf(o *order.Order) orderRecord {
	r := orderRecord{
		ID:            o.ID,
		Type:          string(o.Type),
		TokenIn:       o.TokenIn,
		TokenOut:      o.TokenOut,
		Amount:        o.Amount,
		Status:        string(o.Status),
		DexSelected:   o.DexSelected,
		ExecutedPrice: o.ExecutedPrice,
		TxHash:        o.TxHash,
		ErrorMessage:  o.ErrorMessage,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.LimitPrice != "" {
		lp := o.LimitPrice
		r.LimitPrice = &lp
	}
	return r
}

func (r orderRecord) order() *order.Order {
	o := &order.Order{
		ID:            r.ID,
		Type:          order.Type(r.Type),
		TokenIn:       r.TokenIn,
		TokenOut:      r.TokenOut,
		Amount:        r.Amount,
		Status:        order.Status(r.Status),
		DexSelected:   r.DexSelected,
		ExecutedPrice: r.ExecutedPrice,
		TxHash:        r.TxHash,
		ErrorMessage:  r.ErrorMessage,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.LimitPrice != nil {
		o.LimitPrice = *r.LimitPrice
	}
	return o
}

// GormStore is an Order Store on PostgreSQL.
type GormStore struct {
	db    *gorm.DB
	clock util.Clock
}

// NewPostgresStore connects to dsn and migrates the orders table.
func NewPostgresStore(dsn string, clock util.Clock) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGormStore(db, clock)
}

func NewGormStore(db *gorm.DB, clock util.Clock) (*GormStore, error) {
	if err := db.AutoMigrate(&orderRecord{}); err != nil {
		return nil, fmt.Errorf("migrate orders: %w", err)
	}
	return &GormStore{db: db, clock: clock}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateOrder(ctx context.Context, req order.Request) (*order.Order, error) {
	o := order.NewOrder(req, s.clock.Now())
	rec := recordOf(o)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return o, nil
}

func (s *GormStore) UpdateOrderStatus(ctx context.Context, id string, status order.Status, u order.Updates) (*order.Order, error) {
	var out *order.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec orderRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", order.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to get order: %w", err)
		}

		o := rec.order()
		if err := o.Apply(status, u, s.clock.Now()); err != nil {
			return err
		}
		rec = recordOf(o)
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	var rec orderRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", order.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return rec.order(), nil
}

var _ order.Store = (*GormStore)(nil)
