package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/imrishuroy/go-order-pipeline/internal/orders"
)

// OrderRepository implements orders.Repository on PostgreSQL.
type OrderRepository struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db, nowFunc: func() time.Time { return time.Now().UTC() }}
}

var _ orders.Repository = (*OrderRepository)(nil)

func (r *OrderRepository) Create(ctx context.Context, o *orders.Order) error {
	now := r.nowFunc()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	dto := orderFromDomain(o)
	if err := r.db.WithContext(ctx).Create(&dto).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return orders.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*orders.Order, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error) {
	return r.first(ctx, "idempotency_key = ?", key)
}

func (r *OrderRepository) first(ctx context.Context, query string, arg any) (*orders.Order, error) {
	var dto OrderDTO
	if err := r.db.WithContext(ctx).First(&dto, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("select order: %w", err)
	}
	o := dto.toDomain()
	return &o, nil
}

func (r *OrderRepository) List(ctx context.Context, status *orders.Status) ([]orders.Order, error) {
	q := r.db.WithContext(ctx).Order("created_at, id")
	if status != nil {
		q = q.Where("status = ?", string(*status))
	}

	var dtos []OrderDTO
	if err := q.Find(&dtos).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]orders.Order, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, dto.toDomain())
	}
	return out, nil
}

func (r *OrderRepository) Update(ctx context.Context, o *orders.Order) error {
	o.UpdatedAt = r.nowFunc()
	dto := orderFromDomain(o)

	result := r.db.WithContext(ctx).Model(&OrderDTO{}).
		Where("id = ? AND status = ?", o.ID, string(o.Status)).
		Select("*").Omit("id", "created_at").
		Updates(&dto)
	if result.Error != nil {
		return fmt.Errorf("update order %s: %w", o.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return orders.ErrStatusMismatch
	}
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, expected, next orders.Status, reason string) error {
	if err := orders.CheckTransition(expected, next); err != nil {
		return err
	}

	values := map[string]any{
		"status":     string(next),
		"updated_at": r.nowFunc(),
	}
	if next == orders.StatusFailedEnrichment && reason != "" {
		values["failure_reason"] = reason
	}

	result := r.db.WithContext(ctx).Model(&OrderDTO{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(values)
	if result.Error != nil {
		return fmt.Errorf("update order %s status: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return orders.ErrStatusMismatch
	}
	return nil
}
