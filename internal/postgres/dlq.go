package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/imrishuroy/go-order-pipeline/internal/dlq"
)

// DLQStore implements dlq.Store and dlq.Purger on PostgreSQL.
type DLQStore struct {
	db *gorm.DB
}

func NewDLQStore(db *gorm.DB) *DLQStore {
	return &DLQStore{db: db}
}

var (
	_ dlq.Store  = (*DLQStore)(nil)
	_ dlq.Purger = (*DLQStore)(nil)
)

func (s *DLQStore) Append(ctx context.Context, r dlq.Record) error {
	dto := deadLetterFromDomain(r)
	if err := s.db.WithContext(ctx).Create(&dto).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("job %s: %w", r.OriginalJobID, dlq.ErrAlreadyRecorded)
		}
		return fmt.Errorf("insert dead letter for job %s: %w", r.OriginalJobID, err)
	}
	return nil
}

func (s *DLQStore) List(ctx context.Context) ([]dlq.Record, error) {
	var dtos []DeadLetterDTO
	if err := s.db.WithContext(ctx).Order("failed_at, id").Find(&dtos).Error; err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]dlq.Record, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, dto.toDomain())
	}
	return out, nil
}

func (s *DLQStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result := s.db.WithContext(ctx).Where("failed_at < ?", cutoff).Delete(&DeadLetterDTO{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge dead letters: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}
