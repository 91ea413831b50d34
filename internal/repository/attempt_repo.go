package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"gorm.io/gorm"
)

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) ListByExceptionIDs(ctx context.Context, exceptionIDs []int64) (map[int64][]domain.RetryAttempt, error) {
	attempts := make(map[int64][]domain.RetryAttempt, len(exceptionIDs))
	if len(exceptionIDs) == 0 {
		return attempts, nil
	}

	var models []RetryAttemptModel
	err := r.db.WithContext(ctx).
		Where("exception_id IN ?", exceptionIDs).
		Order("exception_id ASC, attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	for i := range models {
		attempt := attemptModelToDomain(&models[i])
		attempts[attempt.ExceptionID] = append(attempts[attempt.ExceptionID], *attempt)
	}
	return attempts, nil
}

type staleAttemptRow struct {
	RetryAttemptModel
	TransactionID string `gorm:"column:transaction_id"`
}

func (r *GormAttemptRepo) ListStalePending(ctx context.Context, initiatedBefore time.Time, limit int) ([]StaleAttempt, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []staleAttemptRow
	err := r.db.WithContext(ctx).
		Table("retry_attempts AS a").
		Select("a.*, e.transaction_id").
		Joins("JOIN interface_exceptions e ON e.id = a.exception_id").
		Where("a.status = ? AND a.initiated_at < ?", domain.RetryPending, initiatedBefore).
		Order("a.initiated_at ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stale := make([]StaleAttempt, 0, len(rows))
	for i := range rows {
		stale = append(stale, StaleAttempt{
			TransactionID: rows[i].TransactionID,
			Attempt:       *attemptModelToDomain(&rows[i].RetryAttemptModel),
		})
	}
	return stale, nil
}
