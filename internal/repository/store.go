package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxSerializableAttempts bounds how often a locked transaction is replayed
// after losing a serialization conflict.
const maxSerializableAttempts = 3

// GormStore is the Postgres-backed Store.
type GormStore struct {
	*GormExceptionRepo
	*GormAttemptRepo
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		GormExceptionRepo: NewGormExceptionRepo(db),
		GormAttemptRepo:   NewGormAttemptRepo(db),
		db:                db,
	}
}

// WithLockedException runs fn in a serializable transaction holding a row
// lock on the exception. Serialization failures are replayed a bounded number
// of times; after that they surface as domain.ErrConflict.
func (s *GormStore) WithLockedException(ctx context.Context, transactionID string, fn func(tx ExceptionTx) error) error {
	var err error
	for attempt := 1; attempt <= maxSerializableAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var model InterfaceExceptionModel
			lockErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("transaction_id = ?", transactionID).
				First(&model).Error
			if errors.Is(lockErr, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			if lockErr != nil {
				return lockErr
			}

			return fn(&gormExceptionTx{tx: tx, exception: exceptionModelToDomain(&model)})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})

		if err == nil || !isSerializationFailure(err) || ctx.Err() != nil {
			break
		}
	}
	return translateError(err)
}

type gormExceptionTx struct {
	tx        *gorm.DB
	exception *domain.InterfaceException
}

func (t *gormExceptionTx) Exception() *domain.InterfaceException {
	return t.exception
}

func (t *gormExceptionTx) LatestAttempt() (*domain.RetryAttempt, error) {
	var model RetryAttemptModel
	err := t.tx.
		Where("exception_id = ?", t.exception.ID).
		Order("attempt_number DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (t *gormExceptionTx) GetAttempt(attemptNumber int) (*domain.RetryAttempt, error) {
	var model RetryAttemptModel
	err := t.tx.
		Where("exception_id = ? AND attempt_number = ?", t.exception.ID, attemptNumber).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (t *gormExceptionTx) CreateAttempt(a *domain.RetryAttempt) error {
	a.ExceptionID = t.exception.ID
	model := attemptModelFromDomain(a)
	if err := t.tx.Create(model).Error; err != nil {
		return err
	}
	*a = *attemptModelToDomain(model)
	return nil
}

func (t *gormExceptionTx) UpdateAttempt(a *domain.RetryAttempt) error {
	model := attemptModelFromDomain(a)
	result := t.tx.Model(&RetryAttemptModel{}).
		Where("id = ? AND exception_id = ?", a.ID, t.exception.ID).
		Select("status", "completed_at", "result_success", "result_message",
			"result_response_code", "result_error_details", "cancelled_by", "cancel_reason").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *gormExceptionTx) UpdateException(e *domain.InterfaceException) error {
	e.UpdatedAt = time.Now().UTC()
	model := exceptionModelFromDomain(e)
	result := t.tx.Model(&InterfaceExceptionModel{}).
		Where("id = ?", t.exception.ID).
		Select("status", "retry_count", "last_retry_at", "acknowledged_at", "acknowledged_by",
			"acknowledgement_notes", "resolved_at", "resolved_by", "resolution_method",
			"resolution_notes", "updated_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	t.exception = e
	return nil
}

func (t *gormExceptionTx) RecordStatusChange(c *domain.StatusChange) error {
	c.ExceptionID = t.exception.ID
	if c.ChangedAt.IsZero() {
		c.ChangedAt = time.Now().UTC()
	}
	model := statusChangeModelFromDomain(c)
	if err := t.tx.Create(model).Error; err != nil {
		return err
	}
	c.ID = model.ID
	return nil
}
