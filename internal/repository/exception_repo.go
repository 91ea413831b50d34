package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertColumns are overwritten when an event arrives for a known transaction.
// Lifecycle columns (status, retry counters, ack/resolve fields) are never touched.
var upsertColumns = []string{
	"interface_type",
	"operation",
	"external_id",
	"exception_reason",
	"severity",
	"severity_rank",
	"category",
	"retryable",
	"customer_id",
	"location_code",
	"correlation_id",
	"original_payload",
	"event_timestamp",
	"processed_at",
	"updated_at",
}

type GormExceptionRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormExceptionRepo(db *gorm.DB) *GormExceptionRepo {
	return &GormExceptionRepo{db: db, now: time.Now}
}

func (r *GormExceptionRepo) Upsert(ctx context.Context, params domain.UpsertParams, defaultMaxRetries int) (*domain.InterfaceException, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = domain.DefaultMaxRetries
	}

	model := exceptionModelFromUpsert(params, defaultMaxRetries, r.now().UTC())
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(model).Error
	if err != nil {
		return nil, translateError(err)
	}

	return r.GetByTransactionID(ctx, params.TransactionID)
}

func (r *GormExceptionRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.InterfaceException, error) {
	var model InterfaceExceptionModel
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return exceptionModelToDomain(&model), nil
}

func (r *GormExceptionRepo) GetByIDs(ctx context.Context, ids []int64) ([]domain.InterfaceException, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var models []InterfaceExceptionModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}

	exceptions := make([]domain.InterfaceException, 0, len(models))
	for i := range models {
		exceptions = append(exceptions, *exceptionModelToDomain(&models[i]))
	}
	return exceptions, nil
}

func (r *GormExceptionRepo) GetPayloads(ctx context.Context, ids []int64) (map[int64]json.RawMessage, error) {
	payloads := make(map[int64]json.RawMessage, len(ids))
	if len(ids) == 0 {
		return payloads, nil
	}

	var models []InterfaceExceptionModel
	err := r.db.WithContext(ctx).
		Select("id", "original_payload").
		Where("id IN ?", ids).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	for i := range models {
		payloads[models[i].ID] = models[i].OriginalPayload
	}
	return payloads, nil
}

func (r *GormExceptionRepo) List(ctx context.Context, params ListParams) (*Page, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := applyFilter(r.db.WithContext(ctx).Model(&InterfaceExceptionModel{}), params.Filter)

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	sort := params.Sort.Normalized()
	column := sort.Field.column()
	op, dir := "<", "DESC"
	if sort.Direction == SortAsc {
		op, dir = ">", "ASC"
	}

	if params.After != nil {
		value, err := params.After.value()
		if err != nil {
			return nil, err
		}
		query = query.Where(
			fmt.Sprintf("(%s %s ?) OR (%s = ? AND id %s ?)", column, op, column, op),
			value, value, params.After.ID,
		)
	}

	pageSize := params.NormalizedPageSize()
	var models []InterfaceExceptionModel
	err := query.
		Order(fmt.Sprintf("%s %s, id %s", column, dir, dir)).
		Limit(pageSize + 1).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	page := &Page{TotalCount: total}
	if len(models) > pageSize {
		page.HasNextPage = true
		models = models[:pageSize]
	}

	page.Items = make([]domain.InterfaceException, 0, len(models))
	for i := range models {
		page.Items = append(page.Items, *exceptionModelToDomain(&models[i]))
	}
	return page, nil
}

func applyFilter(query *gorm.DB, f Filter) *gorm.DB {
	if len(f.InterfaceTypes) > 0 {
		query = query.Where("interface_type IN ?", f.InterfaceTypes)
	}
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses)
	}
	if len(f.Severities) > 0 {
		query = query.Where("severity IN ?", f.Severities)
	}
	if len(f.CustomerIDs) > 0 {
		query = query.Where("customer_id IN ?", f.CustomerIDs)
	}
	if f.From != nil {
		query = query.Where("event_timestamp >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("event_timestamp <= ?", *f.To)
	}
	if f.ExcludeResolved {
		query = query.Where("status <> ?", domain.StatusResolved)
	}
	if term := strings.TrimSpace(f.SearchTerm); term != "" {
		like := "%" + escapeLike(term) + "%"
		query = query.Where(
			"transaction_id ILIKE ? OR external_id ILIKE ? OR exception_reason ILIKE ? OR customer_id ILIKE ?",
			like, like, like, like,
		)
	}
	return query
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type statusCount struct {
	Status domain.ExceptionStatus `gorm:"column:status"`
	Count  int64                  `gorm:"column:count"`
}

func (r *GormExceptionRepo) CountByStatus(ctx context.Context) (map[domain.ExceptionStatus]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&InterfaceExceptionModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.ExceptionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

type interfaceCount struct {
	InterfaceType domain.InterfaceType `gorm:"column:interface_type"`
	Count         int64                `gorm:"column:count"`
}

func (r *GormExceptionRepo) CountByInterfaceType(ctx context.Context) (map[domain.InterfaceType]int64, error) {
	var rows []interfaceCount
	err := r.db.WithContext(ctx).
		Model(&InterfaceExceptionModel{}).
		Select("interface_type, COUNT(*) as count").
		Group("interface_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.InterfaceType]int64, len(rows))
	for _, row := range rows {
		counts[row.InterfaceType] = row.Count
	}
	return counts, nil
}

func (r *GormExceptionRepo) StatusHistory(ctx context.Context, exceptionIDs []int64) (map[int64][]domain.StatusChange, error) {
	history := make(map[int64][]domain.StatusChange, len(exceptionIDs))
	if len(exceptionIDs) == 0 {
		return history, nil
	}

	var models []StatusChangeModel
	err := r.db.WithContext(ctx).
		Where("exception_id IN ?", exceptionIDs).
		Order("changed_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	for i := range models {
		change := statusChangeModelToDomain(&models[i])
		history[change.ExceptionID] = append(history[change.ExceptionID], *change)
	}
	return history, nil
}

func (r *GormExceptionRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
