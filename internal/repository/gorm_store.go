// internal/repository/gorm_store.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/checkout-backend/internal/models"
)

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) ListPurchases(ctx context.Context, ownerKey string) ([]models.Purchase, error) {
	var rows []models.Purchase
	err := s.db.WithContext(ctx).
		Where("owner_key = ?", ownerKey).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) GetPurchases(ctx context.Context, ids []uuid.UUID) ([]models.Purchase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Purchase
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error
	return rows, err
}

func (s *GormStore) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStore) DeleteCartPurchase(ctx context.Context, ownerKey string, id uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND owner_key = ? AND payment_status = ?", id, ownerKey, models.PaymentStatusCart).
		Delete(&models.Purchase{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var existing models.Purchase
	err := s.db.WithContext(ctx).Where("id = ? AND owner_key = ?", id, ownerKey).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStateConflict
}

func (s *GormStore) TransitionPurchases(ctx context.Context, t PurchaseTransition) (int64, error) {
	if err := t.validate(); err != nil {
		return 0, err
	}
	if len(t.IDs) == 0 {
		return 0, nil
	}

	q := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("id IN ? AND payment_status = ?", t.IDs, t.From)
	if t.From != models.PaymentStatusCart {
		q = q.Where("transaction_id = ?", t.TransactionID)
	}

	cols := map[string]interface{}{
		"payment_status": t.To,
		"transaction_id": t.TransactionID,
	}
	if len(t.Metadata) > 0 {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return 0, err
		}
		cols["metadata"] = gorm.Expr("COALESCE(metadata, '{}'::jsonb) || ?::jsonb", string(raw))
	}

	res := q.Updates(cols)
	return res.RowsAffected, res.Error
}

func (s *GormStore) FindProduct(ctx context.Context, productType, entityID string) (*models.Product, error) {
	var p models.Product
	err := s.db.WithContext(ctx).
		Where("product_type = ? AND entity_id = ?", productType, entityID).
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormStore) FindProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var p models.Product
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormStore) FindCoupons(ctx context.Context, codes []string) ([]models.Coupon, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	var coupons []models.Coupon
	err := s.db.WithContext(ctx).Where("code IN ?", normalizeCodes(codes)).Find(&coupons).Error
	return coupons, err
}

func (s *GormStore) IncrementCouponUsage(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Coupon{}).
		Where("code IN ?", normalizeCodes(codes)).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error
}

func (s *GormStore) CreateIntent(ctx context.Context, in *models.PaymentIntent) error {
	err := s.db.WithContext(ctx).Create(in).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) FindIntent(ctx context.Context, transactionID string) (*models.PaymentIntent, error) {
	var in models.PaymentIntent
	err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&in).Error
	if err != nil {
		return nil, translate(err)
	}
	return &in, nil
}

func (s *GormStore) FindIntentBySession(ctx context.Context, sessionID string) (*models.PaymentIntent, error) {
	var in models.PaymentIntent
	err := s.db.WithContext(ctx).Where("provider_session_id = ?", sessionID).First(&in).Error
	if err != nil {
		return nil, translate(err)
	}
	return &in, nil
}

func (s *GormStore) FindPendingIntentByGuard(ctx context.Context, guardKey string) (*models.PaymentIntent, error) {
	var in models.PaymentIntent
	err := s.db.WithContext(ctx).
		Where("guard_key = ? AND status = ?", guardKey, models.PaymentStatusPending).
		Order("created_at DESC").
		First(&in).Error
	if err != nil {
		return nil, translate(err)
	}
	return &in, nil
}

func (s *GormStore) UpdateIntent(ctx context.Context, transactionID string, expect models.PaymentStatus, changes IntentChanges) (bool, error) {
	if err := changes.validate(expect); err != nil {
		return false, err
	}
	cols := changes.columns()
	if len(cols) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("transaction_id = ? AND status = ?", transactionID, expect).
		Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) DeletePendingIntent(ctx context.Context, transactionID string) error {
	return s.db.WithContext(ctx).Unscoped().
		Where("transaction_id = ? AND status = ?", transactionID, models.PaymentStatusPending).
		Delete(&models.PaymentIntent{}).Error
}

func (s *GormStore) ListPendingIntents(ctx context.Context, filter IntentFilter) ([]models.PaymentIntent, error) {
	q := s.db.WithContext(ctx).Where("status = ?", models.PaymentStatusPending)
	if filter.ExpiresBefore != nil {
		q = q.Where("expires_at <= ?", *filter.ExpiresBefore)
	}
	if filter.SubmittedBefore != nil {
		q = q.Where("submitted_at IS NOT NULL AND submitted_at <= ?", *filter.SubmittedBefore)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var intents []models.PaymentIntent
	err := q.Order("created_at ASC").Find(&intents).Error
	return intents, err
}

func (s *GormStore) RecordProviderEvent(ctx context.Context, ev *models.ProviderEvent) (bool, error) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	err := s.db.WithContext(ctx).Create(ev).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true, nil
	}
	return false, err
}

func (s *GormStore) MarkProviderEvent(ctx context.Context, id uuid.UUID, processErr error) error {
	cols := map[string]interface{}{}
	if processErr != nil {
		cols["process_error"] = truncate(processErr.Error(), 250)
	} else {
		cols["processed_at"] = time.Now()
		cols["process_error"] = nil
	}
	return s.db.WithContext(ctx).Model(&models.ProviderEvent{}).Where("id = ?", id).Updates(cols).Error
}

func (s *GormStore) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]models.AuditLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.ResourceType != "" {
		query = query.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		query = query.Where("resource_id = ?", filter.ResourceID)
	}
	if filter.OwnerKey != "" {
		query = query.Where("owner_key = ?", filter.OwnerKey)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.AuditLog
	err := query.Order("created_at DESC").Limit(filter.Limit).Offset(filter.Offset).Find(&entries).Error
	return entries, total, err
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func normalizeCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, models.NormalizeCode(c))
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
