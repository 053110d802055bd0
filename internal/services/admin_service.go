// internal/services/admin_service.go
package services

import (
	"context"

	"github.com/javajoker/checkout-backend/internal/apperr"
	"github.com/javajoker/checkout-backend/internal/models"
	"github.com/javajoker/checkout-backend/internal/repository"
	"github.com/javajoker/checkout-backend/internal/utils"
)

// AdminService backs the operator endpoints: audit trail, checkouts still
// waiting on a signal, and an on-demand reconciliation sweep.
type AdminService struct {
	store     repository.Store
	sweeper   *Sweeper
	purchases *PurchaseService
}

type AdminAuditFilter struct {
	utils.PaginationParams
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	OwnerKey     string `json:"owner_key,omitempty"`
}

func NewAdminService(store repository.Store, sweeper *Sweeper, purchases *PurchaseService) *AdminService {
	return &AdminService{
		store:     store,
		sweeper:   sweeper,
		purchases: purchases,
	}
}

func (s *AdminService) GetAuditLogs(ctx context.Context, filter AdminAuditFilter) ([]models.AuditLog, int64, error) {
	entries, total, err := s.store.ListAuditLogs(ctx, repository.AuditLogFilter{
		ResourceType: filter.ResourceType,
		ResourceID:   filter.ResourceID,
		OwnerKey:     filter.OwnerKey,
		Limit:        filter.Limit,
		Offset:       (filter.Page - 1) * filter.Limit,
	})
	if err != nil {
		return nil, 0, apperr.Internal(err, "failed to list audit logs")
	}
	return entries, total, nil
}

// GetPendingPayments lists checkouts not yet closed, oldest first.
func (s *AdminService) GetPendingPayments(ctx context.Context, limit int) ([]models.PaymentIntent, error) {
	intents, err := s.store.ListPendingIntents(ctx, repository.IntentFilter{Limit: limit})
	if err != nil {
		return nil, apperr.Internal(err, "failed to list pending payments")
	}
	return intents, nil
}

func (s *AdminService) RunSweep(ctx context.Context) (SweepReport, error) {
	return s.sweeper.RunOnce(ctx)
}

// FlushProductCache drops cached catalog entries so price or availability
// edits take effect before the cache TTL runs out.
func (s *AdminService) FlushProductCache(productType string) int {
	return s.purchases.InvalidateProducts(productType)
}
