// internal/services/purchase_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/checkout-backend/internal/apperr"
	"github.com/javajoker/checkout-backend/internal/cache"
	"github.com/javajoker/checkout-backend/internal/config"
	"github.com/javajoker/checkout-backend/internal/models"
	"github.com/javajoker/checkout-backend/internal/repository"
)

const (
	purchasesKeyPrefix = "purchases:"
	productKeyPrefix   = "product:"
)

// PurchaseCaches are the short-lived lookups the purchase ledger keeps.
type PurchaseCaches struct {
	Purchases *cache.EntityCache[[]models.Purchase]
	Products  *cache.EntityCache[*models.Product]
}

func NewPurchaseCaches(cfg config.CacheConfig, opts ...cache.Option) PurchaseCaches {
	return PurchaseCaches{
		Purchases: cache.New[[]models.Purchase](cfg.MaxEntries, cfg.TTL(), opts...),
		Products:  cache.New[*models.Product](cfg.MaxEntries, cfg.TTL(), opts...),
	}
}

type PurchaseService struct {
	store  repository.Store
	caches PurchaseCaches
	log    logrus.FieldLogger
}

type AddToCartRequest struct {
	PurchasableType string `json:"purchasable_type" validate:"omitempty,max=50"`
	PurchasableID   string `json:"purchasable_id" validate:"required,max=100"`
}

func NewPurchaseService(store repository.Store, caches PurchaseCaches, log logrus.FieldLogger) *PurchaseService {
	return &PurchaseService{store: store, caches: caches, log: log}
}

// ListPurchases returns every row the owner has, served from cache when fresh.
func (s *PurchaseService) ListPurchases(ctx context.Context, owner models.Owner) ([]models.Purchase, error) {
	key := purchasesKeyPrefix + owner.Key()
	if rows, ok := s.caches.Purchases.Get(key); ok {
		return clonePurchases(rows), nil
	}

	rows, err := s.store.ListPurchases(ctx, owner.Key())
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	s.caches.Purchases.Put(key, clonePurchases(rows), 0)
	return rows, nil
}

func (s *PurchaseService) ListCart(ctx context.Context, owner models.Owner) ([]models.Purchase, error) {
	rows, err := s.ListPurchases(ctx, owner)
	if err != nil {
		return nil, err
	}
	cart := rows[:0]
	for _, p := range rows {
		if p.PaymentStatus == models.PaymentStatusCart {
			cart = append(cart, p)
		}
	}
	return cart, nil
}

func (s *PurchaseService) AddToCart(ctx context.Context, owner models.Owner, req *AddToCartRequest) (*models.Purchase, error) {
	product, err := s.LookupProduct(ctx, req.PurchasableType, req.PurchasableID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, apperr.Invalid(apperr.ReasonInactive, "product is not available for purchase")
	}

	// Read through the store, not the cache, so the duplicate check sees
	// rows written by other processes.
	rows, err := s.store.ListPurchases(ctx, owner.Key())
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	for i := range rows {
		if !sameTarget(&rows[i], product, req) {
			continue
		}
		switch rows[i].PaymentStatus {
		case models.PaymentStatusCart:
			return &rows[i], nil
		case models.PaymentStatusPaid:
			return nil, apperr.Conflict(apperr.ReasonAlreadyOwned, "item has already been purchased")
		}
	}

	purchase := models.NewPurchase(owner, product, req.PurchasableType, req.PurchasableID)
	if err := s.store.CreatePurchase(ctx, purchase); err != nil {
		return nil, fmt.Errorf("failed to add item to cart: %w", err)
	}
	s.InvalidateOwner(owner.Key())

	s.log.WithFields(logrus.Fields{
		"owner":       owner.Key(),
		"purchase_id": purchase.ID,
		"target":      req.PurchasableType + ":" + req.PurchasableID,
	}).Info("Item added to cart")

	return purchase, nil
}

// RemoveFromCart deletes a row that is still in the cart. Rows that have
// moved on, including pending ones, are refused.
func (s *PurchaseService) RemoveFromCart(ctx context.Context, owner models.Owner, id uuid.UUID) error {
	err := s.store.DeleteCartPurchase(ctx, owner.Key(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound("cart item not found")
	case errors.Is(err, repository.ErrStateConflict):
		return apperr.Conflict(apperr.ReasonInvalidState, "item cannot be removed while its payment is in progress")
	case err != nil:
		return fmt.Errorf("failed to remove cart item: %w", err)
	}

	s.InvalidateOwner(owner.Key())
	return nil
}

// LookupProduct resolves a purchasable reference. When the (type, id) pair
// misses, id is retried as a direct product identifier for rows created
// before purchasable references existed.
func (s *PurchaseService) LookupProduct(ctx context.Context, productType, id string) (*models.Product, error) {
	key := productKeyPrefix + productType + ":" + id
	if p, ok := s.caches.Products.Get(key); ok {
		return p, nil
	}

	product, err := s.store.FindProduct(ctx, productType, id)
	if errors.Is(err, repository.ErrNotFound) {
		product, err = s.lookupLegacyProduct(ctx, id)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up product: %w", err)
	}

	s.caches.Products.Put(key, product, 0)
	return product, nil
}

func (s *PurchaseService) lookupLegacyProduct(ctx context.Context, id string) (*models.Product, error) {
	productID, err := uuid.Parse(id)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	return s.store.FindProductByID(ctx, productID)
}

// OwnedItems loads the given rows and checks each belongs to owner.
func (s *PurchaseService) OwnedItems(ctx context.Context, owner models.Owner, ids []uuid.UUID) ([]models.Purchase, error) {
	if len(ids) == 0 {
		return nil, apperr.Invalid(apperr.ReasonEmptyCart, "cart is empty")
	}

	rows, err := s.store.GetPurchases(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}

	byID := make(map[uuid.UUID]models.Purchase, len(rows))
	for _, p := range rows {
		if p.OwnerKey == owner.Key() {
			byID[p.ID] = p
		}
	}

	items := make([]models.Purchase, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, apperr.Invalid(apperr.ReasonItemNotInCart, "item is not in your cart").
				WithDetail("cart_item_id", id.String())
		}
		items = append(items, p)
	}
	return items, nil
}

// InvalidateOwner drops the cached purchase list for ownerKey. Callers run
// it before reporting a mutation as successful.
func (s *PurchaseService) InvalidateOwner(ownerKey string) {
	s.caches.Purchases.Invalidate(purchasesKeyPrefix + ownerKey)
}

// InvalidateProducts drops cached catalog lookups, all of them when
// productType is empty. The catalog is edited outside this service.
func (s *PurchaseService) InvalidateProducts(productType string) int {
	prefix := productKeyPrefix
	if productType != "" {
		prefix += productType + ":"
	}
	return s.caches.Products.InvalidatePrefix(prefix)
}

// PurgeExpired drops expired entries from both caches.
func (s *PurchaseService) PurgeExpired() int {
	return s.caches.Purchases.Purge() + s.caches.Products.Purge()
}

func sameTarget(p *models.Purchase, product *models.Product, req *AddToCartRequest) bool {
	if p.Targets(req.PurchasableType, req.PurchasableID) {
		return true
	}
	return p.ProductID != nil && *p.ProductID == product.ID
}

func clonePurchases(rows []models.Purchase) []models.Purchase {
	out := make([]models.Purchase, len(rows))
	for i, p := range rows {
		p.Metadata = p.Metadata.Clone()
		out[i] = p
	}
	return out
}
