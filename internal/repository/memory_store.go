// internal/repository/memory_store.go
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/javajoker/checkout-backend/internal/models"
)

// MemoryStore keeps everything in process memory. It backs the "memory"
// database driver used for local development and service tests. All
// operations are serialized; a failed Transaction restores the state it
// started from.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*memView)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

// SeedProduct inserts or replaces a product, assigning an ID when missing.
func (s *MemoryStore) SeedProduct(p models.Product) *models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(&p.BaseModel)
	s.data.products[p.ID] = p
	return &p
}

// SeedCoupon inserts or replaces a coupon keyed by its normalized code.
func (s *MemoryStore) SeedCoupon(c models.Coupon) *models.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(&c.BaseModel)
	c.Code = models.NormalizeCode(c.Code)
	s.data.coupons[c.Code] = c
	return &c
}

// ProviderEvent returns the stored callback for provider and eventID.
func (s *MemoryStore) ProviderEvent(provider, eventID string) (models.ProviderEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data.eventKeys[provider+"\x00"+eventID]
	if !ok {
		return models.ProviderEvent{}, false
	}
	return s.data.events[id], true
}

// AuditLogs returns every audit entry written so far, oldest first.
func (s *MemoryStore) AuditLogs() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditLog(nil), s.data.audit...)
}

func (s *MemoryStore) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateAuditLog(ctx, entry)
}

func (s *MemoryStore) ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]models.AuditLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListAuditLogs(ctx, filter)
}

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memView{data: s.data}); err != nil {
		s.data.restore(snapshot)
		return err
	}
	return nil
}

func (s *MemoryStore) ListPurchases(ctx context.Context, ownerKey string) ([]models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListPurchases(ctx, ownerKey)
}

func (s *MemoryStore) GetPurchases(ctx context.Context, ids []uuid.UUID) ([]models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetPurchases(ctx, ids)
}

func (s *MemoryStore) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreatePurchase(ctx, p)
}

func (s *MemoryStore) DeleteCartPurchase(ctx context.Context, ownerKey string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteCartPurchase(ctx, ownerKey, id)
}

func (s *MemoryStore) TransitionPurchases(ctx context.Context, t PurchaseTransition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().TransitionPurchases(ctx, t)
}

func (s *MemoryStore) FindProduct(ctx context.Context, productType, entityID string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindProduct(ctx, productType, entityID)
}

func (s *MemoryStore) FindProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindProductByID(ctx, id)
}

func (s *MemoryStore) FindCoupons(ctx context.Context, codes []string) ([]models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindCoupons(ctx, codes)
}

func (s *MemoryStore) IncrementCouponUsage(ctx context.Context, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().IncrementCouponUsage(ctx, codes)
}

func (s *MemoryStore) CreateIntent(ctx context.Context, in *models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateIntent(ctx, in)
}

func (s *MemoryStore) FindIntent(ctx context.Context, transactionID string) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindIntent(ctx, transactionID)
}

func (s *MemoryStore) FindIntentBySession(ctx context.Context, sessionID string) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindIntentBySession(ctx, sessionID)
}

func (s *MemoryStore) FindPendingIntentByGuard(ctx context.Context, guardKey string) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindPendingIntentByGuard(ctx, guardKey)
}

func (s *MemoryStore) UpdateIntent(ctx context.Context, transactionID string, expect models.PaymentStatus, changes IntentChanges) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateIntent(ctx, transactionID, expect, changes)
}

func (s *MemoryStore) DeletePendingIntent(ctx context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeletePendingIntent(ctx, transactionID)
}

func (s *MemoryStore) ListPendingIntents(ctx context.Context, filter IntentFilter) ([]models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListPendingIntents(ctx, filter)
}

func (s *MemoryStore) RecordProviderEvent(ctx context.Context, ev *models.ProviderEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().RecordProviderEvent(ctx, ev)
}

func (s *MemoryStore) MarkProviderEvent(ctx context.Context, id uuid.UUID, processErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().MarkProviderEvent(ctx, id, processErr)
}

func (s *MemoryStore) view() *memView {
	return &memView{data: s.data}
}

// memView runs operations against the data without locking. The owning
// MemoryStore holds the lock for the duration of a call or transaction.
type memView struct {
	data *memData
}

func (v *memView) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return fn(v)
}

func (v *memView) ListPurchases(ctx context.Context, ownerKey string) ([]models.Purchase, error) {
	var rows []models.Purchase
	for _, p := range v.data.purchases {
		if p.OwnerKey == ownerKey {
			rows = append(rows, copyPurchase(p))
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	return rows, nil
}

func (v *memView) GetPurchases(ctx context.Context, ids []uuid.UUID) ([]models.Purchase, error) {
	var rows []models.Purchase
	for _, id := range ids {
		if p, ok := v.data.purchases[id]; ok {
			rows = append(rows, copyPurchase(p))
		}
	}
	return rows, nil
}

func (v *memView) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	stamp(&p.BaseModel)
	if p.PaymentStatus == "" {
		p.PaymentStatus = models.PaymentStatusCart
	}
	v.data.purchases[p.ID] = copyPurchase(*p)
	return nil
}

func (v *memView) DeleteCartPurchase(ctx context.Context, ownerKey string, id uuid.UUID) error {
	p, ok := v.data.purchases[id]
	if !ok || p.OwnerKey != ownerKey {
		return ErrNotFound
	}
	if p.PaymentStatus != models.PaymentStatusCart {
		return ErrStateConflict
	}
	delete(v.data.purchases, id)
	return nil
}

func (v *memView) TransitionPurchases(ctx context.Context, t PurchaseTransition) (int64, error) {
	if err := t.validate(); err != nil {
		return 0, err
	}
	var n int64
	now := time.Now()
	for _, id := range t.IDs {
		p, ok := v.data.purchases[id]
		if !ok || p.PaymentStatus != t.From {
			continue
		}
		if t.From != models.PaymentStatusCart && (p.TransactionID == nil || *p.TransactionID != t.TransactionID) {
			continue
		}
		txID := t.TransactionID
		p.PaymentStatus = t.To
		p.TransactionID = &txID
		if len(t.Metadata) > 0 {
			p.Metadata = p.Metadata.Merge(t.Metadata)
		}
		p.UpdatedAt = now
		v.data.purchases[id] = p
		n++
	}
	return n, nil
}

func (v *memView) FindProduct(ctx context.Context, productType, entityID string) (*models.Product, error) {
	for _, p := range v.data.products {
		if p.ProductType == productType && p.EntityID == entityID {
			out := p
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (v *memView) FindProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	p, ok := v.data.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (v *memView) FindCoupons(ctx context.Context, codes []string) ([]models.Coupon, error) {
	var out []models.Coupon
	for _, code := range normalizeCodes(codes) {
		if c, ok := v.data.coupons[code]; ok {
			c.TargetValues = append(pq.StringArray(nil), c.TargetValues...)
			out = append(out, c)
		}
	}
	return out, nil
}

func (v *memView) IncrementCouponUsage(ctx context.Context, codes []string) error {
	for _, code := range normalizeCodes(codes) {
		if c, ok := v.data.coupons[code]; ok {
			c.UsageCount++
			v.data.coupons[code] = c
		}
	}
	return nil
}

func (v *memView) CreateIntent(ctx context.Context, in *models.PaymentIntent) error {
	if _, ok := v.data.intents[in.TransactionID]; ok {
		return ErrDuplicate
	}
	for _, existing := range v.data.intents {
		if existing.GuardKey == in.GuardKey && existing.Status == models.PaymentStatusPending {
			return ErrDuplicate
		}
	}
	stamp(&in.BaseModel)
	if in.Status == "" {
		in.Status = models.PaymentStatusPending
	}
	v.data.intents[in.TransactionID] = copyIntent(*in)
	return nil
}

func (v *memView) FindIntent(ctx context.Context, transactionID string) (*models.PaymentIntent, error) {
	in, ok := v.data.intents[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyIntent(in)
	return &out, nil
}

func (v *memView) FindIntentBySession(ctx context.Context, sessionID string) (*models.PaymentIntent, error) {
	for _, in := range v.data.intents {
		if sessionID != "" && in.ProviderSessionID == sessionID {
			out := copyIntent(in)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (v *memView) FindPendingIntentByGuard(ctx context.Context, guardKey string) (*models.PaymentIntent, error) {
	for _, in := range v.data.intents {
		if in.GuardKey == guardKey && in.Status == models.PaymentStatusPending {
			out := copyIntent(in)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (v *memView) UpdateIntent(ctx context.Context, transactionID string, expect models.PaymentStatus, changes IntentChanges) (bool, error) {
	if err := changes.validate(expect); err != nil {
		return false, err
	}
	in, ok := v.data.intents[transactionID]
	if !ok || in.Status != expect {
		return false, nil
	}
	changes.apply(&in)
	in.UpdatedAt = time.Now()
	v.data.intents[transactionID] = in
	return true, nil
}

func (v *memView) DeletePendingIntent(ctx context.Context, transactionID string) error {
	if in, ok := v.data.intents[transactionID]; ok && in.Status == models.PaymentStatusPending {
		delete(v.data.intents, transactionID)
	}
	return nil
}

func (v *memView) ListPendingIntents(ctx context.Context, filter IntentFilter) ([]models.PaymentIntent, error) {
	var out []models.PaymentIntent
	for _, in := range v.data.intents {
		if in.Status != models.PaymentStatusPending {
			continue
		}
		if filter.ExpiresBefore != nil && in.ExpiresAt.After(*filter.ExpiresBefore) {
			continue
		}
		if filter.SubmittedBefore != nil && (in.SubmittedAt == nil || in.SubmittedAt.After(*filter.SubmittedBefore)) {
			continue
		}
		out = append(out, copyIntent(in))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (v *memView) RecordProviderEvent(ctx context.Context, ev *models.ProviderEvent) (bool, error) {
	key := ev.Provider + "\x00" + ev.EventID
	if _, ok := v.data.eventKeys[key]; ok {
		return true, nil
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	v.data.eventKeys[key] = ev.ID
	v.data.events[ev.ID] = *ev
	return false, nil
}

func (v *memView) MarkProviderEvent(ctx context.Context, id uuid.UUID, processErr error) error {
	ev, ok := v.data.events[id]
	if !ok {
		return ErrNotFound
	}
	if processErr != nil {
		msg := truncate(processErr.Error(), 250)
		ev.ProcessError = &msg
	} else {
		now := time.Now()
		ev.ProcessedAt = &now
		ev.ProcessError = nil
	}
	v.data.events[id] = ev
	return nil
}

func (v *memView) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	stamp(&entry.BaseModel)
	v.data.audit = append(v.data.audit, *entry)
	return nil
}

func (v *memView) ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]models.AuditLog, int64, error) {
	var matched []models.AuditLog
	for i := len(v.data.audit) - 1; i >= 0; i-- {
		e := v.data.audit[i]
		if filter.ResourceType != "" && e.ResourceType != filter.ResourceType {
			continue
		}
		if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
			continue
		}
		if filter.OwnerKey != "" && e.OwnerKey != filter.OwnerKey {
			continue
		}
		matched = append(matched, e)
	}

	total := int64(len(matched))
	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return matched[start:end], total, nil
}

type memData struct {
	purchases map[uuid.UUID]models.Purchase
	products  map[uuid.UUID]models.Product
	coupons   map[string]models.Coupon
	intents   map[string]models.PaymentIntent
	events    map[uuid.UUID]models.ProviderEvent
	eventKeys map[string]uuid.UUID
	audit     []models.AuditLog
}

func newMemData() *memData {
	return &memData{
		purchases: map[uuid.UUID]models.Purchase{},
		products:  map[uuid.UUID]models.Product{},
		coupons:   map[string]models.Coupon{},
		intents:   map[string]models.PaymentIntent{},
		events:    map[uuid.UUID]models.ProviderEvent{},
		eventKeys: map[string]uuid.UUID{},
	}
}

func (d *memData) clone() *memData {
	out := newMemData()
	for k, v := range d.purchases {
		out.purchases[k] = copyPurchase(v)
	}
	for k, v := range d.products {
		out.products[k] = v
	}
	for k, v := range d.coupons {
		out.coupons[k] = v
	}
	for k, v := range d.intents {
		out.intents[k] = copyIntent(v)
	}
	for k, v := range d.events {
		out.events[k] = v
	}
	for k, v := range d.eventKeys {
		out.eventKeys[k] = v
	}
	out.audit = append(out.audit, d.audit...)
	return out
}

func (d *memData) restore(from *memData) {
	*d = *from
}

func stamp(b *models.BaseModel) {
	now := time.Now()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

func copyPurchase(p models.Purchase) models.Purchase {
	p.Metadata = p.Metadata.Clone()
	if p.TransactionID != nil {
		id := *p.TransactionID
		p.TransactionID = &id
	}
	return p
}

func copyIntent(in models.PaymentIntent) models.PaymentIntent {
	in.CartItemIDs = append(pq.StringArray(nil), in.CartItemIDs...)
	in.AppliedCoupons = append(pq.StringArray(nil), in.AppliedCoupons...)
	return in
}
