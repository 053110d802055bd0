package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/checkout-backend/internal/cache"
	"github.com/javajoker/checkout-backend/internal/config"
	"github.com/javajoker/checkout-backend/internal/lock"
	"github.com/javajoker/checkout-backend/internal/metrics"
	"github.com/javajoker/checkout-backend/internal/models"
	"github.com/javajoker/checkout-backend/internal/provider"
	"github.com/javajoker/checkout-backend/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	ctx        context.Context
	cfg        *config.Config
	clock      *fakeClock
	store      *repository.MemoryStore
	sandbox    *provider.Sandbox
	locker     *lock.LocalLocker
	metrics    *metrics.Metrics
	logs       *test.Hook
	purchases  *PurchaseService
	coupons    *CouponService
	reconciler *ReconcilerService
	payments   *PaymentService

	course   *models.Product
	workshop *models.Product
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	cfg := &config.Config{
		Payment: config.PaymentConfig{
			Currency:            "usd",
			SessionTTLMinutes:   30,
			CreationLockSeconds: 5,
		},
		Reconciler: config.ReconcilerConfig{
			AbandonAfterMinutes:  45,
			SweepIntervalSeconds: 60,
			PollAfterSeconds:     60,
			BatchSize:            50,
		},
		Cache:    config.CacheConfig{TTLSeconds: 300, MaxEntries: 100},
		Frontend: config.FrontendConfig{BaseURL: "http://shop.test/"},
	}

	clock := &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryStore()
	sandbox := provider.NewSandbox("http://pay.test", "sandbox-secret")
	locker := lock.NewLocalLocker(lock.Options{})
	m := metrics.New(prometheus.NewRegistry())
	archive, err := NewEventArchive(config.AWSConfig{})
	require.NoError(t, err)

	purchases := NewPurchaseService(store, NewPurchaseCaches(cfg.Cache, cache.WithClock(clock.Now)), log)
	coupons := NewCouponService(store, purchases, log)
	coupons.now = clock.Now
	reconciler := NewReconcilerService(store, purchases, coupons, sandbox, archive, m, cfg.Reconciler, log)
	reconciler.now = clock.Now
	payments := NewPaymentService(store, purchases, coupons, reconciler, sandbox, locker, m, cfg, log)
	payments.now = clock.Now

	env := &testEnv{
		ctx:        context.Background(),
		cfg:        cfg,
		clock:      clock,
		store:      store,
		sandbox:    sandbox,
		locker:     locker,
		metrics:    m,
		logs:       hook,
		purchases:  purchases,
		coupons:    coupons,
		reconciler: reconciler,
		payments:   payments,
	}
	env.course = store.SeedProduct(models.Product{
		ProductType: "course", EntityID: "go-101", Title: "Go 101", Price: decimal.NewFromInt(60), IsActive: true,
	})
	env.workshop = store.SeedProduct(models.Product{
		ProductType: "workshop", EntityID: "ws-7", Title: "Concurrency Workshop", Price: decimal.NewFromInt(40), IsActive: true,
	})
	return env
}

func (e *testEnv) user() models.Owner {
	return models.UserOwner(uuid.MustParse("7f0c7f63-3f6b-4a3f-9d56-8d1c2b4f0a11"), nil)
}

func (e *testEnv) addToCart(t *testing.T, owner models.Owner, product *models.Product) *models.Purchase {
	t.Helper()
	p, err := e.purchases.AddToCart(e.ctx, owner, &AddToCartRequest{
		PurchasableType: product.ProductType,
		PurchasableID:   product.EntityID,
	})
	require.NoError(t, err)
	return p
}

// fillCart puts both seeded products in owner's cart: subtotal 100.
func (e *testEnv) fillCart(t *testing.T, owner models.Owner) []string {
	t.Helper()
	a := e.addToCart(t, owner, e.course)
	b := e.addToCart(t, owner, e.workshop)
	return []string{a.ID.String(), b.ID.String()}
}

func (e *testEnv) checkout(t *testing.T, owner models.Owner, ids []string, codes ...string) *SessionResponse {
	t.Helper()
	resp, err := e.payments.CreateSession(e.ctx, owner, &CreateSessionRequest{CartItemIDs: ids, AppliedCoupons: codes})
	require.NoError(t, err)
	return resp
}

func (e *testEnv) intent(t *testing.T, transactionID string) *models.PaymentIntent {
	t.Helper()
	in, err := e.store.FindIntent(e.ctx, transactionID)
	require.NoError(t, err)
	return in
}

func (e *testEnv) rows(t *testing.T, ids []string) []models.Purchase {
	t.Helper()
	parsed, err := parseIDs(ids)
	require.NoError(t, err)
	rows, err := e.store.GetPurchases(e.ctx, parsed)
	require.NoError(t, err)
	return rows
}

func (e *testEnv) countStatus(t *testing.T, owner models.Owner, status models.PaymentStatus) int {
	t.Helper()
	rows, err := e.store.ListPurchases(e.ctx, owner.Key())
	require.NoError(t, err)
	n := 0
	for _, p := range rows {
		if p.PaymentStatus == status {
			n++
		}
	}
	return n
}

func (e *testEnv) seedCoupon(c models.Coupon) *models.Coupon {
	if c.DiscountType == "" {
		c.DiscountType = models.DiscountTypePercentage
	}
	if c.TargetingType == "" {
		c.TargetingType = models.TargetingGeneral
	}
	c.IsActive = true
	return e.store.SeedCoupon(c)
}

func pct(code string, value int64, priority int, stack bool) models.Coupon {
	return models.Coupon{
		Code:          code,
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(value),
		PriorityLevel: priority,
		CanStack:      stack,
	}
}

func fixed(code string, value int64, priority int, stack bool) models.Coupon {
	return models.Coupon{
		Code:          code,
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: decimal.NewFromInt(value),
		PriorityLevel: priority,
		CanStack:      stack,
	}
}
