package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/checkout-backend/internal/apperr"
	"github.com/javajoker/checkout-backend/internal/models"
)

func TestAddToCartIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()

	first := env.addToCart(t, owner, env.course)
	second := env.addToCart(t, owner, env.course)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Go 101", first.Title())
	assert.True(t, first.PaymentAmount.Equal(decimal.NewFromInt(60)))

	cart, err := env.purchases.ListCart(env.ctx, owner)
	require.NoError(t, err)
	assert.Len(t, cart, 1)
}

func TestAddToCartRefusesOwnedItems(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	resp := env.checkout(t, owner, []string{env.addToCart(t, owner, env.course).ID.String()})
	_, err := env.reconciler.Finalize(env.ctx, resp.TransactionID, models.SourceCallback, "pi_1")
	require.NoError(t, err)

	_, err = env.purchases.AddToCart(env.ctx, owner, &AddToCartRequest{PurchasableType: "course", PurchasableID: "go-101"})

	require.Error(t, err)
	assert.Equal(t, apperr.ReasonAlreadyOwned, apperr.ReasonOf(err))
}

func TestAddToCartUnknownAndInactiveProducts(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	env.store.SeedProduct(models.Product{ProductType: "course", EntityID: "retired", Title: "Retired", Price: decimal.NewFromInt(5)})

	_, err := env.purchases.AddToCart(env.ctx, owner, &AddToCartRequest{PurchasableType: "course", PurchasableID: "nope"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = env.purchases.AddToCart(env.ctx, owner, &AddToCartRequest{PurchasableType: "course", PurchasableID: "retired"})
	assert.Equal(t, apperr.ReasonInactive, apperr.ReasonOf(err))
}

func TestAddToCartResolvesLegacyProductIDs(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	legacy := env.store.SeedProduct(models.Product{Title: "Old Bundle", Price: decimal.NewFromInt(25), IsActive: true})

	p, err := env.purchases.AddToCart(env.ctx, owner, &AddToCartRequest{PurchasableID: legacy.ID.String()})
	require.NoError(t, err)

	require.NotNil(t, p.ProductID)
	assert.Equal(t, legacy.ID, *p.ProductID)
	assert.Equal(t, "product", p.ProductKind())
	assert.Equal(t, legacy.ID.String(), p.TargetID())

	again, err := env.purchases.AddToCart(env.ctx, owner, &AddToCartRequest{PurchasableID: legacy.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
}

func TestListPurchasesServesFromCacheUntilInvalidated(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	env.addToCart(t, owner, env.course)

	rows, err := env.purchases.ListPurchases(env.ctx, owner)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// written behind the service's back: not visible until the entry expires
	require.NoError(t, env.store.CreatePurchase(env.ctx, models.NewPurchase(owner, env.workshop, "workshop", "ws-7")))
	rows, err = env.purchases.ListPurchases(env.ctx, owner)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	env.clock.Advance(6 * time.Minute)
	rows, err = env.purchases.ListPurchases(env.ctx, owner)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMutationsInvalidateCachedPurchases(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	course := env.addToCart(t, owner, env.course)

	_, err := env.purchases.ListPurchases(env.ctx, owner)
	require.NoError(t, err)

	env.addToCart(t, owner, env.workshop)
	rows, err := env.purchases.ListPurchases(env.ctx, owner)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	require.NoError(t, env.purchases.RemoveFromCart(env.ctx, owner, course.ID))
	rows, err = env.purchases.ListPurchases(env.ctx, owner)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestListPurchasesReturnsCopies(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	env.addToCart(t, owner, env.course)

	rows, err := env.purchases.ListPurchases(env.ctx, owner)
	require.NoError(t, err)
	rows[0].Metadata["productTitle"] = "tampered"

	again, err := env.purchases.ListPurchases(env.ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "Go 101", again[0].Title())
}

func TestRemoveFromCart(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	ids := env.fillCart(t, owner)
	parsed, err := parseIDs(ids)
	require.NoError(t, err)

	err = env.purchases.RemoveFromCart(env.ctx, models.GuestOwner("203.0.113.1"), parsed[0])
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	err = env.purchases.RemoveFromCart(env.ctx, owner, uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	env.checkout(t, owner, ids)
	err = env.purchases.RemoveFromCart(env.ctx, owner, parsed[0])
	assert.Equal(t, apperr.ReasonInvalidState, apperr.ReasonOf(err))
}

func TestOwnedItemsRejectsEmptySelection(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.purchases.OwnedItems(env.ctx, env.user(), nil)
	assert.Equal(t, apperr.ReasonEmptyCart, apperr.ReasonOf(err))
}

func TestGuestAndUserCartsAreSeparate(t *testing.T) {
	env := newTestEnv(t)
	user := env.user()
	guest := models.GuestOwner("192.0.2.10")

	env.addToCart(t, user, env.course)
	env.addToCart(t, guest, env.course)
	env.addToCart(t, guest, env.workshop)

	userCart, err := env.purchases.ListCart(env.ctx, user)
	require.NoError(t, err)
	guestCart, err := env.purchases.ListCart(env.ctx, guest)
	require.NoError(t, err)

	assert.Len(t, userCart, 1)
	assert.Len(t, guestCart, 2)
}
