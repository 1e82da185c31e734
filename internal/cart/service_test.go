package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/internal/products"
	"github.com/angelmondragon/marketplace-backend/internal/testdb"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

func TestServiceUpsertViewRemove(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t)
	repo := NewRepository(conn)
	svc, err := NewService(repo, products.NewRepository(conn))
	require.NoError(t, err)

	buyer := uuid.New()
	sellerA, sellerB := uuid.New(), uuid.New()
	shirt := models.Product{ID: uuid.New(), SellerID: sellerA, Name: "Batik shirt", Price: 100000, Stock: 5}
	mug := models.Product{ID: uuid.New(), SellerID: sellerB, Name: "Clay mug", Price: 50000, Stock: 9}
	require.NoError(t, conn.Create(&shirt).Error)
	require.NoError(t, conn.Create(&mug).Error)

	_, err = svc.UpsertItem(ctx, buyer, shirt.ID, 1)
	require.NoError(t, err)
	_, err = svc.UpsertItem(ctx, buyer, mug.ID, 1)
	require.NoError(t, err)
	// Re-adding the same product overwrites the quantity.
	_, err = svc.UpsertItem(ctx, buyer, mug.ID, 2)
	require.NoError(t, err)

	view, err := svc.View(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, view.Groups, 2)
	assert.Equal(t, int64(200000), view.Total)

	lines, err := repo.ListByBuyer(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	require.NoError(t, svc.RemoveItem(ctx, buyer, shirt.ID))
	err = svc.RemoveItem(ctx, buyer, shirt.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	view, err = svc.View(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, view.Groups, 1)
	assert.Equal(t, sellerB, view.Groups[0].SellerID)
}

func TestServiceUpsertValidation(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t)
	svc, err := NewService(NewRepository(conn), products.NewRepository(conn))
	require.NoError(t, err)

	seller := uuid.New()
	p := models.Product{ID: uuid.New(), SellerID: seller, Name: "Rattan basket", Price: 75000, Stock: 1}
	require.NoError(t, conn.Create(&p).Error)

	_, err = svc.UpsertItem(ctx, uuid.New(), p.ID, 0)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.UpsertItem(ctx, uuid.New(), uuid.New(), 1)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = svc.UpsertItem(ctx, seller, p.ID, 1)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "sellers cannot buy their own listing")

	view, err := svc.View(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, view.Groups)
	assert.Zero(t, view.Total)
}

func TestRepositoryDeleteLinesScopedToBuyer(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testdb.Open(t))

	buyer, other := uuid.New(), uuid.New()
	mine := &models.CartItem{BuyerID: buyer, ProductID: uuid.New(), SellerID: uuid.New(), Quantity: 1, UnitPrice: 10}
	theirs := &models.CartItem{BuyerID: other, ProductID: uuid.New(), SellerID: uuid.New(), Quantity: 1, UnitPrice: 10}
	require.NoError(t, repo.Upsert(ctx, mine))
	require.NoError(t, repo.Upsert(ctx, theirs))

	n, err := repo.DeleteLines(ctx, buyer, []uuid.UUID{mine.ID, theirs.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := repo.ListByBuyer(ctx, other)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}
