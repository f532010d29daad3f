package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/canteen/internal/adapter/storage"
	"github.com/rl1809/canteen/internal/core/domain"
)

func TestCatalog_AddItemValidates(t *testing.T) {
	c := NewCatalog(storage.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	_, err := c.AddItem(ctx, domain.MenuItem{Name: "", PriceCents: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidItem)
	_, err = c.AddItem(ctx, domain.MenuItem{Name: "Tea", PriceCents: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidItem)

	it, err := c.AddItem(ctx, domain.MenuItem{Name: "Tea", PriceCents: 1000, Available: 4, Active: true})
	require.NoError(t, err)
	assert.NotEmpty(t, it.ID)
	assert.Equal(t, 4, it.Baseline)

	_, err = c.AddItem(ctx, domain.MenuItem{ID: it.ID, Name: "Tea again", PriceCents: 1000})
	assert.ErrorIs(t, err, domain.ErrInvalidItem)
}

func TestCatalog_ListActiveSorted(t *testing.T) {
	c := NewCatalog(storage.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	for _, it := range []domain.MenuItem{
		{ID: "samosa", Name: "Samosa", Category: "Snacks", PriceCents: 1500, Active: true},
		{ID: "veg", Name: "Veg Biryani", Category: "Main", PriceCents: 6000, Active: true},
		{ID: "chicken", Name: "Chicken Biryani", Category: "Main", PriceCents: 9000, Active: true},
		{ID: "idli", Name: "Idli", Category: "Tiffins", PriceCents: 2500, Active: false},
	} {
		_, err := c.AddItem(ctx, it)
		require.NoError(t, err)
	}

	items, err := c.ListActive(ctx)
	require.NoError(t, err)
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"chicken", "veg", "samosa"}, ids)
}

func TestCatalog_AdjustStockNeverNegative(t *testing.T) {
	store := storage.NewMemoryStore()
	c := NewCatalog(store, nil, nil)
	ctx := context.Background()
	_, err := c.AddItem(ctx, item("vada", 1000, 10))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.AdjustStock(ctx, "vada", -1)
		}()
	}
	wg.Wait()

	it, err := c.GetItem(ctx, "vada")
	require.NoError(t, err)
	assert.Equal(t, 0, it.Available)

	err = c.AdjustStock(ctx, "vada", -1)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.ErrorIs(t, c.AdjustStock(ctx, "missing", -1), domain.ErrNotFound)
}

func TestCatalog_AdjustStockRejectsAdditions(t *testing.T) {
	c := NewCatalog(storage.NewMemoryStore(), nil, nil)
	ctx := context.Background()
	_, err := c.AddItem(ctx, item("vada", 1000, 4))
	require.NoError(t, err)

	err = c.AdjustStock(ctx, "vada", 3)
	assert.ErrorIs(t, err, domain.ErrInvalidItem)

	it, err := c.GetItem(ctx, "vada")
	require.NoError(t, err)
	assert.Equal(t, 4, it.Available)
	assert.Equal(t, 4, it.Baseline)
}

func TestCatalog_Restock(t *testing.T) {
	c := NewCatalog(storage.NewMemoryStore(), nil, nil)
	ctx := context.Background()
	_, err := c.AddItem(ctx, item("vada", 1000, 2))
	require.NoError(t, err)

	it, err := c.Restock(ctx, "vada", 5)
	require.NoError(t, err)
	assert.Equal(t, 7, it.Available)
	assert.Equal(t, 7, it.Baseline)

	_, err = c.Restock(ctx, "vada", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidItem)
}

func TestCatalog_SetActive(t *testing.T) {
	c := NewCatalog(storage.NewMemoryStore(), nil, nil)
	ctx := context.Background()
	_, err := c.AddItem(ctx, item("vada", 1000, 2))
	require.NoError(t, err)

	it, err := c.SetActive(ctx, "vada", false)
	require.NoError(t, err)
	assert.False(t, it.Active)

	items, err := c.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = c.SetActive(ctx, "missing", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
