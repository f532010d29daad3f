package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

// Catalog owns menu items and their stock. Quantity only changes through
// AdjustStock, Restock or the ReservationEngine, always under the item lock.
type Catalog struct {
	store  port.Store
	locks  *keyLock
	logger *zap.Logger
	now    func() time.Time
}

func NewCatalog(store port.Store, logger *zap.Logger, now func() time.Time) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Catalog{
		store:  store,
		locks:  newKeyLock(),
		logger: logger,
		now:    now,
	}
}

func (c *Catalog) GetItem(ctx context.Context, itemID string) (domain.MenuItem, error) {
	return readWithRetry(ctx, func() (domain.MenuItem, error) {
		return c.store.GetMenuItem(ctx, itemID)
	})
}

// ListActive returns orderable items sorted by category, then name.
func (c *Catalog) ListActive(ctx context.Context) ([]domain.MenuItem, error) {
	items, err := c.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	active := items[:0]
	for _, it := range items {
		if it.Active {
			active = append(active, it)
		}
	}
	return active, nil
}

func (c *Catalog) ListAll(ctx context.Context) ([]domain.MenuItem, error) {
	items, err := readWithRetry(ctx, func() ([]domain.MenuItem, error) {
		return c.store.ListMenuItems(ctx)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// AdjustStock takes delta units out of an item's available quantity. It is
// durable when it returns nil. Added stock goes through Restock so the
// baseline follows.
func (c *Catalog) AdjustStock(ctx context.Context, itemID string, delta int) error {
	if delta > 0 {
		return &domain.ItemError{ItemID: itemID, Reason: "stock can only be added by restocking"}
	}

	unlock := c.locks.Lock(itemID)
	defer unlock()

	return c.store.Atomic(ctx, func(tx port.Tx) error {
		return tx.AdjustStock(ctx, itemID, delta, c.now())
	})
}

// Restock adds freshly supplied stock, raising the item's baseline too.
func (c *Catalog) Restock(ctx context.Context, itemID string, quantity int) (domain.MenuItem, error) {
	if quantity <= 0 {
		return domain.MenuItem{}, &domain.ItemError{ItemID: itemID, Reason: "restock quantity must be positive"}
	}

	unlock := c.locks.Lock(itemID)
	defer unlock()

	var item domain.MenuItem
	err := c.store.Atomic(ctx, func(tx port.Tx) error {
		if err := tx.AdjustStock(ctx, itemID, quantity, c.now()); err != nil {
			return err
		}
		if err := tx.RaiseBaseline(ctx, itemID, quantity); err != nil {
			return err
		}
		var err error
		item, err = tx.GetMenuItem(ctx, itemID)
		return err
	})
	if err != nil {
		return domain.MenuItem{}, err
	}

	c.logger.Info("item restocked",
		zap.String("item_id", itemID),
		zap.Int("quantity", quantity),
		zap.Int("available", item.Available),
	)
	return item, nil
}

// AddItem creates a menu item; an empty id is replaced by a generated one.
func (c *Catalog) AddItem(ctx context.Context, item domain.MenuItem) (domain.MenuItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if err := item.Validate(); err != nil {
		return domain.MenuItem{}, err
	}

	now := c.now()
	item.Baseline = item.Available
	item.CreatedAt = now
	item.UpdatedAt = now

	unlock := c.locks.Lock(item.ID)
	defer unlock()

	if err := c.store.Atomic(ctx, func(tx port.Tx) error {
		return tx.CreateMenuItem(ctx, item)
	}); err != nil {
		return domain.MenuItem{}, fmt.Errorf("add menu item: %w", err)
	}

	c.logger.Info("menu item added", zap.String("item_id", item.ID), zap.String("name", item.Name))
	return item, nil
}

func (c *Catalog) SetActive(ctx context.Context, itemID string, active bool) (domain.MenuItem, error) {
	unlock := c.locks.Lock(itemID)
	defer unlock()

	var item domain.MenuItem
	err := c.store.Atomic(ctx, func(tx port.Tx) error {
		if err := tx.SetMenuItemActive(ctx, itemID, active, c.now()); err != nil {
			return err
		}
		var err error
		item, err = tx.GetMenuItem(ctx, itemID)
		return err
	})
	if err != nil {
		return domain.MenuItem{}, err
	}
	return item, nil
}

func (c *Catalog) lockItems(itemIDs []string) (unlock func()) {
	return c.locks.LockAll(itemIDs)
}
