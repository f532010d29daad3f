package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/core/service"
)

const seedStock = 50

var sampleMenu = []domain.MenuItem{
	{ID: "veg-biryani", Name: "Veg Biryani", PriceCents: 6000, Category: "Main", Station: "kitchen"},
	{ID: "chicken-biryani", Name: "Chicken Biryani", PriceCents: 9000, Category: "Main", Station: "kitchen"},
	{ID: "egg-manchuria", Name: "Egg Manchuria", PriceCents: 5000, Category: "Snacks", Station: "fryer"},
	{ID: "chicken-manchuria", Name: "Chicken Manchuria", PriceCents: 7000, Category: "Snacks", Station: "fryer"},
	{ID: "samosa", Name: "Samosa", PriceCents: 1500, Category: "Snacks", Station: "fryer"},
	{ID: "idli", Name: "Idli", PriceCents: 2500, Category: "Tiffins", Station: "tiffin"},
	{ID: "dosa", Name: "Dosa", PriceCents: 3000, Category: "Tiffins", Station: "tiffin"},
	{ID: "upma", Name: "Upma", PriceCents: 2000, Category: "Tiffins", Station: "tiffin"},
}

// seedMenu loads the sample menu into an empty catalog.
func seedMenu(ctx context.Context, catalog *service.Catalog, logger *zap.Logger) error {
	existing, err := catalog.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list menu: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	for _, it := range sampleMenu {
		it.Available = seedStock
		it.Active = true
		if _, err := catalog.AddItem(ctx, it); err != nil {
			return fmt.Errorf("seed %s: %w", it.ID, err)
		}
	}
	logger.Info("sample menu seeded", zap.Int("items", len(sampleMenu)))
	return nil
}
