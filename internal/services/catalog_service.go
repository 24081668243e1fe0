package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/config"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// CatalogServiceImpl implements interfaces.CatalogService over a static
// product list loaded at startup.
type CatalogServiceImpl struct {
	mu sync.RWMutex
	// In-memory cache of products for lookup on the checkout path
	productCache map[string]*models.Product
}

// NewCatalogService creates a catalog seeded from configuration
func NewCatalogService(products []config.ProductConfig) (*CatalogServiceImpl, error) {
	c := &CatalogServiceImpl{productCache: make(map[string]*models.Product)}

	for _, p := range products {
		if err := c.ValidateProductID(p.ID); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(p.BasePrice)
		if err != nil {
			return nil, fmt.Errorf("invalid base price for product %s: %w", p.ID, err)
		}
		c.productCache[p.ID] = &models.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			BasePrice:   price,
		}
	}

	return c, nil
}

// GetProduct returns a specific product by its ID
func (c *CatalogServiceImpl) GetProduct(_ context.Context, productID string) (*models.Product, error) {
	if err := c.ValidateProductID(productID); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	product, ok := c.productCache[productID]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	out := *product
	return &out, nil
}

// ValidateProductID checks if a product ID has a valid format
func (c *CatalogServiceImpl) ValidateProductID(productID string) error {
	if productID == "" {
		return fmt.Errorf("product ID cannot be empty")
	}

	if len(productID) < 3 || len(productID) > 50 {
		return fmt.Errorf("product ID length must be between 3 and 50 characters")
	}

	// Check for valid characters (alphanumeric, underscore, hyphen)
	for _, char := range productID {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_' || char == '-') {
			return fmt.Errorf("product ID contains invalid characters: %s", productID)
		}
	}

	return nil
}

// GetCacheStats returns statistics about the product cache
func (c *CatalogServiceImpl) GetCacheStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"cached_products": len(c.productCache),
	}
}
