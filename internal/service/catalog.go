package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
)

// Catalog кеширует описания товаров, полученные от провайдера
// Одновременные запросы одного товара разделяют один запрос к провайдеру.
// Успешный результат хранится до конца жизни процесса, ошибка не кешируется
type Catalog struct {
	provider PaymentProvider
	logger   *zap.Logger
	timeout  time.Duration

	group    singleflight.Group
	mu       sync.RWMutex
	products map[string]repository.Product
}

// NewCatalog создаёт новый каталог товаров
// timeout ограничивает запрос к провайдеру, 0 - без ограничения
func NewCatalog(provider PaymentProvider, logger *zap.Logger, timeout time.Duration) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		provider: provider,
		logger:   logger,
		timeout:  timeout,
		products: make(map[string]repository.Product),
	}
}

// Get возвращает товар по productID, загружая его у провайдера при первом обращении
func (c *Catalog) Get(ctx context.Context, productID string) (repository.Product, error) {
	if product, ok := c.cached(productID); ok {
		return product, nil
	}

	// Общий запрос не должен отменяться, если первый вызывающий ушёл
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(productID, func() (interface{}, error) {
		return c.fetch(fetchCtx, productID)
	})

	select {
	case <-ctx.Done():
		return repository.Product{}, fmt.Errorf("%w: %w", ErrProductFetch, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return repository.Product{}, res.Err
		}
		return res.Val.(repository.Product), nil
	}
}

// Prepare заранее загружает товар в кеш
func (c *Catalog) Prepare(ctx context.Context, productID string) error {
	_, err := c.Get(ctx, productID)
	return err
}

func (c *Catalog) cached(productID string) (repository.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	product, ok := c.products[productID]
	return product, ok
}

func (c *Catalog) fetch(ctx context.Context, productID string) (repository.Product, error) {
	// Предыдущий запрос мог завершиться между проверкой кеша и DoChan
	if product, ok := c.cached(productID); ok {
		return product, nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	products, err := c.provider.ListProducts(ctx, []string{productID})
	if err != nil {
		c.logger.Error("failed to load product",
			zap.Error(err),
			zap.String("product_id", productID),
		)
		return repository.Product{}, fmt.Errorf("%w: %w", ErrProductFetch, err)
	}

	for _, product := range products {
		if product.ID != productID {
			continue
		}

		c.mu.Lock()
		c.products[productID] = product
		c.mu.Unlock()

		c.logger.Debug("product loaded", zap.String("product_id", productID))
		return product, nil
	}

	c.logger.Warn("provider returned no product",
		zap.String("product_id", productID),
		zap.Int("returned", len(products)),
	)
	return repository.Product{}, fmt.Errorf("%w: provider returned no product %s", ErrProductFetch, productID)
}
