package app

import (
	"context"
	"errors"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
)

// errProviderUnavailable - resumer только досылает сохранённые покупки, новых оплат не проводит
var errProviderUnavailable = errors.New("payment provider is not available in resumer")

type unavailableProvider struct{}

func (unavailableProvider) ListProducts(ctx context.Context, productIDs []string) ([]repository.Product, error) {
	return nil, errProviderUnavailable
}

func (unavailableProvider) PurchaseProduct(ctx context.Context, productID string) (repository.Receipt, error) {
	return repository.Receipt{}, errProviderUnavailable
}
