package store

import (
	"context"

	"github.com/google/uuid"

	"kings-storefront/internal/domain"
	"kings-storefront/internal/pos"
)

// ListCategoriesParams holds pagination for listing categories.
type ListCategoriesParams struct {
	Limit  int
	Offset int
}

// ListProductsParams holds parameters for listing mirrored products.
type ListProductsParams struct {
	Limit       int
	Offset      int
	SearchQuery *string // matched against title and description
	CategoryID  *string
}

// CatalogStorer persists the reconciled catalog mirror.
type CatalogStorer interface {
	UpsertProduct(ctx context.Context, product *domain.Product) error
	DeleteProduct(ctx context.Context, id string) error
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, params ListProductsParams) ([]domain.Product, int, error) // Returns products and total count
	UpsertCategory(ctx context.Context, category *domain.Category) error
	DeleteCategory(ctx context.Context, id string) error
	ListCategories(ctx context.Context, params ListCategoriesParams) ([]domain.Category, int, error)
	ReplaceCatalog(ctx context.Context, products []domain.Product, categories []domain.Category) error
}

// ReceiptStorer persists completed counter sales.
type ReceiptStorer interface {
	SaveReceipt(ctx context.Context, receipt *pos.Receipt) error
	GetReceipt(ctx context.Context, id uuid.UUID) (*pos.Receipt, error)
	GetReceiptByIdempotencyKey(ctx context.Context, key string) (*pos.Receipt, error)
}
