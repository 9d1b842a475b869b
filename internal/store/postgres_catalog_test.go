package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kings-storefront/internal/domain"
)

// Helper function to create a mock DB and PostgresStore for testing
func newMockDBAndStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Failed to create sqlmock")

	store := NewPostgresStore(db)
	require.NotNil(t, store, "Store should not be nil")

	return db, mock, store
}

// PtrTo returns a pointer to v, for optional filter fields.
func PtrTo[T any](v T) *T {
	return &v
}

var productRowColumns = []string{"id", "title", "description", "price", "stock_id", "category_id", "category_name", "image", "updated_at"}

func TestPostgresStore_UpsertProduct(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	updated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := &domain.Product{
		ID:           "p1",
		Title:        "Kanzu",
		Description:  "White cotton kanzu",
		Price:        45000,
		StockID:      "STK-1",
		CategoryID:   "c1",
		CategoryName: "Men",
		Image:        "/img/kanzu.png",
		UpdatedAt:    updated,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storefront.products")+".*"+regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("p1", "Kanzu", "White cotton kanzu", 45000.0, "STK-1", "c1", "Men", "/img/kanzu.png", updated).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertProduct(context.Background(), p)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "SQLmock expectations were not met")
}

func TestPostgresStore_UpsertProduct_StoresNullsForMissingFields(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storefront.products")).
		WithArgs("p2", "Gomesi", "", 0.0, "", nil, "", domain.PlaceholderImage, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertProduct(context.Background(), &domain.Product{ID: "p2", Title: "Gomesi", Image: domain.PlaceholderImage})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteProduct(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	query := regexp.QuoteMeta(`DELETE FROM storefront.products WHERE id = $1;`)
	mock.ExpectExec(query).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.DeleteProduct(context.Background(), "p1"))
	err := store.DeleteProduct(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrProductNotFound), "Error should be ErrProductNotFound")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProductByID_Found(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	rows := sqlmock.NewRows(productRowColumns).
		AddRow("p1", "Kanzu", "White cotton kanzu", 45000.0, "STK-1", nil, "", "/img/kanzu.png", nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM storefront.products WHERE id = $1;")).WithArgs("p1").WillReturnRows(rows)

	product, err := store.GetProductByID(context.Background(), "p1")

	require.NoError(t, err)
	require.NotNil(t, product)
	assert.Equal(t, "p1", product.ID)
	assert.Equal(t, 45000.0, product.Price)
	assert.Empty(t, product.CategoryID)
	assert.True(t, product.UpdatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProductByID_NotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM storefront.products WHERE id = $1;")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	product, err := store.GetProductByID(context.Background(), "nope")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProductNotFound))
	assert.Nil(t, product)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProducts_WithFilters(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	where := "WHERE (title ILIKE $1 OR description ILIKE $2) AND category_id = $3"
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM storefront.products "+where)).
		WithArgs("%kan%", "%kan%", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := sqlmock.NewRows(productRowColumns).
		AddRow("p1", "Kanzu", "", 45000.0, "", "c1", "Men", domain.PlaceholderImage, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM storefront.products "+where+" ORDER BY synced_at DESC, id ASC LIMIT $4 OFFSET $5")).
		WithArgs("%kan%", "%kan%", "c1", 10, 0).
		WillReturnRows(rows)

	products, total, err := store.ListProducts(context.Background(), ListProductsParams{
		Limit:       10,
		Offset:      0,
		SearchQuery: PtrTo("kan"),
		CategoryID:  PtrTo("c1"),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, products, 1)
	assert.Equal(t, "c1", products[0].CategoryID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProducts_Empty(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM storefront.products")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	products, total, err := store.ListProducts(context.Background(), ListProductsParams{Limit: 10})

	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NotNil(t, products)
	assert.Empty(t, products)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCategories(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM storefront.categories;`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM storefront.categories")).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "image", "updated_at"}).
			AddRow("c2", "Bags", "/img/bags.png", nil).
			AddRow("c1", "Shoes", domain.PlaceholderImage, time.Now()))

	categories, total, err := store.ListCategories(context.Background(), ListCategoriesParams{Limit: 20})

	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, categories, 2)
	assert.Equal(t, "Bags", categories[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAndDeleteCategory(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storefront.categories")).
		WithArgs("c1", "Shoes", domain.PlaceholderImage, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM storefront.categories WHERE id = $1;`)).
		WithArgs("c9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.UpsertCategory(context.Background(), &domain.Category{ID: "c1", Name: "Shoes", Image: domain.PlaceholderImage}))
	err := store.DeleteCategory(context.Background(), "c9")
	assert.ErrorIs(t, err, ErrCategoryNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceCatalog(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	categories := []domain.Category{{ID: "c1", Name: "Shoes"}}
	products := []domain.Product{{ID: "p1", Title: "Sandal", CategoryID: "c1"}, {ID: "p2", Title: "Boot"}}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storefront.categories")).WithArgs("c1", "Shoes", "", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM storefront.categories WHERE NOT (id = ANY($1));")).
		WithArgs(pq.Array([]string{"c1"})).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storefront.products")).WithArgs("p1", "Sandal", "", 0.0, "", "c1", "", "", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storefront.products")).WithArgs("p2", "Boot", "", 0.0, "", nil, "", "", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM storefront.products WHERE NOT (id = ANY($1));")).
		WithArgs(pq.Array([]string{"p1", "p2"})).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.ReplaceCatalog(context.Background(), products, categories)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceCatalog_RollsBackOnFailure(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM storefront.categories WHERE NOT")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storefront.products")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.ReplaceCatalog(context.Background(), []domain.Product{{ID: "p1", Title: "Sandal"}}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), `"p1"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE SCHEMA IF NOT EXISTS storefront;")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
