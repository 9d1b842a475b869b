package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"kings-storefront/internal/domain"
	"kings-storefront/internal/logger"
	"kings-storefront/internal/pos"
)

// Predefined errors for store operations
var (
	ErrCategoryNotFound = errors.New("store: category not found")
	ErrProductNotFound  = errors.New("store: product not found")
	ErrReceiptNotFound  = errors.New("store: receipt not found")
	ErrReceiptExists    = errors.New("store: receipt with this idempotency key already exists")
)

// Schema creates the mirror tables when they are missing.
const Schema = `
CREATE SCHEMA IF NOT EXISTS storefront;
CREATE TABLE IF NOT EXISTS storefront.categories (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	image      TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ,
	synced_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS storefront.products (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	price         NUMERIC(14,2) NOT NULL DEFAULT 0,
	stock_id      TEXT NOT NULL DEFAULT '',
	category_id   TEXT,
	category_name TEXT NOT NULL DEFAULT '',
	image         TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ,
	synced_at     TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS products_category_id_idx ON storefront.products (category_id);
CREATE TABLE IF NOT EXISTS storefront.receipts (
	id              UUID PRIMARY KEY,
	sale_id         TEXT NOT NULL DEFAULT '',
	order_id        TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL UNIQUE,
	payment_method  TEXT NOT NULL,
	customer_name   TEXT NOT NULL DEFAULT '',
	lines           JSONB NOT NULL,
	currency        TEXT NOT NULL DEFAULT '',
	subtotal        NUMERIC(14,2) NOT NULL,
	tax             NUMERIC(14,2) NOT NULL,
	total           NUMERIC(14,2) NOT NULL,
	amount_received NUMERIC(14,2) NOT NULL,
	change_due      NUMERIC(14,2) NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements CatalogStorer and ReceiptStorer using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies Schema.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("store: EnsureSchema failed: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const productColumns = `id, title, description, price, stock_id, category_id, category_name, image, updated_at`

const upsertProductQuery = `
		INSERT INTO storefront.products (id, title, description, price, stock_id, category_id, category_name, image, updated_at, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, description = EXCLUDED.description, price = EXCLUDED.price,
			stock_id = EXCLUDED.stock_id, category_id = EXCLUDED.category_id, category_name = EXCLUDED.category_name,
			image = EXCLUDED.image, updated_at = EXCLUDED.updated_at, synced_at = CURRENT_TIMESTAMP;
	`

const upsertCategoryQuery = `
		INSERT INTO storefront.categories (id, name, image, updated_at, synced_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, image = EXCLUDED.image, updated_at = EXCLUDED.updated_at, synced_at = CURRENT_TIMESTAMP;
	`

// --- CatalogStorer Implementation ---

func (s *PostgresStore) UpsertProduct(ctx context.Context, product *domain.Product) error {
	if err := upsertProduct(ctx, s.db, product); err != nil {
		return fmt.Errorf("store: UpsertProduct failed: %w", err)
	}
	return nil
}

func upsertProduct(ctx context.Context, db execer, p *domain.Product) error {
	_, err := db.ExecContext(ctx, upsertProductQuery,
		p.ID, p.Title, p.Description, p.Price, p.StockID,
		nullString(p.CategoryID), p.CategoryName, p.Image, nullTime(p.UpdatedAt),
	)
	return err
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	query := `DELETE FROM storefront.products WHERE id = $1;`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: DeleteProduct failed to execute delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: DeleteProduct failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (s *PostgresStore) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM storefront.products WHERE id = $1;`
	p, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: GetProductByID failed to scan row: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, params ListProductsParams) ([]domain.Product, int, error) {
	var queryArgs []any
	var whereClauses []string
	argID := 1

	if params.SearchQuery != nil && *params.SearchQuery != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", argID, argID+1))
		searchTerm := "%" + *params.SearchQuery + "%"
		queryArgs = append(queryArgs, searchTerm, searchTerm)
		argID += 2
	}
	if params.CategoryID != nil && *params.CategoryID != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("category_id = $%d", argID))
		queryArgs = append(queryArgs, *params.CategoryID)
		argID++
	}

	whereCondition := ""
	if len(whereClauses) > 0 {
		whereCondition = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM storefront.products" + whereCondition
	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery, queryArgs...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts failed to count products: %w", err)
	}
	if totalCount == 0 {
		return []domain.Product{}, 0, nil
	}

	dataQuery := fmt.Sprintf("SELECT %s FROM storefront.products%s ORDER BY synced_at DESC, id ASC LIMIT $%d OFFSET $%d",
		productColumns, whereCondition, argID, argID+1)
	finalQueryArgs := append(queryArgs, params.Limit, params.Offset)

	rows, err := s.db.QueryContext(ctx, dataQuery, finalQueryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, params.Limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: ListProducts failed to scan product row: %w", err)
		}
		products = append(products, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts iteration error: %w", err)
	}
	return products, totalCount, nil
}

func (s *PostgresStore) UpsertCategory(ctx context.Context, category *domain.Category) error {
	if err := upsertCategory(ctx, s.db, category); err != nil {
		return fmt.Errorf("store: UpsertCategory failed: %w", err)
	}
	return nil
}

func upsertCategory(ctx context.Context, db execer, c *domain.Category) error {
	_, err := db.ExecContext(ctx, upsertCategoryQuery, c.ID, c.Name, c.Image, nullTime(c.UpdatedAt))
	return err
}

func (s *PostgresStore) DeleteCategory(ctx context.Context, id string) error {
	query := `DELETE FROM storefront.categories WHERE id = $1;`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: DeleteCategory failed to execute delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: DeleteCategory failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

// ListCategories retrieves a paginated list of categories ordered by name.
func (s *PostgresStore) ListCategories(ctx context.Context, params ListCategoriesParams) ([]domain.Category, int, error) {
	countQuery := `SELECT COUNT(*) FROM storefront.categories;`
	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("store: ListCategories failed to count categories: %w", err)
	}
	if totalCount == 0 {
		return []domain.Category{}, 0, nil
	}

	query := `
		SELECT id, name, image, updated_at
		FROM storefront.categories
		ORDER BY name ASC
		LIMIT $1 OFFSET $2;
	`
	rows, err := s.db.QueryContext(ctx, query, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store: ListCategories failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, params.Limit)
	for rows.Next() {
		var c domain.Category
		var updatedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.Image, &updatedAt); err != nil {
			return nil, 0, fmt.Errorf("store: ListCategories failed to scan category row: %w", err)
		}
		c.UpdatedAt = updatedAt.Time
		categories = append(categories, c)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: ListCategories iteration error: %w", err)
	}
	return categories, totalCount, nil
}

// ReplaceCatalog makes the stored mirror exactly match a full re-fetch:
// every given entity is upserted and everything else is deleted, in one
// transaction.
func (s *PostgresStore) ReplaceCatalog(ctx context.Context, products []domain.Product, categories []domain.Category) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: ReplaceCatalog failed to begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	categoryIDs := make([]string, 0, len(categories))
	for i := range categories {
		if err = upsertCategory(ctx, tx, &categories[i]); err != nil {
			return fmt.Errorf("store: ReplaceCatalog failed to upsert category %q: %w", categories[i].ID, err)
		}
		categoryIDs = append(categoryIDs, categories[i].ID)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM storefront.categories WHERE NOT (id = ANY($1));`, pq.Array(categoryIDs)); err != nil {
		return fmt.Errorf("store: ReplaceCatalog failed to prune categories: %w", err)
	}

	productIDs := make([]string, 0, len(products))
	for i := range products {
		if err = upsertProduct(ctx, tx, &products[i]); err != nil {
			return fmt.Errorf("store: ReplaceCatalog failed to upsert product %q: %w", products[i].ID, err)
		}
		productIDs = append(productIDs, products[i].ID)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM storefront.products WHERE NOT (id = ANY($1));`, pq.Array(productIDs)); err != nil {
		return fmt.Errorf("store: ReplaceCatalog failed to prune products: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: ReplaceCatalog failed to commit: %w", err)
	}
	return nil
}

// --- ReceiptStorer Implementation ---

const receiptColumns = `id, sale_id, order_id, idempotency_key, payment_method, customer_name, lines, currency, subtotal, tax, total, amount_received, change_due, created_at`

func (s *PostgresStore) SaveReceipt(ctx context.Context, r *pos.Receipt) error {
	lines, err := json.Marshal(r.Lines)
	if err != nil {
		return fmt.Errorf("store: SaveReceipt failed to encode lines: %w", err)
	}
	query := `
		INSERT INTO storefront.receipts (` + receiptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.SaleID, r.OrderID, r.IdempotencyKey, r.PaymentMethod, r.CustomerName, lines, r.Currency,
		r.Subtotal, r.Tax, r.Total, r.Received, r.Change, r.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // Unique violation
			return ErrReceiptExists
		}
		return fmt.Errorf("store: SaveReceipt failed to insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReceipt(ctx context.Context, id uuid.UUID) (*pos.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM storefront.receipts WHERE id = $1;`
	r, err := scanReceipt(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("store: GetReceipt failed to scan row: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetReceiptByIdempotencyKey(ctx context.Context, key string) (*pos.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM storefront.receipts WHERE idempotency_key = $1;`
	r, err := scanReceipt(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("store: GetReceiptByIdempotencyKey failed to scan row: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	log := logger.WithModule("store")
	log.Info("Closing database connection pool...")
	if err := s.db.Close(); err != nil {
		log.WithError(err).Error("Failed to close database connection pool")
		return err
	}
	log.Info("Database connection pool closed successfully.")
	return nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var categoryID sql.NullString
	var updatedAt sql.NullTime
	if err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.Price, &p.StockID,
		&categoryID, &p.CategoryName, &p.Image, &updatedAt,
	); err != nil {
		return nil, err
	}
	p.CategoryID = categoryID.String
	p.UpdatedAt = updatedAt.Time
	return &p, nil
}

func scanReceipt(row rowScanner) (*pos.Receipt, error) {
	var r pos.Receipt
	var lines []byte
	if err := row.Scan(
		&r.ID, &r.SaleID, &r.OrderID, &r.IdempotencyKey, &r.PaymentMethod, &r.CustomerName, &lines, &r.Currency,
		&r.Subtotal, &r.Tax, &r.Total, &r.Received, &r.Change, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &r.Lines); err != nil {
		return nil, fmt.Errorf("decoding receipt lines: %w", err)
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
