// Package catalog keeps a live mirror of the backend's products and
// categories: a full fetch on Refresh, then push events folded in as they
// arrive, optionally persisted to a store.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"kings-storefront/internal/domain"
	"kings-storefront/internal/logger"
	"kings-storefront/internal/push"
	"kings-storefront/internal/reconcile"
	"kings-storefront/internal/store"
	"kings-storefront/internal/telemetry"
)

// Fetcher loads the full catalog from the backend. *apiclient.Client satisfies it.
type Fetcher interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

// Subscriber is the part of *push.Hub the mirror needs.
type Subscriber interface {
	Subscribe(event string, handler push.Handler) (unsubscribe func())
}

// Mirror is the reconciled in-memory catalog.
type Mirror struct {
	fetcher Fetcher
	hub     Subscriber
	store   store.CatalogStorer
	log     *logrus.Entry

	products   *reconcile.List[domain.Product]
	categories *reconcile.List[domain.Category]

	mu          sync.Mutex
	unsubs      []func()
	refreshedAt time.Time

	// applyMu orders push events against the snapshot swap in Refresh.
	// Events applied while a fetch is in flight are kept and replayed on
	// top of the new snapshot.
	applyMu           sync.Mutex
	refreshing        int
	pendingProducts   []reconcile.Event[domain.Product]
	pendingCategories []reconcile.Event[domain.Category]
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithStore persists every change to s.
func WithStore(s store.CatalogStorer) Option { return func(m *Mirror) { m.store = s } }

// WithHub enables live updates from h.
func WithHub(h Subscriber) Option { return func(m *Mirror) { m.hub = h } }

// WithLogger sets the log entry.
func WithLogger(l *logrus.Entry) Option { return func(m *Mirror) { m.log = l } }

// NewMirror returns an empty mirror backed by fetcher.
func NewMirror(fetcher Fetcher, opts ...Option) *Mirror {
	m := &Mirror{
		fetcher:    fetcher,
		log:        logger.WithModule("catalog"),
		products:   reconcile.NewList[domain.Product](domain.MergeProduct),
		categories: reconcile.NewList[domain.Category](domain.MergeCategory),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh re-fetches products and categories concurrently and replaces the
// mirror with the result. Nothing changes if either fetch fails. Push events
// that arrive during the fetch are replayed onto the fetched snapshot.
func (m *Mirror) Refresh(ctx context.Context) error {
	ctx, span := telemetry.Tracer("kings-storefront/catalog").Start(ctx, "catalog.Refresh")
	defer span.End()

	err := m.refresh(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (m *Mirror) refresh(ctx context.Context) error {
	var products []domain.Product
	var categories []domain.Category

	m.applyMu.Lock()
	m.refreshing++
	m.applyMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		products, err = m.fetcher.ListProducts(gctx)
		return err
	})
	g.Go(func() (err error) {
		categories, err = m.fetcher.ListCategories(gctx)
		return err
	})
	err := g.Wait()

	m.applyMu.Lock()
	m.refreshing--
	pendingProducts, pendingCategories := m.pendingProducts, m.pendingCategories
	if m.refreshing == 0 {
		m.pendingProducts, m.pendingCategories = nil, nil
	}
	if err != nil {
		m.applyMu.Unlock()
		return err
	}
	m.products.Reset(products)
	m.categories.Reset(categories)
	for _, ev := range pendingProducts {
		m.products.Apply(ev)
	}
	for _, ev := range pendingCategories {
		m.categories.Apply(ev)
	}
	m.applyMu.Unlock()

	m.mu.Lock()
	m.refreshedAt = time.Now()
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"products":   m.products.Len(),
		"categories": m.categories.Len(),
		"replayed":   len(pendingProducts) + len(pendingCategories),
	}).Info("catalog refreshed")

	if m.store != nil {
		if err := m.store.ReplaceCatalog(ctx, m.products.Items(), m.categories.Items()); err != nil {
			return err
		}
	}
	return nil
}

// restorePageSize bounds each store read in Restore.
const restorePageSize = 500

// Restore seeds the mirror from the store's last persisted catalog. It is
// meant for startup when the backend cannot be reached.
func (m *Mirror) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	var products []domain.Product
	for {
		batch, total, err := m.store.ListProducts(ctx, store.ListProductsParams{Limit: restorePageSize, Offset: len(products)})
		if err != nil {
			return err
		}
		products = append(products, batch...)
		if len(batch) == 0 || len(products) >= total {
			break
		}
	}
	var categories []domain.Category
	for {
		batch, total, err := m.store.ListCategories(ctx, store.ListCategoriesParams{Limit: restorePageSize, Offset: len(categories)})
		if err != nil {
			return err
		}
		categories = append(categories, batch...)
		if len(batch) == 0 || len(categories) >= total {
			break
		}
	}

	m.applyMu.Lock()
	m.products.Reset(products)
	m.categories.Reset(categories)
	m.applyMu.Unlock()

	m.log.WithFields(logrus.Fields{
		"products":   len(products),
		"categories": len(categories),
	}).Info("catalog restored from store")
	return nil
}

// Start subscribes to catalog push events and then performs an initial
// Refresh. Subscriptions stay active even when the refresh fails, so the
// mirror converges once the backend is reachable again.
func (m *Mirror) Start(ctx context.Context) error {
	if m.hub != nil {
		m.mu.Lock()
		if len(m.unsubs) == 0 {
			m.unsubs = append(m.unsubs,
				m.hub.Subscribe(push.EventProductUpdated, m.onProduct),
				m.hub.Subscribe(push.EventCategoryUpdated, m.onCategory),
			)
		}
		m.mu.Unlock()
	}
	return m.Refresh(ctx)
}

// Stop drops the push subscriptions. The mirror keeps its last contents.
func (m *Mirror) Stop() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

// RefreshedAt returns the time of the last successful Refresh.
func (m *Mirror) RefreshedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshedAt
}

func (m *Mirror) onProduct(ctx context.Context, msg push.Message) {
	ev, err := push.DecodeProductEvent(msg.Payload)
	if err != nil {
		m.log.WithError(err).Warn("ignoring product push")
		return
	}
	if err := m.ApplyProduct(ctx, ev); err != nil {
		m.log.WithError(err).WithField("product_id", ev.ID).Error("persisting product change")
	}
}

func (m *Mirror) onCategory(ctx context.Context, msg push.Message) {
	ev, err := push.DecodeCategoryEvent(msg.Payload)
	if err != nil {
		m.log.WithError(err).Warn("ignoring category push")
		return
	}
	if err := m.ApplyCategory(ctx, ev); err != nil {
		m.log.WithError(err).WithField("category_id", ev.ID).Error("persisting category change")
	}
}

// ApplyProduct folds ev into the mirror and the store.
func (m *Mirror) ApplyProduct(ctx context.Context, ev reconcile.Event[domain.Product]) error {
	m.applyMu.Lock()
	if m.refreshing > 0 {
		m.pendingProducts = append(m.pendingProducts, ev)
	}
	m.products.Apply(ev)
	m.applyMu.Unlock()
	if m.store == nil {
		return nil
	}
	switch ev.Kind {
	case reconcile.KindUpserted:
		merged, ok := m.products.Get(ev.ID)
		if !ok {
			return nil
		}
		return m.store.UpsertProduct(ctx, &merged)
	case reconcile.KindDeleted:
		if err := m.store.DeleteProduct(ctx, ev.ID); err != nil && !errors.Is(err, store.ErrProductNotFound) {
			return err
		}
	}
	return nil
}

// ApplyCategory folds ev into the mirror and the store.
func (m *Mirror) ApplyCategory(ctx context.Context, ev reconcile.Event[domain.Category]) error {
	m.applyMu.Lock()
	if m.refreshing > 0 {
		m.pendingCategories = append(m.pendingCategories, ev)
	}
	m.categories.Apply(ev)
	m.applyMu.Unlock()
	if m.store == nil {
		return nil
	}
	switch ev.Kind {
	case reconcile.KindUpserted:
		merged, ok := m.categories.Get(ev.ID)
		if !ok {
			return nil
		}
		return m.store.UpsertCategory(ctx, &merged)
	case reconcile.KindDeleted:
		if err := m.store.DeleteCategory(ctx, ev.ID); err != nil && !errors.Is(err, store.ErrCategoryNotFound) {
			return err
		}
	}
	return nil
}

// Products returns the mirrored products, newest first.
func (m *Mirror) Products() []domain.Product { return m.products.Items() }

// Categories returns the mirrored categories, newest first.
func (m *Mirror) Categories() []domain.Category { return m.categories.Items() }

// The methods below let the mirror serve reads the same way the store does.

// GetProductByID returns a mirrored product or store.ErrProductNotFound.
// Until the first successful Refresh, misses fall through to the store.
func (m *Mirror) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	p, ok := m.products.Get(id)
	if ok {
		return &p, nil
	}
	if m.store != nil && m.RefreshedAt().IsZero() {
		return m.store.GetProductByID(ctx, id)
	}
	return nil, store.ErrProductNotFound
}

// ListProducts filters and pages the mirrored products.
func (m *Mirror) ListProducts(_ context.Context, params store.ListProductsParams) ([]domain.Product, int, error) {
	var q string
	if params.SearchQuery != nil {
		q = strings.ToLower(strings.TrimSpace(*params.SearchQuery))
	}
	matched := make([]domain.Product, 0)
	for _, p := range m.products.Items() {
		if params.CategoryID != nil && *params.CategoryID != "" && p.CategoryID != *params.CategoryID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Title), q) && !strings.Contains(strings.ToLower(p.Description), q) {
			continue
		}
		matched = append(matched, p)
	}
	return page(matched, params.Limit, params.Offset), len(matched), nil
}

// ListCategories pages the mirrored categories ordered by name.
func (m *Mirror) ListCategories(_ context.Context, params store.ListCategoriesParams) ([]domain.Category, int, error) {
	all := m.categories.Items()
	sort.SliceStable(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return page(all, params.Limit, params.Offset), len(all), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
