package apiclient

import (
	"context"

	"golang.org/x/sync/errgroup"

	"kings-storefront/internal/domain"
)

// AdminOverview is everything the admin dashboard shows on load.
type AdminOverview struct {
	Metrics   *DashboardMetrics
	Orders    []domain.Order
	Customers []domain.User
}

// LoadAdminOverview fetches metrics, orders and customers concurrently.
// The first failure cancels the other requests and is returned.
func (c *Client) LoadAdminOverview(ctx context.Context) (*AdminOverview, error) {
	g, ctx := errgroup.WithContext(ctx)
	var ov AdminOverview
	g.Go(func() (err error) {
		ov.Metrics, err = c.AdminDashboard(ctx)
		return err
	})
	g.Go(func() (err error) {
		ov.Orders, err = c.AdminOrders(ctx)
		return err
	})
	g.Go(func() (err error) {
		ov.Customers, err = c.AdminCustomers(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &ov, nil
}

// SalesOverview is everything the sales agent dashboard shows on load.
type SalesOverview struct {
	Metrics      *DashboardMetrics
	Products     []domain.Product
	RecentOrders []domain.Order
}

// LoadSalesOverview fetches sales metrics, counter products and recent
// orders concurrently.
func (c *Client) LoadSalesOverview(ctx context.Context) (*SalesOverview, error) {
	g, ctx := errgroup.WithContext(ctx)
	var ov SalesOverview
	g.Go(func() (err error) {
		ov.Metrics, err = c.SalesDashboard(ctx)
		return err
	})
	g.Go(func() (err error) {
		ov.Products, err = c.SalesProducts(ctx)
		return err
	})
	g.Go(func() (err error) {
		ov.RecentOrders, err = c.RecentOrders(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &ov, nil
}
