package domain

import (
	"encoding/json"
	"fmt"
)

// Role is a platform user role.
type Role string

const (
	RoleClient     Role = "client"
	RoleSalesAgent Role = "salesAgent"
	RoleAdmin      Role = "admin"
)

// UserStats are the aggregate figures shown on customer pages.
type UserStats struct {
	OrderCount int     `json:"orderCount"`
	TotalSpent float64 `json:"totalSpent"`
}

// User is a platform account (customer, sales agent or admin).
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Role     Role      `json:"role"`
	IsActive bool      `json:"isActive"`
	Avatar   string    `json:"avatar,omitempty"`
	Stats    UserStats `json:"stats"`
}

// EntityID implements reconcile.Entity.
func (u User) EntityID() string { return u.ID }

// UnmarshalJSON accepts "_id", and stats either nested or flattened.
func (u *User) UnmarshalJSON(data []byte) error {
	var w struct {
		ID         string     `json:"id"`
		MongoID    string     `json:"_id"`
		Name       string     `json:"name"`
		Email      string     `json:"email"`
		Role       Role       `json:"role"`
		IsActive   *bool      `json:"isActive"`
		Avatar     string     `json:"avatar"`
		Stats      *UserStats `json:"stats"`
		OrderCount int        `json:"orderCount"`
		TotalSpent Amount     `json:"totalSpent"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("domain: decoding user: %w", err)
	}
	*u = User{
		ID:       firstNonEmpty(w.ID, w.MongoID),
		Name:     w.Name,
		Email:    w.Email,
		Role:     w.Role,
		IsActive: w.IsActive == nil || *w.IsActive,
		Avatar:   w.Avatar,
		Stats:    UserStats{OrderCount: w.OrderCount, TotalSpent: float64(w.TotalSpent)},
	}
	if w.Stats != nil {
		u.Stats = *w.Stats
	}
	return nil
}
