package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleMember is a learner with a (possibly free) subscription.
	UserRoleMember UserRole = "member"
	// UserRoleEditor may edit case bank content.
	UserRoleEditor UserRole = "editor"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Email        string // also the key of the user's attempt record
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// CanEdit reports whether the user may modify case content.
func (u *User) CanEdit() bool {
	return u != nil && (u.Role == UserRoleEditor || u.Role == UserRoleAdmin)
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// OrderStatus is the lifecycle state of a plan order.
type OrderStatus string

const (
	OrderActive    OrderStatus = "ACTIVE"
	OrderCancelled OrderStatus = "CANCELED"
	OrderEnded     OrderStatus = "ENDED"
)

// Valid reports whether s is a known order state.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderActive, OrderCancelled, OrderEnded:
		return true
	}
	return false
}

// Order is a user's purchase of a subscription plan.
type Order struct {
	ID        int64       `json:"id"`
	UserID    int64       `json:"userId"`
	PlanName  string      `json:"planName"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}
