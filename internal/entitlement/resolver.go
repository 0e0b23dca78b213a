package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/brainbank/osce/internal/model"
)

// OrderLister returns the orders of a user.
type OrderLister interface {
	ListOrders(ctx context.Context, userID int64) ([]model.Order, error)
}

// RetryPolicy bounds the order lookup retries.
type RetryPolicy struct {
	MaxTries   uint          // attempts before the final fallback delay
	BaseDelay  time.Duration // first backoff, doubled each retry
	FinalDelay time.Duration // wait before the one last attempt
}

// DefaultRetryPolicy is five tries from one second doubling, then a five
// second pause and a last try.
var DefaultRetryPolicy = RetryPolicy{
	MaxTries:   5,
	BaseDelay:  time.Second,
	FinalDelay: 5 * time.Second,
}

// PlanResolver resolves a user's active plans and their allowed topics.
type PlanResolver struct {
	orders OrderLister
	table  *Table
	policy RetryPolicy
}

// NewPlanResolver creates a PlanResolver.
func NewPlanResolver(orders OrderLister, table *Table, policy RetryPolicy) *PlanResolver {
	if policy.MaxTries == 0 {
		policy.MaxTries = 1
	}
	return &PlanResolver{orders: orders, table: table, policy: policy}
}

// Table returns the plan table used by r.
func (r *PlanResolver) Table() *Table {
	return r.table
}

// CurrentPlans returns the names of the user's active plans. Guests, users
// without active orders and lookups that keep failing all get the Free
// plan; CurrentPlans never fails.
func (r *PlanResolver) CurrentPlans(ctx context.Context, user *model.User) []string {
	if user == nil {
		return []string{FreePlan}
	}

	orders, err := r.listWithRetry(ctx, user.ID)
	if err != nil {
		slog.Error("failed to list orders, using free plan", "user_id", user.ID, "error", err)
		return []string{FreePlan}
	}

	var plans []string
	for _, o := range orders {
		if o.Status == model.OrderActive {
			plans = append(plans, o.PlanName)
		}
	}
	if len(plans) == 0 {
		return []string{FreePlan}
	}
	return plans
}

// AllowedTopics resolves the user's plans and their topic set.
func (r *PlanResolver) AllowedTopics(ctx context.Context, user *model.User) ([]string, TopicSet) {
	plans := r.CurrentPlans(ctx, user)
	return plans, r.table.AllowedTopics(plans)
}

func (r *PlanResolver) listWithRetry(ctx context.Context, userID int64) ([]model.Order, error) {
	list := func() ([]model.Order, error) {
		return r.orders.ListOrders(ctx, userID)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.policy.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         r.policy.BaseDelay << r.policy.MaxTries,
	}
	orders, err := backoff.Retry(ctx, list,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.policy.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("order lookup failed, retrying", "user_id", userID, "in", next, "error", err)
		}),
	)
	if err == nil {
		return orders, nil
	}

	slog.Warn("order lookup retries exhausted, final attempt", "user_id", userID, "in", r.policy.FinalDelay)
	t := time.NewTimer(r.policy.FinalDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	return list()
}
