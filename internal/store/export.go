package store

import (
	"context"
	"fmt"
	"time"

	"github.com/brainbank/osce/internal/model"
)

// ExportAll builds an export of every attempt record and user account,
// with each user's active plan names.
func (s *Store) ExportAll(ctx context.Context) (model.BankExport, error) {
	export := model.BankExport{ExportedAt: time.Now().UTC()}

	numCases, err := s.CaseCount(ctx)
	if err != nil {
		return export, fmt.Errorf("count cases: %w", err)
	}
	export.NumCases = numCases

	records, err := s.ListAttemptRecords(ctx)
	if err != nil {
		return export, fmt.Errorf("list attempt records: %w", err)
	}
	if records == nil {
		records = []*model.AttemptRecord{}
	}
	export.Records = records

	users, err := s.ListUsers(ctx)
	if err != nil {
		return export, fmt.Errorf("list users: %w", err)
	}
	export.Users = []model.ExportedUser{}
	for _, u := range users {
		orders, err := s.ListOrders(ctx, u.ID)
		if err != nil {
			return export, fmt.Errorf("list orders for %s: %w", u.Email, err)
		}
		plans := []string{}
		for _, o := range orders {
			if o.Status == model.OrderActive {
				plans = append(plans, o.PlanName)
			}
		}
		export.Users = append(export.Users, model.ExportedUser{
			Email:       u.Email,
			DisplayName: u.DisplayName,
			Role:        u.Role,
			Active:      u.Active,
			Plans:       plans,
		})
	}
	export.NumUsers = len(export.Users)
	return export, nil
}
