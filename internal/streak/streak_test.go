package streak

import (
	"testing"
	"time"

	"github.com/brainbank/osce/internal/model"
)

var day0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func recordOn(days ...int) *model.AttemptRecord {
	rec := model.NewAttemptRecord("u@example.com")
	for i, d := range days {
		name := "Case" + string(rune('A'+i%3))
		rec.Responses[name] = append(rec.Responses[name], model.Attempt{
			Timestamp: day0.AddDate(0, 0, d).Add(time.Duration(i) * time.Hour),
		})
	}
	return rec
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name        string
		days        []int
		nowOffset   int
		wantCurrent int
		wantBest    int
	}{
		{"no attempts", nil, 0, 0, 0},
		{"three consecutive", []int{0, 1, 2}, 2, 3, 3},
		{"gap breaks run", []int{0, 1, 3}, 3, 1, 2},
		{"same day counted once", []int{0, 0, 1, 1}, 1, 2, 2},
		{"yesterday keeps streak", []int{0, 1, 2}, 3, 3, 3},
		{"stale streak", []int{0, 1, 2}, 5, 0, 3},
		{"unsorted input", []int{2, 0, 1}, 2, 3, 3},
		{"best earlier than current", []int{0, 1, 2, 3, 6, 7}, 7, 2, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := day0.AddDate(0, 0, tt.nowOffset).Add(10 * time.Hour)
			got := Compute(recordOn(tt.days...), now, time.UTC)
			if got.Current != tt.wantCurrent {
				t.Errorf("Current = %d, want %d", got.Current, tt.wantCurrent)
			}
			if got.Best != tt.wantBest {
				t.Errorf("Best = %d, want %d", got.Best, tt.wantBest)
			}
			if len(tt.days) == 0 && got.LastPracticeDate != nil {
				t.Errorf("LastPracticeDate = %v, want nil", got.LastPracticeDate)
			}
		})
	}
}

func TestComputeUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	rec := model.NewAttemptRecord("u")
	// 20:00 UTC on Mar 10 is Mar 11 in UTC+10; 02:00 UTC on Mar 11 is also Mar 11 there.
	rec.Responses["A"] = []model.Attempt{
		{Timestamp: time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)},
		{Timestamp: time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)},
	}
	now := time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC)

	if got := Compute(rec, now, time.UTC); got.Best != 2 {
		t.Errorf("UTC Best = %d, want 2", got.Best)
	}
	got := Compute(rec, now, loc)
	if got.Best != 1 || got.Current != 1 {
		t.Errorf("UTC+10 = %+v, want best 1 current 1", got)
	}
	if got.LastPracticeLabel() != "Mar 11" {
		t.Errorf("LastPracticeLabel() = %q, want Mar 11", got.LastPracticeLabel())
	}
}

func TestApplyAndLabel(t *testing.T) {
	if got := (Result{}).LastPracticeLabel(); got != "Never" {
		t.Errorf("LastPracticeLabel() = %q, want Never", got)
	}
	rec := recordOn(0, 1)
	res := Compute(rec, day0.AddDate(0, 0, 1), time.UTC)
	res.Apply(rec)
	if rec.CurrentStreak != 2 || rec.BestStreak != 2 || rec.LastPracticeDate == nil {
		t.Errorf("Apply() left record %+v", rec)
	}
}
