// Package streak computes consecutive-day practice streaks.
package streak

import (
	"sort"
	"time"

	"github.com/brainbank/osce/internal/model"
)

// Result holds the streaks derived from a user's attempts.
type Result struct {
	Current          int        `json:"currentStreak"`
	Best             int        `json:"bestStreak"`
	LastPracticeDate *time.Time `json:"lastPracticeDate"`
}

// LastPracticeLabel renders the last practice date as "Jan 2", or "Never".
func (r Result) LastPracticeLabel() string {
	if r.LastPracticeDate == nil {
		return "Never"
	}
	return r.LastPracticeDate.Format("Jan 2")
}

// Apply overwrites the streak fields of rec with r.
func (r Result) Apply(rec *model.AttemptRecord) {
	rec.CurrentStreak = r.Current
	rec.BestStreak = r.Best
	rec.LastPracticeDate = r.LastPracticeDate
}

// Compute derives the streaks from the distinct calendar days, in loc, on
// which rec has an attempt. The current streak is non-zero only when the
// last practice day is today or yesterday relative to now.
func Compute(rec *model.AttemptRecord, now time.Time, loc *time.Location) Result {
	if loc == nil {
		loc = time.Local
	}
	days := distinctDays(rec.AllAttempts(), loc)
	if len(days) == 0 {
		return Result{}
	}

	var res Result
	run := 0
	for i, d := range days {
		if i > 0 && d-days[i-1] == 1 {
			run++
		} else {
			run = 1
		}
		res.Best = max(res.Best, run)
	}

	last := days[len(days)-1]
	lastDate := fromDay(last, loc)
	res.LastPracticeDate = &lastDate

	if diff := dayNumber(now, loc) - last; diff == 0 || diff == 1 || diff == -1 {
		res.Current = 1
		for i := len(days) - 2; i >= 0 && days[i+1]-days[i] == 1; i-- {
			res.Current++
		}
	}
	return res
}

func distinctDays(attempts []model.Attempt, loc *time.Location) []int64 {
	seen := map[int64]bool{}
	var days []int64
	for _, a := range attempts {
		if a.Timestamp.IsZero() {
			continue
		}
		d := dayNumber(a.Timestamp, loc)
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// dayNumber counts civil days since the Unix epoch for t's date in loc, so
// daylight-saving shifts never skew day differences.
func dayNumber(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func fromDay(day int64, loc *time.Location) time.Time {
	u := time.Unix(day*86400, 0).UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, loc)
}
