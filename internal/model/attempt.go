package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ScoreEncoding identifies which per-item array a DomainScore carries.
type ScoreEncoding int

const (
	// EncodingAbsent means no per-item data was stored.
	EncodingAbsent ScoreEncoding = iota
	// EncodingTriState is the current 0 / 0.5 / 1 scoreArray encoding.
	EncodingTriState
	// EncodingBoolean is the legacy covered/not-covered booleanArray.
	EncodingBoolean
)

func (e ScoreEncoding) String() string {
	switch e {
	case EncodingTriState:
		return "scoreArray"
	case EncodingBoolean:
		return "booleanArray"
	default:
		return "absent"
	}
}

// Score is a decimal score kept in its stored string form. It decodes from
// either a JSON string or a JSON number and always encodes as a string.
type Score string

// UnmarshalJSON accepts "2.50", 2.5 and null.
func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Score(str)
		return nil
	}
	*s = Score(data)
	return nil
}

// Value parses the score. Missing or unparseable scores are 0.
func (s Score) Value() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatScore renders v with two decimals, the stored form of scores.
func FormatScore(v float64) Score {
	return Score(strconv.FormatFloat(v, 'f', 2, 64))
}

// DomainScore is one domain's result within an attempt.
type DomainScore struct {
	Score        Score     `json:"score"`
	ScoreArray   []float64 `json:"scoreArray,omitempty"`
	BooleanArray []bool    `json:"booleanArray,omitempty"`
	Remarks      string    `json:"remarks,omitempty"`
}

// Value returns the parsed score; a nil DomainScore scores 0.
func (d *DomainScore) Value() float64 {
	if d == nil {
		return 0
	}
	return d.Score.Value()
}

// Encoding reports which per-item representation d carries. A scoreArray
// wins when both are present since new writes always use it.
func (d *DomainScore) Encoding() ScoreEncoding {
	switch {
	case d == nil:
		return EncodingAbsent
	case d.ScoreArray != nil:
		return EncodingTriState
	case d.BooleanArray != nil:
		return EncodingBoolean
	default:
		return EncodingAbsent
	}
}

// Attempt is one timestamped scoring of a user against a case.
type Attempt struct {
	ID                  string       `json:"id,omitempty"`
	Timestamp           time.Time    `json:"timestamp"`
	DataGathering       *DomainScore `json:"dataGathering,omitempty"`
	Management          *DomainScore `json:"management,omitempty"`
	InterpersonalSkills *DomainScore `json:"interpersonalSkills,omitempty"`
	AI                  bool         `json:"AI,omitempty"`
	ChecklistHash       string       `json:"checklistHash,omitempty"`
}

// UnmarshalJSON tolerates unparseable timestamps and the isAIGenerated alias.
func (a *Attempt) UnmarshalJSON(data []byte) error {
	type plain Attempt
	aux := struct {
		*plain
		Timestamp     json.RawMessage `json:"timestamp"`
		IsAIGenerated *bool           `json:"isAIGenerated"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.Timestamp = parseTimestamp(aux.Timestamp)
	if aux.IsAIGenerated != nil && *aux.IsAIGenerated {
		a.AI = true
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) time.Time {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Some legacy rows carry epoch milliseconds.
		var ms int64
		if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Domain returns the score for d, or nil when the attempt has none.
func (a Attempt) Domain(d Domain) *DomainScore {
	switch d {
	case DataGathering:
		return a.DataGathering
	case Management:
		return a.Management
	case InterpersonalSkills:
		return a.InterpersonalSkills
	}
	return nil
}

// SetDomain stores s under domain d.
func (a *Attempt) SetDomain(d Domain, s *DomainScore) {
	switch d {
	case DataGathering:
		a.DataGathering = s
	case Management:
		a.Management = s
	case InterpersonalSkills:
		a.InterpersonalSkills = s
	}
}

// Total is the sum of the three domain scores (out of 12).
func (a Attempt) Total() float64 {
	return a.DataGathering.Value() + a.Management.Value() + a.InterpersonalSkills.Value()
}

// SortAttempts orders attempts by timestamp, oldest first. Storage does
// not guarantee insertion order so callers sort before reading.
func SortAttempts(attempts []Attempt) []Attempt {
	out := make([]Attempt, len(attempts))
	copy(out, attempts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Latest returns the most recent attempt, or false when there is none.
func Latest(attempts []Attempt) (Attempt, bool) {
	if len(attempts) == 0 {
		return Attempt{}, false
	}
	sorted := SortAttempts(attempts)
	return sorted[len(sorted)-1], true
}

// Feedback is a learner's rating of a case session.
type Feedback struct {
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	Timestamp time.Time `json:"timestamp"`
}

// AttemptRecord is the per-user document of attempts and practice state.
type AttemptRecord struct {
	UserID           string                       `json:"userID"`
	Responses        map[string][]Attempt         `json:"responses"`
	ExamDate         string                       `json:"examDate,omitempty"`
	CurrentStreak    int                          `json:"currentStreak"`
	BestStreak       int                          `json:"bestStreak"`
	LastPracticeDate *time.Time                   `json:"lastPracticeDate"`
	Feedback         map[string][]Feedback        `json:"feedback,omitempty"`
	ChatHistory      map[string]map[string]string `json:"chatHistory,omitempty"`
	LastUpdated      *time.Time                   `json:"lastUpdated,omitempty"`

	// Version is the optimistic concurrency token of the stored row.
	// Zero means the record has never been written.
	Version int64 `json:"-"`
}

// NewAttemptRecord returns the empty default record for a user.
func NewAttemptRecord(userID string) *AttemptRecord {
	return &AttemptRecord{UserID: userID, Responses: map[string][]Attempt{}}
}

// UnmarshalJSON accepts the userId alias.
func (r *AttemptRecord) UnmarshalJSON(data []byte) error {
	type plain AttemptRecord
	aux := struct {
		*plain
		UserIDAlias string `json:"userId"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("decode attempt record: %w", err)
	}
	if r.UserID == "" {
		r.UserID = aux.UserIDAlias
	}
	if r.Responses == nil {
		r.Responses = map[string][]Attempt{}
	}
	return nil
}

// HasAttempt reports whether the user has at least one attempt on caseName.
func (r *AttemptRecord) HasAttempt(caseName string) bool {
	return r != nil && len(r.Responses[caseName]) > 0
}

// Attempts returns the attempts for caseName sorted oldest first.
func (r *AttemptRecord) Attempts(caseName string) []Attempt {
	if r == nil {
		return nil
	}
	return SortAttempts(r.Responses[caseName])
}

// AllAttempts returns every attempt across all cases.
func (r *AttemptRecord) AllAttempts() []Attempt {
	if r == nil {
		return nil
	}
	var all []Attempt
	for _, list := range r.Responses {
		all = append(all, list...)
	}
	return all
}
