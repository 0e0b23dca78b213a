// Package entitlement maps subscription plans to the topics they unlock
// and decides whether a user may open a case.
package entitlement

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/brainbank/osce/internal/model"
)

// FreePlan is the plan every guest and non-subscriber falls back to.
const FreePlan = "Free"

//go:embed plans.yaml
var defaultPlans []byte

// TopicSet is a set of topic identifiers.
type TopicSet map[string]struct{}

// NewTopicSet returns a set holding topics.
func NewTopicSet(topics ...string) TopicSet {
	s := make(TopicSet, len(topics))
	for _, t := range topics {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether topic is in the set.
func (s TopicSet) Has(topic string) bool {
	_, ok := s[topic]
	return ok
}

// Sorted returns the topics in lexical order.
func (s TopicSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Table is the authoritative plan-to-topics mapping.
type Table struct {
	plans map[string][]string
}

type tableFile struct {
	Plans map[string][]string `yaml:"plans"`
}

// ParseTable decodes a plans YAML document.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	if f.Plans == nil {
		return nil, fmt.Errorf("parse plans: no plans defined")
	}
	if _, ok := f.Plans[FreePlan]; !ok {
		f.Plans[FreePlan] = nil
	}
	return &Table{plans: f.Plans}, nil
}

// DefaultTable returns the embedded plan table.
func DefaultTable() *Table {
	t, err := ParseTable(defaultPlans)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTable reads a plan table from path, or returns the embedded table
// when path is empty.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans %s: %w", path, err)
	}
	return ParseTable(data)
}

// Known reports whether plan is defined in the table.
func (t *Table) Known(plan string) bool {
	_, ok := t.plans[plan]
	return ok
}

// AllowedTopics returns the union of the topics of every known plan in
// planNames. Unknown plans are ignored; when none remain the Free plan's
// topics are used.
func (t *Table) AllowedTopics(planNames []string) TopicSet {
	var valid []string
	for _, p := range planNames {
		if t.Known(p) {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		valid = []string{FreePlan}
	}
	set := TopicSet{}
	for _, p := range valid {
		for _, topic := range t.plans[p] {
			set[topic] = struct{}{}
		}
	}
	return set
}

// CanAccessCase reports whether a case may be opened with the allowed
// topics: either its topic is unlocked or it is flagged free.
func CanAccessCase(c model.CaseRecord, allowed TopicSet) bool {
	return c.IsFreeCase || allowed.Has(c.Topic)
}
