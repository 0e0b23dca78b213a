// Package tree folds the flat case bank into the topic, category and
// sub-category hierarchy and projects it into UI node lists.
package tree

import "github.com/brainbank/osce/internal/model"

// Placement says at which level a case attaches.
type Placement int

const (
	// PlacementTopic attaches the case directly under its topic
	// (topic, category and sub-category are all equal).
	PlacementTopic Placement = iota
	// PlacementCategory attaches under topic.category
	// (category equals sub-category).
	PlacementCategory
	// PlacementSubCategory uses the full three-level nesting.
	PlacementSubCategory
)

func (p Placement) String() string {
	switch p {
	case PlacementTopic:
		return "topic"
	case PlacementCategory:
		return "category"
	default:
		return "subCategory"
	}
}

// Classify decides where a case with the given hierarchy keys attaches.
func Classify(topic, category, subCategory string) Placement {
	switch {
	case topic == category && category == subCategory:
		return PlacementTopic
	case category == subCategory:
		return PlacementCategory
	default:
		return PlacementSubCategory
	}
}

// CaseEntry is a leaf of the tree.
type CaseEntry struct {
	CaseName string
	CaseUID  string
	Synonyms []string
	IsNew    bool
	IsFree   bool
}

func entryFor(c model.CaseRecord) CaseEntry {
	return CaseEntry{
		CaseName: c.CaseName,
		CaseUID:  c.CaseUID,
		Synonyms: c.Synonyms,
		IsNew:    c.IsNewCase,
		IsFree:   c.IsFreeCase,
	}
}

// SubCategoryNode is the deepest grouping level.
type SubCategoryNode struct {
	Name  string
	Cases []CaseEntry
}

// CategoryNode holds cases placed at category level and any sub-categories.
type CategoryNode struct {
	Name          string
	Cases         []CaseEntry
	SubCategories []*SubCategoryNode

	subIndex map[string]*SubCategoryNode
}

// SubCategory returns the named sub-category or nil.
func (c *CategoryNode) SubCategory(name string) *SubCategoryNode {
	return c.subIndex[name]
}

func (c *CategoryNode) subCategory(name string) *SubCategoryNode {
	if s, ok := c.subIndex[name]; ok {
		return s
	}
	s := &SubCategoryNode{Name: name}
	c.subIndex[name] = s
	c.SubCategories = append(c.SubCategories, s)
	return s
}

// TopicNode is a top-level subject. It may carry both direct cases and
// categories when records under one topic use mixed placements.
type TopicNode struct {
	Name       string
	Cases      []CaseEntry
	Categories []*CategoryNode

	catIndex map[string]*CategoryNode
}

// Category returns the named category or nil.
func (t *TopicNode) Category(name string) *CategoryNode {
	return t.catIndex[name]
}

func (t *TopicNode) category(name string) *CategoryNode {
	if c, ok := t.catIndex[name]; ok {
		return c
	}
	c := &CategoryNode{Name: name, subIndex: map[string]*SubCategoryNode{}}
	t.catIndex[name] = c
	t.Categories = append(t.Categories, c)
	return c
}

// Structure is the folded case bank. Topics keep first-seen order.
type Structure struct {
	Topics []*TopicNode

	topicIndex map[string]*TopicNode
	paths      map[string][]string
	size       int
}

// Build folds cases into a Structure. Every record lands exactly once;
// records with empty keys are kept under the empty name.
func Build(cases []model.CaseRecord) *Structure {
	s := &Structure{
		topicIndex: map[string]*TopicNode{},
		paths:      map[string][]string{},
	}
	for _, c := range cases {
		s.add(c)
	}
	return s
}

func (s *Structure) add(c model.CaseRecord) {
	t := s.topic(c.Topic)
	e := entryFor(c)
	switch Classify(c.Topic, c.Category, c.SubCategory) {
	case PlacementTopic:
		t.Cases = append(t.Cases, e)
		s.paths[c.CaseName] = []string{c.Topic, c.Topic, c.Topic, c.CaseName}
	case PlacementCategory:
		cat := t.category(c.Category)
		cat.Cases = append(cat.Cases, e)
		s.paths[c.CaseName] = []string{c.Topic, c.Category, c.Category, c.CaseName}
	case PlacementSubCategory:
		sub := t.category(c.Category).subCategory(c.SubCategory)
		sub.Cases = append(sub.Cases, e)
		s.paths[c.CaseName] = []string{c.Topic, c.Category, c.SubCategory, c.CaseName}
	}
	s.size++
}

func (s *Structure) topic(name string) *TopicNode {
	if t, ok := s.topicIndex[name]; ok {
		return t
	}
	t := &TopicNode{Name: name, catIndex: map[string]*CategoryNode{}}
	s.topicIndex[name] = t
	s.Topics = append(s.Topics, t)
	return t
}

// Topic returns the named topic or nil.
func (s *Structure) Topic(name string) *TopicNode {
	if s == nil {
		return nil
	}
	return s.topicIndex[name]
}

// Len is the number of cases folded into s.
func (s *Structure) Len() int {
	if s == nil {
		return 0
	}
	return s.size
}

// FindPath returns the highlight path of caseName as
// [topic, category, subCategory, caseName], repeating the parent name for
// collapsed levels. It returns nil when the case is not in s.
func (s *Structure) FindPath(caseName string) []string {
	if s == nil {
		return nil
	}
	p, ok := s.paths[caseName]
	if !ok {
		return nil
	}
	out := make([]string, len(p))
	copy(out, p)
	return out
}

// Entries returns every case entry of the topic in tree order.
func (t *TopicNode) Entries() []CaseEntry {
	out := append([]CaseEntry(nil), t.Cases...)
	for _, c := range t.Categories {
		out = append(out, c.Cases...)
		for _, sc := range c.SubCategories {
			out = append(out, sc.Cases...)
		}
	}
	return out
}
