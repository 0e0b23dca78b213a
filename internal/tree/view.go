package tree

import (
	"errors"
	"strings"

	"github.com/brainbank/osce/internal/label"
)

// NodeType is the UI kind of a ViewNode.
type NodeType string

const (
	TypeTopic       NodeType = "topic"
	TypeCategory    NodeType = "category"
	TypeSubCategory NodeType = "subCategory"
	TypeCase        NodeType = "caseName"
	TypeFreeTopic   NodeType = "freeTopic"
	TypeFreeSection NodeType = "freeCasesSection"
)

const (
	// FreeSectionID is the id of the free section and the prefix of its
	// topic and category ids.
	FreeSectionID = "FreeCases"

	freeSectionTitle = "Free Cases"
	caseIDPrefix     = "caseName:"
)

var (
	// ErrNotFound is returned when a selected id names no node.
	ErrNotFound = errors.New("tree node not found")
	// ErrTopicLocked is returned when expanding a topic the user is not entitled to.
	ErrTopicLocked = errors.New("topic locked")
)

// ViewNode is one UI-ready tree node. Locked is only set on topics and
// locked topics never carry children.
type ViewNode struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        NodeType   `json:"type"`
	Locked      *bool      `json:"locked,omitempty"`
	Children    []ViewNode `json:"children,omitempty"`
	CaseUID     string     `json:"caseUID,omitempty"`
	HasResponse bool       `json:"hasResponse,omitempty"`
	IsNew       bool       `json:"isNew,omitempty"`
	Synonyms    []string   `json:"synonyms,omitempty"`
}

// CaseID returns the case name of a leaf id, or false for other ids.
func CaseID(id string) (string, bool) {
	return strings.CutPrefix(id, caseIDPrefix)
}

// AttemptChecker answers whether the user already attempted a case.
// *model.AttemptRecord satisfies it.
type AttemptChecker interface {
	HasAttempt(caseName string) bool
}

// Projector renders a Structure for one user.
type Projector struct {
	attempts AttemptChecker
	unlocked func(topic string) bool
}

// NewProjector returns a Projector. A nil attempts checker marks no case
// as attempted; a nil unlocked func unlocks every topic.
func NewProjector(attempts AttemptChecker, unlocked func(topic string) bool) *Projector {
	return &Projector{attempts: attempts, unlocked: unlocked}
}

func (p *Projector) isUnlocked(topic string) bool {
	return p.unlocked == nil || p.unlocked(topic)
}

func (p *Projector) hasAttempt(caseName string) bool {
	return p.attempts != nil && p.attempts.HasAttempt(caseName)
}

// Project returns the children of topic t with ids under prefix.
// Direct cases come first, then categories in first-seen order.
func (p *Projector) Project(prefix string, t *TopicNode) []ViewNode {
	if t == nil {
		return nil
	}
	out := p.leaves(t.Cases)
	for _, c := range t.Categories {
		out = append(out, p.category(prefix, c))
	}
	return out
}

func (p *Projector) category(prefix string, c *CategoryNode) ViewNode {
	id := prefix + ":" + c.Name
	node := ViewNode{
		ID:       id,
		Name:     label.Sentence(c.Name),
		Type:     TypeCategory,
		Children: p.leaves(c.Cases),
	}
	for _, sc := range c.SubCategories {
		node.Children = append(node.Children, ViewNode{
			ID:       id + ":" + sc.Name,
			Name:     label.Sentence(sc.Name),
			Type:     TypeSubCategory,
			Children: p.leaves(sc.Cases),
		})
	}
	return node
}

func (p *Projector) leaves(entries []CaseEntry) []ViewNode {
	if len(entries) == 0 {
		return nil
	}
	out := make([]ViewNode, 0, len(entries))
	for _, e := range entries {
		out = append(out, ViewNode{
			ID:          caseIDPrefix + e.CaseName,
			Name:        label.Sentence(e.CaseName),
			Type:        TypeCase,
			CaseUID:     e.CaseUID,
			HasResponse: p.hasAttempt(e.CaseName),
			IsNew:       e.IsNew,
			Synonyms:    e.Synonyms,
		})
	}
	return out
}

// Topics returns the top-level topic nodes of s. With expand set, unlocked
// topics carry their children; otherwise children are left for Expand.
func (p *Projector) Topics(s *Structure, expand bool) []ViewNode {
	if s == nil {
		return nil
	}
	out := make([]ViewNode, 0, len(s.Topics))
	for _, t := range s.Topics {
		locked := !p.isUnlocked(t.Name)
		node := ViewNode{
			ID:     t.Name,
			Name:   label.Sentence(t.Name),
			Type:   TypeTopic,
			Locked: &locked,
		}
		if expand && !locked {
			node.Children = p.Project(t.Name, t)
		}
		out = append(out, node)
	}
	return out
}

// FreeSection returns the "Free Cases" section built from the free-case
// structure, or nil when there are no free cases. Its ids live under the
// FreeCases: namespace so they never collide with the regular topics.
func (p *Projector) FreeSection(free *Structure) *ViewNode {
	if free.Len() == 0 {
		return nil
	}
	unlocked := false
	section := ViewNode{
		ID:     FreeSectionID,
		Name:   freeSectionTitle,
		Type:   TypeFreeSection,
		Locked: &unlocked,
	}
	for _, t := range free.Topics {
		prefix := FreeSectionID + ":" + t.Name
		section.Children = append(section.Children, ViewNode{
			ID:       prefix,
			Name:     label.Sentence(t.Name),
			Type:     TypeFreeTopic,
			Children: p.Project(prefix, t),
		})
	}
	return &section
}

// Full returns the complete tree: the free section (when any) followed by
// every topic of all.
func (p *Projector) Full(all, free *Structure) []ViewNode {
	var out []ViewNode
	if section := p.FreeSection(free); section != nil {
		out = append(out, *section)
	}
	return append(out, p.Topics(all, true)...)
}

// Expand re-projects only the subtree named by selectedID, which is a
// topic id ("Topic"), a category id ("Topic:Category"), a sub-category id,
// or any of those under the FreeCases: namespace. A topic id yields the
// topic's children; deeper ids yield the single matching node.
func (p *Projector) Expand(all, free *Structure, selectedID string) ([]ViewNode, error) {
	src, rest, isFree := all, selectedID, false
	if after, ok := strings.CutPrefix(selectedID, FreeSectionID+":"); ok {
		src, rest, isFree = free, after, true
	}
	topicName, categoryName, hasCategory := strings.Cut(rest, ":")

	t := src.Topic(topicName)
	if t == nil {
		return nil, ErrNotFound
	}
	if !isFree && !p.isUnlocked(topicName) {
		return nil, ErrTopicLocked
	}

	prefix := topicName
	if isFree {
		prefix = FreeSectionID + ":" + topicName
	}
	if !hasCategory {
		return p.Project(prefix, t), nil
	}
	categoryName, subName, hasSub := strings.Cut(categoryName, ":")
	c := t.Category(categoryName)
	if c == nil {
		return nil, ErrNotFound
	}
	node := p.category(prefix, c)
	if !hasSub {
		return []ViewNode{node}, nil
	}
	for _, child := range node.Children {
		if child.Type == TypeSubCategory && child.ID == node.ID+":"+subName {
			return []ViewNode{child}, nil
		}
	}
	return nil, ErrNotFound
}
