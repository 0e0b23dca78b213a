package tree

import (
	"errors"
	"reflect"
	"testing"

	"github.com/brainbank/osce/internal/model"
)

func rec(topic, category, sub, name string) model.CaseRecord {
	return model.CaseRecord{Topic: topic, Category: category, SubCategory: sub, CaseName: name, CaseUID: "uid-" + name}
}

type attempted map[string]bool

func (a attempted) HasAttempt(caseName string) bool { return a[caseName] }

func TestClassify(t *testing.T) {
	tests := []struct {
		name                 string
		topic, category, sub string
		want                 Placement
	}{
		{"redundant", "Cardiology", "Cardiology", "Cardiology", PlacementTopic},
		{"category equals sub", "Medicine", "Chest", "Chest", PlacementCategory},
		{"full nesting", "Medicine", "Chest", "Pain", PlacementSubCategory},
		{"topic equals category only", "Medicine", "Medicine", "Pain", PlacementSubCategory},
		{"all empty", "", "", "", PlacementTopic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.topic, tt.category, tt.sub); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildKeepsEveryRecord(t *testing.T) {
	cases := []model.CaseRecord{
		rec("Cardiology", "Cardiology", "Cardiology", "ChestPain"),
		rec("Medicine", "Chest", "Chest", "Cough"),
		rec("Medicine", "Chest", "Infection", "Pneumonia"),
		rec("Medicine", "Medicine", "Medicine", "Fatigue"),
		rec("Medicine", "Abdomen", "Liver", "Jaundice"),
		rec("", "", "", "Orphan"),
	}
	s := Build(cases)

	if s.Len() != len(cases) {
		t.Fatalf("Len() = %d, want %d", s.Len(), len(cases))
	}

	seen := map[string]int{}
	for _, topic := range s.Topics {
		for _, e := range topic.Entries() {
			seen[e.CaseName]++
		}
	}
	for _, c := range cases {
		if seen[c.CaseName] != 1 {
			t.Errorf("case %q appears %d times, want 1", c.CaseName, seen[c.CaseName])
		}
		path := s.FindPath(c.CaseName)
		if path == nil {
			t.Errorf("FindPath(%q) = nil", c.CaseName)
			continue
		}
		if path[0] != c.Topic || path[3] != c.CaseName {
			t.Errorf("FindPath(%q) = %v", c.CaseName, path)
		}
	}

	// First-seen topic order.
	var names []string
	for _, topic := range s.Topics {
		names = append(names, topic.Name)
	}
	if want := []string{"Cardiology", "Medicine", ""}; !reflect.DeepEqual(names, want) {
		t.Errorf("topic order = %v, want %v", names, want)
	}

	med := s.Topic("Medicine")
	if len(med.Cases) != 1 || med.Cases[0].CaseName != "Fatigue" {
		t.Errorf("Medicine direct cases = %+v, want [Fatigue]", med.Cases)
	}
	chest := med.Category("Chest")
	if chest == nil || len(chest.Cases) != 1 || len(chest.SubCategories) != 1 {
		t.Fatalf("Chest category = %+v", chest)
	}
	if chest.SubCategory("Infection").Cases[0].CaseName != "Pneumonia" {
		t.Errorf("Chest:Infection = %+v", chest.SubCategory("Infection"))
	}
}

func TestFindPath(t *testing.T) {
	s := Build([]model.CaseRecord{
		rec("Cardiology", "Cardiology", "Cardiology", "ChestPain"),
		rec("Medicine", "Chest", "Chest", "Cough"),
		rec("Medicine", "Abdomen", "Liver", "Jaundice"),
	})
	tests := []struct {
		caseName string
		want     []string
	}{
		{"ChestPain", []string{"Cardiology", "Cardiology", "Cardiology", "ChestPain"}},
		{"Cough", []string{"Medicine", "Chest", "Chest", "Cough"}},
		{"Jaundice", []string{"Medicine", "Abdomen", "Liver", "Jaundice"}},
		{"Missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.caseName, func(t *testing.T) {
			if got := s.FindPath(tt.caseName); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindPath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProjectRedundantTopic(t *testing.T) {
	s := Build([]model.CaseRecord{rec("Cardiology", "Cardiology", "Cardiology", "ChestPain")})
	p := NewProjector(nil, nil)

	nodes := p.Topics(s, true)
	if len(nodes) != 1 {
		t.Fatalf("Topics() returned %d nodes, want 1", len(nodes))
	}
	topic := nodes[0]
	if topic.Type != TypeTopic || topic.Locked == nil || *topic.Locked {
		t.Errorf("topic node = %+v, want unlocked topic", topic)
	}
	if len(topic.Children) != 1 {
		t.Fatalf("topic children = %d, want 1", len(topic.Children))
	}
	leaf := topic.Children[0]
	if leaf.ID != "caseName:ChestPain" || leaf.Name != "Chest pain" || leaf.Type != TypeCase {
		t.Errorf("leaf = %+v", leaf)
	}
	if leaf.Children != nil {
		t.Errorf("leaf has children: %+v", leaf.Children)
	}
}

func TestProjectNesting(t *testing.T) {
	s := Build([]model.CaseRecord{
		rec("Medicine", "Chest", "Chest", "Cough"),
		rec("Medicine", "Chest", "Infection", "Pneumonia"),
	})
	p := NewProjector(attempted{"Pneumonia": true}, nil)

	got := p.Project("Medicine", s.Topic("Medicine"))
	if len(got) != 1 {
		t.Fatalf("Project() = %d nodes, want 1", len(got))
	}
	cat := got[0]
	if cat.ID != "Medicine:Chest" || cat.Type != TypeCategory {
		t.Errorf("category = %+v", cat)
	}
	if len(cat.Children) != 2 {
		t.Fatalf("category children = %d, want 2", len(cat.Children))
	}
	if cat.Children[0].ID != "caseName:Cough" || cat.Children[0].HasResponse {
		t.Errorf("first child = %+v", cat.Children[0])
	}
	sub := cat.Children[1]
	if sub.ID != "Medicine:Chest:Infection" || sub.Type != TypeSubCategory {
		t.Errorf("sub-category = %+v", sub)
	}
	if !sub.Children[0].HasResponse {
		t.Errorf("Pneumonia should be marked as attempted")
	}
}

func TestLockedTopicsHaveNoChildren(t *testing.T) {
	s := Build([]model.CaseRecord{
		rec("Teaching", "Teaching", "Teaching", "Lecture"),
		rec("Counseling", "Counseling", "Counseling", "Smoking"),
	})
	p := NewProjector(nil, func(topic string) bool { return topic == "Teaching" })

	for _, n := range p.Topics(s, true) {
		switch n.ID {
		case "Teaching":
			if *n.Locked || len(n.Children) != 1 {
				t.Errorf("Teaching = %+v, want unlocked with 1 child", n)
			}
		case "Counseling":
			if !*n.Locked || n.Children != nil {
				t.Errorf("Counseling = %+v, want locked without children", n)
			}
		}
	}
}

func TestFreeSectionNamespace(t *testing.T) {
	cases := []model.CaseRecord{
		rec("Medicine", "Chest", "Chest", "Cough"),
		rec("Medicine", "Chest", "Chest", "Wheeze"),
	}
	free := cases[:1]
	all := Build(cases)
	freeS := Build(free)
	p := NewProjector(nil, func(string) bool { return false })

	full := p.Full(all, freeS)
	if len(full) != 2 {
		t.Fatalf("Full() = %d nodes, want 2", len(full))
	}
	section := full[0]
	if section.ID != FreeSectionID || section.Type != TypeFreeSection || *section.Locked {
		t.Errorf("section = %+v", section)
	}
	freeTopic := section.Children[0]
	if freeTopic.ID != "FreeCases:Medicine" || freeTopic.Type != TypeFreeTopic {
		t.Errorf("free topic = %+v", freeTopic)
	}
	if freeTopic.Children[0].ID != "FreeCases:Medicine:Chest" {
		t.Errorf("free category id = %q", freeTopic.Children[0].ID)
	}
	if full[1].ID != "Medicine" || !*full[1].Locked {
		t.Errorf("regular topic = %+v, want locked Medicine", full[1])
	}

	if p.FreeSection(Build(nil)) != nil {
		t.Error("FreeSection() of empty structure should be nil")
	}
}

func TestExpand(t *testing.T) {
	cases := []model.CaseRecord{
		rec("Medicine", "Chest", "Chest", "Cough"),
		rec("Medicine", "Chest", "Infection", "Pneumonia"),
		rec("Medicine", "Abdomen", "Abdomen", "Jaundice"),
		rec("Teaching", "Teaching", "Teaching", "Lecture"),
	}
	all := Build(cases)
	free := Build(cases[3:])
	p := NewProjector(nil, func(topic string) bool { return topic == "Medicine" })

	tests := []struct {
		name    string
		id      string
		wantIDs []string
		wantErr error
	}{
		{"topic", "Medicine", []string{"Medicine:Chest", "Medicine:Abdomen"}, nil},
		{"category", "Medicine:Chest", []string{"Medicine:Chest"}, nil},
		{"sub-category", "Medicine:Chest:Infection", []string{"Medicine:Chest:Infection"}, nil},
		{"locked topic", "Teaching", nil, ErrTopicLocked},
		{"free topic ignores lock", "FreeCases:Teaching", []string{"caseName:Lecture"}, nil},
		{"unknown topic", "Surgery", nil, ErrNotFound},
		{"unknown category", "Medicine:Bones", nil, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Expand(all, free, tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expand(%q) error = %v, want %v", tt.id, err, tt.wantErr)
			}
			var ids []string
			for _, n := range got {
				ids = append(ids, n.ID)
			}
			if !reflect.DeepEqual(ids, tt.wantIDs) {
				t.Errorf("Expand(%q) ids = %v, want %v", tt.id, ids, tt.wantIDs)
			}
		})
	}
}

func TestCaseID(t *testing.T) {
	if name, ok := CaseID("caseName:ChestPain"); !ok || name != "ChestPain" {
		t.Errorf("CaseID() = %q, %v", name, ok)
	}
	if _, ok := CaseID("Medicine:Chest"); ok {
		t.Error("CaseID() accepted a category id")
	}
}
