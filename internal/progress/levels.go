package progress

import (
	"github.com/brainbank/osce/internal/label"
	"github.com/brainbank/osce/internal/model"
)

// Level is one grouping level of the case hierarchy.
type Level string

const (
	LevelTopic       Level = "topic"
	LevelCategory    Level = "category"
	LevelSubCategory Level = "subcategory"
)

// Levels lists the grouping levels from outermost to innermost.
var Levels = []Level{LevelTopic, LevelCategory, LevelSubCategory}

func levelValue(c model.CaseRecord, l Level) string {
	switch l {
	case LevelTopic:
		return c.Topic
	case LevelCategory:
		return c.Category
	default:
		return c.SubCategory
	}
}

// Community holds, per level and display name, the average number of
// completed cases per user across the whole user base.
type Community map[Level]map[string]float64

// Average returns the community value for a bucket, 0 when unknown.
func (c Community) Average(l Level, name string) float64 {
	if c == nil {
		return 0
	}
	return c[l][name]
}

// ComputeCommunity scans every attempt record and divides, per bucket,
// the number of completed cases across all users by the user count.
// Responses for case names not in cases are ignored.
func ComputeCommunity(records []*model.AttemptRecord, cases []model.CaseRecord) Community {
	out := Community{}
	for _, l := range Levels {
		out[l] = map[string]float64{}
	}
	if len(records) == 0 {
		return out
	}

	byName := make(map[string]model.CaseRecord, len(cases))
	for _, c := range cases {
		byName[c.CaseName] = c
	}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		for caseName, attempts := range rec.Responses {
			c, ok := byName[caseName]
			if !ok || len(attempts) == 0 {
				continue
			}
			for _, l := range Levels {
				if v := levelValue(c, l); v != "" {
					out[l][label.Sentence(v)]++
				}
			}
		}
	}

	users := float64(len(records))
	for _, l := range Levels {
		for name, completed := range out[l] {
			out[l][name] = round2(completed / users)
		}
	}
	return out
}

// LevelProgress is the completion chart data for one level. Slices are
// parallel to Labels.
type LevelProgress struct {
	Labels            []string                  `json:"labels"`
	TotalCases        []int                     `json:"totalCases"`
	CompletedCases    []int                     `json:"completedCases"`
	CommunityAverages []float64                 `json:"communityAverages"`
	TopicMapping      map[int]string            `json:"topicMapping,omitempty"`
	DomainScores      map[string]DomainAverages `json:"domainScores"`
}

// Progress maps each level to its chart data.
type Progress map[Level]*LevelProgress

// Progress counts total and completed cases per bucket at every level.
// Domain scores average the latest attempt of each completed case.
// A nil community yields zero community averages.
func (g *Aggregator) Progress(rec *model.AttemptRecord, cases []model.CaseRecord, community Community) Progress {
	type bucket struct {
		total, completed int
		sum              DomainAverages
		topic            string
	}

	out := Progress{}
	for _, l := range Levels {
		var order []string
		buckets := map[string]*bucket{}
		for _, c := range cases {
			v := levelValue(c, l)
			if v == "" {
				continue
			}
			name := label.Sentence(v)
			b, ok := buckets[name]
			if !ok {
				b = &bucket{topic: label.Sentence(c.Topic)}
				buckets[name] = b
				order = append(order, name)
			}
			b.total++
			if latest, ok := model.Latest(rec.Attempts(c.CaseName)); ok {
				b.completed++
				b.sum.add(latest)
			}
		}

		lp := &LevelProgress{
			Labels:            []string{},
			TotalCases:        []int{},
			CompletedCases:    []int{},
			CommunityAverages: []float64{},
			DomainScores:      map[string]DomainAverages{},
		}
		if l != LevelTopic {
			lp.TopicMapping = map[int]string{}
		}
		for i, name := range order {
			b := buckets[name]
			lp.Labels = append(lp.Labels, name)
			lp.TotalCases = append(lp.TotalCases, b.total)
			lp.CompletedCases = append(lp.CompletedCases, b.completed)
			lp.CommunityAverages = append(lp.CommunityAverages, community.Average(l, name))
			lp.DomainScores[name] = b.sum.div(b.completed)
			if lp.TopicMapping != nil {
				lp.TopicMapping[i] = b.topic
			}
		}
		out[l] = lp
	}
	return out
}
