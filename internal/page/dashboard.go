package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/brainbank/osce/internal/assistant"
	"github.com/brainbank/osce/internal/channel"
	"github.com/brainbank/osce/internal/i18n"
	"github.com/brainbank/osce/internal/model"
	"github.com/brainbank/osce/internal/progress"
	"github.com/brainbank/osce/internal/streak"
)

const defaultDisplayName = "Doctor"

// dashboard shows a learner's progress, streak and exam countdown and
// relays questions to the performance coach.
type dashboard struct {
	*session

	mu    sync.Mutex
	cases []model.CaseRecord
}

func newDashboard(s *session) *dashboard {
	return &dashboard{session: s}
}

func (d *dashboard) Router() *channel.Router {
	r := channel.NewRouter()
	r.Handle("updatePerformance", d.updatePerformance)
	r.HandleAsync("aiChat", d.aiChat)
	r.Handle("getCurrentPlan", d.getCurrentPlan)
	r.Handle("saveExamDate", d.saveExamDate)
	return r
}

type welcome struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type streakUpdate struct {
	CurrentStreak int    `json:"currentStreak"`
	BestStreak    int    `json:"bestStreak"`
	LastPractice  string `json:"lastPractice"`
}

type caseMap struct {
	CaseStructure []model.CaseRecord   `json:"caseStructure"`
	UserResponses *model.AttemptRecord `json:"userResponses"`
}

type dashboardProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

type dashboardUpdate struct {
	Progress dashboardProgress       `json:"progress"`
	Domain   progress.DomainAverages `json:"domain"`
	OverTime progress.TimeSeries     `json:"overTime"`
	Topics   []progress.TopicScore   `json:"topics"`
}

// Start loads the record, the case bank and the community averages in
// parallel, recomputes and persists the streak, then pushes every widget.
func (d *dashboard) Start(ctx context.Context) error {
	if d.user == nil {
		return d.sendError(ctx, "NotLoggedIn")
	}
	name := d.user.DisplayName
	if name == "" {
		name = defaultDisplayName
	}
	if err := d.send("welcomeUser", welcome{Name: name, Message: i18n.Td(ctx, "WelcomeUser", map[string]any{"Name": name})}); err != nil {
		return err
	}

	var (
		rec       *model.AttemptRecord
		cases     []model.CaseRecord
		community progress.Community
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rec, err = d.record(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		cases, err = d.deps.Cases.Cases(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		community, err = d.deps.Cases.Community(gctx, d.deps.Records)
		return err
	})
	if err := g.Wait(); err != nil {
		return d.fail(ctx, "", fmt.Errorf("load dashboard: %w", err))
	}

	res := streak.Compute(rec, d.deps.now(), d.deps.location())
	if saved, err := d.deps.Attempts.SaveStreak(ctx, d.userID(), res); err != nil {
		slog.Error("failed to save streak", "user", d.userID(), "error", err)
		res.Apply(rec)
	} else {
		rec = saved
	}

	d.mu.Lock()
	d.cases = cases
	d.mu.Unlock()

	if err := d.send("updateStreak", streakUpdate{
		CurrentStreak: res.Current,
		BestStreak:    res.Best,
		LastPractice:  d.lastPracticeLabel(ctx, res),
	}); err != nil {
		return err
	}
	if rec.ExamDate != "" {
		if err := d.send("initializeExamDate", rec.ExamDate); err != nil {
			return err
		}
	}
	if err := d.send("initializeCaseMap", caseMap{CaseStructure: cases, UserResponses: rec}); err != nil {
		return err
	}
	if err := d.send("updateProgressChart", d.agg.Progress(rec, cases, community)); err != nil {
		return err
	}
	if err := d.send("updateProgressPerformance", d.agg.Widget(rec, cases)); err != nil {
		return err
	}
	perf := d.agg.Performance(rec, cases)
	if err := d.send("updateInDepthPerformance", perf); err != nil {
		return err
	}
	return d.send("updateDashboard", dashboardUpdate{
		Progress: dashboardProgress{Completed: perf.Summary.CasesCompleted, Total: len(cases)},
		Domain:   perf.Domain,
		OverTime: perf.OverTime.WithPlaceholder(),
		Topics:   perf.Topics,
	})
}

func (d *dashboard) lastPracticeLabel(ctx context.Context, res streak.Result) string {
	if res.LastPracticeDate == nil {
		return i18n.T(ctx, "Never")
	}
	return res.LastPracticeLabel()
}

// performance recomputes the learner's performance from the latest record.
func (d *dashboard) performance(ctx context.Context) (progress.Performance, error) {
	rec, err := d.record(ctx)
	if err != nil {
		return progress.Performance{}, err
	}
	d.mu.Lock()
	cases := d.cases
	d.mu.Unlock()
	return d.agg.Performance(rec, cases), nil
}

func (d *dashboard) updatePerformance(ctx context.Context, _ json.RawMessage) error {
	if d.user == nil {
		return d.sendError(ctx, "NotLoggedIn")
	}
	perf, err := d.performance(ctx)
	if err != nil {
		return d.fail(ctx, "", err)
	}
	return d.send("updateInDepthPerformance", perf)
}

func (d *dashboard) aiChat(ctx context.Context, data json.RawMessage) error {
	var question string
	if !decode("aiChat", data, &question) || question == "" {
		return nil
	}
	if d.user == nil {
		return d.send("aiChatResponse", i18n.T(ctx, "NotLoggedIn"))
	}
	perf, err := d.performance(ctx)
	if err != nil {
		slog.Error("failed to load performance for chat", "user", d.userID(), "error", err)
		return d.send("aiChatResponse", i18n.T(ctx, "TryAgain"))
	}
	if d.deps.Assistant == nil {
		return d.send("aiChatResponse", i18n.T(ctx, "FeatureUnavailable"))
	}
	reply, err := d.deps.Assistant.Ask(ctx, question, perf)
	switch {
	case errors.Is(err, assistant.ErrUnavailable):
		reply = i18n.T(ctx, "FeatureUnavailable")
	case err != nil:
		slog.Error("failed to get assistant reply", "user", d.userID(), "error", err)
		reply = i18n.T(ctx, "TryAgain")
	}
	return d.send("aiChatResponse", reply)
}

type planAndTopics struct {
	Plan          []string `json:"plan"`
	AllowedTopics []string `json:"allowedTopics"`
}

func (d *dashboard) getCurrentPlan(ctx context.Context, _ json.RawMessage) error {
	plans, allowed := d.deps.Plans.AllowedTopics(ctx, d.user)
	return d.send("setPlanAndTopics", planAndTopics{Plan: plans, AllowedTopics: allowed.Sorted()})
}

func (d *dashboard) saveExamDate(ctx context.Context, data json.RawMessage) error {
	var date string
	if !decode("saveExamDate", data, &date) {
		return nil
	}
	if d.user == nil {
		return d.sendError(ctx, "NotLoggedIn")
	}
	if _, err := d.deps.Attempts.SaveExamDate(ctx, d.userID(), date); err != nil {
		return d.fail(ctx, "", fmt.Errorf("save exam date: %w", err))
	}
	return d.send("initializeExamDate", date)
}
