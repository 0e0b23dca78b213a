package page

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brainbank/osce/internal/blob"
	"github.com/brainbank/osce/internal/channel"
	"github.com/brainbank/osce/internal/checklist"
	"github.com/brainbank/osce/internal/i18n"
	"github.com/brainbank/osce/internal/model"
	"github.com/brainbank/osce/internal/secrets"
)

const chatHistoryTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// simulator is the AI patient: the page runs the voice session itself
// and reports evaluations, feedback and transcripts back.
type simulator struct {
	*session
}

func newSimulator(s *session) *simulator {
	return &simulator{session: s}
}

func (s *simulator) Router() *channel.Router {
	r := channel.NewRouter()
	r.Handle("caseSelected", s.caseSelected)
	r.Handle("topicSelected", s.topicSelected)
	r.Handle("evaluationResult", s.evaluationResult)
	r.Handle("timestampChanged", s.timestampChanged)
	r.Handle("sessionFeedback", s.sessionFeedback)
	r.Handle("saveChatHistory", s.saveChatHistory)
	return r
}

type azureConfig struct {
	Config secrets.SimulatorConfig `json:"config"`
}

// Start hands logged-in users the speech credentials, when configured,
// and sends the case tree.
func (s *simulator) Start(ctx context.Context) error {
	st, err := s.loadTree(ctx)
	if err != nil {
		return s.fail(ctx, "", err)
	}
	if cfg, ok := s.deps.Secrets.Simulator(); ok && s.user != nil {
		if err := s.send("setAzureConfig", azureConfig{Config: cfg}); err != nil {
			return err
		}
	}
	return s.send("setData", st.projector().Full(st.all, st.free))
}

func (s *simulator) caseSelected(ctx context.Context, data json.RawMessage) error {
	var in struct {
		CaseName string `json:"caseName"`
	}
	if !decode("caseSelected", data, &in) {
		return nil
	}
	return s.selectNode(ctx, in.CaseName, s.open)
}

func (s *simulator) topicSelected(ctx context.Context, data json.RawMessage) error {
	var in struct {
		TopicID string `json:"topicId"`
	}
	if !decode("topicSelected", data, &in) {
		return nil
	}
	return s.selectNode(ctx, in.TopicID, s.open)
}

type genderMessage struct {
	Gender string `json:"gender"`
}

type patientInfo struct {
	PatientInfo string `json:"patientInfo"`
}

type checklistMessage struct {
	Checklist []model.ChecklistItem `json:"checklist"`
}

func (s *simulator) open(ctx context.Context, name string) error {
	c, rec, tok, err := s.openCase(ctx, name)
	if err != nil {
		return s.fail(ctx, name, err)
	}
	if !s.sel.Still(tok) {
		return nil
	}
	if err := s.send("updateCaseInformation", caseData{CaseData: c}); err != nil {
		return err
	}
	if err := s.send("setSimulatorGender", genderMessage{Gender: c.SimulatorGender}); err != nil {
		return err
	}
	if err := s.send("updatePatientInfo", patientInfo{PatientInfo: c.PatientInfo}); err != nil {
		return err
	}
	items := checklist.Parse(c.Checklist)
	if items == nil {
		items = []model.ChecklistItem{}
	}
	if err := s.send("setChecklist", checklistMessage{Checklist: items}); err != nil {
		return err
	}
	if err := s.highlight(ctx, name); err != nil {
		return err
	}
	return s.sendTimestamps(ctx, rec, c)
}

type timestampsMessage struct {
	CaseName string `json:"caseName"`
	Options  any    `json:"options,omitempty"`
	Value    string `json:"value,omitempty"`
}

type displayResults struct {
	Results results `json:"results"`
}

// sendTimestamps sends the attempt selector of c with the newest attempt
// selected and its results, or clears both when there are none.
func (s *simulator) sendTimestamps(ctx context.Context, rec *model.AttemptRecord, c *model.CaseRecord) error {
	h, ok := s.history(ctx, rec, c)
	if !ok {
		return s.send("clearTimestamps", timestampsMessage{CaseName: c.CaseName})
	}
	if err := s.send("updateTimestamps", timestampsMessage{CaseName: c.CaseName, Options: h.Options}); err != nil {
		return err
	}
	if err := s.send("selectTimestamp", timestampsMessage{CaseName: c.CaseName, Value: h.Latest}); err != nil {
		return err
	}
	return s.send("displayResults", displayResults{Results: h.Results})
}

type showPerformance struct {
	AutoSelectLatest bool `json:"autoSelectLatest"`
}

// evaluationResult stores the AI examiner's marking of the finished
// session as a new attempt on the selected case.
func (s *simulator) evaluationResult(ctx context.Context, data json.RawMessage) error {
	var in struct {
		Result string `json:"result"`
	}
	if !decode("evaluationResult", data, &in) {
		return nil
	}
	c, tok, err := s.selectedCase(ctx)
	if err != nil {
		return s.fail(ctx, tok.Case(), err)
	}
	if c == nil {
		return s.sendError(ctx, "NoCaseSelected")
	}
	if s.user == nil {
		return s.sendError(ctx, "NotLoggedIn")
	}
	name := c.CaseName
	a, err := checklist.FromEvaluation([]byte(in.Result), checklist.Parse(c.Checklist), s.deps.now())
	if err != nil {
		slog.Warn("ignoring malformed evaluation", "case", name, "error", err)
		return nil
	}
	rec, err := s.deps.Attempts.AppendAttempt(ctx, s.userID(), name, a)
	if err != nil {
		return s.fail(ctx, name, fmt.Errorf("save evaluation: %w", err))
	}
	slog.Info("AI attempt recorded", "user", s.userID(), "case", name, "total", a.Total())

	if !s.sel.Still(tok) {
		return nil
	}
	if err := s.sendTimestamps(ctx, rec, c); err != nil {
		return err
	}
	return s.send("showPerformance", showPerformance{AutoSelectLatest: true})
}

func (s *simulator) timestampChanged(ctx context.Context, data json.RawMessage) error {
	var in struct {
		Index optionValue `json:"index"`
	}
	if !decode("timestampChanged", data, &in) {
		return nil
	}
	res, ok, err := s.resultsAt(ctx, in.Index)
	if err != nil {
		return s.fail(ctx, "", err)
	}
	if !ok {
		return nil
	}
	return s.send("displayResults", displayResults{Results: res})
}

func (s *simulator) sessionFeedback(ctx context.Context, data json.RawMessage) error {
	var in struct {
		Feedback model.Feedback `json:"feedback"`
	}
	if !decode("sessionFeedback", data, &in) {
		return nil
	}
	c, tok, err := s.selectedCase(ctx)
	if err != nil {
		return s.fail(ctx, tok.Case(), err)
	}
	if c == nil {
		return s.sendError(ctx, "NoCaseSelected")
	}
	if s.user == nil {
		return s.sendError(ctx, "NotLoggedIn")
	}
	name := c.CaseName
	if _, err := s.deps.Attempts.AppendFeedback(ctx, s.userID(), name, in.Feedback); err != nil {
		return s.fail(ctx, name, fmt.Errorf("save feedback: %w", err))
	}
	return s.send("feedbackSaved", errorMessage{Message: i18n.T(ctx, "FeedbackThanks")})
}

type chatHistorySaved struct {
	CaseName string `json:"caseName"`
	URL      string `json:"url"`
}

// saveChatHistory uploads the plain-text transcript and records its URL
// under the case and the upload time.
func (s *simulator) saveChatHistory(ctx context.Context, data json.RawMessage) error {
	var in struct {
		ChatHistory string `json:"chatHistory"`
	}
	if !decode("saveChatHistory", data, &in) {
		return nil
	}
	c, tok, err := s.selectedCase(ctx)
	if err != nil {
		return s.fail(ctx, tok.Case(), err)
	}
	if c == nil {
		return s.sendError(ctx, "NoCaseSelected")
	}
	if s.user == nil {
		return s.sendError(ctx, "NotLoggedIn")
	}
	name := c.CaseName
	if s.deps.Blobs == nil {
		return s.sendError(ctx, "FeatureUnavailable")
	}

	now := s.deps.now().UTC()
	key := blob.ChatHistoryKey(s.user.Email, name, now)
	url, err := s.deps.Blobs.Put(ctx, key, strings.NewReader(in.ChatHistory), "text/plain; charset=utf-8")
	if err != nil {
		return s.fail(ctx, name, fmt.Errorf("upload chat history: %w", err))
	}
	if _, err := s.deps.Attempts.RecordChatHistory(ctx, s.userID(), name, now.Format(chatHistoryTimeLayout), url); err != nil {
		return s.fail(ctx, name, fmt.Errorf("record chat history: %w", err))
	}
	return s.send("chatHistorySaved", chatHistorySaved{CaseName: name, URL: url})
}
