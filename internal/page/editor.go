package page

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/brainbank/osce/internal/casebank"
	"github.com/brainbank/osce/internal/channel"
	"github.com/brainbank/osce/internal/i18n"
	"github.com/brainbank/osce/internal/model"
	"github.com/brainbank/osce/internal/tree"
)

// editor lets editors browse the whole bank and rewrite case sections.
type editor struct {
	*session
}

func newEditor(s *session) *editor {
	return &editor{session: s}
}

// Start sends the collapsed topic list; editors see every topic unlocked.
func (e *editor) Start(ctx context.Context) error {
	all, err := e.deps.Cases.Structure(ctx)
	if err != nil {
		return e.fail(ctx, "", err)
	}
	return e.send("setTreeData", tree.NewProjector(nil, nil).Topics(all, false))
}

func (e *editor) Router() *channel.Router {
	r := channel.NewRouter()
	r.Handle("topicSelected", e.topicSelected)
	r.Handle("caseSelected", e.caseSelected)
	r.Handle("saveSection", e.saveSection)
	return r
}

func (e *editor) topicSelected(ctx context.Context, data json.RawMessage) error {
	var in struct {
		TopicID string `json:"topicId"`
	}
	if !decode("topicSelected", data, &in) || in.TopicID == "" {
		return nil
	}
	all, err := e.deps.Cases.Structure(ctx)
	if err != nil {
		return e.fail(ctx, "", err)
	}
	nodes, err := tree.NewProjector(nil, nil).Expand(all, nil, in.TopicID)
	if err != nil {
		return e.fail(ctx, "", err)
	}
	return e.send("updateTopic", topicUpdate{Topic: topLevelID(in.TopicID), Data: nodes})
}

type caseData struct {
	CaseData *model.CaseRecord `json:"caseData"`
}

func (e *editor) caseSelected(ctx context.Context, data json.RawMessage) error {
	var in struct {
		CaseName string `json:"caseName"`
	}
	if !decode("caseSelected", data, &in) {
		return nil
	}
	name := caseNameOf(in.CaseName)
	if name == "" {
		return e.sendError(ctx, "NoCaseSelected")
	}
	tok := e.sel.Select(name)

	c, err := e.deps.Cases.Get(ctx, name)
	if err != nil {
		return e.fail(ctx, name, err)
	}
	if c == nil {
		return e.fail(ctx, name, casebank.ErrCaseNotFound)
	}
	if !e.sel.Still(tok) {
		return nil
	}
	if err := e.send("loadCaseData", caseData{CaseData: c}); err != nil {
		return err
	}
	return e.highlight(ctx, name)
}

type saveConfirmation struct {
	Section     string            `json:"section"`
	Success     bool              `json:"success"`
	Message     string            `json:"message"`
	UpdatedData *model.CaseRecord `json:"updatedData,omitempty"`
}

func (e *editor) saveSection(ctx context.Context, data json.RawMessage) error {
	var in struct {
		Section  string          `json:"section"`
		CaseName string          `json:"caseName"`
		Data     json.RawMessage `json:"data"`
	}
	if !decode("saveSection", data, &in) {
		return nil
	}
	name := caseNameOf(in.CaseName)
	updated, err := e.deps.Cases.SaveSection(ctx, name, in.Section, in.Data, e.user.Email)
	if err != nil {
		msgID := "SaveFailed"
		if errors.Is(err, casebank.ErrCaseNotFound) {
			msgID = "CaseNotFound"
		}
		if !errors.Is(err, casebank.ErrCaseNotFound) && !errors.Is(err, casebank.ErrUnknownSection) {
			slog.Error("failed to save case section", "case", name, "section", in.Section, "error", err)
		}
		return e.send("saveConfirmation", saveConfirmation{Section: in.Section, Message: i18n.T(ctx, msgID)})
	}
	return e.send("saveConfirmation", saveConfirmation{
		Section:     in.Section,
		Success:     true,
		Message:     i18n.Td(ctx, "SaveConfirmed", map[string]any{"Section": in.Section}),
		UpdatedData: updated,
	})
}

// caseNameOf accepts either a bare case name or a tree leaf id.
func caseNameOf(s string) string {
	if name, ok := tree.CaseID(s); ok {
		return name
	}
	return strings.TrimSpace(s)
}
