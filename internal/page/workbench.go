package page

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/brainbank/osce/internal/channel"
	"github.com/brainbank/osce/internal/checklist"
	"github.com/brainbank/osce/internal/model"
)

const (
	modeReview   = "review"
	modePractice = "practice"
)

// workbench is the practice station: a case tree, the case brief and
// the marked results of past attempts.
type workbench struct {
	*session

	mu   sync.Mutex
	mode string
}

func newWorkbench(s *session) *workbench {
	return &workbench{session: s, mode: modeReview}
}

func (w *workbench) Router() *channel.Router {
	r := channel.NewRouter()
	r.Handle("topicSelected", w.topicSelected)
	r.Handle("caseSelected", w.caseSelected)
	r.Handle("timestampChange", w.timestampChange)
	r.Handle("modeChange", w.modeChange)
	return r
}

type modeMessage struct {
	Mode string `json:"mode"`
}

// Start sends the mode and the full tree: the free section first, then
// every topic, locked ones without children.
func (w *workbench) Start(ctx context.Context) error {
	st, err := w.loadTree(ctx)
	if err != nil {
		return w.fail(ctx, "", err)
	}
	if err := w.send("setMode", modeMessage{Mode: w.currentMode()}); err != nil {
		return err
	}
	return w.send("setTreeData", st.projector().Full(st.all, st.free))
}

func (w *workbench) currentMode() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

func (w *workbench) topicSelected(ctx context.Context, data json.RawMessage) error {
	var in struct {
		TopicID string `json:"topicId"`
	}
	if !decode("topicSelected", data, &in) {
		return nil
	}
	return w.selectNode(ctx, in.TopicID, w.open)
}

func (w *workbench) caseSelected(ctx context.Context, data json.RawMessage) error {
	var in struct {
		CaseName string `json:"caseName"`
	}
	if !decode("caseSelected", data, &in) {
		return nil
	}
	return w.selectNode(ctx, in.CaseName, w.open)
}

type workbenchCase struct {
	CaseData  *model.CaseRecord `json:"caseData"`
	Checklist checklist.Grouped `json:"checklist"`
}

type selectorValue struct {
	Value string `json:"value"`
}

func (w *workbench) open(ctx context.Context, name string) error {
	c, rec, tok, err := w.openCase(ctx, name)
	if err != nil {
		return w.fail(ctx, name, err)
	}
	if !w.sel.Still(tok) {
		return nil
	}
	if err := w.send("loadCaseData", workbenchCase{CaseData: c, Checklist: checklist.Group(checklist.Parse(c.Checklist))}); err != nil {
		return err
	}
	if err := w.send("setMode", modeMessage{Mode: w.currentMode()}); err != nil {
		return err
	}
	h, ok := w.history(ctx, rec, c)
	if !ok {
		if err := w.send("hideTimestampSelector", nil); err != nil {
			return err
		}
		return w.send("clearResults", nil)
	}
	if err := w.send("showTimestampSelector", h.Options); err != nil {
		return err
	}
	if err := w.send("setTimestampValue", selectorValue{Value: h.Latest}); err != nil {
		return err
	}
	return w.send("updateResults", h.Results)
}

func (w *workbench) timestampChange(ctx context.Context, data json.RawMessage) error {
	var in struct {
		Value optionValue `json:"value"`
	}
	if !decode("timestampChange", data, &in) {
		return nil
	}
	res, ok, err := w.resultsAt(ctx, in.Value)
	if err != nil {
		return w.fail(ctx, "", err)
	}
	if !ok {
		return nil
	}
	return w.send("updateResults", res)
}

func (w *workbench) modeChange(ctx context.Context, data json.RawMessage) error {
	var in modeMessage
	if !decode("modeChange", data, &in) {
		return nil
	}
	mode := modeReview
	if in.Mode == modePractice {
		mode = modePractice
	}
	w.mu.Lock()
	w.mode = mode
	w.mu.Unlock()
	return w.send("setMode", modeMessage{Mode: mode})
}
