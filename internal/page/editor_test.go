package page

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/brainbank/osce/internal/tree"
)

func TestEditorStart(t *testing.T) {
	e := newEnv(t)
	s, out := e.open(t, Editor, e.editor)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var nodes []tree.ViewNode
	out.last(t, "setTreeData", &nodes)
	if len(nodes) != 3 {
		t.Fatalf("setTreeData = %d topics, want 3", len(nodes))
	}
	for _, n := range nodes {
		if n.Locked == nil || *n.Locked || len(n.Children) != 0 {
			t.Errorf("topic %s should be unlocked and collapsed: %+v", n.ID, n)
		}
	}

	out.reset()
	dispatch(t, s, "topicSelected", `{"topicId":"Cardiology:Arrhythmia"}`)
	var upd topicUpdate
	out.last(t, "updateTopic", &upd)
	if upd.Topic != "Cardiology" || len(upd.Data) != 1 || upd.Data[0].ID != "Cardiology:Arrhythmia" {
		t.Errorf("updateTopic = %+v", upd)
	}
}

func TestEditorCaseSelected(t *testing.T) {
	e := newEnv(t)
	s, out := e.open(t, Editor, e.editor)

	dispatch(t, s, "caseSelected", `{"caseName":"Palpitations"}`)
	wantTypes(t, out, "loadCaseData", "highlightCase")
	var hl highlight
	out.last(t, "highlightCase", &hl)
	want := highlight{Topic: "Cardiology", Category: "Arrhythmia", SubCategory: "Arrhythmia", CaseName: "Palpitations"}
	if hl != want {
		t.Errorf("highlightCase = %+v, want %+v", hl, want)
	}

	out.reset()
	dispatch(t, s, "caseSelected", `{"caseName":"caseName:Nope"}`)
	wantTypes(t, out, "error")
}

func TestEditorSaveSection(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s, out := e.open(t, Editor, e.editor)

	tests := []struct {
		name    string
		payload string
		success bool
		message string
	}{
		{"key points", `{"section":"KeyPoints","caseName":"ChestPain","data":"rule out ACS"}`, true, "SaveConfirmed"},
		{"unknown section", `{"section":"Synonyms","caseName":"ChestPain","data":[]}`, false, "SaveFailed"},
		{"missing case", `{"section":"KeyPoints","caseName":"Nope","data":"x"}`, false, "CaseNotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.reset()
			dispatch(t, s, "saveSection", tt.payload)
			var conf saveConfirmation
			out.last(t, "saveConfirmation", &conf)
			if conf.Success != tt.success || conf.Message != tt.message {
				t.Errorf("saveConfirmation = %+v, want success %v message %s", conf, tt.success, tt.message)
			}
		})
	}

	c, err := e.store.GetCase(ctx, "ChestPain")
	if err != nil || c == nil {
		t.Fatalf("GetCase = %v, %v", c, err)
	}
	if c.KeyPoints != "rule out ACS" || c.EditedBy != e.editor.Email {
		t.Errorf("saved case = %q by %q", c.KeyPoints, c.EditedBy)
	}
}

func TestEditorSaveSectionLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	e := newEnv(t)
	s, _ := e.open(t, Editor, e.editor)
	dispatch(t, s, "saveSection", `{"section":"KeyPoints","caseName":"ChestPain","data":"rule out ACS"}`)

	if n := strings.Count(buf.String(), "case section saved"); n != 1 {
		t.Errorf("save logged %d times, want 1:\n%s", n, buf.String())
	}
}
