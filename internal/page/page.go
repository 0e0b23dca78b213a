// Package page binds the case bank, entitlement and progress services to
// the message channel of each UI page: the case editor, the dashboard,
// the OSCE workbench and the AI patient simulator.
package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brainbank/osce/internal/attempts"
	"github.com/brainbank/osce/internal/blob"
	"github.com/brainbank/osce/internal/casebank"
	"github.com/brainbank/osce/internal/channel"
	"github.com/brainbank/osce/internal/entitlement"
	"github.com/brainbank/osce/internal/i18n"
	"github.com/brainbank/osce/internal/model"
	"github.com/brainbank/osce/internal/progress"
	"github.com/brainbank/osce/internal/secrets"
	"github.com/brainbank/osce/internal/tree"
)

// Page names accepted by Open.
const (
	Editor    = "editor"
	Dashboard = "dashboard"
	Workbench = "workbench"
	Simulator = "simulator"
)

// PricingURL is where users are sent after opening a case outside their plan.
const PricingURL = "/plans-pricing"

var (
	// ErrUnknownPage is returned by Open for an unknown page name.
	ErrUnknownPage = errors.New("unknown page")
	// ErrForbidden is returned by Open when the user may not use the page.
	ErrForbidden = errors.New("page not allowed")
)

// Asker answers free-form questions about a learner's performance.
// *assistant.Client satisfies it.
type Asker interface {
	Ask(ctx context.Context, question string, performance any) (string, error)
}

// Deps are the services shared by all page sessions.
type Deps struct {
	Cases     *casebank.Service
	Records   casebank.RecordLister
	Attempts  *attempts.Store
	Plans     *entitlement.PlanResolver
	Assistant Asker
	Blobs     blob.Store
	Secrets   secrets.Config
	Location  *time.Location

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) location() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}

// Session is one connected page.
type Session interface {
	// Start pushes the initial state of the page.
	Start(ctx context.Context) error
	// Router handles the messages the page sends.
	Router() *channel.Router
}

// Open creates the session of page name for user, who is nil for guests.
func Open(name string, d *Deps, out channel.Sender, user *model.User) (Session, error) {
	base := &session{deps: d, out: out, user: user, agg: progress.New(d.location())}
	switch name {
	case Editor:
		if !user.CanEdit() {
			return nil, ErrForbidden
		}
		return newEditor(base), nil
	case Dashboard:
		return newDashboard(base), nil
	case Workbench:
		return newWorkbench(base), nil
	case Simulator:
		return newSimulator(base), nil
	}
	return nil, fmt.Errorf("open %q: %w", name, ErrUnknownPage)
}

// session holds what every page needs: the connection, the user and the
// currently selected case.
type session struct {
	deps *Deps
	out  channel.Sender
	user *model.User
	agg  *progress.Aggregator
	sel  channel.Selection
}

// userID is the attempt record key of the user, empty for guests.
func (s *session) userID() string {
	if s.user == nil {
		return ""
	}
	return s.user.Email
}

func (s *session) send(msgType string, data any) error {
	if err := s.out.Send(msgType, data); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

type errorMessage struct {
	Message string `json:"message"`
}

func (s *session) sendError(ctx context.Context, msgID string) error {
	return s.send("error", errorMessage{Message: i18n.T(ctx, msgID)})
}

type accessDenied struct {
	CaseName    string `json:"caseName"`
	Message     string `json:"message"`
	RedirectURL string `json:"redirectUrl"`
}

// fail reports err to the page. Expected outcomes become a user-facing
// message and nil; anything else is shown as "try again" and returned
// for logging.
func (s *session) fail(ctx context.Context, caseName string, err error) error {
	switch {
	case errors.Is(err, casebank.ErrAccessDenied):
		return s.send("showAccessDeniedMessage", accessDenied{
			CaseName:    caseName,
			Message:     i18n.T(ctx, "AccessDenied"),
			RedirectURL: PricingURL,
		})
	case errors.Is(err, casebank.ErrCaseNotFound), errors.Is(err, tree.ErrNotFound):
		return s.sendError(ctx, "CaseNotFound")
	case errors.Is(err, tree.ErrTopicLocked):
		return s.sendError(ctx, "TopicLocked")
	}
	if sendErr := s.sendError(ctx, "TryAgain"); sendErr != nil {
		slog.Debug("failed to report error", "error", sendErr)
	}
	return err
}

// record loads the user's attempts; guests get an empty record.
func (s *session) record(ctx context.Context) (*model.AttemptRecord, error) {
	if s.user == nil {
		return model.NewAttemptRecord(""), nil
	}
	return s.deps.Attempts.Load(ctx, s.userID())
}

// treeState is what the tree-bearing pages load on connect.
type treeState struct {
	rec     *model.AttemptRecord
	plans   []string
	allowed entitlement.TopicSet
	all     *tree.Structure
	free    *tree.Structure
}

func (t *treeState) projector() *tree.Projector {
	return tree.NewProjector(t.rec, t.allowed.Has)
}

// loadTree fetches the user's record, plans and both case trees in parallel.
func (s *session) loadTree(ctx context.Context) (*treeState, error) {
	st := &treeState{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec, err := s.record(gctx)
		st.rec = rec
		return err
	})
	g.Go(func() error {
		st.plans, st.allowed = s.deps.Plans.AllowedTopics(gctx, s.user)
		return nil
	})
	g.Go(func() error {
		all, err := s.deps.Cases.Structure(gctx)
		st.all = all
		return err
	})
	g.Go(func() error {
		free, err := s.deps.Cases.FreeStructure(gctx)
		st.free = free
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load case tree: %w", err)
	}
	return st, nil
}

type topicUpdate struct {
	Topic string          `json:"topic"`
	Data  []tree.ViewNode `json:"data"`
}

// expand answers a topic or category selection with the re-projected
// subtree of the selected node.
func (s *session) expand(ctx context.Context, id string) error {
	st, err := s.loadTree(ctx)
	if err != nil {
		return s.fail(ctx, "", err)
	}
	nodes, err := st.projector().Expand(st.all, st.free, id)
	if err != nil {
		return s.fail(ctx, "", err)
	}
	return s.send("updateTopic", topicUpdate{Topic: topLevelID(id), Data: nodes})
}

// topLevelID returns the id of the topic a node id belongs to.
func topLevelID(id string) string {
	if rest, ok := strings.CutPrefix(id, tree.FreeSectionID+":"); ok {
		topic, _, _ := strings.Cut(rest, ":")
		return tree.FreeSectionID + ":" + topic
	}
	topic, _, _ := strings.Cut(id, ":")
	return topic
}

type highlight struct {
	Topic       string `json:"topic"`
	Category    string `json:"category"`
	SubCategory string `json:"subCategory"`
	CaseName    string `json:"caseName"`
}

func (s *session) highlight(ctx context.Context, caseName string) error {
	all, err := s.deps.Cases.Structure(ctx)
	if err != nil {
		return err
	}
	path := all.FindPath(caseName)
	if len(path) != 4 {
		return nil
	}
	return s.send("highlightCase", highlight{Topic: path[0], Category: path[1], SubCategory: path[2], CaseName: path[3]})
}

// decode unmarshals a message payload. A malformed payload is logged and
// reported as false so the handler can ignore it.
func decode(msgType string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		slog.Debug("malformed message payload", "type", msgType, "error", err)
		return false
	}
	return true
}
