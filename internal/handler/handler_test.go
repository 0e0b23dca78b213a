package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/brainbank/osce/internal/attempts"
	"github.com/brainbank/osce/internal/casebank"
	"github.com/brainbank/osce/internal/channel"
	"github.com/brainbank/osce/internal/entitlement"
	"github.com/brainbank/osce/internal/model"
	"github.com/brainbank/osce/internal/page"
	"github.com/brainbank/osce/internal/progress"
	"github.com/brainbank/osce/internal/store"
	"github.com/brainbank/osce/internal/tree"
)

const testPlans = `
plans:
  Free: []
  Cardio: [Cardiology]
`

var testCases = []model.CaseRecord{
	{CaseName: "ChestPain", Topic: "Cardiology", Category: "Cardiology", SubCategory: "Cardiology"},
	{CaseName: "Cough", Topic: "Respiratory", Category: "Respiratory", SubCategory: "Respiratory", IsFreeCase: true},
	{CaseName: "Rash", Topic: "Dermatology", Category: "Dermatology", SubCategory: "Dermatology"},
}

type testServer struct {
	*httptest.Server
	store *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	for _, c := range testCases {
		if err := st.UpsertCase(ctx, c); err != nil {
			t.Fatalf("UpsertCase: %v", err)
		}
	}
	table, err := entitlement.ParseTable([]byte(testPlans))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}

	users := []struct {
		email string
		role  model.UserRole
		plan  string
	}{
		{"alice@example.com", model.UserRoleMember, "Cardio"},
		{"admin@example.com", model.UserRoleAdmin, ""},
	}
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		id, err := st.CreateUser(ctx, model.User{Email: u.email, PasswordHash: string(hash), Role: u.role, Active: true})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if u.plan != "" {
			if _, err := st.CreateOrder(ctx, id, u.plan, model.OrderActive); err != nil {
				t.Fatalf("CreateOrder: %v", err)
			}
		}
	}

	deps := &page.Deps{
		Cases:    casebank.New(st, nil),
		Records:  st,
		Attempts: attempts.New(st),
		Plans:    entitlement.NewPlanResolver(st, table, entitlement.RetryPolicy{MaxTries: 1}),
		Location: time.UTC,
	}
	r := chi.NewRouter()
	New(st, deps, Config{}).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: st}
}

// login returns the session cookie of email.
func (s *testServer) login(t *testing.T, email string) *http.Cookie {
	t.Helper()
	resp, err := http.PostForm(s.URL+"/login", url.Values{"email": {email}, "password": {"secret"}})
	if err != nil {
		t.Fatalf("POST /login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /login status = %d, want 200", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("login set no session cookie")
	return nil
}

func (s *testServer) do(t *testing.T, method, path string, cookie *http.Cookie, body url.Values) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, s.URL+path, strings.NewReader(body.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequest(method, s.URL+path, nil)
	}
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, "GET", "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
		Cases  int    `json:"cases"`
	}
	decode(t, resp, &body)
	if body.Status != "ok" || body.Cases != len(testCases) {
		t.Errorf("GET /health = %+v", body)
	}
}

func TestLoginLogout(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		email    string
		password string
		want     int
	}{
		{"wrong password", "alice@example.com", "nope", http.StatusUnauthorized},
		{"unknown user", "bob@example.com", "secret", http.StatusUnauthorized},
		{"mixed case email", "Alice@Example.com", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, "POST", "/login", nil, url.Values{"email": {tt.email}, "password": {tt.password}})
			if resp.StatusCode != tt.want {
				t.Errorf("POST /login status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	cookie := s.login(t, "alice@example.com")
	if resp := s.do(t, "GET", "/api/dashboard", cookie, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/dashboard status = %d, want 200", resp.StatusCode)
	}
	if resp := s.do(t, "POST", "/logout", cookie, url.Values{}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST /logout status = %d, want 204", resp.StatusCode)
	}
	if resp := s.do(t, "GET", "/api/dashboard", cookie, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("GET /api/dashboard after logout status = %d, want 401", resp.StatusCode)
	}
}

func TestTree(t *testing.T) {
	s := newTestServer(t)
	member := s.login(t, "alice@example.com")

	tests := []struct {
		name       string
		cookie     *http.Cookie
		wantLocked map[string]bool
	}{
		{"guest", nil, map[string]bool{"Cardiology": true, "Respiratory": true, "Dermatology": true}},
		{"subscriber", member, map[string]bool{"Cardiology": false, "Respiratory": true, "Dermatology": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, "GET", "/api/tree", tt.cookie, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("GET /api/tree status = %d, want 200", resp.StatusCode)
			}
			var nodes []tree.ViewNode
			decode(t, resp, &nodes)
			if len(nodes) != 4 || nodes[0].ID != tree.FreeSectionID {
				t.Fatalf("GET /api/tree = %+v, want free section and 3 topics", nodes)
			}
			for _, n := range nodes[1:] {
				locked := n.Locked != nil && *n.Locked
				if locked != tt.wantLocked[n.ID] {
					t.Errorf("topic %s locked = %v, want %v", n.ID, locked, tt.wantLocked[n.ID])
				}
			}
		})
	}
}

func TestTreeNode(t *testing.T) {
	s := newTestServer(t)
	member := s.login(t, "alice@example.com")

	tests := []struct {
		id   string
		want int
	}{
		{"Cardiology", http.StatusOK},
		{"FreeCases:Respiratory", http.StatusOK},
		{"Dermatology", http.StatusForbidden},
		{"Oncology", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			resp := s.do(t, "GET", "/api/tree/"+tt.id, member, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("GET /api/tree/%s status = %d, want %d", tt.id, resp.StatusCode, tt.want)
			}
		})
	}
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t)
	if resp := s.do(t, "GET", "/api/dashboard", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("guest GET /api/dashboard status = %d, want 401", resp.StatusCode)
	}

	resp := s.do(t, "GET", "/api/dashboard", s.login(t, "alice@example.com"), nil)
	var perf progress.Performance
	decode(t, resp, &perf)
	if perf.Summary.CasesCompleted != 0 || perf.Summary.OverallScore != 0 {
		t.Errorf("GET /api/dashboard = %+v, want empty performance", perf)
	}
}

func dialPage(t *testing.T, s *testServer, name string, cookie *http.Cookie) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if cookie != nil {
		header.Set("Cookie", cookie.String())
	}
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/" + name
	ws, resp, err := websocket.DefaultDialer.Dial(u, header)
	if err == nil {
		t.Cleanup(func() { ws.Close() })
	}
	return ws, resp, err
}

func readEnvelope(t *testing.T, ws *websocket.Conn) channel.Envelope {
	t.Helper()
	if err := ws.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var env channel.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return env
}

func TestSocket(t *testing.T) {
	s := newTestServer(t)

	ws, _, err := dialPage(t, s, page.Workbench, nil)
	if err != nil {
		t.Fatalf("dial workbench: %v", err)
	}
	for _, want := range []string{"setMode", "setTreeData"} {
		if env := readEnvelope(t, ws); env.Type != want {
			t.Fatalf("message type = %q, want %q", env.Type, want)
		}
	}
	msg := channel.Envelope{Type: "caseSelected", Data: json.RawMessage(`{"caseName":"caseName:Cough"}`)}
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if env := readEnvelope(t, ws); env.Type != "loadCaseData" {
		t.Errorf("caseSelected reply = %q, want loadCaseData", env.Type)
	}
}

func TestSocketRejected(t *testing.T) {
	s := newTestServer(t)
	member := s.login(t, "alice@example.com")

	tests := []struct {
		name   string
		page   string
		cookie *http.Cookie
		want   int
	}{
		{"unknown page", "admin", member, http.StatusNotFound},
		{"editor as guest", page.Editor, nil, http.StatusForbidden},
		{"editor as member", page.Editor, member, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := dialPage(t, s, tt.page, tt.cookie)
			if err == nil {
				t.Fatal("dial succeeded, want handshake failure")
			}
			if resp == nil || resp.StatusCode != tt.want {
				t.Errorf("dial %s response = %v, want status %d", tt.page, resp, tt.want)
			}
		})
	}
}

func TestAdmin(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	member := s.login(t, "alice@example.com")
	admin := s.login(t, "admin@example.com")

	if resp := s.do(t, "GET", "/admin/users", member, nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("member GET /admin/users status = %d, want 403", resp.StatusCode)
	}
	if resp := s.do(t, "GET", "/admin/users", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("guest GET /admin/users status = %d, want 401", resp.StatusCode)
	}

	resp := s.do(t, "POST", "/admin/users", admin, url.Values{"email": {"bob@example.com"}, "password": {"pw"}, "role": {"editor"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /admin/users status = %d, want 201", resp.StatusCode)
	}
	var bob userView
	decode(t, resp, &bob)
	if bob.Role != model.UserRoleEditor || !bob.Active {
		t.Errorf("created user = %+v", bob)
	}
	if resp := s.do(t, "POST", "/admin/users", admin, url.Values{"email": {"x@example.com"}, "password": {"pw"}, "role": {"root"}}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /admin/users with bad role status = %d, want 400", resp.StatusCode)
	}

	id := strconv.FormatInt(bob.ID, 10)
	if resp := s.do(t, "POST", "/admin/users/"+id+"/plans", admin, url.Values{"plan": {"Gold"}}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("grant unknown plan status = %d, want 400", resp.StatusCode)
	}
	if resp := s.do(t, "POST", "/admin/users/"+id+"/plans", admin, url.Values{"plan": {"Cardio"}}); resp.StatusCode != http.StatusCreated {
		t.Errorf("grant Cardio status = %d, want 201", resp.StatusCode)
	}
	orders, err := s.store.ListOrders(ctx, bob.ID)
	if err != nil || len(orders) != 1 || orders[0].PlanName != "Cardio" {
		t.Fatalf("ListOrders = %+v, %v", orders, err)
	}

	orderPath := "/admin/users/" + id + "/orders/" + strconv.FormatInt(orders[0].ID, 10)
	if resp := s.do(t, "POST", orderPath, admin, url.Values{"status": {"PAUSED"}}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("set unknown order status = %d, want 400", resp.StatusCode)
	}
	if resp := s.do(t, "POST", "/admin/users/"+id+"/orders/999", admin, url.Values{"status": {"ENDED"}}); resp.StatusCode != http.StatusNotFound {
		t.Errorf("set status of missing order = %d, want 404", resp.StatusCode)
	}
	resp = s.do(t, "POST", orderPath, admin, url.Values{"status": {"CANCELED"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel order status = %d, want 200", resp.StatusCode)
	}
	var canceled model.Order
	decode(t, resp, &canceled)
	if canceled.Status != model.OrderCancelled || canceled.PlanName != "Cardio" {
		t.Errorf("canceled order = %+v", canceled)
	}
	if orders, err := s.store.ListOrders(ctx, bob.ID); err != nil || orders[0].Status != model.OrderCancelled {
		t.Errorf("ListOrders after cancel = %+v, %v", orders, err)
	}

	resp = s.do(t, "POST", "/admin/users/"+id+"/toggle", admin, url.Values{})
	var toggled userView
	decode(t, resp, &toggled)
	if toggled.Active {
		t.Errorf("toggled user = %+v, want inactive", toggled)
	}
	if resp := s.do(t, "POST", "/admin/users/999/toggle", admin, url.Values{}); resp.StatusCode != http.StatusNotFound {
		t.Errorf("toggle missing user status = %d, want 404", resp.StatusCode)
	}
}

func TestUploadCases(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	admin := s.login(t, "admin@example.com")

	upload := func() *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("cases_file", "extra.yaml")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write([]byte("- caseName: Syncope\n  topic: Cardiology\n  category: Cardiology\n  subCategory: Cardiology\n"))
		mw.Close()

		req, err := http.NewRequest("POST", s.URL+"/admin/cases", &buf)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.AddCookie(admin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST /admin/cases: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	var res struct {
		Imported int  `json:"imported"`
		Skipped  bool `json:"skipped"`
	}
	decode(t, upload(), &res)
	if res.Imported != 1 || res.Skipped {
		t.Errorf("first upload = %+v, want 1 imported", res)
	}
	decode(t, upload(), &res)
	if !res.Skipped {
		t.Errorf("second upload = %+v, want skipped", res)
	}
	c, err := s.store.GetCase(ctx, "Syncope")
	if err != nil || c == nil {
		t.Errorf("GetCase(Syncope) = %v, %v", c, err)
	}
}
