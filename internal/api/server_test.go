package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/chargegate/internal/audit"
	"github.com/nerrad567/chargegate/internal/auth"
	"github.com/nerrad567/chargegate/internal/charging"
	"github.com/nerrad567/chargegate/internal/dispatch"
	"github.com/nerrad567/chargegate/internal/gateway"
	"github.com/nerrad567/chargegate/internal/infrastructure/config"
	"github.com/nerrad567/chargegate/internal/infrastructure/logging"
	"github.com/nerrad567/chargegate/internal/session"
)

const testPassword = "correct horse battery"

// fakeFacility hands out sequential task ids or fails with err.
type fakeFacility struct {
	next   int
	err    error
	starts []dispatch.RemoteStartParams
	stops  []dispatch.RemoteStopParams
}

func (f *fakeFacility) RemoteStartTransaction(_ context.Context, p dispatch.RemoteStartParams) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.starts = append(f.starts, p)
	f.next++
	return f.next, nil
}

func (f *fakeFacility) RemoteStopTransaction(_ context.Context, p dispatch.RemoteStopParams) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.stops = append(f.stops, p)
	f.next++
	return f.next, nil
}

// fakeOperators serves both operator sign-in and session lookup.
type fakeOperators map[string]*auth.Operator

func (f fakeOperators) GetByID(_ context.Context, id string) (*auth.Operator, error) {
	if op, ok := f[id]; ok {
		return op, nil
	}
	return nil, auth.ErrOperatorNotFound
}

func (f fakeOperators) Authenticate(_ context.Context, username, password string) (*auth.Operator, error) {
	for _, op := range f {
		if op.Username == username && password == testPassword && op.IsActive {
			return op, nil
		}
	}
	return nil, auth.ErrInvalidCredentials
}

// fakeValidator accepts partner:secret as a USER client.
type fakeValidator struct{}

func (fakeValidator) Validate(_ context.Context, c auth.Credentials) (*auth.Principal, error) {
	if c.Scheme == auth.SchemeBasic && c.Username == "partner" && c.Password == "secret" {
		return &auth.Principal{ID: "cli-1", Name: "partner", Kind: auth.KindAPIClient, Roles: []auth.Role{auth.RoleUser}}, nil
	}
	return nil, auth.ErrInvalidCredentials
}

// fakeAudit keeps recorded events in memory.
type fakeAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeAudit) Record(_ context.Context, e *audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []audit.Event{}
	for _, e := range f.events {
		if filter.Action == "" || e.Action == filter.Action {
			out = append(out, e)
		}
	}
	return &audit.Page{Events: out, Total: len(out), Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Action
	}
	return out
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("broker unreachable") }

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	facility *fakeFacility
	tasks    *dispatch.TaskStore
	cfg      *config.Config
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()

	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config.Default() error = %v", err)
	}
	log := logging.Nop()

	policy, err := gateway.DefaultPolicy(cfg.Gateway)
	if err != nil {
		t.Fatalf("DefaultPolicy() error = %v", err)
	}

	operators := fakeOperators{
		"op-admin":  {ID: "op-admin", Username: "admin", Roles: []auth.Role{auth.RoleAdmin}, IsActive: true},
		"op-viewer": {ID: "op-viewer", Username: "viewer", Roles: []auth.Role{auth.RoleUser}, IsActive: true},
	}

	guard, err := gateway.New(gateway.Options{
		SignInPath:    cfg.Gateway.SignInPath(),
		SessionCookie: cfg.Sessions.CookieName,
		Realm:         cfg.Security.Realm,
	}, gateway.Deps{
		Policy:    policy,
		Validator: fakeValidator{},
		Sessions:  session.NewMemoryStore(time.Hour),
		Operators: operators,
		CSRF:      gateway.NewCSRF(cfg.Security.CSRF, false),
		Logger:    log,
	})
	if err != nil {
		t.Fatalf("gateway.New() error = %v", err)
	}

	env := &testEnv{
		facility: &fakeFacility{},
		tasks:    dispatch.NewTaskStore(10),
		cfg:      cfg,
	}

	deps := Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Gateway:  cfg.Gateway,
		CSRF:     cfg.Security.CSRF,
		Legacy:   cfg.Legacy,
		Logger:   log,
		Guard:    guard,
		SignIn:   operators,
		Charging: charging.NewService(env.facility, dispatch.ProtocolOCPP16J, log),
		Tasks:    env.tasks,
		Version:  "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)

	env.srv = srv
	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		env.ts.Close()
		cancel()
	})
	return env
}

// client returns an HTTP client with its own cookie jar that does not
// follow redirects.
func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (e *testEnv) cookie(c *http.Client, name string) string {
	u, _ := url.Parse(e.ts.URL)
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// signIn runs the form flow and returns the client holding the session
// together with the csrf token the form was submitted with.
func (e *testEnv) signIn(t *testing.T, username, password string) (*http.Client, *http.Response, string) {
	t.Helper()
	c := e.client(t)

	resp, err := c.Get(e.ts.URL + "/manager/signin")
	if err != nil {
		t.Fatalf("GET signin: %v", err)
	}
	resp.Body.Close()

	token := e.cookie(c, e.cfg.Security.CSRF.CookieName)
	if token == "" {
		t.Fatal("sign-in page did not issue a csrf cookie")
	}

	form := url.Values{
		"username": {username},
		"password": {password},
		"_csrf":    {token},
	}
	resp, err = c.PostForm(e.ts.URL+"/manager/signin", form)
	if err != nil {
		t.Fatalf("POST signin: %v", err)
	}
	resp.Body.Close()
	return c, resp, token
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

type errorBody struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Fields  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"fields"`
}

// ─── External charging ─────────────────────────────────────────────

func TestStartCharging_Accepted(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts.URL+"/api/external/charging/start",
		`{"chargePointId":" CP-1 ","connectorId":2,"idTag":"TAG1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var ack charging.Acknowledgment
	decode(t, resp, &ack)
	if ack.Status != charging.StatusStartAccepted || ack.TaskID != 1 {
		t.Errorf("ack = %+v, want START_ACCEPTED/1", ack)
	}

	if len(env.facility.starts) != 1 {
		t.Fatalf("facility starts = %d, want 1", len(env.facility.starts))
	}
	got := env.facility.starts[0]
	if got.ChargePoints[0].ChargeBoxID != "CP-1" || *got.ConnectorID != 2 || got.IDTag != "TAG1" {
		t.Errorf("dispatched %+v", got)
	}
	if len(resp.Cookies()) != 0 {
		t.Errorf("external endpoint set cookies %v", resp.Cookies())
	}
}

func TestStopCharging_Accepted(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts.URL+"/api/external/charging/stop",
		`{"chargePointId":"CP-1","transactionId":77}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var ack charging.Acknowledgment
	decode(t, resp, &ack)
	if ack.Status != charging.StatusStopAccepted || ack.TaskID != 1 {
		t.Errorf("ack = %+v, want STOP_ACCEPTED/1", ack)
	}
	if env.facility.stops[0].TransactionID != 77 {
		t.Errorf("transaction id = %d, want 77", env.facility.stops[0].TransactionID)
	}
}

func TestStartCharging_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		path  string
		body  string
		field string
	}{
		{"missing id tag", "/start", `{"chargePointId":"CP-1"}`, "idTag"},
		{"blank charge point", "/start", `{"chargePointId":"  ","idTag":"T"}`, "chargePointId"},
		{"id tag too long", "/start", `{"chargePointId":"CP-1","idTag":"123456789012345678901"}`, "idTag"},
		{"connector zero", "/start", `{"chargePointId":"CP-1","connectorId":0,"idTag":"T"}`, "connectorId"},
		{"connector not a number", "/start", `{"chargePointId":"CP-1","connectorId":"two","idTag":"T"}`, "connectorId"},
		{"missing transaction", "/stop", `{"chargePointId":"CP-1"}`, "transactionId"},
		{"empty body", "/stop", ``, "body"},
		{"wildcard charge point", "/start", `{"chargePointId":"CP1/#","idTag":"T"}`, "chargePointId"},
		{"nested charge point", "/stop", `{"chargePointId":"a/b/c","transactionId":1}`, "chargePointId"},
		{"type error keeps other fields", "/start", `{"connectorId":"x"}`, "idTag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, env.ts.URL+"/api/external/charging"+tt.path, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}

			var body errorBody
			decode(t, resp, &body)
			if body.Code != "validation_error" {
				t.Errorf("code = %q, want validation_error", body.Code)
			}
			found := false
			for _, f := range body.Fields {
				if f.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("fields = %+v, want one for %q", body.Fields, tt.field)
			}
		})
	}

	if len(env.facility.starts)+len(env.facility.stops) != 0 {
		t.Error("invalid requests reached the dispatch facility")
	}
}

func TestStartCharging_DispatchErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"bus down", fmt.Errorf("%w: %w", dispatch.ErrDispatchFailed, dispatch.ErrUnavailable), http.StatusServiceUnavailable, "dispatch_unavailable"},
		{"publish failed", fmt.Errorf("%w: timeout", dispatch.ErrDispatchFailed), http.StatusBadGateway, "dispatch_failed"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.facility.err = tt.err

			resp := postJSON(t, env.ts.URL+"/api/external/charging/start", `{"chargePointId":"CP-1","idTag":"T"}`)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var body map[string]any
			decode(t, resp, &body)
			if _, ok := body["taskId"]; ok {
				t.Error("failure response carries a task id")
			}
			if body["code"] != tt.code {
				t.Errorf("code = %v, want %s", body["code"], tt.code)
			}
		})
	}
}

// ─── Programmatic chain ────────────────────────────────────────────

func TestAPI_RequiresCredentials(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/api/v1/tasks/1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != `Basic realm="chargegate"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
	if len(resp.Cookies()) != 0 {
		t.Errorf("api chain set cookies %v", resp.Cookies())
	}
}

func TestPaths_CannotCrossChains(t *testing.T) {
	env := newTestEnv(t)
	env.tasks.Put(&dispatch.Task{ID: env.tasks.Next(), Status: dispatch.TaskSubmitted})

	for _, path := range []string{
		"/api/v1/tasks/..%2F..%2Fexternal",
		"/manager/operations/tasks/..%2F..%2F..%2Fstatic",
	} {
		resp, err := env.client(t).Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		var body errorBody
		decode(t, resp, &body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest || !strings.Contains(body.Message, "escaped") {
			t.Errorf("GET %s = %d %q, want 400 from the gateway", path, resp.StatusCode, body.Message)
		}
	}

	resp, err := http.Get(env.ts.URL + "/api/external/../v1/tasks/1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("dot segments into /api/v1 status = %d, want 401", resp.StatusCode)
	}

	resp, err = env.client(t).Get(env.ts.URL + "/static/../manager/operations/tasks/1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/manager/signin" {
		t.Errorf("dot segments into /manager = %d %q, want redirect to sign-in", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp = postJSON(t, env.ts.URL+"/api/v1/../external/charging/start", `{"chargePointId":"CP-1","idTag":"T"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("cleaned public path status = %d, want 200", resp.StatusCode)
	}
	if len(env.facility.starts) != 1 {
		t.Errorf("facility starts = %d, want 1", len(env.facility.starts))
	}
}

func TestAPI_TaskPolling(t *testing.T) {
	env := newTestEnv(t)
	env.tasks.Put(&dispatch.Task{
		ID:           env.tasks.Next(),
		Action:       dispatch.ActionRemoteStart,
		Protocol:     dispatch.ProtocolOCPP16J,
		ChargeBoxIDs: []string{"CP-1"},
		Status:       dispatch.TaskSubmitted,
		SubmittedAt:  time.Now(),
	})

	get := func(path string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, env.ts.URL+path, nil)
		req.SetBasicAuth("partner", "secret")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := get("/api/v1/tasks/1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var task dispatch.Task
	decode(t, resp, &task)
	if task.ID != 1 || task.Status != dispatch.TaskSubmitted {
		t.Errorf("task = %+v", task)
	}

	if resp := get("/api/v1/tasks/99"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404", resp.StatusCode)
	}
	if resp := get("/api/v1/tasks/abc"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/health", nil)
	req.SetBasicAuth("partner", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Checks = map[string]HealthChecker{"mqtt": failingCheck{}}
	})

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/health", nil)
	req.SetBasicAuth("partner", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	decode(t, resp, &body)
	if body.Status != "degraded" || body.Components["mqtt"] != "broker unreachable" {
		t.Errorf("body = %+v", body)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts.URL+"/api/external/charging/start", `{}`)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/manager/signin", nil)
	req.Header.Set("X-Request-ID", "client-id-123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "client-id-123" {
		t.Errorf("X-Request-ID = %q, want client-id-123", got)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"https://partner.example"}
	})

	preflight := func(path, origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+path, nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("OPTIONS: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := preflight("/api/external/charging/start", "https://partner.example")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://partner.example" {
		t.Errorf("Allow-Origin = %q", got)
	}

	resp = preflight("/api/external/charging/start", "https://evil.example")
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}

	resp = preflight("/manager/signin", "https://partner.example")
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("console path carries CORS headers: %q", got)
	}
}

func TestNotFound_JSON(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts.URL+"/api/external/nothing", `{}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body errorBody
	decode(t, resp, &body)
	if body.Code != "not_found" {
		t.Errorf("code = %q, want not_found", body.Code)
	}
}

// ─── Interactive chain ─────────────────────────────────────────────

func TestRoot_RedirectsHome(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	resp, err := c.Get(env.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/manager/home" {
		t.Errorf("status = %d location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestSignInPage_RendersToken(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	resp, err := c.Get(env.ts.URL + "/manager/signin?error")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	page := readAll(t, resp)
	token := env.cookie(c, "XSRF-TOKEN")
	if !strings.Contains(page, `value="`+token+`"`) {
		t.Error("page does not embed the csrf token")
	}
	if !strings.Contains(page, "Invalid username or password") {
		t.Error("page does not show the failure notice")
	}
}

func TestHome_AnonymousRedirectsToSignIn(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	resp, err := c.Get(env.ts.URL + "/manager/home")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/manager/signin" {
		t.Errorf("status = %d location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestSignIn_FullFlow(t *testing.T) {
	env := newTestEnv(t)
	env.tasks.Put(&dispatch.Task{ID: env.tasks.Next(), Action: dispatch.ActionRemoteStop, Status: dispatch.TaskSubmitted})

	c, resp, preToken := env.signIn(t, "admin", testPassword)
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/manager/home" {
		t.Fatalf("sign-in status = %d location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if env.cookie(c, "CHARGEGATE_SESSION") == "" {
		t.Fatal("no session cookie after sign-in")
	}
	if env.cookie(c, "XSRF-TOKEN") == preToken {
		t.Error("csrf token not rotated")
	}

	resp, err := c.Get(env.ts.URL + "/manager/home")
	if err != nil {
		t.Fatalf("GET home: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("home status = %d, want 200", resp.StatusCode)
	}
	var home struct {
		Operator struct {
			ID string `json:"id"`
		} `json:"operator"`
		RecentTasks []dispatch.Task `json:"recentTasks"`
	}
	decode(t, resp, &home)
	if home.Operator.ID != "op-admin" || len(home.RecentTasks) != 1 {
		t.Errorf("home = %+v", home)
	}

	tasksResp, err := c.Get(env.ts.URL + "/manager/operations/tasks/1")
	if err != nil {
		t.Fatalf("GET task: %v", err)
	}
	defer tasksResp.Body.Close()
	if tasksResp.StatusCode != http.StatusOK {
		t.Errorf("task status = %d, want 200", tasksResp.StatusCode)
	}
}

func TestSignIn_WrongPassword(t *testing.T) {
	env := newTestEnv(t)

	c, resp, _ := env.signIn(t, "admin", "nope")
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/manager/signin?error" {
		t.Errorf("status = %d location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if env.cookie(c, "CHARGEGATE_SESSION") != "" {
		t.Error("session issued for bad credentials")
	}
}

func TestSignIn_RejectsMissingCSRF(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	resp, err := c.PostForm(env.ts.URL+"/manager/signin", url.Values{
		"username": {"admin"},
		"password": {testPassword},
	})
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if env.cookie(c, "CHARGEGATE_SESSION") != "" {
		t.Error("session issued without csrf token")
	}
}

func TestManager_NonAdminForbidden(t *testing.T) {
	env := newTestEnv(t)

	c, _, _ := env.signIn(t, "viewer", testPassword)
	resp, err := c.Get(env.ts.URL + "/manager/home")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestSignOut(t *testing.T) {
	env := newTestEnv(t)
	c, _, _ := env.signIn(t, "admin", testPassword)

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/manager/signout", nil)
	req.Header.Set("X-XSRF-TOKEN", env.cookie(c, "XSRF-TOKEN"))
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("POST signout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/manager/signin?logout" {
		t.Fatalf("status = %d location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, err = c.Get(env.ts.URL + "/manager/home")
	if err != nil {
		t.Fatalf("GET home: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("home after sign-out status = %d, want 302", resp.StatusCode)
	}
}

func TestLegacy_UnconfiguredUpstream(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/services/CentralSystemService")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestLegacy_ProxiesUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprintf(w, "<ok path=%q/>", r.URL.Path)
	}))
	defer upstream.Close()

	env := newTestEnv(t, func(d *Deps) { d.Legacy.UpstreamURL = upstream.URL })

	resp, err := http.Get(env.ts.URL + "/services/CentralSystemService")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body := readAll(t, resp); body != `<ok path="/services/CentralSystemService"/>` {
		t.Errorf("body = %q", body)
	}
}

func TestNew_InvalidLegacyUpstream(t *testing.T) {
	_, err := newLegacyProxy(config.LegacyConfig{UpstreamURL: "not a url"}, logging.Nop())
	if err == nil {
		t.Error("expected error for invalid upstream URL")
	}
}

// ─── Audit trail ───────────────────────────────────────────────────

func TestAudit_RecordsSecurityEvents(t *testing.T) {
	trail := &fakeAudit{}
	env := newTestEnv(t, func(d *Deps) { d.Audit = trail })

	env.signIn(t, "admin", "wrong")
	c, _, _ := env.signIn(t, "admin", testPassword)
	postJSON(t, env.ts.URL+"/api/external/charging/start", `{"chargePointId":"CP-9","idTag":"T"}`)
	postJSON(t, env.ts.URL+"/api/external/charging/start", `{"chargePointId":"CP-9"}`)

	got := trail.actions()
	want := []string{audit.ActionSignInFailed, audit.ActionSignIn, audit.ActionRemoteStart}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("actions = %v, want %v", got, want)
	}

	trail.mu.Lock()
	start := trail.events[2]
	signIn := trail.events[1]
	trail.mu.Unlock()
	if start.Chain != gateway.ChainProgrammatic || start.Target != "CP-9" || start.TaskID != 1 {
		t.Errorf("start event = %+v", start)
	}
	if signIn.Chain != gateway.ChainInteractive || signIn.Actor != "admin" {
		t.Errorf("sign-in event = %+v", signIn)
	}

	resp, err := c.Get(env.ts.URL + "/manager/operations/audit?action=" + audit.ActionRemoteStart)
	if err != nil {
		t.Fatalf("GET audit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit status = %d, want 200", resp.StatusCode)
	}
	var page audit.Page
	decode(t, resp, &page)
	if page.Total != 1 {
		t.Errorf("audit total = %d, want 1", page.Total)
	}

	bad, err := c.Get(env.ts.URL + "/manager/operations/audit?limit=-1")
	if err != nil {
		t.Fatalf("GET audit: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", bad.StatusCode)
	}
}

func TestAudit_DispatchFailureRecorded(t *testing.T) {
	trail := &fakeAudit{}
	env := newTestEnv(t, func(d *Deps) { d.Audit = trail })
	env.facility.err = fmt.Errorf("%w: broker gone", dispatch.ErrDispatchFailed)

	postJSON(t, env.ts.URL+"/api/external/charging/stop", `{"chargePointId":"CP-1","transactionId":5}`)

	trail.mu.Lock()
	defer trail.mu.Unlock()
	if len(trail.events) != 1 {
		t.Fatalf("events = %d, want 1", len(trail.events))
	}
	if e := trail.events[0]; e.Outcome != audit.OutcomeFailed || e.TaskID != 0 {
		t.Errorf("event = %+v", e)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func wsURL(env *testEnv) string {
	return "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/websocket"
}

func TestWebSocket_RequiresSession(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env), nil)
	if err == nil {
		t.Fatal("expected dial to fail without a session")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("resp = %v, want 401", resp)
	}
}

func TestWebSocket_ReceivesTaskEvents(t *testing.T) {
	env := newTestEnv(t)
	c, _, _ := env.signIn(t, "admin", testPassword)

	dialer := websocket.Dialer{Jar: c.Jar}
	ws, resp, err := dialer.Dial(wsURL(env)+"?channels="+dispatch.ChannelTaskResult, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	defer ws.Close()
	waitForClients(t, env.srv.Hub(), 1)

	env.srv.Hub().Broadcast(dispatch.ChannelTaskSubmitted, map[string]any{"taskId": 1})
	env.srv.Hub().Broadcast(dispatch.ChannelTaskResult, map[string]any{"taskId": 1})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt Event
	if err := ws.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Channel != dispatch.ChannelTaskResult {
		t.Errorf("first event channel = %q, want only %q", evt.Channel, dispatch.ChannelTaskResult)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	env := newTestEnv(t)
	c, _, _ := env.signIn(t, "admin", testPassword)

	dialer := websocket.Dialer{Jar: c.Jar}
	_, resp, err := dialer.Dial(wsURL(env)+"?channels=device.state", nil)
	if err == nil {
		t.Fatal("dial with unknown channel succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("resp = %v, want 400", resp)
	}
}

// ─── Hub ───────────────────────────────────────────────────────────

func newTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub, cancel
}

func newLiveClient(channels ...string) *liveClient {
	c := &liveClient{send: make(chan []byte, liveBuffer), channels: map[string]bool{}}
	for _, ch := range channels {
		c.channels[ch] = true
	}
	return c
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_BroadcastFollowsChannels(t *testing.T) {
	hub, _ := newTestHub(t)
	submitted := newLiveClient(dispatch.ChannelTaskSubmitted)
	results := newLiveClient(dispatch.ChannelTaskResult)
	hub.add(submitted)
	hub.add(results)

	hub.Broadcast(dispatch.ChannelTaskSubmitted, map[string]any{"taskId": 3})

	select {
	case msg := <-submitted.send:
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if evt.Channel != dispatch.ChannelTaskSubmitted || evt.At.IsZero() {
			t.Errorf("event = %+v", evt)
		}
	default:
		t.Error("follower of task.submitted got nothing")
	}
	select {
	case <-results.send:
		t.Error("task.result follower got a task.submitted event")
	default:
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub, _ := newTestHub(t)
	slow := newLiveClient(dispatch.ChannelTaskResult)
	hub.add(slow)

	for i := 0; i <= liveBuffer; i++ {
		hub.Broadcast(dispatch.ChannelTaskResult, map[string]any{"taskId": i})
	}

	if hub.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d, want slow client dropped", hub.ClientCount())
	}
	drained := 0
	for range slow.send {
		drained++
	}
	if drained != liveBuffer {
		t.Errorf("buffered events = %d, want %d", drained, liveBuffer)
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub, cancel := newTestHub(t)
	c := newLiveClient(dispatch.ChannelTaskResult)
	if !hub.add(c) {
		t.Fatal("add() refused before shutdown")
	}

	cancel()
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("received an event instead of a closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed on shutdown")
	}
	if hub.add(newLiveClient()) {
		t.Error("add() accepted a client after shutdown")
	}
	hub.remove(c) // already gone; must not close twice
}

func TestParseChannels(t *testing.T) {
	all, err := parseChannels("")
	if err != nil || !all[dispatch.ChannelTaskSubmitted] || !all[dispatch.ChannelTaskResult] {
		t.Errorf("parseChannels(\"\") = %v, %v, want every task channel", all, err)
	}
	one, err := parseChannels(" task.result ")
	if err != nil || len(one) != 1 || !one[dispatch.ChannelTaskResult] {
		t.Errorf("parseChannels(task.result) = %v, %v", one, err)
	}
	if _, err := parseChannels("task.result,bogus"); err == nil {
		t.Error("parseChannels accepted an unknown channel")
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.Host = "127.0.0.1"
		d.Config.Port = 0
	})

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNew_MissingDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no deps should fail")
	}
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(b)
}
