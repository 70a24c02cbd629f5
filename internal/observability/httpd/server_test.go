package httpd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ticketd/internal/acquire"
	"ticketd/internal/claim"
	"ticketd/internal/domain"
	"ticketd/internal/task/scheduler"
	"ticketd/internal/trigger"
	logx "ticketd/pkg/logx"
)

type fakeTriggers struct {
	mu       sync.Mutex
	byID     map[string]domain.Trigger
	deleted  []string
	createFn func(req trigger.CreateRequest) (domain.Trigger, error)
	// armErr is returned next to the trigger by Update, as when the new
	// fire time cannot be armed.
	armErr error
}

func newFakeTriggers() *fakeTriggers {
	return &fakeTriggers{byID: map[string]domain.Trigger{
		"t-1": {ID: "t-1", IdentityID: 7, FireDate: "2025-01-06", FireTime: "09:30:00", IsActive: true},
	}}
}

func (f *fakeTriggers) Create(_ context.Context, req trigger.CreateRequest) (domain.Trigger, error) {
	if f.createFn != nil {
		return f.createFn(req)
	}
	if req.IdentityID <= 0 {
		return domain.Trigger{}, &domain.ValidationError{Field: "identity_id", Reason: "must be positive"}
	}
	return domain.Trigger{ID: "t-new", IdentityID: req.IdentityID, FireTime: req.FireTime, IsActive: true}, nil
}

func (f *fakeTriggers) Get(_ context.Context, id string) (domain.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return domain.Trigger{}, fmt.Errorf("get trigger %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (f *fakeTriggers) List(_ context.Context, identityID *int64) ([]domain.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Trigger
	for _, t := range f.byID {
		if identityID == nil || *identityID == t.IdentityID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTriggers) Upcoming(ctx context.Context, identityID *int64) ([]domain.Trigger, error) {
	return f.List(ctx, identityID)
}

func (f *fakeTriggers) Update(ctx context.Context, id string, p trigger.Patch) (domain.Trigger, error) {
	t, err := f.Get(ctx, id)
	if err != nil {
		return t, err
	}
	if p.FireTime != nil {
		t.FireTime = *p.FireTime
	}
	return t, f.armErr
}

func (f *fakeTriggers) Toggle(ctx context.Context, id string) (domain.Trigger, error) {
	t, err := f.Get(ctx, id)
	t.IsActive = !t.IsActive
	return t, err
}

func (f *fakeTriggers) Delete(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeTriggers) ArmedJobs() []scheduler.ArmedInfo {
	return []scheduler.ArmedInfo{{TriggerID: "t-1", IdentityID: 7, Kind: scheduler.KindOnce}}
}

func (f *fakeTriggers) RunNow(ctx context.Context, id string) (acquire.Run, error) {
	t, err := f.Get(ctx, id)
	if err != nil {
		return acquire.Run{}, err
	}
	return acquire.Run{TriggerID: t.ID, IdentityID: t.IdentityID, Attempts: []claim.Result{{StatusCode: claim.CodeSuccess, ClaimCode: "T-9"}}}, nil
}

type fakeClaims struct {
	mu    sync.Mutex
	kinds []acquire.Kind
	count int
}

func (f *fakeClaims) Execute(_ context.Context, kind acquire.Kind, identityID int64, count int) ([]claim.Result, error) {
	f.mu.Lock()
	f.kinds = append(f.kinds, kind)
	f.count = count
	f.mu.Unlock()
	if identityID == 404 {
		return nil, fmt.Errorf("identity %d: %w", identityID, domain.ErrNotFound)
	}
	return []claim.Result{{StatusCode: claim.CodeConflict}, {StatusCode: claim.CodeSuccess, ClaimCode: "T-1"}}, nil
}

func (f *fakeClaims) Batch(_ context.Context, ids []int64) []acquire.BatchItem {
	out := make([]acquire.BatchItem, len(ids))
	for i, id := range ids {
		out[i] = acquire.BatchItem{IdentityID: id, Result: claim.Result{StatusCode: claim.CodeSuccess}}
	}
	return out
}

func newTestHandler(t *testing.T, token string) (http.Handler, *fakeTriggers, *fakeClaims) {
	t.Helper()
	tr, cl := newFakeTriggers(), &fakeClaims{}
	api := NewAPI(tr, cl, func() any { return map[string]int{"in_flight": 0} }, logx.Nop())
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "ticketd_test_total", Help: "test"}))
	s := New(Config{Enabled: true, Token: token}, api, reg, logx.Nop())
	return s.Handler(Config{Token: token, Pprof: true}), tr, cl
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	h, _, _ := newTestHandler(t, "")

	cases := []struct {
		name, method, target, body string
		want                       int
		contains                   string
	}{
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK, "ok"},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, "ticketd_test_total"},
		{"pprof", http.MethodGet, "/debug/pprof/", "", http.StatusOK, "goroutine"},
		{"status", http.MethodGet, "/status", "", http.StatusOK, "in_flight"},
		{"jobs", http.MethodGet, "/debug/jobs", "", http.StatusOK, "t-1"},
		{"list", http.MethodGet, "/triggers?identity=7", "", http.StatusOK, "t-1"},
		{"list bad filter", http.MethodGet, "/triggers?identity=x", "", http.StatusBadRequest, "identity"},
		{"upcoming", http.MethodGet, "/triggers/upcoming", "", http.StatusOK, "t-1"},
		{"get", http.MethodGet, "/triggers/t-1", "", http.StatusOK, `"fire_time": "09:30:00"`},
		{"get missing", http.MethodGet, "/triggers/nope", "", http.StatusNotFound, "not found"},
		{"create", http.MethodPost, "/triggers", `{"identity_id":7,"fire_time":"08:00","fire_date":"2030-01-01"}`, http.StatusCreated, "t-new"},
		{"create invalid", http.MethodPost, "/triggers", `{"identity_id":0,"fire_time":"08:00"}`, http.StatusBadRequest, "identity_id"},
		{"create unknown field", http.MethodPost, "/triggers", `{"who":1}`, http.StatusBadRequest, "body"},
		{"patch", http.MethodPatch, "/triggers/t-1", `{"fire_time":"10:00:00"}`, http.StatusOK, "10:00:00"},
		{"toggle", http.MethodPost, "/triggers/t-1/toggle", "", http.StatusOK, `"is_active": false`},
		{"run", http.MethodPost, "/triggers/t-1/run", "", http.StatusOK, `"succeeded": true`},
		{"delete", http.MethodDelete, "/triggers/t-1", "", http.StatusNoContent, ""},
		{"delete missing", http.MethodDelete, "/triggers/nope", "", http.StatusNotFound, ""},
		{"claim", http.MethodPost, "/claims/7?strategy=sequential&count=2", "", http.StatusOK, `"ticket": "T-1"`},
		{"claim bad strategy", http.MethodPost, "/claims/7?strategy=magic", "", http.StatusBadRequest, "strategy"},
		{"claim bad identity", http.MethodPost, "/claims/abc", "", http.StatusBadRequest, "identity"},
		{"claim unknown identity", http.MethodPost, "/claims/404", "", http.StatusNotFound, ""},
		{"batch", http.MethodPost, "/claims/batch", `{"identity_ids":[1,2]}`, http.StatusOK, `"identity_id": 2`},
		{"batch empty", http.MethodPost, "/claims/batch", `{"identity_ids":[]}`, http.StatusBadRequest, "identity_ids"},
		{"method not allowed", http.MethodPut, "/triggers/t-1", "", http.StatusMethodNotAllowed, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, h, tc.method, tc.target, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("%s %s = %d, want %d (body %s)", tc.method, tc.target, rec.Code, tc.want, rec.Body.String())
			}
			if tc.contains != "" && !strings.Contains(rec.Body.String(), tc.contains) {
				t.Fatalf("body %s does not contain %q", rec.Body.String(), tc.contains)
			}
		})
	}
}

func TestClaimPassesStrategy(t *testing.T) {
	t.Parallel()
	h, _, cl := newTestHandler(t, "")
	rec := do(t, h, http.MethodPost, "/claims/7?strategy=race&count=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body claimResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Succeeded || len(body.Summary) != 2 || body.Summary[0].Code != claim.CodeConflict {
		t.Fatalf("unexpected response %+v", body)
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if len(cl.kinds) != 1 || cl.kinds[0] != acquire.Race || cl.count != 5 {
		t.Fatalf("Execute got kinds=%v count=%d", cl.kinds, cl.count)
	}
}

func TestUnarmedTriggerIsStoredWithWarning(t *testing.T) {
	t.Parallel()

	pastDue := fmt.Errorf("trigger t-2 at 2025-04-30T08:00:00Z: %w", scheduler.ErrPastDue)
	fault := &scheduler.SchedulingFault{TriggerID: "t-2", Err: fmt.Errorf("bad spec")}
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		err    error
		status int
	}{
		{"create past due", http.MethodPost, "/triggers", `{"identity_id":7,"fire_date":"2025-04-30","fire_time":"08:00"}`, pastDue, http.StatusCreated},
		{"create fault", http.MethodPost, "/triggers", `{"identity_id":7,"fire_time":"08:00"}`, fault, http.StatusCreated},
		{"update past due", http.MethodPatch, "/triggers/t-1", `{"fire_date":"2025-04-30"}`, pastDue, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, tr, _ := newTestHandler(t, "")
			tr.armErr = tc.err
			tr.createFn = func(trigger.CreateRequest) (domain.Trigger, error) {
				return domain.Trigger{ID: "t-2", IsActive: true}, tc.err
			}
			rec := do(t, h, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status=%d want %d: %s", rec.Code, tc.status, rec.Body.String())
			}
			var got struct {
				ID      string `json:"id"`
				Warning string `json:"warning"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.ID == "" || got.Warning != tc.err.Error() {
				t.Fatalf("body=%s", rec.Body.String())
			}
		})
	}

	h, tr, _ := newTestHandler(t, "")
	tr.createFn = func(trigger.CreateRequest) (domain.Trigger, error) {
		return domain.Trigger{}, fmt.Errorf("create trigger: disk full")
	}
	if rec := do(t, h, http.MethodPost, "/triggers", `{"identity_id":7,"fire_time":"08:00"}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("persist failure = %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	h, _, _ := newTestHandler(t, "s3cret")

	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want open", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/triggers", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/triggers?token=wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/triggers?token=s3cret", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/triggers", http.NoBody)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer token = %d", rec.Code)
	}
}

func TestServerApplyEnableDisable(t *testing.T) {
	t.Parallel()
	s := New(Config{}, NewAPI(newFakeTriggers(), &fakeClaims{}, nil, logx.Nop()), prometheus.NewRegistry(), logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Cleanup(func() { s.Stop(context.Background()) })

	s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	addr := waitAddr(t, s)
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	s.Apply(ctx, Config{Enabled: false})
	if got := s.Addr(); got != "" {
		t.Fatalf("Addr after disable = %q", got)
	}
}

func TestServerRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, prometheus.NewRegistry(), logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })
	s.Apply(context.Background(), Config{Enabled: true, Addr: "0.0.0.0:0"})
	time.Sleep(200 * time.Millisecond)
	if got := s.Addr(); got != "" {
		t.Fatalf("server bound %q without a token", got)
	}
}

func waitAddr(t *testing.T, s *Server) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "" {
			return a
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server did not start")
	return ""
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9":        true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.0.0.5:80":    false,
		"bad":            false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
