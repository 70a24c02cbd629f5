package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"ticketd/internal/acquire"
	"ticketd/internal/claim"
	"ticketd/internal/domain"
	"ticketd/internal/task/scheduler"
	"ticketd/internal/trigger"
	logx "ticketd/pkg/logx"
)

const maxBody = 64 << 10

// Triggers is the trigger service surface the API exposes.
type Triggers interface {
	Create(ctx context.Context, req trigger.CreateRequest) (domain.Trigger, error)
	Get(ctx context.Context, id string) (domain.Trigger, error)
	List(ctx context.Context, identityID *int64) ([]domain.Trigger, error)
	Upcoming(ctx context.Context, identityID *int64) ([]domain.Trigger, error)
	Update(ctx context.Context, id string, p trigger.Patch) (domain.Trigger, error)
	Toggle(ctx context.Context, id string) (domain.Trigger, error)
	Delete(ctx context.Context, id string) error
	ArmedJobs() []scheduler.ArmedInfo
	RunNow(ctx context.Context, id string) (acquire.Run, error)
}

// Claims runs manual claims. *acquire.Strategies satisfies it.
type Claims interface {
	Execute(ctx context.Context, kind acquire.Kind, identityID int64, count int) ([]claim.Result, error)
	Batch(ctx context.Context, ids []int64) []acquire.BatchItem
}

// StatusFunc returns the body served at /status.
type StatusFunc func() any

type API struct {
	triggers Triggers
	claims   Claims
	status   StatusFunc
	log      logx.Logger
}

func NewAPI(triggers Triggers, claims Claims, status StatusFunc, log logx.Logger) *API {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &API{triggers: triggers, claims: claims, status: status, log: log.With(logx.String("comp", "api"))}
}

func (a *API) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", a.getStatus)
	mux.HandleFunc("GET /debug/jobs", a.listJobs)

	mux.HandleFunc("GET /triggers", a.listTriggers)
	mux.HandleFunc("POST /triggers", a.createTrigger)
	mux.HandleFunc("GET /triggers/upcoming", a.upcomingTriggers)
	mux.HandleFunc("GET /triggers/{id}", a.getTrigger)
	mux.HandleFunc("PATCH /triggers/{id}", a.updateTrigger)
	mux.HandleFunc("DELETE /triggers/{id}", a.deleteTrigger)
	mux.HandleFunc("POST /triggers/{id}/toggle", a.toggleTrigger)
	mux.HandleFunc("POST /triggers/{id}/run", a.runTrigger)

	mux.HandleFunc("POST /claims/batch", a.batchClaim)
	mux.HandleFunc("POST /claims/{identity}", a.claim)
}

func (a *API) getStatus(w http.ResponseWriter, _ *http.Request) {
	var body any = map[string]string{"status": "ok"}
	if a.status != nil {
		body = a.status()
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.triggers.ArmedJobs())
}

func (a *API) listTriggers(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFilter(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	out, err := a.triggers.List(r.Context(), identity)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(out))
}

func (a *API) upcomingTriggers(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFilter(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	out, err := a.triggers.Upcoming(r.Context(), identity)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(out))
}

// triggerResponse carries a persisted trigger plus a warning when it could
// not be armed (past due or scheduling fault).
type triggerResponse struct {
	domain.Trigger
	Warning string `json:"warning,omitempty"`
}

// armWarning reports whether err only means the stored trigger has no timer.
func armWarning(t domain.Trigger, err error) (string, bool) {
	if t.ID == "" {
		return "", false
	}
	var fault *scheduler.SchedulingFault
	if errors.Is(err, scheduler.ErrPastDue) || errors.As(err, &fault) {
		return err.Error(), true
	}
	return "", false
}

func (a *API) createTrigger(w http.ResponseWriter, r *http.Request) {
	var req trigger.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	t, err := a.triggers.Create(r.Context(), req)
	a.writeTrigger(w, http.StatusCreated, t, err)
}

func (a *API) writeTrigger(w http.ResponseWriter, status int, t domain.Trigger, err error) {
	if err == nil {
		writeJSON(w, status, triggerResponse{Trigger: t})
		return
	}
	if warning, ok := armWarning(t, err); ok {
		writeJSON(w, status, triggerResponse{Trigger: t, Warning: warning})
		return
	}
	a.writeError(w, err)
}

func (a *API) getTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := a.triggers.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) updateTrigger(w http.ResponseWriter, r *http.Request) {
	var p trigger.Patch
	if err := decodeBody(r, &p); err != nil {
		a.writeError(w, err)
		return
	}
	t, err := a.triggers.Update(r.Context(), r.PathValue("id"), p)
	a.writeTrigger(w, http.StatusOK, t, err)
}

func (a *API) deleteTrigger(w http.ResponseWriter, r *http.Request) {
	if err := a.triggers.Delete(r.Context(), r.PathValue("id")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) toggleTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := a.triggers.Toggle(r.Context(), r.PathValue("id"))
	a.writeTrigger(w, http.StatusOK, t, err)
}

type runResponse struct {
	acquire.Run
	Succeeded bool                  `json:"succeeded"`
	Summary   []acquire.CodeSummary `json:"summary"`
}

func (a *API) runTrigger(w http.ResponseWriter, r *http.Request) {
	run, err := a.triggers.RunNow(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Succeeded: run.Succeeded(), Summary: run.Summary()})
}

type claimResponse struct {
	IdentityID int64                 `json:"identity_id"`
	Strategy   acquire.Kind          `json:"strategy"`
	Succeeded  bool                  `json:"succeeded"`
	Results    []claim.Result        `json:"results"`
	Summary    []acquire.CodeSummary `json:"summary"`
}

// claim runs a manual claim: POST /claims/{identity}?strategy=race&count=5.
func (a *API) claim(w http.ResponseWriter, r *http.Request) {
	identityID, err := strconv.ParseInt(r.PathValue("identity"), 10, 64)
	if err != nil || identityID <= 0 {
		a.writeError(w, &domain.ValidationError{Field: "identity", Reason: "must be a positive integer"})
		return
	}
	kind, err := acquire.ParseKind(r.URL.Query().Get("strategy"))
	if err != nil {
		a.writeError(w, &domain.ValidationError{Field: "strategy", Reason: err.Error()})
		return
	}
	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		if count, err = strconv.Atoi(raw); err != nil || count < 0 {
			a.writeError(w, &domain.ValidationError{Field: "count", Reason: "must be a non-negative integer"})
			return
		}
	}

	results, err := a.claims.Execute(r.Context(), kind, identityID, count)
	if err != nil {
		a.writeError(w, err)
		return
	}
	run := acquire.Run{IdentityID: identityID, Strategy: kind, Attempts: results}
	a.log.Info("manual claim finished",
		logx.Int64("identity_id", identityID),
		logx.String("strategy", kind.String()),
		logx.Int("attempts", len(results)),
		logx.Bool("succeeded", run.Succeeded()),
	)
	writeJSON(w, http.StatusOK, claimResponse{
		IdentityID: identityID,
		Strategy:   kind,
		Succeeded:  run.Succeeded(),
		Results:    orEmpty(results),
		Summary:    run.Summary(),
	})
}

func (a *API) batchClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdentityIDs []int64 `json:"identity_ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if len(req.IdentityIDs) == 0 {
		a.writeError(w, &domain.ValidationError{Field: "identity_ids", Reason: "at least one id is required"})
		return
	}
	writeJSON(w, http.StatusOK, a.claims.Batch(r.Context(), req.IdentityIDs))
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "field": ve.Field})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": err.Error()})
	default:
		a.log.Warn("request failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func identityFilter(r *http.Request) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("identity"))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, &domain.ValidationError{Field: "identity", Reason: fmt.Sprintf("not an integer: %q", raw)}
	}
	return &id, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
