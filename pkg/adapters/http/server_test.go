package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/journey"
	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/observability"
	"github.com/aretw0/journey/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// watchingEngine adds definition reload events to a memory-backed engine.
type watchingEngine struct {
	*journey.Engine
	events chan string
}

func (w *watchingEngine) Watch(ctx context.Context) (<-chan string, error) {
	return w.events, nil
}

func newEngine(t *testing.T, opts ...journey.Option) *journey.Engine {
	t.Helper()
	defs, err := memory.NewFromPlaybook(
		domain.Playbook{ID: "onboarding", Name: "Customer onboarding"},
		domain.Item{ID: "welcome", Order: 0},
		domain.Item{ID: "profile", Order: 1, Kind: domain.KindTask, Required: true, Schema: schema.Schema{
			"name": schema.String(),
			"plan": schema.Enum("basic", "pro"),
		}},
		domain.Item{ID: "done", Order: 2, Kind: domain.KindMilestone},
	)
	require.NoError(t, err)

	eng, err := journey.New("", append([]journey.Option{journey.WithDefinitions(defs)}, opts...)...)
	require.NoError(t, err)
	return eng
}

type client struct {
	t    *testing.T
	base string
}

func (c client) do(method, path string, body any) (int, []byte) {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, data
}

func (c client) result(method, path string, body any) ResultView {
	c.t.Helper()
	code, data := c.do(method, path, body)
	require.Equal(c.t, http.StatusOK, code, string(data))
	var v ResultView
	require.NoError(c.t, json.Unmarshal(data, &v))
	return v
}

func (c client) failure(method, path string, body any, want int) ErrorBody {
	c.t.Helper()
	code, data := c.do(method, path, body)
	require.Equal(c.t, want, code, string(data))
	var e ErrorBody
	require.NoError(c.t, json.Unmarshal(data, &e))
	return e
}

func TestServer_Flow(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newEngine(t)))
	defer srv.Close()
	c := client{t: t, base: srv.URL}
	session := "/users/ana/playbooks/onboarding"

	res := c.result("POST", session+"/start", map[string]string{"external_ref": "crm-42"})
	assert.Equal(t, domain.StatusInProgress, res.Progress.Status)
	assert.Equal(t, "crm-42", res.Progress.ExternalRef)
	assert.Equal(t, domain.SourceDurable, res.Source)
	assert.False(t, res.Degraded)

	res = c.result("POST", session+"/next", nil)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)
	assert.Equal(t, 1, res.Progress.CurrentIndex)

	res = c.result("POST", session+"/next", nil)
	assert.Equal(t, domain.OutcomeBlocked, res.Outcome)
	assert.Equal(t, []string{"profile"}, res.Blocking)

	e := c.failure("PUT", session+"/responses/profile", map[string]any{"name": "Ana", "plan": "gold"}, http.StatusUnprocessableEntity)
	assert.Equal(t, "validation_failed", e.Code)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "plan", e.Fields[0].Key)

	res = c.result("PUT", session+"/responses/profile", map[string]any{"name": "Ana", "plan": "pro"})
	assert.Equal(t, "pro", res.Responses["profile"].Payload["plan"])
	assert.Equal(t, 1, res.Progress.CurrentIndex, "saving a response never moves the cursor")

	e = c.failure("PUT", session+"/responses/done", map[string]any{}, http.StatusConflict)
	assert.Equal(t, "item_not_reached", e.Code)

	e = c.failure("POST", session+"/jump/7", nil, http.StatusBadRequest)
	assert.Equal(t, "jump_rejected", e.Code)

	e = c.failure("POST", session+"/jump/first", nil, http.StatusBadRequest)
	assert.Equal(t, "bad_request", e.Code)

	res = c.result("POST", session+"/previous", nil)
	assert.Equal(t, 0, res.Progress.CurrentIndex)

	res = c.result("POST", session+"/jump/2", nil)
	assert.Equal(t, 2, res.Progress.CurrentIndex)

	res = c.result("POST", session+"/next", nil)
	assert.Equal(t, domain.OutcomeCompleted, res.Outcome)
	assert.Equal(t, domain.StatusCompleted, res.Progress.Status)

	e = c.failure("POST", session+"/abandon", nil, http.StatusConflict)
	assert.Equal(t, "invalid_transition", e.Code)

	res = c.result("GET", session, nil)
	assert.Equal(t, domain.StatusCompleted, res.Progress.Status)

	res = c.result("DELETE", session, nil)
	assert.Equal(t, domain.StatusNotStarted, res.Progress.Status)
	assert.Empty(t, res.Responses)
}

func TestServer_Errors(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newEngine(t)))
	defer srv.Close()
	c := client{t: t, base: srv.URL}

	e := c.failure("GET", "/users/bob/playbooks/onboarding", nil, http.StatusNotFound)
	assert.Equal(t, "not_found", e.Code)

	e = c.failure("POST", "/users/bob/playbooks/offboarding/start", nil, http.StatusNotFound)
	assert.Equal(t, "not_found", e.Code)

	e = c.failure("POST", "/users/bob/playbooks/onboarding/resolve?keep=maybe", nil, http.StatusBadRequest)
	assert.Equal(t, "bad_request", e.Code)

	e = c.failure("POST", "/users/bob/playbooks/onboarding/resolve", nil, http.StatusBadRequest)
	assert.Contains(t, e.Error, "keep")

	code, _ := c.do("PUT", "/users/bob/playbooks/onboarding/responses/profile", "not an object")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_Conflict(t *testing.T) {
	eng := newEngine(t)
	srv := httptest.NewServer(NewHandler(eng))
	defer srv.Close()
	c := client{t: t, base: srv.URL}
	session := "/users/ana/playbooks/onboarding"

	c.result("POST", session+"/start", nil)

	key := domain.NewSessionKey("ana", "onboarding")
	snap, err := eng.Cache().Read(key)
	require.NoError(t, err)
	snap.Progress.CurrentIndex = 1
	snap.Progress.FrontierIndex = 1
	snap.LastSavedAt = snap.LastSavedAt.Add(time.Hour)
	snap.Progress.UpdatedAt = snap.LastSavedAt
	require.NoError(t, eng.Cache().Write(key, snap))

	e := c.failure("GET", session, nil, http.StatusConflict)
	assert.Equal(t, "recovery_conflict", e.Code)
	require.NotNil(t, e.Durable)
	require.NotNil(t, e.Cached)
	assert.Equal(t, 0, e.Durable.CurrentIndex)
	assert.Equal(t, 1, e.Cached.Progress.CurrentIndex)

	res := c.result("POST", session+"/resolve?keep=local", nil)
	assert.Equal(t, 1, res.Progress.CurrentIndex)

	res = c.result("GET", session, nil)
	assert.Equal(t, 1, res.Progress.CurrentIndex)
}

func TestServer_Catalogue(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newEngine(t)))
	defer srv.Close()
	c := client{t: t, base: srv.URL}

	code, data := c.do("GET", "/playbooks", nil)
	require.Equal(t, http.StatusOK, code)
	var playbooks []domain.Playbook
	require.NoError(t, json.Unmarshal(data, &playbooks))
	require.Len(t, playbooks, 1)
	assert.Equal(t, []string{"welcome", "profile", "done"}, playbooks[0].ItemIDs)

	code, data = c.do("GET", "/playbooks/onboarding", nil)
	require.Equal(t, http.StatusOK, code)
	var def domain.Definition
	require.NoError(t, json.Unmarshal(data, &def))
	assert.Len(t, def.Items, 3)
	assert.Equal(t, domain.KindTask, def.Items[1].Kind)

	c.failure("GET", "/playbooks/offboarding", nil, http.StatusNotFound)
}

func TestServer_Meta(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	eng := newEngine(t, journey.WithLifecycleHooks(metrics.Hooks()))
	srv := httptest.NewServer(NewHandler(eng, WithMetrics(reg)))
	defer srv.Close()
	c := client{t: t, base: srv.URL}

	c.result("POST", "/users/ana/playbooks/onboarding/start", nil)

	code, data := c.do("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(data), `journey_sessions_started_total{playbook_id="onboarding"} 1`)

	code, data = c.do("GET", "/info", nil)
	require.Equal(t, http.StatusOK, code)
	var info map[string]string
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "1.0.0", info["api_version"])
	assert.Equal(t, journey.Version, info["version"])

	code, data = c.do("GET", "/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(data), "operationId: saveResponse")

	code, _ = c.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = c.do("OPTIONS", "/users/ana/playbooks/onboarding/next", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestGetSwagger_CoversRoutes(t *testing.T) {
	doc, err := GetSwagger()
	require.NoError(t, err)

	for _, path := range []string{
		"/playbooks",
		"/users/{userID}/playbooks/{playbookID}",
		"/users/{userID}/playbooks/{playbookID}/responses/{itemID}",
		"/users/{userID}/playbooks/{playbookID}/jump/{index}",
		"/events",
	} {
		assert.NotNil(t, doc.Paths.Find(path), path)
	}
}

func TestSubscribeEvents_Global(t *testing.T) {
	events := make(chan string, 1)
	events <- "onboarding.md"
	close(events)
	handler := NewHandler(&watchingEngine{Engine: newEngine(t), events: events})

	req := httptest.NewRequest("GET", "/events", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "event: ping")
	assert.Contains(t, body, "event: reload\ndata: onboarding.md")
}

func TestSubscribeEvents_GlobalUnsupported(t *testing.T) {
	handler := NewHandler(newEngine(t))

	req := httptest.NewRequest("GET", "/events", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSubscribeEvents_Session(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newEngine(t)))
	defer srv.Close()
	c := client{t: t, base: srv.URL}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events?user_id=ana&playbook_id=onboarding&watch=index,answers", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				select {
				case lines <- data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	next := func() *domain.ProgressDiff {
		t.Helper()
		select {
		case data, ok := <-lines:
			require.True(t, ok, "stream closed")
			var diff domain.ProgressDiff
			require.NoError(t, json.Unmarshal([]byte(data), &diff))
			return &diff
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return nil
		}
	}

	select {
	case data := <-lines:
		require.Equal(t, "connected", data)
	case <-ctx.Done():
		t.Fatal("no ping")
	}

	c.result("POST", "/users/ana/playbooks/onboarding/start", nil)
	diff := next()
	require.NotNil(t, diff.Status)
	assert.Equal(t, domain.StatusInProgress, *diff.Status)

	c.result("POST", "/users/ana/playbooks/onboarding/next", nil)
	diff = next()
	assert.Nil(t, diff.Status)
	require.NotNil(t, diff.CurrentIndex)
	assert.Equal(t, 1, *diff.CurrentIndex)

	// Blocked moves change nothing and publish nothing; the response does.
	c.result("POST", "/users/ana/playbooks/onboarding/next", nil)
	c.result("PUT", "/users/ana/playbooks/onboarding/responses/profile", map[string]any{"name": "Ana", "plan": "basic"})
	diff = next()
	assert.Equal(t, []string{"profile"}, diff.Answered)
}

func TestMatchesWatch(t *testing.T) {
	idx := 2
	status := domain.StatusCompleted

	assert.True(t, matchesWatch(&domain.ProgressDiff{}, nil))
	assert.True(t, matchesWatch(&domain.ProgressDiff{CurrentIndex: &idx}, []string{"index"}))
	assert.False(t, matchesWatch(&domain.ProgressDiff{CurrentIndex: &idx}, []string{"status"}))
	assert.True(t, matchesWatch(&domain.ProgressDiff{Status: &status}, []string{" status "}))
	assert.False(t, matchesWatch(&domain.ProgressDiff{Status: &status}, []string{"answers"}))
}
