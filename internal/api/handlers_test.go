package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/events"
	"github.com/mattjoyce/pxshell/internal/history"
	"github.com/mattjoyce/pxshell/internal/pool"
	"github.com/mattjoyce/pxshell/internal/remote"
	"github.com/mattjoyce/pxshell/internal/render"
	"github.com/mattjoyce/pxshell/internal/results"
)

type stubHandle struct {
	id      string
	done    bool
	results []remote.Result
	err     error
}

func (h *stubHandle) ID() string                                         { return h.id }
func (h *stubHandle) SubmittedAt() time.Time                             { return time.Unix(1700000000, 0).UTC() }
func (h *stubHandle) Targets() []int                                     { return []int{0, 1} }
func (h *stubHandle) Wait(context.Context, time.Time) error              { return nil }
func (h *stubHandle) WaitForOutput(context.Context, time.Duration) error { return nil }
func (h *stubHandle) WaitInteractive(context.Context) error              { return nil }
func (h *stubHandle) Done() bool                                         { return h.done }
func (h *stubHandle) OutputReady() bool                                  { return h.done }
func (h *stubHandle) Get(context.Context) ([]remote.Result, error)       { return h.results, h.err }
func (h *stubHandle) DisplayOutputs(io.Writer, render.GroupBy) error     { return nil }
func (h *stubHandle) StreamOutput(io.Writer) func()                      { return func() {} }

type stubEngines []pool.EngineStatus

func (s stubEngines) Status() []pool.EngineStatus { return s }

type stubHistory struct {
	entries []history.Entry
	limit   int
	err     error
}

func (s *stubHistory) List(_ context.Context, limit int) ([]history.Entry, error) {
	s.limit = limit
	return s.entries, s.err
}

type harness struct {
	cfg   *config.ExecutionConfig
	cache *results.Cache
	hub   *events.Hub
	hist  *stubHistory
	srv   *Server
}

func newHarness(t *testing.T, apiKey string) *harness {
	t.Helper()
	h := &harness{
		cfg:   config.NewExecutionConfig(config.ExecutionSettings{Targets: config.AllEngines(), Block: true, ProgressAfter: 2 * time.Second}),
		cache: results.NewCache(nil),
		hub:   events.NewHub(16),
		hist:  &stubHistory{},
	}
	h.srv = New(Config{Listen: "127.0.0.1:0", APIKey: apiKey}, Deps{
		Settings: h.cfg,
		Results:  h.cache,
		History:  h.hist,
		Engines:  stubEngines{{ID: 0, Busy: true, Completed: 3}, {ID: 1, Completed: 2}},
		Events:   h.hub,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func (h *harness) get(t *testing.T, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rr := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, "secret")
	rr := h.get(t, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[HealthzResponse](t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Engines)
	assert.Equal(t, 1, resp.EnginesBusy)
}

func TestAuthRequiredWhenKeyConfigured(t *testing.T) {
	h := newHarness(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, h.get(t, "/config", "").Code)
	assert.Equal(t, http.StatusUnauthorized, h.get(t, "/config", "wrong").Code)
	assert.Equal(t, http.StatusOK, h.get(t, "/config", "secret").Code)
}

func TestNoAuthWithoutKey(t *testing.T) {
	h := newHarness(t, "")
	assert.Equal(t, http.StatusOK, h.get(t, "/config", "").Code)
}

func TestConfigReflectsUpdates(t *testing.T) {
	h := newHarness(t, "")
	targets, none := "0:2", "none"
	require.NoError(t, h.cfg.Update(config.ConfigUpdate{Targets: &targets, InterruptSignal: &none}))

	resp := decode[ConfigResponse](t, h.get(t, "/config", ""))
	assert.Equal(t, "0:2", resp.Targets)
	assert.True(t, resp.Block)
	assert.Equal(t, "none", resp.SignalOnInterrupt)
	assert.Equal(t, 2.0, resp.ProgressAfterSeconds)
	assert.Equal(t, "type", resp.GroupOutputs)
}

func TestEngines(t *testing.T) {
	h := newHarness(t, "")
	resp := decode[EnginesResponse](t, h.get(t, "/engines", ""))
	require.Len(t, resp.Engines, 2)
	assert.True(t, resp.Engines[0].Busy)
	assert.EqualValues(t, 2, resp.Engines[1].Completed)
}

func TestLastResult(t *testing.T) {
	h := newHarness(t, "")
	assert.Equal(t, http.StatusNotFound, h.get(t, "/results/last", "").Code)

	h.cache.Store(&stubHandle{id: "running"}, "")
	resp := decode[ResultResponse](t, h.get(t, "/results/last", ""))
	assert.Equal(t, "running", resp.ID)
	assert.False(t, resp.Done)
	assert.Empty(t, resp.Results)

	h.cache.Store(&stubHandle{
		id:   "finished",
		done: true,
		results: []remote.Result{
			{Engine: 0, Stdout: "a\n"},
			{Engine: 1, Stderr: "boom\n", ExitCode: 2},
		},
		err: errors.New("engine 1 failed"),
	}, "")
	resp = decode[ResultResponse](t, h.get(t, "/results/last", ""))
	assert.Equal(t, "finished", resp.ID)
	assert.True(t, resp.Done)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a\n", resp.Results[0].Stdout)
	assert.Equal(t, 2, resp.Results[1].ExitCode)
	assert.Equal(t, "engine 1 failed", resp.Error)
}

func TestHistory(t *testing.T) {
	h := newHarness(t, "")
	done := time.Now().UTC()
	h.hist.entries = []history.Entry{{
		ID:          "s1",
		Command:     "hostname",
		Targets:     []int{0},
		Blocking:    true,
		Status:      history.StatusSucceeded,
		SubmittedAt: done.Add(-time.Second),
		CompletedAt: &done,
	}}

	resp := decode[HistoryResponse](t, h.get(t, "/history?limit=1000", ""))
	require.Len(t, resp.Submissions, 1)
	assert.Equal(t, "hostname", resp.Submissions[0].Command)
	assert.Equal(t, "succeeded", resp.Submissions[0].Status)
	assert.Equal(t, maxHistoryLimit, h.hist.limit)

	assert.Equal(t, http.StatusBadRequest, h.get(t, "/history?limit=abc", "").Code)
}

func TestHistoryDisabled(t *testing.T) {
	h := newHarness(t, "")
	h.srv.deps.History = nil
	assert.Equal(t, http.StatusNotFound, h.get(t, "/history", "").Code)
}

func TestEventsReplayAndLive(t *testing.T) {
	h := newHarness(t, "")
	h.hub.Publish(events.SubmissionCreated, events.SubmissionData{ID: "s1", Targets: []int{0}})

	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	next := func(prefix string) string {
		for {
			select {
			case l, ok := <-lines:
				require.True(t, ok, "stream closed")
				if strings.HasPrefix(l, prefix) {
					return l
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	assert.Equal(t, "event: submission.created", next("event:"))
	assert.Contains(t, next("data:"), `"id":"s1"`)

	h.hub.Publish(events.SubmissionCompleted, events.SubmissionData{ID: "s1", Status: "succeeded"})
	assert.Equal(t, "event: submission.completed", next("event:"))
	assert.Contains(t, next("data:"), `"status":"succeeded"`)
}

func TestParseLastEventID(t *testing.T) {
	assert.EqualValues(t, 0, parseLastEventID(""))
	assert.EqualValues(t, 0, parseLastEventID("x"))
	assert.EqualValues(t, 0, parseLastEventID("-3"))
	assert.EqualValues(t, 7, parseLastEventID("7"))
}

func TestParseEventTypes(t *testing.T) {
	assert.Nil(t, parseEventTypes(""))
	assert.Nil(t, parseEventTypes(" , "))
	assert.True(t, parseEventTypes("").match(events.SubmissionCreated))

	want := parseEventTypes("submission.completed, autodispatch.enabled")
	assert.True(t, want.match(events.SubmissionCompleted))
	assert.True(t, want.match(events.AutoDispatchEnabled))
	assert.False(t, want.match(events.SubmissionCreated))
}

func TestResumePoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/events?last_event_id=4", nil)
	assert.EqualValues(t, 4, resumePoint(req))

	req.Header.Set("Last-Event-ID", "9")
	assert.EqualValues(t, 9, resumePoint(req))
}

func TestEventsFilteredByType(t *testing.T) {
	h := newHarness(t, "secret")
	h.hub.Publish(events.SubmissionCreated, events.SubmissionData{ID: "s1"})
	h.hub.Publish(events.SubmissionCompleted, events.SubmissionData{ID: "s1", Status: "failed"})

	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?types=submission.completed&api_key=secret", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event:") {
			assert.Equal(t, "event: submission.completed", line)
			return
		}
	}
	t.Fatalf("stream ended before any event: %v", sc.Err())
}

func TestOpenAPIDoc(t *testing.T) {
	h := newHarness(t, "secret")
	doc := decode[map[string]any](t, h.get(t, "/openapi.json", ""))
	assert.Equal(t, "3.1.0", doc["openapi"])
	paths := doc["paths"].(map[string]any)
	for _, p := range []string{"/healthz", "/config", "/engines", "/results/last", "/history", "/events"} {
		assert.Contains(t, paths, p)
	}
	assert.Contains(t, doc, "components")

	assert.NotContains(t, buildOpenAPIDoc(false), "components")
}
