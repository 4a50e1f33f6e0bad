package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/droidscout/pkg/adapters/memory"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.SavePTG(ctx, "run-1", ports.SamplePTG()))
	require.NoError(t, store.SaveFDG(ctx, "run-1", &domain.FDG{Units: []*domain.FunctionalUnit{
		{Index: 0, FunctionDescription: "Browse", ToTest: true},
		{Index: 1, FunctionDescription: "Share", DataDependencies: []int{0}},
	}}))
	return store
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
	return w
}

func TestRuns(t *testing.T) {
	h := NewHandler(seededStore(t))

	w := get(t, h, "/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"runs": ["run-1"]}`, w.Body.String())

	w = get(t, h, "/runs/run-1/ptg")
	require.Equal(t, http.StatusOK, w.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, ports.SamplePTG().Bundle, doc["applicationBundle"])

	w = get(t, h, "/runs/run-1/fdg")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"dataDependencies":[0]`)

	w = get(t, h, "/runs/missing/ptg")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGraph(t *testing.T) {
	h := NewHandler(seededStore(t))

	w := get(t, h, "/runs/run-1/graph")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "graph TD"))

	w = get(t, h, "/runs/run-1/graph?kind=fdg")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "u0 --> u1")

	w = get(t, h, "/runs/run-1/graph?kind=tree")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScreenshot(t *testing.T) {
	h := NewHandler(seededStore(t))

	w := get(t, h, "/runs/run-1/pages/0/screenshot")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/runs/run-1/pages/x/screenshot").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/runs/run-1/pages/99/screenshot").Code)
}

func TestOpenAPI(t *testing.T) {
	h := NewHandler(seededStore(t))

	w := get(t, h, "/openapi.yaml")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "openapi: 3.0.3")

	spec, err := GetSpec()
	require.NoError(t, err)
	assert.NotNil(t, spec.Paths.Find("/runs/{runID}/graph"))

	t.Run("rejects undocumented values", func(t *testing.T) {
		w := get(t, h, "/runs/run-1/graph?kind=tree")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "kind")

		w = get(t, h, "/runs/run-1/pages/-1/screenshot")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("undocumented paths pass through", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(t, h, "/nowhere").Code)
	})
}

func TestHealthInfoAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("droidscout_pages_discovered_total 3\n"))
	})
	h := NewHandler(memory.NewStore(), WithMetrics(metrics))

	assert.JSONEq(t, `{"status": "ok"}`, get(t, h, "/health").Body.String())
	info := get(t, h, "/info").Body.String()
	assert.Contains(t, info, `"app":"droidscout-http"`)
	assert.Contains(t, info, `"api_version":"1.1.0"`)
	assert.Contains(t, get(t, h, "/metrics").Body.String(), "pages_discovered_total 3")
	assert.JSONEq(t, `{"runs": []}`, get(t, h, "/runs").Body.String())
}

func TestSubscribeEvents(t *testing.T) {
	streams := NewStreamManager()
	h := NewHandler(memory.NewStore(), WithStreams(streams))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/events?run_id=run-1&types=page_discovered", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		h.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		streams.mu.RLock()
		defer streams.mu.RUnlock()
		return len(streams.subscribers["run-1"]) == 1
	}, time.Second, 10*time.Millisecond)

	hooks := streams.Hooks("run-1")
	base := domain.EventBase{Timestamp: time.Now(), RunID: "run-1"}
	enter := base
	enter.Type = domain.EventPageEnter
	hooks.OnPageEnter(ctx, &domain.PageEvent{EventBase: enter, PageIndex: 0})
	found := base
	found.Type = domain.EventPageDiscovered
	hooks.OnPageDiscovered(ctx, &domain.PageEvent{EventBase: found, PageIndex: 4, Container: "Editor"})
	streams.Broadcast("other-run", domain.EventAction, map[string]int{"page_index": 9})

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	out := w.Body.String()
	assert.Contains(t, out, "event: ping")
	assert.Contains(t, out, "event: page_discovered\ndata: ")
	assert.Contains(t, out, `"container":"Editor"`)
	assert.NotContains(t, out, "page_enter", "filtered by types")
	assert.NotContains(t, out, `"page_index":9`)

	streams.mu.RLock()
	assert.Empty(t, streams.subscribers)
	streams.mu.RUnlock()
}

func TestSubscribeEvents_RequiresRunID(t *testing.T) {
	h := NewHandler(memory.NewStore())
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/events").Code)
}
