package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evsim/api/ws"
	"github.com/kilianp07/evsim/core/charging"
	"github.com/kilianp07/evsim/core/fleet"
	"github.com/kilianp07/evsim/core/simulation"
	"github.com/kilianp07/evsim/infra/history"
)

type fakeSim struct {
	mu       sync.Mutex
	started  int
	running  bool
	startCtx context.Context
	stopCtx  context.Context
	snap     *simulation.Snapshot
	plugErr  error
	plugSet  map[int]charging.PlugStatus
}

func (f *fakeSim) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return simulation.ErrAlreadyRunning
	}
	f.started++
	f.running = true
	f.startCtx = ctx
	f.snap = &simulation.Snapshot{
		RunID:   "run-1",
		Running: true,
		Cars:    []fleet.Data{{ID: 1, Status: fleet.StatusReady, BatteryLevel: 10}},
		Plugs:   []charging.PlugData{{ID: 1, Status: charging.PlugFree}},
	}
	return nil
}

func (f *fakeSim) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCtx = ctx
	if !f.running {
		return simulation.ErrNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeSim) Snapshot() (simulation.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap == nil {
		return simulation.Snapshot{}, simulation.ErrNotRunning
	}
	return *f.snap, nil
}

func (f *fakeSim) SetPlugStatus(id int, st charging.PlugStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.plugErr != nil {
		return f.plugErr
	}
	if f.plugSet == nil {
		f.plugSet = map[int]charging.PlugStatus{}
	}
	f.plugSet[id] = st
	return nil
}

func (f *fakeSim) CanSimulateNewActions() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type memHistory struct{ recs []history.Record }

func (m *memHistory) Query(_ context.Context, q history.Query) ([]history.Record, error) {
	var res []history.Record
	for _, r := range m.recs {
		if q.RunID != "" && r.RunID != q.RunID {
			continue
		}
		if q.CarID != 0 && r.Car.CarID != q.CarID {
			continue
		}
		res = append(res, r)
	}
	return res, nil
}

func newTestRouter(sim Simulator, token string, opts Options) *gin.Engine {
	h := NewHandler(context.Background(), Config{Token: token, Mode: gin.TestMode, ExposeMetrics: true}, sim, opts)
	return h.Router()
}

func do(r http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestAuthRequired(t *testing.T) {
	r := newTestRouter(&fakeSim{}, "tok", Options{})

	rr := do(r, http.MethodGet, "/api/simulation", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(r, http.MethodGet, "/api/simulation", "bad", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(r, http.MethodGet, "/api/simulation", "to", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(r, http.MethodGet, "/api/simulation", "tok", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/simulation", nil)
	req.Header.Set("Authorization", "Basic tok")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rr = do(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStartStopLifecycle(t *testing.T) {
	sim := &fakeSim{}
	r := newTestRouter(sim, "tok", Options{})

	rr := do(r, http.MethodGet, "/api/simulation", "tok", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(r, http.MethodPost, "/api/simulation/start", "tok", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), "run-1")
	require.NotNil(t, sim.startCtx)
	assert.NoError(t, sim.startCtx.Err())

	rr = do(r, http.MethodPost, "/api/simulation/start", "tok", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(r, http.MethodGet, "/api/simulation", "tok", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data      simulation.Snapshot `json:"data"`
		Accepting bool                `json:"accepting"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.Data.RunID)
	assert.True(t, body.Accepting)

	rr = do(r, http.MethodPost, "/api/simulation/stop", "tok", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(r, http.MethodPost, "/api/simulation/stop", "tok", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestStopIgnoresRequestCancellation(t *testing.T) {
	sim := &fakeSim{}
	r := newTestRouter(sim, "", Options{})
	require.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/simulation/start", "", nil).Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/simulation/stop", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	sim.mu.Lock()
	defer sim.mu.Unlock()
	require.NotNil(t, sim.stopCtx)
	assert.NoError(t, sim.stopCtx.Err())
}

func TestGetCarAndPlugs(t *testing.T) {
	sim := &fakeSim{}
	require.NoError(t, sim.Start(context.Background()))
	r := newTestRouter(sim, "", Options{})

	rr := do(r, http.MethodGet, "/api/simulation/cars/1", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(r, http.MethodGet, "/api/simulation/cars/9", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(r, http.MethodGet, "/api/simulation/cars/x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(r, http.MethodGet, "/api/simulation/plugs", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"free"`)
}

func TestSetPlugStatus(t *testing.T) {
	sim := &fakeSim{}
	r := newTestRouter(sim, "", Options{})

	rr := do(r, http.MethodPut, "/api/simulation/plugs/1/status", "", []byte(`{"status":"out_of_service"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, charging.PlugOutOfService, sim.plugSet[1])

	rr = do(r, http.MethodPut, "/api/simulation/plugs/1/status", "", []byte(`{"status":"occupied"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(r, http.MethodPut, "/api/simulation/plugs/1/status", "", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	sim.plugErr = fmt.Errorf("plug 7: %w", charging.ErrUnknownPlug)
	rr = do(r, http.MethodPut, "/api/simulation/plugs/7/status", "", []byte(`{"status":"free"}`))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	sim.plugErr = fmt.Errorf("plug 1: %w", charging.ErrPlugInUse)
	rr = do(r, http.MethodPut, "/api/simulation/plugs/1/status", "", []byte(`{"status":"out_of_service"}`))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestListHistory(t *testing.T) {
	store := &memHistory{recs: []history.Record{
		{RunID: "a", Car: fleet.History{CarID: 1}},
		{RunID: "a", Car: fleet.History{CarID: 2}},
		{RunID: "b", Car: fleet.History{CarID: 1}},
	}}
	r := newTestRouter(&fakeSim{}, "", Options{History: store})

	rr := do(r, http.MethodGet, "/api/history?run_id=a", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data []history.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)

	rr = do(r, http.MethodGet, "/api/history?car_id=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(r, http.MethodGet, "/api/history?start=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(r, http.MethodGet, "/api/history?start=2024-01-01T00:00:00Z&end=2024-01-02", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(r, http.MethodGet, "/api/history?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	r = newTestRouter(&fakeSim{}, "", Options{})
	rr = do(r, http.MethodGet, "/api/history", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("sim_step 3\n"))
	})
	r := newTestRouter(&fakeSim{}, "tok", Options{Metrics: metrics})
	rr := do(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "sim_step")
}

func TestWebSocketForward(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := ws.NewHub(nil)
	go hub.Run(ctx)
	updates := make(chan simulation.StepUpdate, 1)
	go Forward(ctx, hub, updates)

	srv := httptest.NewServer(newTestRouter(&fakeSim{}, "tok", Options{Hub: hub}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=tok", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	updates <- simulation.StepUpdate{RunID: "r", Step: 2, Final: true}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg struct {
		Type string                `json:"type"`
		Data simulation.StepUpdate `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, ws.MsgTypeFinal, msg.Type)
	assert.Equal(t, 2, msg.Data.Step)
}

func TestWrapCORSAndAccessLog(t *testing.T) {
	router := newTestRouter(&fakeSim{}, "", Options{})
	var access bytes.Buffer
	h := Wrap(router, Config{AllowedOrigins: []string{"http://dash.local"}}, &access)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dash.local")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://dash.local", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, access.String(), `"GET /health HTTP/1.1" 200`)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestWrapDisabled(t *testing.T) {
	router := newTestRouter(&fakeSim{}, "", Options{})
	assert.Equal(t, http.Handler(router), Wrap(router, Config{}, nil))
}
