// Package api exposes the simulation over HTTP and websocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/evsim/api/ws"
	"github.com/kilianp07/evsim/core/charging"
	"github.com/kilianp07/evsim/core/logger"
	"github.com/kilianp07/evsim/core/simulation"
	"github.com/kilianp07/evsim/infra/history"
)

// Simulator is the part of simulation.Simulation the API drives.
type Simulator interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Snapshot() (simulation.Snapshot, error)
	SetPlugStatus(id int, status charging.PlugStatus) error
	CanSimulateNewActions() bool
}

// HistoryQuerier reads persisted run history.
type HistoryQuerier interface {
	Query(ctx context.Context, q history.Query) ([]history.Record, error)
}

// Options are the optional collaborators of a Handler.
type Options struct {
	History HistoryQuerier
	Hub     *ws.Hub
	Metrics http.Handler
	Log     logger.Logger
}

// Handler serves the HTTP command surface.
type Handler struct {
	cfg      Config
	runCtx   context.Context
	sim      Simulator
	history  HistoryQuerier
	hub      *ws.Hub
	metrics  http.Handler
	log      logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns a handler. Runs started through the API live under
// runCtx, not under the request that started them.
func NewHandler(runCtx context.Context, cfg Config, sim Simulator, opts Options) *Handler {
	cfg.SetDefaults()
	return &Handler{
		cfg:     cfg,
		runCtx:  runCtx,
		sim:     sim,
		history: opts.History,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		log:     logger.OrNop(opts.Log),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(h.cfg.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))

	r.GET("/health", h.Health)
	if h.metrics != nil && h.cfg.ExposeMetrics {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
	if h.hub != nil {
		r.GET("/ws", bearerAuth(h.cfg.Token, true), h.HandleWebSocket)
	}

	api := r.Group("/api", bearerAuth(h.cfg.Token, false))
	{
		api.POST("/simulation/start", h.StartSimulation)
		api.POST("/simulation/stop", h.StopSimulation)
		api.GET("/simulation", h.GetSimulation)
		api.GET("/simulation/cars/:id", h.GetCar)
		api.GET("/simulation/plugs", h.ListPlugs)
		api.PUT("/simulation/plugs/:id/status", h.SetPlugStatus)
		api.GET("/history", h.ListHistory)
	}
	return r
}

// StartSimulation launches a new run.
// POST /api/simulation/start
func (h *Handler) StartSimulation(c *gin.Context) {
	if err := h.sim.Start(h.runCtx); err != nil {
		if errors.Is(err, simulation.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.log.Errorf("start simulation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	snap, err := h.sim.Snapshot()
	if err != nil {
		c.JSON(http.StatusAccepted, gin.H{"message": "Simulation started"})
		return
	}
	h.log.Infof("simulation %s started via API", snap.RunID)
	c.JSON(http.StatusAccepted, gin.H{"message": "Simulation started", "run_id": snap.RunID})
}

// StopSimulation halts the current run and waits for it to drain. The drain
// is bounded by the simulation's shutdown timeout, not by the request.
// POST /api/simulation/stop
func (h *Handler) StopSimulation(c *gin.Context) {
	if err := h.sim.Stop(context.WithoutCancel(c.Request.Context())); err != nil {
		if errors.Is(err, simulation.ErrNotRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Simulation stopped"})
}

// GetSimulation returns the snapshot of the current or last run.
// GET /api/simulation
func (h *Handler) GetSimulation(c *gin.Context) {
	snap, ok := h.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap, "accepting": h.sim.CanSimulateNewActions()})
}

// GetCar returns the export of one car.
// GET /api/simulation/cars/:id
func (h *Handler) GetCar(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid car ID"})
		return
	}
	snap, ok := h.snapshot(c)
	if !ok {
		return
	}
	for _, car := range snap.Cars {
		if car.ID == id {
			c.JSON(http.StatusOK, gin.H{"data": car})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Car not found"})
}

// ListPlugs returns the plugs of the current run.
// GET /api/simulation/plugs
func (h *Handler) ListPlugs(c *gin.Context) {
	snap, ok := h.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap.Plugs})
}

type plugStatusRequest struct {
	Status charging.PlugStatus `json:"status" binding:"required"`
}

// SetPlugStatus takes a plug out of service or back.
// PUT /api/simulation/plugs/:id/status
func (h *Handler) SetPlugStatus(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plug ID"})
		return
	}
	var req plugStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status != charging.PlugFree && req.Status != charging.PlugOutOfService {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be free or out_of_service"})
		return
	}
	if err := h.sim.SetPlugStatus(id, req.Status); err != nil {
		switch {
		case errors.Is(err, charging.ErrUnknownPlug):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, charging.ErrPlugInUse), errors.Is(err, simulation.ErrNotRunning):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"plug_id": id, "status": req.Status})
}

// ListHistory queries persisted run history.
// GET /api/history?run_id=&car_id=&start=&end=
func (h *Handler) ListHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "History disabled"})
		return
	}
	q := history.Query{RunID: c.Query("run_id")}
	if s := c.Query("car_id"); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid car ID"})
			return
		}
		q.CarID = id
	}
	if s := c.Query("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start time"})
			return
		}
		q.Start = t
	}
	if s := c.Query("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end time"})
			return
		}
		q.End = t
	}
	recs, err := h.history.Query(c.Request.Context(), q)
	if err != nil {
		h.log.Errorf("query history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": recs})
}

// HandleWebSocket upgrades the connection and hands it to the hub.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorf("websocket upgrade: %v", err)
		return
	}
	h.hub.Serve(conn)
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	res := gin.H{"status": "ok", "accepting": h.sim.CanSimulateNewActions()}
	if h.hub != nil {
		res["ws_clients"] = h.hub.ClientCount()
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) snapshot(c *gin.Context) (simulation.Snapshot, bool) {
	snap, err := h.sim.Snapshot()
	if err != nil {
		if errors.Is(err, simulation.ErrNotRunning) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No simulation has been started"})
			return snap, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return snap, false
	}
	return snap, true
}
