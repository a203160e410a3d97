package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kilianp07/evsim/api"
	"github.com/kilianp07/evsim/api/ws"
	"github.com/kilianp07/evsim/config"
	"github.com/kilianp07/evsim/core/demand"
	coremetrics "github.com/kilianp07/evsim/core/metrics"
	coremon "github.com/kilianp07/evsim/core/monitoring"
	"github.com/kilianp07/evsim/core/simulation"
	"github.com/kilianp07/evsim/infra/gateway"
	"github.com/kilianp07/evsim/infra/history"
	"github.com/kilianp07/evsim/infra/logger"
	"github.com/kilianp07/evsim/infra/metrics"
	"github.com/kilianp07/evsim/infra/monitoring"
	"github.com/kilianp07/evsim/infra/mqtt"
	"github.com/kilianp07/evsim/internal/eventbus"
)

// Service wires a simulation to its oracle, sinks and notifiers.
type Service struct {
	Sim *simulation.Simulation

	cfg   *config.Config
	log   logger.Logger
	bus   *eventbus.TypedBus[simulation.StepUpdate]
	sink  coremetrics.StepSink
	mqtt  *mqtt.Client
	store history.Store
}

// Option customises a Service.
type Option func(*options)

type options struct {
	sinks []coremetrics.StepSink
}

// WithStepSink adds a sink next to the configured ones.
func WithStepSink(s coremetrics.StepSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// New creates a Service from the configuration.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logg := newLogger(cfg, "simulation")

	monitor, err := monitoring.NewSentryMonitor(cfg.Sentry, "simulation")
	if err != nil {
		return nil, err
	}
	coremon.Init(monitor)

	oracle, err := NewOracle(cfg, newLogger(cfg, "gateway"))
	if err != nil {
		return nil, fmt.Errorf("demand oracle: %w", err)
	}
	sink, err := coremetrics.NewStepSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	if len(o.sinks) > 0 {
		sink = coremetrics.NewMultiSink(append([]coremetrics.StepSink{sink}, o.sinks...)...)
	}
	store, err := history.NewStore(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	svc := &Service{
		cfg:   cfg,
		log:   logg,
		bus:   eventbus.NewTypedWithBuffer[simulation.StepUpdate](64),
		sink:  sink,
		store: store,
	}
	if cfg.MQTT.Enabled {
		svc.mqtt, err = mqtt.NewClient(cfg.MQTT, newLogger(cfg, "mqtt"))
		if err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
	}

	deps := simulation.Deps{
		Oracle:   oracle,
		Notifier: simulation.BusNotifier{Bus: svc.bus},
		Metrics:  sink,
		Log:      logg,
	}
	if store != nil {
		deps.History = history.Recorder{Store: store}
	}
	svc.Sim, err = simulation.New(cfg.Simulation, deps)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	return svc, nil
}

func newLogger(cfg *config.Config, component string) logger.Logger {
	return logger.NewZerologLogger(component, logger.Options{
		Debug:  cfg.Simulation.EnableDebugMode,
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}

// NewOracle builds the demand oracle selected by cfg.Demand.
func NewOracle(cfg *config.Config, log logger.Logger) (demand.Oracle, error) {
	switch cfg.Demand.Mode {
	case config.DemandStatic:
		var prof demand.StaticOracle
		for h, v := range cfg.Demand.Hourly {
			hour, err := strconv.Atoi(h)
			if err != nil || hour < 0 || hour > 23 {
				return nil, fmt.Errorf("hourly key %q is not an hour of day", h)
			}
			prof[hour] = v
		}
		if cfg.Demand.ProfileFile != "" {
			fromFile, err := demand.LoadProfile(cfg.Demand.ProfileFile)
			if err != nil {
				return nil, err
			}
			for h, v := range fromFile {
				if v != 0 {
					prof[h] = v
				}
			}
		}
		return prof, nil
	default:
		timeout := time.Duration(cfg.Demand.TimeoutMs) * time.Millisecond
		return gateway.NewClient(cfg.Simulation.GatewayRequestBaseURL,
			gateway.WithHTTPClient(&http.Client{Timeout: timeout}),
			gateway.WithLogger(log),
			gateway.WithClientCredentials(cfg.Demand.Auth))
	}
}

// startNotifiers launches the MQTT publisher and the Prometheus server. They
// stop with ctx.
func (s *Service) startNotifiers(ctx context.Context) {
	if s.mqtt != nil {
		pub := mqtt.NewStepPublisher(s.mqtt)
		go pub.Run(ctx, s.bus.Subscribe(), func(err error) {
			s.log.Warnf("mqtt step publish: %v", err)
		})
	}
	if port := s.cfg.Metrics.PrometheusPort; port != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, port, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
}

// RunOnce runs a single simulation to completion. Cancelling ctx stops the
// run gracefully within the configured shutdown timeout.
func (s *Service) RunOnce(ctx context.Context) error {
	bg, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.startNotifiers(bg)

	if err := s.Sim.Start(bg); err != nil {
		return err
	}
	select {
	case <-s.Sim.Done():
	case <-ctx.Done():
		s.log.Infof("interrupt received")
		if err := s.Sim.Stop(context.Background()); err != nil && !errors.Is(err, simulation.ErrNotRunning) {
			return err
		}
	}
	return s.Sim.Wait()
}

// Serve exposes the simulation over HTTP and websocket until ctx is
// cancelled. A run in progress is stopped on exit.
func (s *Service) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.startNotifiers(runCtx)

	hub := ws.NewHub(newLogger(s.cfg, "ws"))
	hub.SetInitDataProvider(func() any {
		snap, err := s.Sim.Snapshot()
		if err != nil {
			return nil
		}
		return snap
	})
	go hub.Run(runCtx)
	go api.Forward(runCtx, hub, s.bus.Subscribe())

	opts := api.Options{Hub: hub, Log: newLogger(s.cfg, "api")}
	if s.store != nil {
		opts.History = s.store
	}
	if s.cfg.API.ExposeMetrics {
		opts.Metrics = promhttp.Handler()
	}
	handler := api.NewHandler(runCtx, s.cfg.API, s.Sim, opts)
	var access io.Writer
	switch s.cfg.API.AccessLog {
	case "":
	case "-":
		access = os.Stdout
	default:
		lj := &lumberjack.Logger{Filename: s.cfg.API.AccessLog, MaxSize: 10, MaxBackups: 3}
		defer lj.Close()
		access = lj
	}
	root := api.Wrap(handler.Router(), s.cfg.API, access)
	err := api.Serve(ctx, s.cfg.API.Addr, root, newLogger(s.cfg, "api"))

	if stopErr := s.Sim.Stop(context.Background()); stopErr != nil && !errors.Is(stopErr, simulation.ErrNotRunning) {
		s.log.Warnf("stop simulation: %v", stopErr)
	}
	return err
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	defer coremon.Flush(2 * time.Second)
	var errs []error
	s.bus.Close()
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history store: %w", err))
		}
	}
	return errors.Join(errs...)
}
