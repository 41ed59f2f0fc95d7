// Package daemon implements the server lifecycle manager.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/rtpscope/internal/analysis"
	"firestige.xyz/rtpscope/internal/capture"
	"firestige.xyz/rtpscope/internal/config"
	"firestige.xyz/rtpscope/internal/core"
	"firestige.xyz/rtpscope/internal/hub"
	logpkg "firestige.xyz/rtpscope/internal/log"
	"firestige.xyz/rtpscope/internal/metrics"
)

// Daemon manages the rtpscope server process lifecycle.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	logger     logpkg.Logger

	hub           *hub.Hub
	observer      *analysis.Observer
	supervisor    *Supervisor
	viewerServer  *hub.Server
	metricsServer *metrics.Server // nil if metrics disabled

	ctx      context.Context
	cancel   context.CancelFunc
	sigChan  chan os.Signal
	served   chan error
	stopOnce sync.Once
}

// New creates a daemon from the configuration file at configPath.
func New(configPath string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	d := NewWithConfig(cfg)
	d.configPath = configPath
	return d, nil
}

// NewWithConfig creates a daemon from an already loaded configuration.
func NewWithConfig(cfg *config.GlobalConfig) *Daemon {
	d := &Daemon{
		config: cfg,
		logger: logpkg.GetLogger(),
		served: make(chan error, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start initializes and starts all components. The initial capture source,
// when configured, is opened last so that early viewers see it from the
// first packet.
func (d *Daemon) Start() error {
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	d.logger.WithFields(map[string]interface{}{
		"config": d.configPath,
		"listen": d.config.Server.Listen,
	}).Info("starting rtpscope server")

	d.observer = analysis.New()
	d.hub = hub.New(d.logger, hub.Options{
		Sources:      d.listSources,
		ChangeSource: d.changeSource,
		Observer:     d.observer,
	})
	d.supervisor = NewSupervisor(capture.OptionsFromConfig(d.config.Capture), d.hub, d.logger)

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	d.viewerServer = hub.NewServer(d.config.Server.Listen, d.hub, d.logger)
	if err := d.viewerServer.Listen(); err != nil {
		d.viewerServer = nil
		d.stopMetrics()
		return err
	}
	srv := d.viewerServer
	go func() { d.served <- srv.Serve(d.ctx) }()

	if src, ok := d.config.Capture.Source.Descriptor(); ok {
		d.supervisor.Switch(src)
	} else {
		d.logger.Info("no capture source configured, waiting for a viewer to pick one")
	}

	d.logger.Info("server started successfully")
	return nil
}

// ViewerAddr returns the address viewers connect to.
func (d *Daemon) ViewerAddr() net.Addr {
	if d.viewerServer == nil {
		return nil
	}
	return d.viewerServer.Addr()
}

// MetricsAddr returns the HTTP address, or nil when metrics are disabled.
func (d *Daemon) MetricsAddr() net.Addr {
	if d.metricsServer == nil {
		return nil
	}
	return d.metricsServer.Addr()
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT, by the end of
// the capture when exit_on_capture_end is set, or by Stop. SIGHUP reloads
// the log settings.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	d.logger.Info("server running, waiting for viewers")

	ended := d.supervisor.Ended()
	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.logger.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil

			case syscall.SIGHUP:
				d.logger.Info("received reload signal")
				if err := d.Reload(); err != nil {
					d.logger.WithError(err).Error("failed to reload config")
				}
			}

		case end := <-ended:
			entry := d.logger.WithField("source", end.Source.String())
			if end.Err != nil {
				entry = entry.WithError(end.Err)
			}
			if d.config.Server.ExitOnCaptureEnd {
				entry.Info("capture ended, shutting down")
				d.Stop()
				return end.Err
			}
			entry.Info("capture ended, log kept for viewers")

		case <-d.ctx.Done():
			d.logger.Info("context cancelled")
			d.Stop()
			return nil
		}
	}
}

// Stop performs graceful shutdown of all components. It is safe to call
// more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	d.logger.Info("initiating graceful shutdown")

	// 1. No more packets.
	if d.supervisor != nil {
		d.supervisor.Stop()
	}

	// 2. Disconnect viewers.
	d.cancel()
	if d.viewerServer != nil {
		select {
		case err := <-d.served:
			if err != nil {
				d.logger.WithError(err).Error("viewer server stopped with error")
			}
		case <-time.After(5 * time.Second):
			d.logger.Warn("viewer server did not stop in time")
		}
	}

	// 3. HTTP.
	d.stopMetrics()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	d.logger.Info("server stopped gracefully")
}

// Reload re-reads the configuration file and applies the log settings.
// Listen addresses and capture options need a restart.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return fmt.Errorf("no configuration file to reload")
	}
	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	requiresRestart := []string{}
	if newConfig.Server.Listen != d.config.Server.Listen {
		requiresRestart = append(requiresRestart, "server.listen")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	if newConfig.Capture != d.config.Capture {
		requiresRestart = append(requiresRestart, "capture")
	}

	d.config.Log = newConfig.Log
	d.config.Server.ExitOnCaptureEnd = newConfig.Server.ExitOnCaptureEnd
	if err := d.initLogging(); err != nil {
		return err
	}

	d.logger.WithField("requires_restart", requiresRestart).Info("configuration reloaded")
	return nil
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	d.logger = logpkg.GetLogger()
	d.logger.WithFields(map[string]interface{}{
		"level":  d.config.Log.Level,
		"format": d.config.Log.Format,
	}).Debug("logging initialized")
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		d.logger.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path, d.logger)
	d.metricsServer.Route("/api", d.observer.Routes)
	d.metricsServer.OnScrape(d.observer.Refresh)
	return d.metricsServer.Start(d.ctx)
}

func (d *Daemon) stopMetrics() {
	if d.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.metricsServer.Stop(ctx); err != nil {
		d.logger.WithError(err).Error("error stopping metrics server")
	}
	d.metricsServer = nil
}

func (d *Daemon) listSources() []core.Source {
	sources, err := capture.ListSources(d.config.Capture.CapturesDir)
	if err != nil {
		d.logger.WithError(err).Debug("capture source listing incomplete")
	}
	return sources
}

func (d *Daemon) changeSource(src core.Source) {
	d.logger.WithField("source", src.String()).Info("capture source change requested")
	d.supervisor.Switch(src)
}
