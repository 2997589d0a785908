package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dronelink/internal/journal"
	"dronelink/internal/link"
	"dronelink/internal/logging"
	"dronelink/internal/sim"
	"dronelink/internal/snapshot"
	"dronelink/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Application wires the drone link to the operator console and the recorders.
type Application struct {
	config Config
	logger *logrus.Logger
	in     io.Reader
	out    io.Writer

	sessionID   uuid.UUID
	rotator     *logging.Rotator
	journal     *journal.Writer
	recorder    *storage.FlightRecorder
	snapshotter *snapshot.Snapshotter
	operator    *Operator
	listener    *droneListener
	controller  *link.Controller
	console     *Console

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	quit   chan struct{}
}

// NewApplication creates a new application instance
func NewApplication(config Config) *Application {
	ctx, cancel := context.WithCancel(context.Background())

	return &Application{
		config: config,
		logger: newLogger(config.Verbose),
		in:     os.Stdin,
		out:    os.Stdout,
		ctx:    ctx,
		cancel: cancel,
		quit:   make(chan struct{}),
	}
}

func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// Start runs the link until a shutdown signal or the quit command.
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
		"host":       app.config.Host,
	}).Info("Starting drone link")

	if err := app.initializeComponents(); err != nil {
		app.closeResources()
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	app.run()

	select {
	case <-sigChan:
		app.logger.Info("Received shutdown signal")
	case <-app.quit:
		app.logger.Info("Quit requested")
	case <-app.ctx.Done():
	}
	app.shutdown()

	return nil
}

// Stop asks a running Start to shut down.
func (app *Application) Stop() {
	app.cancel()
}

func (app *Application) initializeComponents() error {
	var err error

	app.sessionID = uuid.New()
	if app.config.RecorderPath != "" {
		app.recorder = storage.NewFlightRecorder(app.config.RecorderPath)
		session, err := app.recorder.StartSession(app.ctx, app.config.Host, app.config)
		if err != nil {
			return fmt.Errorf("failed to start recorder session: %w", err)
		}
		app.sessionID = session.ID
	}

	if app.config.Journal {
		app.rotator, err = logging.NewRotator(app.config.LogDir, "telemetry", app.config.LogRotateUTC, app.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize log rotator: %w", err)
		}
		if app.config.LogRetention > 0 {
			if removed, err := app.rotator.Cleanup(app.config.LogRetention); err != nil {
				app.logger.WithError(err).Warn("Failed to clean up old journals")
			} else if removed > 0 {
				app.logger.WithField("removed", removed).Info("Removed old journals")
			}
		}
		app.journal = journal.NewWriter(app.rotator, app.sessionID.String(), app.logger)
	}

	app.snapshotter = snapshot.New(app.config.SnapshotDir, app.logger)
	app.operator = NewOperator(app.config)
	app.listener = newDroneListener(app.logger, app.operator, app.snapshotter, app.journal, app.recorder, app.sessionID)
	app.controller = link.NewController(app.config.LinkConfig(), app.listener, app.operator, app.logger)
	app.console = &Console{
		control:     app.controller,
		operator:    app.operator,
		snapshotter: app.snapshotter,
		onButton:    app.listener.buttonEvent,
		out:         app.out,
	}

	app.logger.WithField("session", app.sessionID).Debug("Components initialized")
	return nil
}

func (app *Application) run() {
	if app.rotator != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.rotator.Run(app.ctx)
		}()
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.listener.runRecorder(app.ctx)
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		reportStatistics(app.ctx, app.logger, time.Duration(app.config.StatsInterval), "Link statistics", func() logrus.Fields {
			return linkStatsFields(app.controller.Stats(), app.listener.dropped.Load())
		})
	}()

	if err := app.controller.Connect(app.ctx); err != nil {
		app.logger.WithError(err).Warn("Drone not reachable, use connect to retry")
	}

	if app.in != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if app.console.Run(app.ctx, app.in) {
				close(app.quit)
			}
		}()
	}

	app.logger.Info("All components started successfully")
}

// shutdown disconnects first so the offline event still reaches the recorder
// queue before the worker drains it.
func (app *Application) shutdown() {
	app.logger.Info("Shutting down application")
	app.controller.Disconnect()
	app.cancel()

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		app.logger.Info("All goroutines finished")
	case <-time.After(shutdownTimeout):
		app.logger.Warn("Shutdown timeout, forcing exit")
	}

	app.closeResources()
	app.logger.Info("Shutdown completed")
}

func (app *Application) closeResources() {
	if app.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := app.recorder.EndSession(ctx, app.sessionID); err != nil {
			app.logger.WithError(err).Warn("Failed to end recorder session")
		}
		cancel()
		if err := app.recorder.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close flight recorder")
		}
	}
	if app.rotator != nil {
		if err := app.rotator.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close journal")
		}
	}
}

// RunSimulator serves a simulated drone until ctx is cancelled or a shutdown
// signal arrives.
func RunSimulator(ctx context.Context, config Config) error {
	logger := newLogger(config.Verbose)

	simConfig, err := config.SimulatorConfig()
	if err != nil {
		return fmt.Errorf("failed to configure simulator: %w", err)
	}

	server := sim.NewServer(simConfig, sim.NewDrone(simConfig.Drone, logger), logger)
	if err := server.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	go reportStatistics(ctx, logger, time.Duration(config.StatsInterval), "Simulator statistics", func() logrus.Fields {
		return simStatsFields(server.Stats())
	})

	return server.Serve(ctx)
}
