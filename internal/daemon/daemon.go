// Package daemon runs one capture session in the foreground.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/cjdnsniff/internal/admin"
	"firestige.xyz/cjdnsniff/internal/command"
	"firestige.xyz/cjdnsniff/internal/config"
	"firestige.xyz/cjdnsniff/internal/dump"
	logpkg "firestige.xyz/cjdnsniff/internal/log"
	"firestige.xyz/cjdnsniff/internal/metrics"
	"firestige.xyz/cjdnsniff/internal/sniff"
)

// ExitForced is the process status used when a second interrupt arrives
// before teardown finishes.
const ExitForced = 100

// ErrForced is returned by Run after a forced exit was requested.
var ErrForced = errors.New("daemon: forced exit")

// AdminConn is the admin endpoint the daemon drives.
type AdminConn interface {
	sniff.AdminClient
	Ping(ctx context.Context) error
	Close() error
}

// Daemon wires an admin client, a session and the dump printer together.
type Daemon struct {
	config *config.GlobalConfig

	// Overridable for tests.
	out       io.Writer
	exit      func(int)
	dialAdmin func(admin.Config) (AdminConn, error)
	sigChan   chan os.Signal

	adminCfg      admin.Config
	admin         AdminConn
	session       *sniff.Session
	printer       *dump.Printer
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled
	pidWritten    bool
	logs          *logpkg.Logging

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	stopErr      error
}

// New loads configPath and creates a daemon writing capture lines to stdout.
func New(configPath string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig creates a daemon from an already loaded configuration.
func NewWithConfig(cfg *config.GlobalConfig) *Daemon {
	d := &Daemon{
		config: cfg,
		out:    os.Stdout,
		exit:   os.Exit,
		dialAdmin: func(c admin.Config) (AdminConn, error) {
			return admin.Dial(c)
		},
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start brings up logging, the admin connection, the session and the
// optional metrics and control endpoints.
func (d *Daemon) Start() error {
	logs, err := logpkg.Init(d.config.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	d.logs = logs

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.connectAdmin(); err != nil {
		d.teardown()
		return err
	}

	if err := d.openSession(); err != nil {
		d.teardown()
		return err
	}

	if err := d.startMetrics(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	d.startControl()

	slog.Info("cjdnsniff started",
		"content_type", d.session.ContentType().String(),
		"port", d.session.Port(),
		"registered", d.session.Registered(),
	)
	return nil
}

func (d *Daemon) connectAdmin() error {
	cfg, err := d.config.Admin.ResolveAdmin()
	if err != nil {
		return fmt.Errorf("failed to resolve admin endpoint: %w", err)
	}
	d.adminCfg = cfg

	ac, err := d.dialAdmin(cfg)
	if err != nil {
		return err
	}
	d.admin = ac

	pingCtx, cancel := context.WithTimeout(d.ctx, cfg.Timeout)
	defer cancel()
	if err := ac.Ping(pingCtx); err != nil {
		return fmt.Errorf("cjdns admin at %s is not answering: %w", cfg.Address(), err)
	}
	slog.Debug("admin endpoint reachable", "addr", cfg.Address())
	return nil
}

func (d *Daemon) openSession() error {
	sc := d.config.Session
	s, err := sniff.Open(d.ctx, d.admin, sc.ContentTypeCode(),
		sniff.WithNetwork(sc.Network),
		sniff.WithBindHost(sc.BindHost),
		sniff.WithReadBuffer(sc.ReadBuffer),
	)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	d.session = s

	dc := d.config.Dump
	d.printer = dump.NewPrinter(logpkg.NewCaptureLogger(d.out, dc.Pattern, dc.TimeFormat), dc.ErrorRate, dc.ErrorBurst)
	s.OnMessage(d.printer.Message)
	s.OnError(d.printer.Error)
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Debug("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}

func (d *Daemon) startControl() {
	d.cmdHandler = command.NewCommandHandler(d.session)
	d.cmdHandler.SetShutdownFunc(d.TriggerShutdown)

	if !d.config.Control.Enabled {
		return
	}
	d.udsServer = command.NewUDSServer(d.config.Control.Socket, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil {
			slog.Error("uds server failed", "error", err)
		}
	}()
}

// Run serves the session until it is stopped. The first SIGINT or SIGTERM
// (or a session.stop command) disconnects the session; a second interrupt
// before that finishes exits with ExitForced.
func (d *Daemon) Run() error {
	if d.sigChan == nil {
		d.sigChan = make(chan os.Signal, 2)
		signal.Notify(d.sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(d.sigChan)
	}

	serveDone := make(chan error, 1)
	go func() { serveDone <- d.session.Serve(d.ctx) }()

	var (
		stopping bool
		stopDone chan error
		serveErr error
	)
	beginStop := func() {
		stopping = true
		stopDone = make(chan error, 1)
		go func() { stopDone <- d.Stop() }()
	}

	for {
		select {
		case sig := <-d.sigChan:
			if stopping {
				slog.Warn("second signal, exiting without cleanup", "signal", sig)
				d.exit(ExitForced)
				return ErrForced
			}
			slog.Info("received shutdown signal", "signal", sig)
			beginStop()

		case <-d.shutdownChan:
			if !stopping {
				slog.Info("shutdown requested by command")
				beginStop()
			}

		case err := <-serveDone:
			serveDone = nil
			serveErr = err
			if !stopping {
				slog.Error("session stopped serving", "error", err)
				beginStop()
			}

		case err := <-stopDone:
			if serveDone != nil {
				if e := <-serveDone; serveErr == nil {
					serveErr = e
				}
			}
			if err != nil {
				return err
			}
			return serveErr
		}
	}
}

// TriggerShutdown asks Run to stop as if interrupted once.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// Stop disconnects the session and releases everything Start acquired.
// The disconnect error, if any, is returned; later calls return it again.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		slog.Info("initiating graceful shutdown")

		if d.session != nil {
			ctx, cancel := context.WithTimeout(context.Background(), d.disconnectTimeout())
			d.stopErr = d.session.Disconnect(ctx)
			cancel()
		}
		if d.udsServer != nil {
			d.udsServer.Stop()
		}
		if d.metricsServer != nil {
			if err := d.metricsServer.Stop(context.Background()); err != nil {
				slog.Error("error stopping metrics server", "error", err)
			}
		}
		d.teardown()

		if d.printer != nil {
			if n := d.printer.Suppressed(); n > 0 {
				slog.Info("frame errors suppressed by rate limit", "count", n)
			}
		}
		if d.stopErr != nil {
			slog.Error("shutdown completed with error", "error", d.stopErr)
		} else {
			slog.Info("cjdnsniff stopped")
		}
	})
	return d.stopErr
}

// teardown releases the admin socket, the context and the PID file.
func (d *Daemon) teardown() {
	d.cancel()
	if d.admin != nil {
		d.admin.Close()
	}
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}
	d.logs.Close()
}

// disconnectTimeout bounds the unregister call; two admin round trips.
func (d *Daemon) disconnectTimeout() time.Duration {
	if d.adminCfg.Timeout > 0 {
		return 2 * d.adminCfg.Timeout
	}
	return 10 * time.Second
}

// Session exposes the running session.
func (d *Daemon) Session() *sniff.Session {
	return d.session
}

func (d *Daemon) writePIDFile() error {
	path := d.config.Control.PIDFile
	if path == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}
	d.pidWritten = true

	slog.Debug("PID file written", "path", path, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() error {
	path := d.config.Control.PIDFile
	if !d.pidWritten {
		return nil
	}
	d.pidWritten = false

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}

	slog.Debug("PID file removed", "path", path)
	return nil
}
