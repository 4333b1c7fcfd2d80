package shutdown

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Robitch/Robify-sub001/internal/core/domain"
	"github.com/Robitch/Robify-sub001/internal/logutils"
)

// Manager stops registered services when the process is asked to exit.
type Manager struct {
	services []domain.GracefulShutdownInterface
	timeout  time.Duration
	mu       sync.RWMutex
}

func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		services: make([]domain.GracefulShutdownInterface, 0),
		timeout:  timeout,
	}
}

// Register adds a service. Services are stopped in reverse registration order, so a
// service is always stopped before the ones it was built on.
func (m *Manager) Register(service domain.GracefulShutdownInterface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services = append(m.services, service)
	logutils.Log.WithField("service", service.Name()).Info("Service registered for graceful shutdown")
}

// WaitForShutdown blocks until a termination signal or ctx is done, then shuts down.
func (m *Manager) WaitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logutils.Log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case <-ctx.Done():
		logutils.Log.WithError(ctx.Err()).Info("Shutdown requested")
	}

	return m.Shutdown()
}

// Shutdown stops every registered service within the configured timeout.
func (m *Manager) Shutdown() error {
	logutils.Log.Info("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.RLock()
	services := make([]domain.GracefulShutdownInterface, len(m.services))
	copy(services, m.services)
	m.mu.RUnlock()

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if ctx.Err() != nil {
			logutils.Log.WithField("service", svc.Name()).Warn("Shutdown timeout exceeded, skipping service")
			errs = append(errs, fmt.Errorf("service %s skipped: %w", svc.Name(), ctx.Err()))
			continue
		}

		logutils.Log.WithField("service", svc.Name()).Info("Shutting down service")
		if err := svc.Shutdown(ctx); err != nil {
			logutils.Log.WithError(err).WithField("service", svc.Name()).Error("Error during service shutdown")
			errs = append(errs, fmt.Errorf("service %s shutdown failed: %w", svc.Name(), err))
			continue
		}
		logutils.Log.WithField("service", svc.Name()).Info("Service shutdown completed")
	}

	if len(errs) > 0 {
		logutils.Log.WithField("error_count", len(errs)).Error("Some services failed to shutdown gracefully")
		return stderrors.Join(errs...)
	}

	logutils.Log.Info("Graceful shutdown completed successfully")
	return nil
}

// Closer is anything with a Close method, such as the database.
type Closer interface {
	Close() error
}

type DatabaseShutdown struct {
	db Closer
}

func NewDatabaseShutdown(db Closer) *DatabaseShutdown {
	return &DatabaseShutdown{db: db}
}

func (d *DatabaseShutdown) Shutdown(_ context.Context) error {
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			logutils.Log.WithError(err).Error("Failed to close database connections")
			return err
		}
	}
	logutils.Log.Info("Database connections closed")
	return nil
}

func (*DatabaseShutdown) Name() string {
	return "database"
}

type HTTPServerShutdown struct {
	server HTTPServer
}

// HTTPServer is satisfied by *http.Server.
type HTTPServer interface {
	Shutdown(ctx context.Context) error
}

func NewHTTPServerShutdown(server HTTPServer) *HTTPServerShutdown {
	return &HTTPServerShutdown{server: server}
}

func (h *HTTPServerShutdown) Shutdown(ctx context.Context) error {
	logutils.Log.Info("Shutting down HTTP server")
	return h.server.Shutdown(ctx)
}

func (*HTTPServerShutdown) Name() string {
	return "http_server"
}

// FuncShutdown adapts a plain function, e.g. a monitor's Shutdown.
type FuncShutdown struct {
	name string
	fn   func(ctx context.Context) error
}

func NewFuncShutdown(name string, fn func(ctx context.Context) error) *FuncShutdown {
	return &FuncShutdown{name: name, fn: fn}
}

func (f *FuncShutdown) Shutdown(ctx context.Context) error {
	return f.fn(ctx)
}

func (f *FuncShutdown) Name() string {
	return f.name
}
