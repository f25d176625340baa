// Package runner manages the lifecycle of client sessions: services are
// started in order, stopped in reverse order, and a termination signal
// triggers a clean disconnect. Unlike a server lifecycle, a run also ends
// when every service completes on its own.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service represents a component with a bounded or long-running Start and a
// cooperative Stop.
type Service interface {
	// Start runs the service. It blocks until the service finishes or
	// fails.
	Start() error
	// Stop interrupts a running Start.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// Runner owns a list of named services and coordinates their execution.
type Runner struct {
	logger   *zap.Logger
	services []namedService
	mu       sync.Mutex
}

type namedService struct {
	name    string
	service Service
}

// New creates a Runner.
//
// Precondition: logger must be non-nil.
func New(logger *zap.Logger) *Runner {
	return &Runner{
		logger: logger,
	}
}

// Add registers a named service. Services are started in the order they are
// added.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (r *Runner) Add(name string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = append(r.services, namedService{name: name, service: svc})
}

// Run starts all services and blocks until they all complete, one of them
// fails, a termination signal arrives (SIGINT or SIGTERM), or ctx is
// cancelled. Services are then stopped in reverse order.
//
// Postcondition: All services are stopped; the first service error, if any,
// is returned.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(r.services))
	for _, ns := range r.services {
		ns := ns
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.logger.Debug("starting service",
				zap.String("service", ns.name),
			)
			svcStart := time.Now()
			if err := ns.service.Start(); err != nil {
				r.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case <-done:
		r.logger.Debug("all services completed")
	case sig := <-sigCh:
		r.logger.Info("received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case runErr = <-errCh:
	case <-ctx.Done():
		r.logger.Debug("context cancelled, shutting down")
	}

	r.shutdown()
	wg.Wait()

	// A failure reported while we were shutting down still counts.
	if runErr == nil {
		select {
		case runErr = <-errCh:
		default:
		}
	}

	r.logger.Debug("run complete",
		zap.Duration("total", time.Since(start)),
		zap.Error(runErr),
	)
	return runErr
}

func (r *Runner) shutdown() {
	for i := len(r.services) - 1; i >= 0; i-- {
		ns := r.services[i]
		r.logger.Debug("stopping service",
			zap.String("service", ns.name),
		)
		ns.service.Stop()
	}
}
