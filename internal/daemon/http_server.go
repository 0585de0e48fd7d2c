package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/bootstrap"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/metrics"
)

const (
	maxGoroutines    = 10000
	storePingTimeout = 2 * time.Second
)

// Pinger is a dependency the readiness check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPServer serves the monitoring endpoints: /live, /ready and /metrics.
type HTTPServer struct {
	cfg    config.MonitoringConfig
	logger *slog.Logger
	mux    *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// NewHTTPServer builds the monitoring mux. Nothing listens until Start.
func NewHTTPServer(cfg config.MonitoringConfig, reg *prom.Registry, ready *bootstrap.Ready, store Pinger, logger *slog.Logger) *HTTPServer {
	health := healthcheck.NewMetricsHandler(reg, "mcgalaxy")
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	if cfg.MaxRSSMB > 0 {
		health.AddLivenessCheck("rss-limit", rssCheck(cfg.MaxRSSMB))
	}
	health.AddReadinessCheck("startup", func() error {
		if !ready.IsSet() {
			return errors.New("server is still starting")
		}
		return nil
	})
	if store != nil {
		health.AddReadinessCheck("stats-store", healthcheck.Timeout(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), storePingTimeout)
			defer cancel()
			return store.Ping(ctx)
		}, storePingTimeout))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	return &HTTPServer{cfg: cfg, logger: logger, mux: mux}
}

func rssCheck(limitMB uint64) healthcheck.Check {
	return func() error {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return err
		}
		mem, err := p.MemoryInfo()
		if err != nil {
			return err
		}
		if used := mem.RSS / (1024 * 1024); used > limitMB {
			return fmt.Errorf("rss %d MB exceeds limit %d MB", used, limitMB)
		}
		return nil
	}
}

// Handler exposes the mux for tests and embedding.
func (s *HTTPServer) Handler() http.Handler { return s.mux }

// Addr is the bound address, nil before Start or when disabled.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the monitoring address. An empty address disables the server.
func (s *HTTPServer) Start() error {
	if s.cfg.HTTPAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("monitoring listen %s: %w", s.cfg.HTTPAddr, err)
	}
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Monitoring HTTP server error", logfields.Error(err))
		}
	}()
	s.logger.Info("Monitoring HTTP server started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("monitoring server shutdown: %w", err)
	}
	return nil
}
