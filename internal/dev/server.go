package dev

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lightning-dev/lightning/internal/config"
	"github.com/lightning-dev/lightning/internal/errors"
)

// ReadySentinel is printed once the server is listening. Supervising
// processes wait for this line.
const ReadySentinel = "LIGHTNING_DEV_READY"

// ReloadPath is the WebSocket endpoint used by the client agent.
const ReloadPath = "/ws"

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the resolved configuration.
	Config *config.Config

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Stdout receives the "[Lightning]" startup lines and the ready
	// sentinel. Defaults to os.Stdout.
	Stdout io.Writer

	// Registry receives the Prometheus collectors. Defaults to a private
	// registry, exposed on Config.MetricsAddr when set.
	Registry *prometheus.Registry

	// Listener, when set, is used instead of binding Config.Address().
	Listener net.Listener
}

// Server is the development server.
type Server struct {
	config     *config.Config
	options    ServerOptions
	logger     *slog.Logger
	out        io.Writer
	registry   *prometheus.Registry
	metrics    *Metrics
	resolver   *Resolver
	hub        *Hub
	aggregator *Aggregator
	watcher    *Watcher

	httpServer    *http.Server
	metricsServer *http.Server
	listener      net.Listener
	cancel        context.CancelFunc
	ready         chan struct{}
	mu            sync.Mutex
	started       bool
	running       bool
}

// NewServer creates a new development server.
func NewServer(options ServerOptions) *Server {
	cfg := options.Config

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := options.Stdout
	if out == nil {
		out = os.Stdout
	}
	registry := options.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics := NewMetrics(registry)

	s := &Server{
		config:   cfg,
		options:  options,
		logger:   logger,
		out:      out,
		registry: registry,
		metrics:  metrics,
		resolver: NewResolver(cfg.Root, cfg.Entry, logger),
		hub:      NewHub(logger, metrics),
		ready:    make(chan struct{}),
	}

	s.aggregator = NewAggregator(AggregatorConfig{
		WatchExtensions: cfg.WatchExtensions,
		Ignore:          cfg.Ignore,
		Debounce:        cfg.Debounce,
		Out:             out,
		Logger:          logger,
		Metrics:         metrics,
	}, s.hub.Broadcast)

	return s
}

// Handler returns the HTTP handler: WebSocket upgrades go to the hub,
// everything else to the static resolver.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.upgradeHandler)
	r.Use(s.countRequests)
	r.Handle("/*", s.resolver)
	return r
}

// upgradeHandler diverts channel-establishment requests: the reload path,
// or any request asking to upgrade to WebSocket.
func (s *Server) upgradeHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == ReloadPath || strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			s.hub.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.request(status)
	})
}

// Start binds the listeners and the file watcher, prints the startup lines
// and the ready sentinel, then serves until ctx is cancelled or Stop is
// called. Bind and watcher failures are returned before anything is
// printed. A Server is started at most once; later calls return L202.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("L202")
	}
	s.started = true
	s.running = true
	s.mu.Unlock()

	ln := s.options.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.config.Address())
		if err != nil {
			s.setStopped()
			return errors.New("L201").WithDetail(s.config.Address()).Wrap(err)
		}
	}

	var metricsLn net.Listener
	if s.config.MetricsAddr != "" {
		var err error
		metricsLn, err = net.Listen("tcp", s.config.MetricsAddr)
		if err != nil {
			ln.Close()
			s.setStopped()
			return errors.New("L201").WithDetail("metrics " + s.config.MetricsAddr).Wrap(err)
		}
	}

	watcher, err := NewWatcher(s.config.Root, s.config.Ignore, s.logger)
	if err != nil {
		ln.Close()
		if metricsLn != nil {
			metricsLn.Close()
		}
		s.setStopped()
		return errors.New("L200").WithDetail(s.config.Root).Wrap(err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if !s.running {
		// Stopped while starting.
		s.mu.Unlock()
		cancel()
		watcher.Close()
		ln.Close()
		if metricsLn != nil {
			metricsLn.Close()
		}
		return nil
	}
	s.listener = ln
	s.watcher = watcher
	s.cancel = cancel
	s.httpServer = &http.Server{Handler: s.Handler()}
	if metricsLn != nil {
		s.metricsServer = &http.Server{Handler: s.metricsHandler()}
	}
	httpServer := s.httpServer
	metricsServer := s.metricsServer
	s.mu.Unlock()

	go s.aggregator.Run(runCtx)
	go watcher.Run(runCtx, func(ev Event) {
		s.aggregator.Add(runCtx, ev)
	})

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Serve(metricsLn); err != nil && err != http.ErrServerClosed {
				s.logger.Error("metrics listener failed", "addr", s.config.MetricsAddr, "error", err)
			}
		}()
	}

	s.printBanner()
	fmt.Fprintln(s.out, ReadySentinel)
	close(s.ready)

	select {
	case <-runCtx.Done():
		if s.isRunning() {
			fmt.Fprintln(s.out, "[Lightning] Shutting down...")
		}
		s.Stop()
		return nil
	case err := <-errCh:
		s.Stop()
		return errors.New("L201").WithDetail(s.config.Address()).Wrap(err)
	}
}

func (s *Server) printBanner() {
	fmt.Fprintln(s.out, "[Lightning] Dev server starting...")
	fmt.Fprintf(s.out, "[Lightning]   Port: %d\n", s.config.Port)
	fmt.Fprintf(s.out, "[Lightning]   Root: %s\n", s.config.Root)
	fmt.Fprintf(s.out, "[Lightning]   Entry: %s\n", s.config.Entry)
	fmt.Fprintf(s.out, "[Lightning]   Watch: %s\n", strings.Join(s.config.WatchExtensions, ", "))
}

func (s *Server) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Stop closes the watcher, then the listener and all connections. There is
// no graceful drain.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	if s.metricsServer != nil {
		s.metricsServer.Close()
	}
	s.hub.Close()
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) setStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Ready is closed once the ready sentinel has been printed.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the base URL of the running server.
func (s *Server) URL() string {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return "http://" + net.JoinHostPort(s.config.Host, strconv.Itoa(addr.Port))
	}
	return "http://" + s.config.Address()
}

// Hub returns the reload hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
