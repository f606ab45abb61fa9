// Package server is the development server: it serves the current build of
// every page and pushes reload markers to connected browsers.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/unifee/internal/config"
	uerrors "github.com/conneroisu/unifee/internal/errors"
	"github.com/conneroisu/unifee/internal/logging"
	"github.com/conneroisu/unifee/internal/metrics"
	"github.com/conneroisu/unifee/internal/page"
	"github.com/conneroisu/unifee/internal/reload"
)

const (
	// ReloadMessage is the text frame sent to browsers on reload.
	ReloadMessage = "hotreload"

	healthPath  = "/__unifee/health"
	metricsPath = "/__unifee/metrics"

	shutdownTimeout = 5 * time.Second
)

// Page is the read side of a page builder.
type Page interface {
	Match(requestPath string) bool
	Result() *page.Result
	Name() string
}

// Options configures a Server.
type Options struct {
	// Addr is the host:port to bind. Defaults to 127.0.0.1:4001.
	Addr        string
	TLSCert     string
	TLSKey      string
	ReloadDelay time.Duration

	Logger  logging.Logger
	Metrics *metrics.Recorder
}

// Server serves pages and the live reload channel.
type Server struct {
	pages       []Page
	bus         *reload.Bus
	addr        string
	tlsCert     string
	tlsKey      string
	reloadDelay time.Duration
	logger      logging.Logger
	metrics     *metrics.Recorder

	router     *chi.Mux
	httpServer *http.Server

	clients      map[string]*client
	clientsMutex sync.RWMutex

	listenerMu sync.RWMutex
	listener   net.Listener

	unsubscribe  func()
	done         chan struct{}
	relayDone    chan struct{}
	shutdownOnce sync.Once
}

// New creates a Server over pages. It subscribes to the global reload
// topic immediately; call Shutdown to release the subscription.
func New(pages []Page, bus *reload.Bus, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = net.JoinHostPort(config.DefaultHost, strconv.Itoa(config.DefaultPort))
	}
	if opts.ReloadDelay < 0 {
		opts.ReloadDelay = 0
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	s := &Server{
		pages:       pages,
		bus:         bus,
		addr:        opts.Addr,
		tlsCert:     opts.TLSCert,
		tlsKey:      opts.TLSKey,
		reloadDelay: opts.ReloadDelay,
		logger:      opts.Logger.WithComponent("server"),
		metrics:     opts.Metrics,
		router:      chi.NewRouter(),
		clients:     make(map[string]*client),
		done:        make(chan struct{}),
		relayDone:   make(chan struct{}),
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var signals <-chan reload.Signal
	if bus != nil {
		signals, s.unsubscribe = bus.Subscribe(reload.GlobalTopic, 16)
	}
	go s.relayReloads(signals)

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.GetHead)
	s.router.Use(s.requestLogger)

	s.router.Get(page.ReloadPath, s.handleWebSocket)
	s.router.Get(healthPath, s.handleHealth)
	s.router.Get(metricsPath, s.handleMetrics)
	s.router.Get("/*", s.handlePage)
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// TLSEnabled reports whether Start serves HTTPS.
func (s *Server) TLSEnabled() bool {
	return s.tlsCert != "" && s.tlsKey != ""
}

// Addr returns the bound address once Start is listening, otherwise the
// configured one.
func (s *Server) Addr() string {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start binds and serves until ctx is done or the server fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return uerrors.NewInternalError("binding dev server", err).WithOp(s.addr)
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()

	scheme := "http"
	if s.TLSEnabled() {
		scheme = "https"
	}
	s.logger.Info(ctx, "Dev server started on "+scheme+"://"+ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if s.TLSEnabled() {
			errCh <- s.httpServer.ServeTLS(ln, s.tlsCert, s.tlsKey)
			return
		}
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		_ = s.Shutdown(context.Background())
		return uerrors.NewInternalError("dev server stopped", err)
	}
}

// Shutdown stops relaying reloads, closes every live connection and
// gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.done)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		<-s.relayDone

		s.closeAllClients(ctx)

		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil && !errors.Is(shutdownErr, http.ErrServerClosed) {
			err = uerrors.NewInternalError("shutting down dev server", shutdownErr)
		}
		s.logger.Info(ctx, "Dev server stopped")
	})
	return err
}

// relayReloads forwards each global reload signal to browsers after the
// configured delay.
func (s *Server) relayReloads(signals <-chan reload.Signal) {
	defer close(s.relayDone)
	if signals == nil {
		<-s.done
		return
	}

	for {
		select {
		case <-s.done:
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			s.logger.Warn(context.Background(), nil, "Browser reloading...")
			if s.reloadDelay > 0 {
				timer := time.NewTimer(s.reloadDelay)
				select {
				case <-s.done:
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			s.broadcast([]byte(ReloadMessage))
		}
	}
}
