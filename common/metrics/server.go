package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/gin-gonic/contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scusemua/notebook-kernel-client/common/utils"
)

var (
	ErrServerAlreadyRunning = errors.New("the metrics server is already running")
	ErrServerNotRunning     = errors.New("the metrics server is not running")
)

// Server serves Prometheus metrics at "/metrics" so that they can be scraped while the client runs.
type Server struct {
	log logger.Logger

	prometheusHandler http.Handler
	engine            *gin.Engine
	httpServer        *http.Server
	listener          net.Listener

	port int
	mu   sync.Mutex

	// serving indicates whether the server has been started and is serving requests.
	serving bool
}

// NewServer creates a Server for the given port. Metrics are gathered from gatherer, or from the
// default Prometheus registry if gatherer is nil.
func NewServer(port int, gatherer prometheus.Gatherer) *Server {
	handler := promhttp.Handler()
	if gatherer != nil {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	server := &Server{
		port:              port,
		prometheusHandler: handler,
	}
	config.InitLogger(&server.log, server)

	server.initializeEngine()
	return server
}

// IsRunning returns true if the Server has been started and is serving metrics.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serving
}

// Handler returns the HTTP handler of the server, which can be mounted elsewhere.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the address the server is listening on, or "" if it is not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Start begins serving the metrics via HTTP. If the configured port is not positive, Start does nothing.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serving {
		s.log.Warn("Metrics server is already running on port %d.", s.port)
		return ErrServerAlreadyRunning
	}

	if s.port <= 0 {
		s.log.Debug("Prometheus Port is set to %d. Not serving HTTP server.", s.port)
		return nil
	}

	address := fmt.Sprintf("0.0.0.0:%d", s.port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		s.log.Error(utils.RedStyle.Render("HTTP Server failed to listen on '%s'. Error: %v"), address, err)
		return err
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler: s.engine,
	}
	s.serving = true

	go func(httpServer *http.Server) {
		s.log.Debug("Serving Prometheus metrics at %s", listener.Addr().String())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(utils.RedStyle.Render("HTTP Server stopped serving on '%s'. Error: %v"), address, err)
		}
	}(s.httpServer)

	return nil
}

// Stop shuts the HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.serving {
		return ErrServerNotRunning
	}

	s.serving = false
	s.listener = nil
	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.log.Error("Failed to cleanly shutdown the HTTP server: %v", err)
		return err
	}

	return nil
}

// HandleRequest handles Prometheus HTTP requests (when Prometheus is scraping for metrics).
func (s *Server) HandleRequest(c *gin.Context) {
	s.prometheusHandler.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) initializeEngine() {
	s.engine = gin.New()

	// Requests are not logged; Prometheus scrapes too often for that to be useful.
	s.engine.Use(gin.Recovery())
	s.engine.Use(cors.Default())

	s.engine.GET("/metrics", s.HandleRequest)
}
