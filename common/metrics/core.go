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

	"github.com/scusemua/kernel-connection/common/utils"
)

var (
	ErrServerAlreadyRunning = errors.New("metrics server is already running")
	ErrServerNotRunning     = errors.New("metrics server is not running")
)

// Server serves the metrics of a prometheus.Gatherer at GET /metrics.
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

// NewServer creates a Server for gatherer. A port of 0 picks a free port on Start.
func NewServer(port int, gatherer prometheus.Gatherer) *Server {
	server := &Server{
		port:              port,
		prometheusHandler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
	config.InitLogger(&server.log, server)

	server.engine = gin.New()
	// Request logging is left off to keep scrapes out of the logs.
	server.engine.Use(gin.Recovery())
	server.engine.Use(cors.Default())
	server.engine.GET("/metrics", server.HandleRequest)

	return server
}

// Handler returns the HTTP handler of the server, for mounting elsewhere or for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// HandleRequest handles Prometheus HTTP requests (when Prometheus is scraping for metrics).
func (s *Server) HandleRequest(c *gin.Context) {
	s.prometheusHandler.ServeHTTP(c.Writer, c.Request)
}

// IsRunning returns true if the Server has been started and is serving metrics.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serving
}

// Addr returns the address the server is listening on, or the empty string if it is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start begins serving the metrics via an HTTP endpoint.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serving {
		s.log.Warn("Metrics server is already running.")
		return ErrServerAlreadyRunning
	}

	address := fmt.Sprintf("0.0.0.0:%d", s.port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		s.log.Error(utils.RedStyle.Render("HTTP Server failed to listen on '%s'. Error: %v"), address, err)
		return err
	}

	s.listener = listener
	s.httpServer = &http.Server{Handler: s.engine}
	s.serving = true

	go func() {
		s.log.Debug("Serving Prometheus metrics at %s", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(utils.RedStyle.Render("HTTP Server stopped serving at '%s'. Error: %v"), listener.Addr().String(), err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.serving {
		s.log.Warn("Metrics server is not running.")
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
