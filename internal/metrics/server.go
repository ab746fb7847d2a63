package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/localnet/pkg/log"
)

// MetricsPath is where the metrics endpoint serves.
const MetricsPath = "/metrics"

// Server serves a Collector over HTTP.
type Server struct {
	*http.Server
	logger log.Logger
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, c *Collector, logger log.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(MetricsPath, promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))
	return &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned so a port clash is reported before processes start.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("metrics endpoint listening", log.String("endpoint", "http://"+ln.Addr().String()+MetricsPath))
	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", log.Err(err))
		}
	}()
	return nil
}

// ShutDown stops the server.
func (s *Server) ShutDown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		s.logger.Error("can't shut metrics server down", log.Err(err))
	}
}
