// Package tilestatus exposes a tile worker's read-only status over HTTP:
// which generation it has reached and who it is wired to.
package tilestatus

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BasicAcid/tileworld/internal/tileworker"
)

// StatusProvider is implemented by *tileworker.Worker.
type StatusProvider interface {
	Status() tileworker.Status
	ID() string
}

// Server serves /status and /health for a single tile worker.
type Server struct {
	port   int
	worker StatusProvider
	server *http.Server
	log    *logrus.Entry
}

// New creates a status server bound to port, reporting on worker.
func New(port int, worker StatusProvider) *Server {
	return &Server{
		port:   port,
		worker: worker,
		log:    logrus.WithField("component", "tilestatus"),
	}
}

// Start begins serving HTTP in the background. It returns once the
// listener is ready.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("status server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("status server shutdown error")
		}
	}()

	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.worker.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"id":     s.worker.ID(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
