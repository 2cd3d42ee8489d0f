package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter serves the registry for Prometheus and a health endpoint.
type Exporter struct {
	log        logr.Logger
	metrics    *Metrics
	health     func() error
	httpAddr   string
	httpServer *http.Server
}

// NewExporter creates an exporter listening on httpAddr. health reports
// the state of the capture; nil means healthy.
func NewExporter(log logr.Logger, m *Metrics, httpAddr string, health func() error) *Exporter {
	e := &Exporter{
		log:      log,
		metrics:  m,
		health:   health,
		httpAddr: httpAddr,
	}
	e.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return e
}

func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.metrics.Registry, promhttp.HandlerOpts{
		ErrorLog:          promLogger{e.log},
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", e.handleHealth)
	return mux
}

// Run serves until ctx is done, then shuts the server down.
func (e *Exporter) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.httpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.httpAddr, err)
	}
	e.log.Info("Starting HTTP server for Prometheus metrics", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	e.log.Info("Shutting down metrics exporter")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (e *Exporter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}{Status: "ok"}
	code := http.StatusOK
	if e.health != nil {
		if err := e.health(); err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

type promLogger struct {
	log logr.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.log.Error(fmt.Errorf("%s", fmt.Sprint(v...)), "Prometheus handler")
}
