// Package telemetry runs the operational side channels of a service: a
// pprof listener for profiling and a Prometheus scrape endpoint for
// metrics. Both bind to localhost ports separate from the service port so
// they are never reachable through the public ingress.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runlet/engine/common/logger"
)

// Telemetry manages the pprof and metrics listeners.
type Telemetry struct {
	log         *logger.Logger
	pprofAddr   string
	metricsAddr string
	servers     []*http.Server
}

// New creates telemetry listeners. A zero port disables the corresponding
// endpoint.
func New(pprofPort, metricsPort int, log *logger.Logger) *Telemetry {
	t := &Telemetry{log: log}
	if pprofPort > 0 {
		t.pprofAddr = fmt.Sprintf("localhost:%d", pprofPort)
	}
	if metricsPort > 0 {
		t.metricsAddr = fmt.Sprintf("localhost:%d", metricsPort)
	}
	return t
}

// Start brings up the configured listeners. Listener failures are logged
// rather than returned; a service should not refuse to boot because a
// debug port is taken.
func (t *Telemetry) Start(ctx context.Context) error {
	if t.pprofAddr != "" {
		// The blank pprof import registers its handlers on the default mux.
		t.serve("pprof", &http.Server{Addr: t.pprofAddr, Handler: http.DefaultServeMux})
	}

	if t.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		t.serve("metrics", &http.Server{Addr: t.metricsAddr, Handler: mux})
	}

	return nil
}

func (t *Telemetry) serve(name string, srv *http.Server) {
	t.servers = append(t.servers, srv)
	go func() {
		t.log.Info(name+" server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error(name+" server error", "error", err)
		}
	}()
}

// Stop shuts down the listeners, waiting briefly for in-flight scrapes.
func (t *Telemetry) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	for _, srv := range t.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
