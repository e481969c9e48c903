package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type HealthCheck func(ctx context.Context) error

// NewRealtimeMux serves the websocket endpoint alongside health and metrics
func NewRealtimeMux(hub *Hub, m *metrics.Metrics, checks ...HealthCheck) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/health", func(writer http.ResponseWriter, request *http.Request) {
		for _, check := range checks {
			if err := check(request.Context()); err != nil {
				writer.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(writer, err)
				return
			}
		}

		writer.WriteHeader(http.StatusOK)
		fmt.Fprint(writer, "OK")
	})

	if m != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	return mux
}

// ListenAndServe runs the server until ctx is cancelled
func ListenAndServe(ctx context.Context, listen string, handler http.Handler) error {
	server := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Realtime server listening on %s", listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
