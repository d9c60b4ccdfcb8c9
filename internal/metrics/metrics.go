// Package metrics exposes the crawl's Prometheus surface: fetch
// outcomes, WARC bytes written, queue depth and origin reservation
// churn, scraped by an operator's Prometheus the same way burr exposed
// its scrape metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/atra-crawler/atra/internal/fetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atra_fetch_requests_total",
			Help: "Total number of fetches executed, by origin and outcome",
		},
		[]string{"origin", "status", "detected", "detection_src"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atra_fetch_duration_seconds",
			Help:    "Duration of fetches in seconds, by origin",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"origin"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atra_fetch_bytes_total",
			Help: "Total response bytes downloaded, by origin",
		},
		[]string{"origin"},
	)

	WarcBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atra_warc_bytes_total",
			Help: "Total bytes appended to the WARC corpus, by origin",
		},
		[]string{"origin"},
	)

	OriginReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atra_origin_reservations_total",
			Help: "Total number of origin guard reservations taken",
		},
		[]string{"origin"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atra_queue_depth",
			Help: "Current number of elements held by the URL queue",
		},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atra_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)
)

// RecordFetch updates the fetch-outcome metrics for one completed fetch
// against origin. fetchErr, if non-nil, is recorded as a "error" status
// rather than resp's (possibly zero) StatusCode.
func RecordFetch(origin string, resp fetch.Response, fetchErr error) {
	detectedStr := "false"
	if resp.DetectedBot {
		detectedStr = "true"
	}

	statusStr := strconv.Itoa(resp.StatusCode)
	if fetchErr != nil {
		statusStr = "error"
	}

	FetchRequestsTotal.WithLabelValues(origin, statusStr, detectedStr, resp.DetectionSrc).Inc()
	FetchDuration.WithLabelValues(origin).Observe(resp.Duration.Seconds())
	FetchBytesTotal.WithLabelValues(origin).Add(float64(len(resp.Body)))
}

// RecordWarcBytes adds n bytes to the running WARC-corpus total for origin.
func RecordWarcBytes(origin string, n int) {
	WarcBytesTotal.WithLabelValues(origin).Add(float64(n))
}

// RecordOriginReservation counts one origin guard reservation.
func RecordOriginReservation(origin string) {
	OriginReservationsTotal.WithLabelValues(origin).Inc()
}

// SetQueueDepth reports the URL queue's current length.
func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
// The server runs in a background goroutine and must be stopped via Server.Stop()
// to release resources and avoid leaks.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
