// Package metrics exposes Prometheus counters for page fetches, link
// classification and job outcomes.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page outcomes.
const (
	PageOK      = "ok"
	PageEmpty   = "empty"
	PageBlocked = "blocked"
	PageTimeout = "timeout"
	PageError   = "error"
)

var (
	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_pages_total",
			Help: "Total number of results pages fetched, by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	PageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_page_duration_seconds",
			Help:    "Duration of results page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"strategy"},
	)

	LinksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_links_total",
			Help: "Total number of links classified, by filter decision",
		},
		[]string{"reason"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_jobs_total",
			Help: "Total number of harvest jobs, by final status",
		},
		[]string{"status"},
	)

	JobResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_job_results",
			Help:    "Unique domains written per completed job",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_proxy_failures_total",
			Help: "Total number of proxy failures during page fetches",
		},
		[]string{"proxy_host"},
	)

	ProxyBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_proxy_blocks_total",
			Help: "Challenge pages served through each proxy",
		},
		[]string{"proxy_host"},
	)
)

// RecordPage counts one page fetch.
func RecordPage(strategy, outcome string, d time.Duration) {
	PagesTotal.WithLabelValues(strategy, outcome).Inc()
	PageDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordLink counts one classified link.
func RecordLink(reason string) {
	LinksTotal.WithLabelValues(reason).Inc()
}

// RecordJob counts a finished job. results is only observed for completed jobs.
func RecordJob(status string, results int) {
	JobsTotal.WithLabelValues(status).Inc()
	if status == "completed" {
		JobResults.Observe(float64(results))
	}
}

// RecordProxyFailure counts a failed request through the proxy at host.
func RecordProxyFailure(host string) {
	ProxyFailures.WithLabelValues(host).Inc()
}

// RecordProxyBlock counts a challenge page served through the proxy at host.
func RecordProxyBlock(host string) {
	ProxyBlocks.WithLabelValues(host).Inc()
}

// Server serves /metrics.
type Server struct {
	srv  *http.Server
	addr net.Addr
}

// Addr is the bound listen address.
func (s *Server) Addr() net.Addr { return s.addr }

// Start serves /metrics on port; 0 picks a free port. The listener is bound
// before Start returns.
func Start(port int, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	logger.Info("metrics server listening", "addr", ln.Addr().String())
	return &Server{srv: srv, addr: ln.Addr()}, nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
