// Package metrics exposes streaming counters to prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const Path = "/metrics"

// Metrics are the bridge counters. A nil *Metrics records nothing.
type Metrics struct {
	FramesWritten   prometheus.Counter
	SamplesDropped  *prometheus.CounterVec
	SessionFailures *prometheus.CounterVec
	ConnectErrors   *prometheus.CounterVec
	DiscoveryPolls  prometheus.Counter
	Sessions        prometheus.Gauge
}

func New(namespace string) *Metrics {
	return &Metrics{
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_written_total",
			Help:      "Frames written to the host.",
		}),
		SamplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "samples_dropped_total",
			Help:      "Input samples that produced no frame.",
		}, []string{"reason"}),
		SessionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "failures_total",
			Help:      "Sessions closed by a write error.",
		}, []string{"kind"}),
		ConnectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connect_errors_total",
			Help:      "Failed session connection attempts.",
		}, []string{"kind"}),
		DiscoveryPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accessory",
			Name:      "discovery_polls_total",
			Help:      "Accessory discovery poll cycles.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently streaming.",
		}),
	}
}

// Collectors returns all metrics as collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.FramesWritten,
		m.SamplesDropped,
		m.SessionFailures,
		m.ConnectErrors,
		m.DiscoveryPolls,
		m.Sessions,
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return nil
}

// Label converts a kind name such as "BrokenPipe" to a label value ("broken_pipe").
func Label(kind fmt.Stringer) string {
	return strcase.ToSnake(kind.String())
}

func (m *Metrics) FrameWritten() {
	if m == nil {
		return
	}
	m.FramesWritten.Inc()
}

func (m *Metrics) SampleDropped(reason string) {
	if m == nil {
		return
	}
	m.SamplesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionFailed(kind fmt.Stringer) {
	if m == nil {
		return
	}
	m.SessionFailures.WithLabelValues(Label(kind)).Inc()
}

func (m *Metrics) ConnectFailed(kind fmt.Stringer) {
	if m == nil {
		return
	}
	m.ConnectErrors.WithLabelValues(Label(kind)).Inc()
}

func (m *Metrics) DiscoveryPolled() {
	if m == nil {
		return
	}
	m.DiscoveryPolls.Inc()
}

func (m *Metrics) SessionActive(delta float64) {
	if m == nil {
		return
	}
	m.Sessions.Add(delta)
}

// Serve exposes gatherer on addr until ctx is done.
func Serve(ctx context.Context, log *zap.Logger, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle(Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	log.Info("Serving metrics", zap.String("addr", addr), zap.String("path", Path))
	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	return nil
}
