// Package health exposes the collector's self-observability surface
// (spec.md §9 supplemented features): a liveness endpoint plus Prometheus
// counters/gauges for ring occupancy, dropped/oversized records, orphan
// spans, decode errors, and dictionary not-found errors. Grounded on the
// teacher's pkg/metricstore/healthcheck.go for the health-check concept and
// cmd/cc-backend/server.go for the gorilla/mux router shape.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

// Metrics bundles every gauge/counter the collector exposes about itself.
type Metrics struct {
	RingReaderIndex  *prometheus.GaugeVec
	RingWriterIndex  *prometheus.GaugeVec
	RingOccupancy    *prometheus.GaugeVec
	RecordsDropped   *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	NotFoundErrors   prometheus.Counter
	OrphanSpans      prometheus.Counter
	WouldBlockSpins  prometheus.Counter
	BatchesSent      *prometheus.CounterVec
	SendLatencySecs  *prometheus.HistogramVec
}

// NewMetrics registers every series against reg (pass prometheus.NewRegistry()
// in tests to avoid the global default registry's duplicate-registration
// panics across test cases).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RingReaderIndex: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "otlpshm", Name: "ring_reader_index",
			Help: "Current reader_index of a ring buffer.",
		}, []string{"ring"}),
		RingWriterIndex: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "otlpshm", Name: "ring_writer_index",
			Help: "Current writer_index of a ring buffer.",
		}, []string{"ring"}),
		RingOccupancy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "otlpshm", Name: "ring_occupancy",
			Help: "writer_index - reader_index for a ring buffer.",
		}, []string{"ring"}),
		RecordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otlpshm", Name: "records_dropped_total",
			Help: "Records a pipeline read from a ring and dropped, by reason (decode, resolve, record).",
		}, []string{"ring", "reason"}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otlpshm", Name: "decode_errors_total",
			Help: "Malformed records observed by a pipeline.",
		}, []string{"ring"}),
		NotFoundErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otlpshm", Name: "dictionary_not_found_total",
			Help: "Dictionary lookups that missed (offset out of range).",
		}),
		OrphanSpans: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otlpshm", Name: "orphan_spans_total",
			Help: "Span Name/Attributes/Link/End events observed with no matching open span.",
		}),
		WouldBlockSpins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otlpshm", Name: "would_block_spins_total",
			Help: "Times a pipeline observed ErrEmpty/ErrWouldBlock and backed off.",
		}),
		BatchesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otlpshm", Name: "batches_sent_total",
			Help: "Batches successfully handed to the sink, by pipeline.",
		}, []string{"pipeline"}),
		SendLatencySecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "otlpshm", Name: "sink_send_seconds",
			Help:    "Latency of Sink.Send{Logs,Spans,Metrics} calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline"}),
	}
}

// ObserveRing samples a ring's cursors into the gauges, called once per
// turn of the collector's single-threaded poll loop (spec.md §5). m may be
// nil (no health server configured), in which case every method here is a
// no-op; this lets pipelines call these unconditionally instead of guarding
// every call site.
func (m *Metrics) ObserveRing(name string, r *shmfile.RingBuffer) {
	if m == nil {
		return
	}
	reader := float64(r.ReaderIndex())
	writer := float64(r.WriterIndex())
	m.RingReaderIndex.WithLabelValues(name).Set(reader)
	m.RingWriterIndex.WithLabelValues(name).Set(writer)
	m.RingOccupancy.WithLabelValues(name).Set(writer - reader)
}

// IncRecordsDropped counts one record dropped from ring because of reason
// (e.g. "decode", "resolve").
func (m *Metrics) IncRecordsDropped(ring, reason string) {
	if m == nil {
		return
	}
	m.RecordsDropped.WithLabelValues(ring, reason).Inc()
}

// IncDecodeErrors counts one malformed record observed on ring.
func (m *Metrics) IncDecodeErrors(ring string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(ring).Inc()
}

// IncNotFoundErrors counts one dictionary lookup miss.
func (m *Metrics) IncNotFoundErrors() {
	if m == nil {
		return
	}
	m.NotFoundErrors.Inc()
}

// IncOrphanSpans counts one span event observed with no matching open span.
func (m *Metrics) IncOrphanSpans() {
	if m == nil {
		return
	}
	m.OrphanSpans.Inc()
}

// IncWouldBlockSpins counts one empty-ring backoff tick.
func (m *Metrics) IncWouldBlockSpins() {
	if m == nil {
		return
	}
	m.WouldBlockSpins.Inc()
}

// IncBatchesSent counts one batch successfully handed to the sink by
// pipeline.
func (m *Metrics) IncBatchesSent(pipeline string) {
	if m == nil {
		return
	}
	m.BatchesSent.WithLabelValues(pipeline).Inc()
}

// ObserveSendLatency records how long a Sink.Send{Logs,Spans,Metrics} call
// took for pipeline.
func (m *Metrics) ObserveSendLatency(pipeline string, d time.Duration) {
	if m == nil {
		return
	}
	m.SendLatencySecs.WithLabelValues(pipeline).Observe(d.Seconds())
}

// Server is the collector's self-observability HTTP endpoint: /healthz for
// liveness, /metrics for Prometheus scraping.
type Server struct {
	Addr    string
	Metrics *Metrics
	File    *shmfile.File

	httpServer *http.Server
}

// NewServer builds the router. File may be nil before the producer's file
// has been opened; /healthz reports "waiting" in that case rather than 500.
func NewServer(addr string, metrics *Metrics, file *shmfile.File) *Server {
	s := &Server{Addr: addr, Metrics: metrics, File: file}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{Addr: addr, Handler: router}
	return s
}

func (s *Server) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	status := "waiting"
	var changed bool
	if s.File != nil {
		status = "ok"
		changed = s.File.HasChanged()
		if changed {
			status = "file-out-of-date"
		}
	}
	json.NewEncoder(rw).Encode(map[string]any{
		"status":        status,
		"file_attached": s.File != nil,
		"file_replaced": changed,
	})
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
