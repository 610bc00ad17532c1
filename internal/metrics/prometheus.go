package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exports metrics through a Prometheus registry.
type Prometheus struct {
	opLatency     *prometheus.HistogramVec
	gets          *prometheus.CounterVec
	writes        *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	flushedBytes  prometheus.Counter
	compactions   *prometheus.CounterVec
	compacted     prometheus.Counter
	memtableBytes prometheus.Gauge
	segments      prometheus.Gauge
	segmentBytes  prometheus.Gauge
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates the collectors and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lsmkv_operation_latency_seconds",
			Help:    "Latency of store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lsmkv_gets_total",
			Help: "Point lookups by result",
		}, []string{"result"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lsmkv_writes_total",
			Help: "Total writes processed",
		}, []string{"type"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lsmkv_flushes_total",
			Help: "Total memtable flushes",
		}, []string{"status"}),
		flushedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsmkv_flushed_bytes_total",
			Help: "Bytes written by flushes",
		}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lsmkv_compactions_total",
			Help: "Total compactions",
		}, []string{"status"}),
		compacted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsmkv_compacted_bytes_total",
			Help: "Bytes written by compactions",
		}),
		memtableBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lsmkv_memtable_size_bytes",
			Help: "Approximate size of the memtable in bytes",
		}),
		segments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lsmkv_segments",
			Help: "Number of live segments",
		}),
		segmentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lsmkv_segment_size_bytes",
			Help: "Total size of live segment files",
		}),
	}

	for _, c := range []prometheus.Collector{
		p.opLatency, p.gets, p.writes, p.flushes, p.flushedBytes,
		p.compactions, p.compacted, p.memtableBytes, p.segments, p.segmentBytes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (p *Prometheus) RecordGet(d time.Duration, hit bool, err error) {
	p.opLatency.WithLabelValues("get", status(err)).Observe(d.Seconds())
	switch {
	case err != nil:
		p.gets.WithLabelValues("error").Inc()
	case hit:
		p.gets.WithLabelValues("hit").Inc()
	default:
		p.gets.WithLabelValues("miss").Inc()
	}
}

func (p *Prometheus) RecordRange(d time.Duration, err error) {
	p.opLatency.WithLabelValues("range", status(err)).Observe(d.Seconds())
}

func (p *Prometheus) RecordWrite(d time.Duration, tombstone bool, err error) {
	p.opLatency.WithLabelValues("write", status(err)).Observe(d.Seconds())
	if tombstone {
		p.writes.WithLabelValues("delete").Inc()
	} else {
		p.writes.WithLabelValues("put").Inc()
	}
}

func (p *Prometheus) RecordFlush(entries, bytes uint64, d time.Duration, err error) {
	p.opLatency.WithLabelValues("flush", status(err)).Observe(d.Seconds())
	p.flushes.WithLabelValues(status(err)).Inc()
	if err == nil {
		p.flushedBytes.Add(float64(bytes))
	}
}

func (p *Prometheus) RecordCompaction(victims int, entries, bytes uint64, d time.Duration, err error) {
	p.opLatency.WithLabelValues("compaction", status(err)).Observe(d.Seconds())
	p.compactions.WithLabelValues(status(err)).Inc()
	if err == nil {
		p.compacted.Add(float64(bytes))
	}
}

func (p *Prometheus) SetMemtableSize(bytes int64) {
	p.memtableBytes.Set(float64(bytes))
}

func (p *Prometheus) SetSegments(count int, bytes int64) {
	p.segments.Set(float64(count))
	p.segmentBytes.Set(float64(bytes))
}
