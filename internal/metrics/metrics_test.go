package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBasic(t *testing.T) {
	b := &Basic{}

	b.RecordGet(2*time.Millisecond, true, nil)
	b.RecordGet(4*time.Millisecond, false, nil)
	b.RecordGet(time.Millisecond, false, errBoom)
	b.RecordRange(time.Millisecond, nil)
	b.RecordWrite(time.Millisecond, false, nil)
	b.RecordWrite(time.Millisecond, true, nil)
	b.RecordFlush(10, 200, time.Millisecond, nil)
	b.RecordFlush(0, 0, time.Millisecond, errBoom)
	b.RecordCompaction(3, 7, 150, time.Millisecond, nil)
	b.SetMemtableSize(42)
	b.SetSegments(2, 350)

	s := b.GetStats()
	assert.Equal(t, int64(3), s.GetCount)
	assert.Equal(t, int64(1), s.GetHits)
	assert.Equal(t, int64(1), s.GetErrors)
	assert.Equal(t, (7 * time.Millisecond).Nanoseconds()/3, s.GetAvgNanos)
	assert.Equal(t, int64(1), s.RangeCount)
	assert.Equal(t, int64(2), s.WriteCount)
	assert.Equal(t, int64(1), s.DeleteCount)
	assert.Equal(t, int64(2), s.FlushCount)
	assert.Equal(t, int64(1), s.FlushErrors)
	assert.Equal(t, int64(10), s.FlushedEntries)
	assert.Equal(t, int64(200), s.FlushedBytes)
	assert.Equal(t, int64(1), s.CompactionCount)
	assert.Equal(t, int64(150), s.CompactedBytes)
	assert.Equal(t, int64(42), s.MemtableBytes)
	assert.Equal(t, int64(2), s.SegmentCount)
	assert.Equal(t, int64(350), s.SegmentBytes)
}

func TestBasicEmptyAverages(t *testing.T) {
	s := (&Basic{}).GetStats()
	assert.Zero(t, s.GetAvgNanos)
	assert.Zero(t, s.WriteAvgNanos)
}

func TestNoop(t *testing.T) {
	var c Collector = Noop{}
	c.RecordGet(time.Millisecond, true, nil)
	c.RecordFlush(1, 1, time.Millisecond, nil)
	c.SetSegments(1, 1)
}

func TestPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)

	p.RecordGet(time.Millisecond, true, nil)
	p.RecordGet(time.Millisecond, false, nil)
	p.RecordGet(time.Millisecond, false, nil)
	p.RecordWrite(time.Millisecond, false, nil)
	p.RecordWrite(time.Millisecond, true, nil)
	p.RecordFlush(5, 128, time.Millisecond, nil)
	p.RecordCompaction(2, 5, 64, time.Millisecond, errBoom)
	p.SetMemtableSize(1024)
	p.SetSegments(3, 4096)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.gets.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.gets.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.writes.WithLabelValues("delete")))
	assert.Equal(t, 128.0, testutil.ToFloat64(p.flushedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.compactions.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.compacted))
	assert.Equal(t, 1024.0, testutil.ToFloat64(p.memtableBytes))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.segments))

	expected := `
# HELP lsmkv_segment_size_bytes Total size of live segment files
# TYPE lsmkv_segment_size_bytes gauge
lsmkv_segment_size_bytes 4096
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "lsmkv_segment_size_bytes"))
}

func TestPrometheusDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg)
	require.NoError(t, err)

	_, err = NewPrometheus(reg)
	require.Error(t, err)
}

func TestMultiFansOut(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)
	b := &Basic{}

	var c Collector = Multi{b, p, Noop{}}
	c.RecordWrite(time.Millisecond, false, nil)
	c.RecordFlush(4, 100, time.Millisecond, nil)
	c.SetSegments(1, 100)

	assert.Equal(t, int64(1), b.GetStats().WriteCount)
	assert.Equal(t, int64(1), b.GetStats().FlushCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.writes.WithLabelValues("put")))
	assert.Equal(t, 100.0, testutil.ToFloat64(p.flushedBytes))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)
	p.SetSegments(2, 512)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "lsmkv_segments 2")
}
