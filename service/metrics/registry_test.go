package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLabelsCanonical(t *testing.T) {
	a := FormatLabels(map[string]string{"method": "GET", "path": "/x", "status": "200"})
	b := FormatLabels(map[string]string{"status": "200", "path": "/x", "method": "GET"})
	assert.Equal(t, a, b)
	assert.Equal(t, `method="GET",path="/x",status="200"`, a)
	assert.Equal(t, "", FormatLabels(nil))
	assert.Equal(t, "", FormatLabels(map[string]string{}))
}

func TestCounterAccumulates(t *testing.T) {
	r := NewRegistry()
	r.RegisterCounter("hits_total", "测试计数器")

	r.IncCounter("hits_total", map[string]string{"route": "/a"}, 1)
	r.IncCounter("hits_total", map[string]string{"route": "/a"}, 2)
	r.IncCounter("hits_total", nil, 5)

	snap := r.ToJSON()
	values := snap.Metrics["hits_total"].Values
	assert.Equal(t, 3.0, values[`route="/a"`])
	assert.Equal(t, 5.0, values[""])
}

func TestGaugeSetIncDec(t *testing.T) {
	r := NewRegistry()
	r.RegisterGauge("pool_size", "测试仪表")

	r.SetGauge("pool_size", nil, 10)
	r.IncGauge("pool_size", nil, 3)
	r.DecGauge("pool_size", nil, 5)

	values := r.ToJSON().Metrics["pool_size"].Values
	assert.Equal(t, 8.0, values[""])
}

func TestUnregisteredOperationsAreNoOps(t *testing.T) {
	r := NewRegistry()
	r.RegisterCounter("c", "counter")

	// 未注册指标与类型不匹配的操作都必须静默忽略
	r.IncCounter("missing", nil, 1)
	r.SetGauge("c", nil, 1)
	r.ObserveHistogram("c", 1, nil)

	values := r.ToJSON().Metrics["c"].Values
	assert.Empty(t, values)
}

func TestDuplicateRegistrationKeepsData(t *testing.T) {
	r := NewRegistry()
	r.RegisterCounter("c", "first")
	r.IncCounter("c", nil, 7)
	r.RegisterCounter("c", "second")

	snap := r.ToJSON()
	assert.Equal(t, "first", snap.Metrics["c"].Help)
	assert.Equal(t, 7.0, snap.Metrics["c"].Values[""])
}

func TestHistogramCumulativeBuckets(t *testing.T) {
	r := NewRegistry()
	r.RegisterHistogram("latency_ms", "延迟", []float64{5, 10, 25})

	r.ObserveHistogram("latency_ms", 7, nil)

	data := r.ToJSON().Metrics["latency_ms"].Values[""].(HistogramData)
	// 7 <= 10 与 7 <= 25 的bucket都累加，5不累加
	assert.Equal(t, 0.0, data.Buckets["5"])
	assert.Equal(t, 1.0, data.Buckets["10"])
	assert.Equal(t, 1.0, data.Buckets["25"])
	assert.Equal(t, 1.0, data.Buckets["+Inf"])
	assert.Equal(t, 7.0, data.Sum)
	assert.Equal(t, 1.0, data.Count)

	r.ObserveHistogram("latency_ms", 100, nil)
	data = r.ToJSON().Metrics["latency_ms"].Values[""].(HistogramData)
	assert.Equal(t, 1.0, data.Buckets["25"])
	assert.Equal(t, 2.0, data.Buckets["+Inf"])
	assert.Equal(t, 107.0, data.Sum)
	assert.Equal(t, 2.0, data.Count)
}

func TestResetClearsValuesKeepsRegistrations(t *testing.T) {
	r := NewRegistry()
	RegisterDefaultMetrics(r)
	r.IncCounter(MetricHTTPRequestsTotal, nil, 3)
	r.ObserveHistogram(MetricHTTPRequestDurationMs, 42, nil)

	r.Reset()

	snap := r.ToJSON()
	assert.Empty(t, snap.Metrics[MetricHTTPRequestsTotal].Values)
	assert.Empty(t, snap.Metrics[MetricHTTPRequestDurationMs].Values)
	// 注册信息保留，可继续累积
	r.IncCounter(MetricHTTPRequestsTotal, nil, 1)
	assert.Equal(t, 1.0, r.ToJSON().Metrics[MetricHTTPRequestsTotal].Values[""])
}

func TestPrometheusTextParses(t *testing.T) {
	r := NewRegistry()
	r.RegisterCounter("http_requests_total", "HTTP请求总数")
	r.RegisterGauge("pool_size", "连接池大小")
	r.RegisterHistogram("latency_ms", "延迟分布", []float64{10, 100})

	r.IncCounter("http_requests_total", map[string]string{"method": "GET", "status": "200"}, 12)
	r.SetGauge("pool_size", nil, 4)
	r.ObserveHistogram("latency_ms", 50, map[string]string{"route": "/x"})

	text := r.ToPrometheusText()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(text))
	require.NoError(t, err)

	require.Contains(t, families, "http_requests_total")
	require.Contains(t, families, "pool_size")
	require.Contains(t, families, "latency_ms")
	require.Contains(t, families, "process_uptime_seconds")
	require.Contains(t, families, "process_heap_bytes")

	counter := families["http_requests_total"]
	require.Len(t, counter.Metric, 1)
	assert.Equal(t, 12.0, counter.Metric[0].GetCounter().GetValue())
	assert.Len(t, counter.Metric[0].Label, 2)

	hist := families["latency_ms"]
	require.Len(t, hist.Metric, 1)
	h := hist.Metric[0].GetHistogram()
	assert.Equal(t, uint64(1), h.GetSampleCount())
	assert.Equal(t, 50.0, h.GetSampleSum())
}

func TestPrometheusTextTypeMarkers(t *testing.T) {
	r := NewRegistry()
	r.RegisterCounter("c_total", "计数")
	r.RegisterGauge("g", "仪表")

	text := r.ToPrometheusText()
	assert.Contains(t, text, "# TYPE c_total counter")
	assert.Contains(t, text, "# TYPE g gauge")
	assert.Contains(t, text, "# TYPE process_uptime_seconds gauge")
}
