package monitoring

import (
	"testing"
	"time"

	gometrics "github.com/armon/go-metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	counters []string
	gauges   []string
	samples  []string
}

func (f *fakeSink) SetGauge(key []string, val float32) { f.gauges = append(f.gauges, key[0]) }
func (f *fakeSink) SetGaugeWithLabels(key []string, val float32, labels []gometrics.Label) {
	f.gauges = append(f.gauges, key[0])
}
func (f *fakeSink) EmitKey(key []string, val float32) {}
func (f *fakeSink) IncrCounter(key []string, val float32) {
	f.counters = append(f.counters, key[0])
}
func (f *fakeSink) IncrCounterWithLabels(key []string, val float32, labels []gometrics.Label) {
	f.counters = append(f.counters, key[0])
}
func (f *fakeSink) AddSample(key []string, val float32) { f.samples = append(f.samples, key[0]) }
func (f *fakeSink) AddSampleWithLabels(key []string, val float32, labels []gometrics.Label) {
	f.samples = append(f.samples, key[0])
}

func TestCount_FansOutToGoMetricsAndPrometheus(t *testing.T) {
	before := testutil.ToFloat64(drainCount)

	fake := &fakeSink{}
	Configure(fake)
	defer Configure(&gometrics.BlackholeSink{})

	Count("clusterman.node_migration.drain_count", 3)

	assert.Contains(t, fake.counters, "clusterman.node_migration.drain_count")
	assert.Equal(t, before+3, testutil.ToFloat64(drainCount))
}

func TestGauge_UpdatesPrometheusGauge(t *testing.T) {
	fake := &fakeSink{}
	Configure(fake)
	defer Configure(&gometrics.BlackholeSink{})

	Gauge("clusterman.node_migration.drained_node_uptime", 1234.5)

	assert.Contains(t, fake.gauges, "clusterman.node_migration.drained_node_uptime")
	assert.Equal(t, 1234.5, testutil.ToFloat64(drainedNodeUptime))
}

func TestTiming_RecordsSampleInSeconds(t *testing.T) {
	fake := &fakeSink{}
	Configure(fake)
	defer Configure(&gometrics.BlackholeSink{})

	Timing("clusterman.node_migration.duration", 2*time.Second)
	require.Contains(t, fake.samples, "clusterman.node_migration.duration")
}
