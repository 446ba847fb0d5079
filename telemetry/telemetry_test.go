package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncHotReload("/etc/config/mbusd")
	collector.IncValidationFailure("port")
	collector.IncDiscoveryFailure("/dev/tts/")
	collector.IncSave(SaveOK)
}

func TestPrometheusCollectorRegistersAndReusesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncHotReload("/etc/config/mbusd")

	metrics, err := reg.Gather()
	require.NoError(t, err)
	family := findFamily(t, metrics, "mbusdconf_config_hot_reload_total")
	requireCounterValue(t, family, 1)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.hotReloads, again.hotReloads)

	again.IncHotReload("/etc/config/mbusd")

	metrics, err = reg.Gather()
	require.NoError(t, err)
	requireCounterValue(t, findFamily(t, metrics, "mbusdconf_config_hot_reload_total"), 2)
}

func TestPrometheusCollectorCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncValidationFailure("device")
	collector.IncDiscoveryFailure("/dev/tts/")
	collector.IncSave(SaveInvalid)

	metrics, err := reg.Gather()
	require.NoError(t, err)
	requireCounterValue(t, findFamily(t, metrics, "mbusdconf_validation_failures_total"), 1)
	requireCounterValue(t, findFamily(t, metrics, "mbusdconf_discovery_failures_total"), 1)
	saves := findFamily(t, metrics, "mbusdconf_saves_total")
	requireCounterValue(t, saves, 1)
	require.Equal(t, SaveInvalid, saves.Metric[0].GetLabel()[0].GetValue())
}

func TestNilPrometheusCollectorIsSafe(t *testing.T) {
	var collector *PrometheusCollector
	collector.IncHotReload("x")
	collector.IncValidationFailure("x")
	collector.IncDiscoveryFailure("x")
	collector.IncSave(SaveError)
}

func findFamily(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
