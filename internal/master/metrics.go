package master

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsPrefix = "disco_master_"

// MetricsCollector is a Prometheus Collector over the scheduler's registry:
// per-node load, capacity and outcome counters, plus waitlist depth and the
// number of live workers. Everything is read from a snapshot taken at
// collection time.
type MetricsCollector struct {
	scheduler *Scheduler

	nodeLoadDesc        *prometheus.Desc
	nodeCapacityDesc    *prometheus.Desc
	nodeOkDesc          *prometheus.Desc
	nodeDataErrorDesc   *prometheus.Desc
	nodeCrashDesc       *prometheus.Desc
	nodeBlacklistedDesc *prometheus.Desc
	waitlistDesc        *prometheus.Desc
	liveWorkersDesc     *prometheus.Desc
}

func NewMetricsCollector(scheduler *Scheduler) *MetricsCollector {
	nodeLabels := []string{"node"}
	return &MetricsCollector{
		scheduler: scheduler,
		nodeLoadDesc: prometheus.NewDesc(
			metricsPrefix+"node_load",
			"Number of workers currently running on the node",
			nodeLabels, nil),
		nodeCapacityDesc: prometheus.NewDesc(
			metricsPrefix+"node_capacity",
			"Maximum number of concurrent workers on the node",
			nodeLabels, nil),
		nodeOkDesc: prometheus.NewDesc(
			metricsPrefix+"node_ok_total",
			"Workers that finished successfully on the node",
			nodeLabels, nil),
		nodeDataErrorDesc: prometheus.NewDesc(
			metricsPrefix+"node_data_error_total",
			"Workers that failed with a data error on the node",
			nodeLabels, nil),
		nodeCrashDesc: prometheus.NewDesc(
			metricsPrefix+"node_crash_total",
			"Workers that crashed on the node",
			nodeLabels, nil),
		nodeBlacklistedDesc: prometheus.NewDesc(
			metricsPrefix+"node_blacklisted",
			"Whether the node is administratively blacklisted",
			nodeLabels, nil),
		waitlistDesc: prometheus.NewDesc(
			metricsPrefix+"waitlist_length",
			"Tasks waiting to be dispatched",
			nil, nil),
		liveWorkersDesc: prometheus.NewDesc(
			metricsPrefix+"live_workers",
			"Workers currently running across the cluster",
			nil, nil),
	}
}

// Describe returns all descriptions of the collector.
func (c *MetricsCollector) Describe(out chan<- *prometheus.Desc) {
	out <- c.nodeLoadDesc
	out <- c.nodeCapacityDesc
	out <- c.nodeOkDesc
	out <- c.nodeDataErrorDesc
	out <- c.nodeCrashDesc
	out <- c.nodeBlacklistedDesc
	out <- c.waitlistDesc
	out <- c.liveWorkersDesc
}

// Collect returns the current state of all metrics of the collector.
func (c *MetricsCollector) Collect(out chan<- prometheus.Metric) {
	infos, active, err := c.scheduler.NodeInfo()
	if err != nil {
		return
	}
	for _, info := range infos {
		out <- prometheus.MustNewConstMetric(c.nodeLoadDesc, prometheus.GaugeValue, float64(info.Load), info.Name)
		out <- prometheus.MustNewConstMetric(c.nodeCapacityDesc, prometheus.GaugeValue, float64(info.Capacity), info.Name)
		out <- prometheus.MustNewConstMetric(c.nodeOkDesc, prometheus.CounterValue, float64(info.OkCount), info.Name)
		out <- prometheus.MustNewConstMetric(c.nodeDataErrorDesc, prometheus.CounterValue, float64(info.DataError), info.Name)
		out <- prometheus.MustNewConstMetric(c.nodeCrashDesc, prometheus.CounterValue, float64(info.Error), info.Name)
		blacklisted := 0.0
		if info.Blacklisted {
			blacklisted = 1.0
		}
		out <- prometheus.MustNewConstMetric(c.nodeBlacklistedDesc, prometheus.GaugeValue, blacklisted, info.Name)
	}
	out <- prometheus.MustNewConstMetric(c.waitlistDesc, prometheus.GaugeValue, float64(c.scheduler.WaitlistLength()))
	out <- prometheus.MustNewConstMetric(c.liveWorkersDesc, prometheus.GaugeValue, float64(len(active)))
}
