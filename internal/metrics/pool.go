package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Rorqualx/gtranslate-go/internal/browser"
)

// PoolSource is the read side of the session pool.
type PoolSource interface {
	Size() int
	Available() int
	InUse() int
	Generation() uint64
	Stats() browser.PoolStatsSnapshot
}

// poolCollector reads pool state at scrape time.
type poolCollector struct {
	src PoolSource

	size            *prometheus.Desc
	available       *prometheus.Desc
	inUse           *prometheus.Desc
	generation      *prometheus.Desc
	acquired        *prometheus.Desc
	unavailable     *prometheus.Desc
	recycled        *prometheus.Desc
	recycleFailures *prometheus.Desc
	setupFailures   *prometheus.Desc
}

func newPoolCollector(src PoolSource) *poolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, nil, nil)
	}
	return &poolCollector{
		src:             src,
		size:            desc("size", "Requested session count N"),
		available:       desc("available", "Sessions ready to be acquired"),
		inUse:           desc("in_use", "Sessions currently handed out"),
		generation:      desc("generation", "Current pool generation"),
		acquired:        desc("acquired_total", "Total successful session acquisitions"),
		unavailable:     desc("unavailable_total", "Total acquisitions rejected because no session was free"),
		recycled:        desc("recycled_total", "Total completed pool recycles"),
		recycleFailures: desc("recycle_failures_total", "Total recycles that gave up after retrying"),
		setupFailures:   desc("setup_failures_total", "Total sessions that failed setup"),
	}
}

// Describe implements prometheus.Collector.
func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.available
	ch <- c.inUse
	ch <- c.generation
	ch <- c.acquired
	ch <- c.unavailable
	ch <- c.recycled
	ch <- c.recycleFailures
	ch <- c.setupFailures
}

// Collect implements prometheus.Collector.
func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.src.Stats()

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.size, float64(c.src.Size()))
	gauge(c.available, float64(c.src.Available()))
	gauge(c.inUse, float64(c.src.InUse()))
	gauge(c.generation, float64(c.src.Generation()))
	counter(c.acquired, stats.Acquired)
	counter(c.unavailable, stats.Unavailable)
	counter(c.recycled, stats.Recycled)
	counter(c.recycleFailures, stats.RecycleFailures)
	counter(c.setupFailures, stats.SetupFailures)
}

// RegisterPool exposes pool gauges and counters on the default registry.
func RegisterPool(src PoolSource) error {
	return prometheus.Register(newPoolCollector(src))
}
