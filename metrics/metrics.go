// Package metrics exports account key store events as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fpstorage"

// Collector implements accountkey.Observer.
type Collector struct {
	keys       prometheus.Gauge
	saves      *prometheus.CounterVec
	bestEffort *prometheus.CounterVec
	purged     *prometheus.CounterVec
}

func New() *Collector {
	return &Collector{
		keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_keys",
			Help:      "Number of stored account keys.",
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_key_saves_total",
			Help:      "Account keys written, by whether a key was evicted.",
		}, []string{"evicted"}),
		bestEffort: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "best_effort_write_failures_total",
			Help:      "Writes that failed without failing the operation.",
		}, []string{"record"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bond_records_purged_total",
			Help:      "Bond records removed by recovery or eviction.",
		}, []string{"reason"}),
	}
}

// Register adds all collectors to r.
func (c *Collector) Register(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.keys, c.saves, c.bestEffort, c.purged} {
		if err := r.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) KeysStored(n int) {
	c.keys.Set(float64(n))
}

func (c *Collector) KeySaved(evicted bool) {
	if evicted {
		c.saves.WithLabelValues("true").Inc()
	} else {
		c.saves.WithLabelValues("false").Inc()
	}
}

func (c *Collector) BestEffortFailed(record string) {
	c.bestEffort.WithLabelValues(record).Inc()
}

func (c *Collector) BondPurged(reason string) {
	c.purged.WithLabelValues(reason).Inc()
}
