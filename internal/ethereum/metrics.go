package ethereum

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainstream_triggers_adapter_scan_duration_seconds",
			Help:    "Time spent scanning a block range for triggers",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"chain"},
	)

	blocksScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_triggers_adapter_blocks_scanned_total",
			Help: "Total number of blocks returned by range scans",
		},
		[]string{"chain"},
	)

	triggersFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_triggers_adapter_triggers_total",
			Help: "Total number of triggers found by kind",
		},
		[]string{"chain", "kind"},
	)

	blockLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_triggers_adapter_block_lookups_total",
			Help: "Single block lookups by source (store or provider)",
		},
		[]string{"chain", "source"},
	)
)

func observeScan(chain string, blocks, triggers int, d time.Duration) {
	scanDuration.WithLabelValues(chain).Observe(d.Seconds())
	blocksScanned.WithLabelValues(chain).Add(float64(blocks))
	triggersFound.WithLabelValues(chain, TriggerKindLog).Add(float64(triggers))
}
