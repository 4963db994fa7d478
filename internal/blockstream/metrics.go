package blockstream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_block_stream_events_total",
			Help: "Total number of block stream events by kind",
		},
		[]string{"chain", "kind"},
	)

	streamHead = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainstream_block_stream_head_block",
			Help: "Block number of the head the block stream believes the subscriber is at",
		},
		[]string{"chain", "deployment"},
	)

	reorgDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainstream_block_stream_reorg_depth_blocks",
			Help:    "Number of consecutive reverts needed to reach the common ancestor",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"chain"},
	)

	reorgLastDetected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainstream_block_stream_reorg_last_detected_timestamp",
			Help: "Unix timestamp of the last detected reorg",
		},
		[]string{"chain"},
	)

	resumeOffMainChain = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_block_stream_resume_off_main_chain_total",
			Help: "Streams resumed from a block the provider no longer has on its main chain",
		},
		[]string{"chain"},
	)

	fatalErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_block_stream_fatal_errors_total",
			Help: "Total number of block stream instances ended by a fatal error",
		},
		[]string{"chain"},
	)
)

func reorgLog(chain string, depth int) {
	reorgDepth.WithLabelValues(chain).Observe(float64(depth))
	reorgLastDetected.WithLabelValues(chain).Set(float64(time.Now().UTC().Unix()))
}
