package chainstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chainHeadGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainstream_chain_store_head_block",
			Help: "Block number of the chain head recorded in the chain store",
		},
		[]string{"chain"},
	)

	blocksCached = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_chain_store_blocks_cached_total",
			Help: "Total number of blocks written to the chain store",
		},
		[]string{"chain"},
	)

	blocksDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_chain_store_blocks_deleted_total",
			Help: "Total number of blocks removed from the chain store",
		},
		[]string{"chain", "reason"},
	)

	bodyCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_chain_store_body_cache_lookups_total",
			Help: "Block body cache lookups by result",
		},
		[]string{"chain", "result"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainstream_chain_store_query_duration_seconds",
			Help:    "Duration of chain store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "operation"},
	)

	queryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_chain_store_errors_total",
			Help: "Total number of failed chain store operations",
		},
		[]string{"chain", "operation"},
	)
)
