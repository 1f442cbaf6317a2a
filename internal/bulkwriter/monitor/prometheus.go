package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	// BulkWriterRounds 写入轮次
	BulkWriterRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_writer_rounds_total",
			Help: "Total number of submission rounds started.",
		},
		[]string{"writer_id"},
	)
	BulkWriterBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_writer_batches_total",
			Help: "Total number of batches submitted to the store.",
		},
		[]string{"writer_id"},
	)
	BulkWriterBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulk_writer_batch_size",
			Help:    "Number of records in each submitted batch.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 500, 1000},
		},
		[]string{"writer_id"},
	)
	BulkWriterRecordsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_writer_records_accepted_total",
			Help: "Total number of records the store confirmed as written.",
		},
		[]string{"writer_id"},
	)
	BulkWriterRecordsUnprocessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_writer_records_unprocessed_total",
			Help: "Total number of records returned unprocessed by the store, per round.",
		},
		[]string{"writer_id"},
	)
	BulkWriterRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_writer_retries_total",
			Help: "Total number of retry rounds scheduled.",
		},
		[]string{"writer_id"},
	)
	BulkWriterCallFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_writer_call_failures_total",
			Help: "Total number of batch-write calls that failed outright.",
		},
		[]string{"writer_id"},
	)
	BulkWriterOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_writer_outcomes_total",
			Help: "Terminal outcomes of write operations by status.",
		},
		[]string{"writer_id", "status"},
	)
	BulkWriterDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulk_writer_write_duration_seconds",
			Help:    "Time taken by one write operation including retries.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"writer_id"},
	)

	// AsyncWriterMessagesQueued AsyncWriter 指标
	AsyncWriterMessagesQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "async_writer_messages_queued_total",
			Help: "Total number of messages queued to async writer.",
		},
		[]string{"writer_id"},
	)
	AsyncWriterMessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "async_writer_messages_dropped_total",
			Help: "Total number of messages dropped due to full queue.",
		},
		[]string{"writer_id"},
	)
	AsyncWriterFlushCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "async_writer_flush_count_total",
			Help: "Total number of batch flushes triggered.",
		},
		[]string{"writer_id"},
	)
	AsyncWriterFlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "async_writer_flush_duration_seconds",
			Help:    "Time taken to flush a batch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"writer_id"},
	)
)

func init() {
	prometheus.MustRegister(
		// bulk writer 指标
		BulkWriterRounds,
		BulkWriterBatches,
		BulkWriterBatchSize,
		BulkWriterRecordsAccepted,
		BulkWriterRecordsUnprocessed,
		BulkWriterRetries,
		BulkWriterCallFailures,
		BulkWriterOutcomes,
		BulkWriterDuration,

		// async 写入指标
		AsyncWriterMessagesQueued,
		AsyncWriterMessagesDropped,
		AsyncWriterFlushCount,
		AsyncWriterFlushDuration,
	)
}
