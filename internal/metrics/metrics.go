package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kavach_transactions_enqueued_total",
		Help: "Total number of transactions placed on the scoring queue.",
	})

	TransactionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kavach_transactions_processed_total",
		Help: "Total number of transactions scored, labelled by terminal status.",
	}, []string{"status"})

	TransactionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kavach_transactions_dropped_total",
		Help: "Total number of transactions rejected due to a full queue.",
	})

	FraudFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kavach_fraud_flagged_total",
		Help: "Total number of transactions whose final risk exceeded the threshold.",
	})

	ScoringStrategy = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kavach_scoring_strategy_total",
		Help: "Model-risk evaluations, labelled by the strategy that produced the score.",
	}, []string{"strategy"})

	ModelFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kavach_model_fallbacks_total",
		Help: "Classifier calls replaced by the rule-based score, labelled by reason.",
	}, []string{"reason"})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kavach_processing_duration_ms",
		Help:    "End-to-end transaction scoring latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kavach_queue_utilization_ratio",
		Help: "Current scoring queue utilization (0–1).",
	})

	LedgerSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kavach_ledger_entries",
		Help: "Transactions currently retained in the velocity ledger.",
	})

	GraphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kavach_graph_edges",
		Help: "Edges currently held in the relationship graph.",
	})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kavach_stream_clients",
		Help: "Connected dashboard websocket clients.",
	})

	NotifierErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kavach_notifier_errors_total",
		Help: "Failed result deliveries, labelled by notifier.",
	}, []string{"notifier"})

	SimulatedTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kavach_simulated_transactions_total",
		Help: "Synthetic transactions generated, labelled by scenario.",
	}, []string{"scenario"})
)
