package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provisioning metrics
	ProvisionedEntities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hundesystem_provisioned_entities_total",
		Help: "Helper entities handled by provisioning runs by domain and outcome",
	}, []string{"domain", "outcome"})

	ProvisionRetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hundesystem_provision_retry_attempts_total",
		Help: "Retry attempts for helper entity creation by domain",
	}, []string{"domain"})

	ProvisionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hundesystem_provision_runs_total",
		Help: "Provisioning runs by result",
	}, []string{"result"})

	ProvisionSuccessRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hundesystem_provision_success_rate",
		Help: "Success rate in percent of the last provisioning run per dog",
	}, []string{"dog"})

	// Status evaluation metrics
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hundesystem_evaluations_total",
		Help: "Status rule evaluations by rule and outcome",
	}, []string{"rule", "outcome"})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hundesystem_evaluation_duration_seconds",
		Help:    "Duration of evaluating and publishing one status rule",
		Buckets: prometheus.DefBuckets,
	})

	// Action and notification metrics
	ActionPresses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hundesystem_action_presses_total",
		Help: "Action handler invocations by action and outcome",
	}, []string{"action", "outcome"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hundesystem_notifications_total",
		Help: "Notification deliveries by outcome",
	}, []string{"outcome"})

	// Home Assistant client metrics
	HassConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hundesystem_hass_connection_status",
		Help: "Status of the Home Assistant connection (1=connected, 0=disconnected)",
	})

	HassEventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hundesystem_hass_events_received_total",
		Help: "The total number of events received from Home Assistant",
	})

	HassEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hundesystem_hass_events_dropped_total",
		Help: "Events dropped because a subscriber was not keeping up",
	})

	HassRequestRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hundesystem_hass_request_retries_total",
		Help: "Total number of retried Home Assistant REST requests",
	})

	// Journal metrics
	JournalRowsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hundesystem_journal_rows_inserted_total",
		Help: "Activity rows written to ClickHouse",
	})

	JournalBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hundesystem_journal_batch_size",
		Help:    "Histogram of journal batch sizes",
		Buckets: prometheus.LinearBuckets(1, 10, 10),
	})

	CHRetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hundesystem_clickhouse_retry_attempts_total",
		Help: "Total number of retry attempts for ClickHouse operations",
	})

	CHRetrySuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hundesystem_clickhouse_retry_success_total",
		Help: "Total number of successful retries for ClickHouse operations",
	})
)
