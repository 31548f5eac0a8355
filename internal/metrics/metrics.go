// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal 记录 HTTP 请求的总数
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minutebars_http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// TasksDispatchedTotal 记录发布到 url 队列的任务数
	TasksDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minutebars_tasks_dispatched_total",
			Help: "Total number of fetch tasks published to the url queue.",
		},
	)

	// ResultsHandledTotal counts response deliveries by how they were settled.
	ResultsHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minutebars_results_handled_total",
			Help: "Total number of fetch results handled by the response consumer.",
		},
		[]string{"outcome"}, // processed, dead_lettered, stale, late, malformed, requeued
	)

	BarsInsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minutebars_bars_inserted_total",
			Help: "Total number of bars written to the sink.",
		},
	)

	// RowsDiscardedTotal 记录解码时丢弃的行
	RowsDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minutebars_rows_discarded_total",
			Help: "Total number of getprices rows discarded by the decoder.",
		},
	)

	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minutebars_fetches_total",
			Help: "Total number of downloads performed by downloader workers.",
		},
		[]string{"status"}, // success, failed
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minutebars_runs_total",
			Help: "Total number of dispatch-and-collect runs.",
		},
		[]string{"status"},
	)

	// RunProgress 当前 run 的进度
	RunProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "minutebars_run_progress",
			Help: "Expected and acknowledged task counts of the current run.",
		},
		[]string{"kind"}, // expected, done
	)

	// IsLeader 标记当前节点是否为 Leader
	IsLeader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "minutebars_is_leader",
			Help: "Is this node currently the leader. 1 if leader, 0 otherwise.",
		},
		[]string{"node_id"},
	)
)
