// ============================================================================
// Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露對帳工作的執行指標
//
// 指標分類:
//
//   1. 工作計數器 (Counter):
//      - reconciler_jobs_submitted_total: 提交的工作數
//      - reconciler_jobs_finished_total{status}: 依終止狀態分類
//      - reconciler_jobs_rejected_total: 佇列已滿被拒絕
//
//   2. 明細計數器 (CounterVec):
//      - reconciler_items_total{tier}: 依比對信心等級
//      - reconciler_extractions_total{method}: 依擷取方法
//
//   3. 性能指標 (Histogram):
//      - reconciler_job_duration_seconds
//
//   4. 狀態指標 (Gauge):
//      - reconciler_jobs_running
//      - reconciler_jobs_queued
//
// Prometheus 查詢示例:
//
//   # 無法比對的明細比例
//   rate(reconciler_items_total{tier="none"}[1h]) / rate(reconciler_items_total[1h])
//
//   # 95 分位工作時間
//   histogram_quantile(0.95, reconciler_job_duration_seconds_bucket)
//
// ============================================================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

var durationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Collector Prometheus 指標收集器
type Collector struct {
	jobsSubmitted prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsRejected  prometheus.Counter

	items       *prometheus.CounterVec
	extractions *prometheus.CounterVec

	jobDuration prometheus.Histogram

	jobsRunning prometheus.Gauge
	jobsQueued  prometheus.Gauge
}

// NewCollector 創建並註冊指標收集器，reg 為 nil 時使用預設 registerer
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_jobs_submitted_total",
			Help: "Total number of reconciliation jobs submitted",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_jobs_finished_total",
			Help: "Total number of reconciliation jobs by terminal status",
		}, []string{"status"}),
		jobsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_jobs_rejected_total",
			Help: "Total number of submissions rejected because the queue was full",
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_items_total",
			Help: "Line items reconciled by match tier",
		}, []string{"tier"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_extractions_total",
			Help: "Identifier extractions by method",
		}, []string{"method"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_job_duration_seconds",
			Help:    "Wall time from running to terminal status",
			Buckets: durationBuckets,
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciler_jobs_running",
			Help: "Current number of running jobs",
		}),
		jobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciler_jobs_queued",
			Help: "Current number of jobs waiting for a worker",
		}),
	}

	reg.MustRegister(
		c.jobsSubmitted,
		c.jobsFinished,
		c.jobsRejected,
		c.items,
		c.extractions,
		c.jobDuration,
		c.jobsRunning,
		c.jobsQueued,
	)
	return c
}

// RecordSubmitted 記錄提交
func (c *Collector) RecordSubmitted() {
	c.jobsSubmitted.Inc()
	c.jobsQueued.Inc()
}

// RecordRejected 記錄因佇列已滿而拒絕的提交
func (c *Collector) RecordRejected() {
	c.jobsRejected.Inc()
	c.jobsQueued.Dec()
}

// RecordStarted 記錄工作開始執行
func (c *Collector) RecordStarted() {
	c.jobsQueued.Dec()
	c.jobsRunning.Inc()
}

// RecordFinished 記錄終止狀態；wasRunning 為 false 表示工作在執行前被取消
func (c *Collector) RecordFinished(status types.ProcessStatus, seconds float64, wasRunning bool) {
	c.jobsFinished.WithLabelValues(string(status)).Inc()
	if wasRunning {
		c.jobsRunning.Dec()
		c.jobDuration.Observe(seconds)
	} else {
		c.jobsQueued.Dec()
	}
}

// RecordItem 記錄一筆對帳結果
func (c *Collector) RecordItem(r types.ResolvedLineItem) {
	c.items.WithLabelValues(string(r.Tier)).Inc()
	c.extractions.WithLabelValues(string(r.Identifier.Method)).Inc()
}
