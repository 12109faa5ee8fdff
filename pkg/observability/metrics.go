// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the engine records to.
//
// Every Record*/Set* method is nil-receiver safe: when metrics are
// disabled NewMetrics returns a nil *Metrics, and callers don't need to
// guard every call site with an Enabled check.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	tasksStarted   *prometheus.CounterVec
	tasksFinished  *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	tasksActive    prometheus.Gauge
	tasksQueued    prometheus.Gauge

	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepProgress  *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	controlPauses  *prometheus.CounterVec
	controlStops   *prometheus.CounterVec
	checkpointSaves *prometheus.CounterVec

	storeOps     *prometheus.CounterVec
	storeOpErrs  *prometheus.CounterVec

	fabricPublished *prometheus.CounterVec
	fabricDelivered *prometheus.CounterVec
}

// NewMetrics builds the registry and every collector. Returns (nil, nil)
// when metrics are disabled, so callers can pass a nil *Metrics around
// without special-casing it.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.initTaskMetrics()
	m.initStepMetrics()
	m.initCacheMetrics()
	m.initControlMetrics()
	m.initStoreMetrics()
	m.initFabricMetrics()

	return m, nil
}

func (m *Metrics) initTaskMetrics() {
	m.tasksStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "task",
			Name:        "started_total",
			Help:        "Total number of analysis tasks started",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"market_type"},
	)
	m.tasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "task",
			Name:        "finished_total",
			Help:        "Total number of analysis tasks that reached a terminal state",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"market_type", "status"},
	)
	m.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "task",
			Name:        "duration_seconds",
			Help:        "Effective (pause-excluded) task execution duration",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"market_type", "status"},
	)
	m.tasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "task",
			Name:        "active",
			Help:        "Number of tasks currently running or paused",
			ConstLabels: m.config.ConstLabels,
		},
	)
	m.tasksQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "task",
			Name:        "queued",
			Help:        "Number of tasks waiting for a worker slot",
			ConstLabels: m.config.ConstLabels,
		},
	)
	m.registry.MustRegister(m.tasksStarted, m.tasksFinished, m.taskDuration, m.tasksActive, m.tasksQueued)
}

func (m *Metrics) initStepMetrics() {
	m.stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "step",
			Name:        "completed_total",
			Help:        "Total number of pipeline steps completed",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"step_name", "outcome"},
	)
	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "step",
			Name:        "duration_seconds",
			Help:        "Step execution duration",
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 14),
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"step_name"},
	)
	m.stepProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "task",
			Name:        "progress_percent",
			Help:        "Weighted cumulative progress percentage of a running task",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"task_id"},
	)
	m.registry.MustRegister(m.stepsTotal, m.stepDuration, m.stepProgress)
}

func (m *Metrics) initCacheMetrics() {
	m.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Total number of step results spliced in from the result-reuse cache",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"step_name"},
	)
	m.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Total number of cache lookups that required real execution",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"step_name"},
	)
	m.registry.MustRegister(m.cacheHits, m.cacheMisses)
}

func (m *Metrics) initControlMetrics() {
	m.controlPauses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "control",
			Name:        "pause_total",
			Help:        "Total number of pause/resume transitions requested",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"action"},
	)
	m.controlStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "control",
			Name:        "stop_total",
			Help:        "Total number of stop requests issued",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"reason"},
	)
	m.checkpointSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "control",
			Name:        "checkpoint_saves_total",
			Help:        "Total number of checkpoints persisted",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"trigger"},
	)
	m.registry.MustRegister(m.controlPauses, m.controlStops, m.checkpointSaves)
}

func (m *Metrics) initStoreMetrics() {
	m.storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "state_store",
			Name:        "operations_total",
			Help:        "Total number of state store operations",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"backend", "op"},
	)
	m.storeOpErrs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "state_store",
			Name:        "errors_total",
			Help:        "Total number of failed state store operations",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"backend", "op"},
	)
	m.registry.MustRegister(m.storeOps, m.storeOpErrs)
}

func (m *Metrics) initFabricMetrics() {
	m.fabricPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "message_fabric",
			Name:        "published_total",
			Help:        "Total number of messages published",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"backend", "topic"},
	)
	m.fabricDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   "message_fabric",
			Name:        "delivered_total",
			Help:        "Total number of messages delivered to subscribers",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"backend", "topic"},
	)
	m.registry.MustRegister(m.fabricPublished, m.fabricDelivered)
}

// RecordTaskStarted records a new task entering the pipeline.
func (m *Metrics) RecordTaskStarted(marketType string) {
	if m == nil {
		return
	}
	m.tasksStarted.WithLabelValues(marketType).Inc()
	m.tasksActive.Inc()
}

// RecordTaskFinished records a task reaching a terminal state.
func (m *Metrics) RecordTaskFinished(marketType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(marketType, status).Inc()
	m.taskDuration.WithLabelValues(marketType, status).Observe(duration.Seconds())
	m.tasksActive.Dec()
}

// SetTasksQueued sets the number of tasks waiting for a worker slot.
func (m *Metrics) SetTasksQueued(n int) {
	if m == nil {
		return
	}
	m.tasksQueued.Set(float64(n))
}

// RecordStep records completion of a pipeline step.
func (m *Metrics) RecordStep(stepName, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(stepName, outcome).Inc()
	m.stepDuration.WithLabelValues(stepName).Observe(duration.Seconds())
}

// SetTaskProgress records the current weighted progress percentage for a task.
func (m *Metrics) SetTaskProgress(taskID string, percent float64) {
	if m == nil {
		return
	}
	m.stepProgress.WithLabelValues(taskID).Set(percent)
}

// DeleteTaskProgress removes the progress gauge for a finished task.
func (m *Metrics) DeleteTaskProgress(taskID string) {
	if m == nil {
		return
	}
	m.stepProgress.DeleteLabelValues(taskID)
}

// RecordCacheHit records a step result spliced in from the reuse cache.
func (m *Metrics) RecordCacheHit(stepName string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(stepName).Inc()
}

// RecordCacheMiss records a step that required real execution.
func (m *Metrics) RecordCacheMiss(stepName string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(stepName).Inc()
}

// RecordPause records a pause or resume control action.
func (m *Metrics) RecordPause(action string) {
	if m == nil {
		return
	}
	m.controlPauses.WithLabelValues(action).Inc()
}

// RecordStop records a stop request.
func (m *Metrics) RecordStop(reason string) {
	if m == nil {
		return
	}
	m.controlStops.WithLabelValues(reason).Inc()
}

// RecordCheckpointSave records a persisted checkpoint.
func (m *Metrics) RecordCheckpointSave(trigger string) {
	if m == nil {
		return
	}
	m.checkpointSaves.WithLabelValues(trigger).Inc()
}

// RecordStoreOp records a state store operation, and whether it failed.
func (m *Metrics) RecordStoreOp(backend, op string, err error) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(backend, op).Inc()
	if err != nil {
		m.storeOpErrs.WithLabelValues(backend, op).Inc()
	}
}

// RecordPublish records a message published to the fabric.
func (m *Metrics) RecordPublish(backend, topic string) {
	if m == nil {
		return
	}
	m.fabricPublished.WithLabelValues(backend, topic).Inc()
}

// RecordDeliver records a message delivered to a subscriber.
func (m *Metrics) RecordDeliver(backend, topic string) {
	if m == nil {
		return
	}
	m.fabricDelivered.WithLabelValues(backend, topic).Inc()
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
