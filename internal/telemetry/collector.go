// Package telemetry exposes engine and dispatch/worker health as Prometheus
// metrics and appends an operational history (timing reports, fatal
// conditions) to a local sqlite database. It is purely observational: the
// audio, dispatcher, and worker threads never read anything back from it to
// make decisions (spec §7 "reported once via telemetry").
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxaudio/corehost/internal/enginecore"
)

// QueueStats is read by Collect from the two RT queues at scrape time.
type QueueStats interface {
	Len() int
	Overflow() uint64
	Capacity() int
}

// TickTimer exposes the last tick's wall-clock duration.
type TickTimer interface {
	TickDuration() time.Duration
}

// EngineStatsProvider exposes the engine's block-processing counters.
type EngineStatsProvider interface {
	Stats() enginecore.EngineStats
}

// Collector is a prometheus.Collector gathering corehost metrics at scrape
// time, modeled on the teacher's metrics.Collector: any provider may be nil.
type Collector struct {
	inQueue  QueueStats
	outQueue QueueStats
	engine   EngineStatsProvider
	dispatch TickTimer
	worker   TickTimer
	startTime time.Time

	rtQueueDepthDesc    *prometheus.Desc
	rtQueueOverflowDesc *prometheus.Desc
	rtQueueCapacityDesc *prometheus.Desc
	blocksProcessedDesc *prometheus.Desc
	missedDeadlineDesc  *prometheus.Desc
	unknownTargetDesc   *prometheus.Desc
	dispatchTickDesc    *prometheus.Desc
	workerTickDesc      *prometheus.Desc
	uptimeDesc          *prometheus.Desc
}

// NewCollector creates a collector. Any argument may be nil if unavailable.
func NewCollector(inQueue, outQueue QueueStats, engine EngineStatsProvider, dispatcher, worker TickTimer, startTime time.Time) *Collector {
	return &Collector{
		inQueue:   inQueue,
		outQueue:  outQueue,
		engine:    engine,
		dispatch:  dispatcher,
		worker:    worker,
		startTime: startTime,

		rtQueueDepthDesc: prometheus.NewDesc(
			"corehost_rt_queue_depth",
			"Number of unread events currently in an RT queue",
			[]string{"direction"}, nil,
		),
		rtQueueOverflowDesc: prometheus.NewDesc(
			"corehost_rt_queue_overflow_total",
			"Total pushes dropped because an RT queue was full",
			[]string{"direction"}, nil,
		),
		rtQueueCapacityDesc: prometheus.NewDesc(
			"corehost_rt_queue_capacity",
			"Configured capacity of an RT queue",
			[]string{"direction"}, nil,
		),
		blocksProcessedDesc: prometheus.NewDesc(
			"corehost_engine_blocks_processed_total",
			"Total audio blocks processed by the engine",
			nil, nil,
		),
		missedDeadlineDesc: prometheus.NewDesc(
			"corehost_engine_missed_deadlines_total",
			"Total audio blocks whose processing overran the block period",
			nil, nil,
		),
		unknownTargetDesc: prometheus.NewDesc(
			"corehost_engine_unknown_target_drops_total",
			"Total inbound RT events dropped for targeting an unknown processor or chain",
			nil, nil,
		),
		dispatchTickDesc: prometheus.NewDesc(
			"corehost_dispatcher_tick_seconds",
			"Duration of the dispatcher's most recently completed tick",
			nil, nil,
		),
		workerTickDesc: prometheus.NewDesc(
			"corehost_worker_tick_seconds",
			"Duration of the worker's most recently completed tick",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"corehost_uptime_seconds",
			"Seconds since the corehost process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rtQueueDepthDesc
	ch <- c.rtQueueOverflowDesc
	ch <- c.rtQueueCapacityDesc
	ch <- c.blocksProcessedDesc
	ch <- c.missedDeadlineDesc
	ch <- c.unknownTargetDesc
	ch <- c.dispatchTickDesc
	ch <- c.workerTickDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.collectQueue(ch, c.inQueue, "in")
	c.collectQueue(ch, c.outQueue, "out")

	if c.engine != nil {
		stats := c.engine.Stats()
		ch <- prometheus.MustNewConstMetric(c.blocksProcessedDesc, prometheus.CounterValue, float64(stats.BlocksProcessed))
		ch <- prometheus.MustNewConstMetric(c.missedDeadlineDesc, prometheus.CounterValue, float64(stats.MissedDeadlines))
		ch <- prometheus.MustNewConstMetric(c.unknownTargetDesc, prometheus.CounterValue, float64(stats.UnknownTargetDrops))
	}

	if c.dispatch != nil {
		ch <- prometheus.MustNewConstMetric(c.dispatchTickDesc, prometheus.GaugeValue, c.dispatch.TickDuration().Seconds())
	}
	if c.worker != nil {
		ch <- prometheus.MustNewConstMetric(c.workerTickDesc, prometheus.GaugeValue, c.worker.TickDuration().Seconds())
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}

func (c *Collector) collectQueue(ch chan<- prometheus.Metric, q QueueStats, direction string) {
	if q == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.rtQueueDepthDesc, prometheus.GaugeValue, float64(q.Len()), direction)
	ch <- prometheus.MustNewConstMetric(c.rtQueueOverflowDesc, prometheus.CounterValue, float64(q.Overflow()), direction)
	ch <- prometheus.MustNewConstMetric(c.rtQueueCapacityDesc, prometheus.GaugeValue, float64(q.Capacity()), direction)
}
