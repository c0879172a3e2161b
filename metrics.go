package deskxfer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ehrlich-b/go-deskxfer/internal/interfaces"
)

// Metrics is a prometheus.Collector tracking the observable events
// spec.md's three engines and scheduler produce, grounded on
// runZeroInc-sockstats/pkg/exporter/exporter.go's TCPInfoCollector
// Describe/Collect pattern — atomic counters feed Collect on demand
// rather than being registered as live prometheus metric objects, so
// constructing a Metrics never depends on a running registry.
type Metrics struct {
	offersReceived       atomic.Uint64
	transfersComplete    atomic.Uint64
	transfersFailed      atomic.Uint64
	transfersViaMemory   atomic.Uint64
	transfersViaFile     atomic.Uint64
	bytesTransferred     atomic.Uint64
	timeouts             atomic.Uint64
	dragsStarted         atomic.Uint64
	dragsClaimed         atomic.Uint64
	dragsDropped         atomic.Uint64
	schedulerTicks       atomic.Uint64
	schedulerCallbacksRun atomic.Uint64
	schedulerTickNs      atomic.Uint64

	failuresByCode sync64Map
}

// sync64Map is a minimal counter map keyed by failure code (spec.md
// §7's closed taxonomy), guarded by a plain mutex since Collect and
// ObserveTransferFailed both need to range/insert safely.
type sync64Map struct {
	mu   sync.Mutex
	data map[string]*atomic.Uint64
}

// NewMetrics creates a Metrics collector with all counters at zero.
func NewMetrics() *Metrics {
	return &Metrics{failuresByCode: sync64Map{data: make(map[string]*atomic.Uint64)}}
}

func (m *Metrics) counterFor(code string) *atomic.Uint64 {
	m.failuresByCode.mu.Lock()
	defer m.failuresByCode.mu.Unlock()
	c, ok := m.failuresByCode.data[code]
	if !ok {
		c = &atomic.Uint64{}
		m.failuresByCode.data[code] = c
	}
	return c
}

// ObserveOfferReceived satisfies interfaces.Observer.
func (m *Metrics) ObserveOfferReceived(kind uint32, estimatedSize uint64) {
	m.offersReceived.Add(1)
}

// ObserveTransferComplete satisfies interfaces.Observer.
func (m *Metrics) ObserveTransferComplete(bytesTransferred uint64, viaMemory bool) {
	m.transfersComplete.Add(1)
	m.bytesTransferred.Add(bytesTransferred)
	if viaMemory {
		m.transfersViaMemory.Add(1)
	} else {
		m.transfersViaFile.Add(1)
	}
}

// ObserveTransferFailed satisfies interfaces.Observer.
func (m *Metrics) ObserveTransferFailed(code string) {
	m.transfersFailed.Add(1)
	m.counterFor(code).Add(1)
}

// ObserveTimeout satisfies interfaces.Observer.
func (m *Metrics) ObserveTimeout() {
	m.timeouts.Add(1)
}

// ObserveDragStart satisfies interfaces.Observer.
func (m *Metrics) ObserveDragStart() {
	m.dragsStarted.Add(1)
}

// ObserveDragDrop satisfies interfaces.Observer.
func (m *Metrics) ObserveDragDrop(claimed bool) {
	if claimed {
		m.dragsClaimed.Add(1)
	} else {
		m.dragsDropped.Add(1)
	}
}

// ObserveSchedulerTick satisfies interfaces.Observer.
func (m *Metrics) ObserveSchedulerTick(elapsed time.Duration, callbacksRun int) {
	m.schedulerTicks.Add(1)
	m.schedulerCallbacksRun.Add(uint64(callbacksRun))
	m.schedulerTickNs.Add(uint64(elapsed.Nanoseconds()))
}

var (
	descOffersReceived = prometheus.NewDesc("deskxfer_offers_received_total", "Total OfferData messages received.", nil, nil)
	descTransfersComplete = prometheus.NewDesc("deskxfer_transfers_complete_total", "Total transfers that completed successfully.", nil, nil)
	descTransfersFailed = prometheus.NewDesc("deskxfer_transfers_failed_total", "Total transfers that failed, by code.", []string{"code"}, nil)
	descTransfersViaMemory = prometheus.NewDesc("deskxfer_transfers_via_memory_total", "Total transfers completed entirely in memory.", nil, nil)
	descTransfersViaFile = prometheus.NewDesc("deskxfer_transfers_via_file_total", "Total transfers that fell back to a scratch file.", nil, nil)
	descBytesTransferred = prometheus.NewDesc("deskxfer_bytes_transferred_total", "Total payload bytes transferred.", nil, nil)
	descTimeouts = prometheus.NewDesc("deskxfer_timeouts_total", "Total receiver operations that hit their deadline.", nil, nil)
	descDragsStarted = prometheus.NewDesc("deskxfer_drags_started_total", "Total drags started.", nil, nil)
	descDragsClaimed = prometheus.NewDesc("deskxfer_drags_claimed_total", "Total drags claimed by a drop target.", nil, nil)
	descDragsDropped = prometheus.NewDesc("deskxfer_drags_dropped_total", "Total drags dropped with no claimant.", nil, nil)
	descSchedulerTicks = prometheus.NewDesc("deskxfer_scheduler_ticks_total", "Total idle-scheduler dispatch ticks.", nil, nil)
	descSchedulerCallbacksRun = prometheus.NewDesc("deskxfer_scheduler_callbacks_run_total", "Total callback invocations across all ticks.", nil, nil)
	descSchedulerTickSeconds = prometheus.NewDesc("deskxfer_scheduler_tick_seconds_total", "Cumulative time spent inside dispatch ticks.", nil, nil)
)

// Describe satisfies prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- descOffersReceived
	ch <- descTransfersComplete
	ch <- descTransfersFailed
	ch <- descTransfersViaMemory
	ch <- descTransfersViaFile
	ch <- descBytesTransferred
	ch <- descTimeouts
	ch <- descDragsStarted
	ch <- descDragsClaimed
	ch <- descDragsDropped
	ch <- descSchedulerTicks
	ch <- descSchedulerCallbacksRun
	ch <- descSchedulerTickSeconds
}

// Collect satisfies prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(descOffersReceived, prometheus.CounterValue, float64(m.offersReceived.Load()))
	ch <- prometheus.MustNewConstMetric(descTransfersComplete, prometheus.CounterValue, float64(m.transfersComplete.Load()))
	ch <- prometheus.MustNewConstMetric(descTransfersViaMemory, prometheus.CounterValue, float64(m.transfersViaMemory.Load()))
	ch <- prometheus.MustNewConstMetric(descTransfersViaFile, prometheus.CounterValue, float64(m.transfersViaFile.Load()))
	ch <- prometheus.MustNewConstMetric(descBytesTransferred, prometheus.CounterValue, float64(m.bytesTransferred.Load()))
	ch <- prometheus.MustNewConstMetric(descTimeouts, prometheus.CounterValue, float64(m.timeouts.Load()))
	ch <- prometheus.MustNewConstMetric(descDragsStarted, prometheus.CounterValue, float64(m.dragsStarted.Load()))
	ch <- prometheus.MustNewConstMetric(descDragsClaimed, prometheus.CounterValue, float64(m.dragsClaimed.Load()))
	ch <- prometheus.MustNewConstMetric(descDragsDropped, prometheus.CounterValue, float64(m.dragsDropped.Load()))
	ch <- prometheus.MustNewConstMetric(descSchedulerTicks, prometheus.CounterValue, float64(m.schedulerTicks.Load()))
	ch <- prometheus.MustNewConstMetric(descSchedulerCallbacksRun, prometheus.CounterValue, float64(m.schedulerCallbacksRun.Load()))
	ch <- prometheus.MustNewConstMetric(descSchedulerTickSeconds, prometheus.CounterValue, float64(m.schedulerTickNs.Load())/1e9)

	m.failuresByCode.mu.Lock()
	defer m.failuresByCode.mu.Unlock()
	for code, c := range m.failuresByCode.data {
		ch <- prometheus.MustNewConstMetric(descTransfersFailed, prometheus.CounterValue, float64(c.Load()), code)
	}
}

var _ prometheus.Collector = (*Metrics)(nil)
var _ interfaces.Observer = (*Metrics)(nil)
