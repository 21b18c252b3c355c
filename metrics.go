package togglekit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const registerAttempts = 3

// toggleCount aggregates evaluation outcomes for one toggle since the last
// flush.
type toggleCount struct {
	Yes int64 `json:"yes"`
	No  int64 `json:"no"`
}

// metricsBucket is one reporting window of aggregated outcomes.
type metricsBucket struct {
	Start   time.Time              `json:"start"`
	Stop    time.Time              `json:"stop"`
	Toggles map[string]toggleCount `json:"toggles"`
}

// metricsPayload is the wire shape of the metrics report.
type metricsPayload struct {
	AppName    string        `json:"appName"`
	InstanceID string        `json:"instanceId"`
	Bucket     metricsBucket `json:"bucket"`
}

// registrationPayload is the wire shape of the one-time client
// registration.
type registrationPayload struct {
	AppName    string    `json:"appName"`
	InstanceID string    `json:"instanceId"`
	SDKVersion string    `json:"sdkVersion"`
	Strategies []string  `json:"strategies"`
	Started    time.Time `json:"started"`
	Interval   int64     `json:"interval"`
}

// metricsCollector counts evaluation outcomes per toggle and periodically
// reports aggregates to the service. Reporting is best-effort: a failed
// flush drops its counts rather than retrying, so a slow service can never
// back up memory in the client. When disabled it records nothing and runs
// no timers.
type metricsCollector struct {
	sender     metricsSender
	emit       emitFunc
	log        *slog.Logger
	interval   time.Duration
	disabled   bool
	appName    string
	instanceID string
	strategies []string
	backoff    backoffStrategy

	mu     sync.Mutex
	bucket metricsBucket

	stopped atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newMetricsCollector(sender metricsSender, emit emitFunc, log *slog.Logger, cfg Config, instanceID string, strategies []string) *metricsCollector {
	disabled := cfg.DisableMetrics || cfg.MetricsInterval <= 0
	return &metricsCollector{
		sender:     sender,
		emit:       emit,
		log:        log,
		interval:   cfg.MetricsInterval,
		disabled:   disabled,
		appName:    cfg.AppName,
		instanceID: instanceID,
		strategies: strategies,
		backoff:    exponentialBackoff{initialInterval: time.Second, jitterFactor: 0.2},
		bucket:     newBucket(),
		done:       make(chan struct{}),
	}
}

func newBucket() metricsBucket {
	return metricsBucket{Start: time.Now(), Toggles: make(map[string]toggleCount)}
}

// recordOutcome counts one evaluation result. O(1) and non-blocking from
// the query path's perspective; no-op when metrics are disabled.
func (m *metricsCollector) recordOutcome(toggleName string, enabled bool) {
	if m.disabled || m.stopped.Load() {
		return
	}

	m.mu.Lock()
	count := m.bucket.Toggles[toggleName]
	if enabled {
		count.Yes++
	} else {
		count.No++
	}
	m.bucket.Toggles[toggleName] = count
	m.mu.Unlock()

	m.emit(Event{Kind: EventCount, ToggleName: toggleName, Enabled: enabled})
}

// Start registers the client once, then launches the periodic flush loop.
// No-op when metrics are disabled.
func (m *metricsCollector) Start(ctx context.Context) {
	if m.disabled || m.stopped.Load() {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	// A Stop racing the fast check above must win, or the flush loop would
	// run with nothing left to cancel it.
	if m.stopped.Load() || m.cancel != nil {
		m.mu.Unlock()
		cancel()
		return
	}
	m.cancel = cancel
	m.mu.Unlock()
	go m.loop(ctx)
}

// Stop cancels the flush timer. Idempotent. Pending counts are dropped;
// metrics are best-effort by contract.
func (m *metricsCollector) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-m.done
	}
}

func (m *metricsCollector) loop(ctx context.Context) {
	defer close(m.done)

	m.registerClient(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.flush(ctx)
		}
	}
}

func (m *metricsCollector) registerClient(ctx context.Context) {
	payload := registrationPayload{
		AppName:    m.appName,
		InstanceID: m.instanceID,
		SDKVersion: userAgent,
		Strategies: m.strategies,
		Started:    time.Now(),
		Interval:   int64(m.interval / time.Millisecond),
	}

	var lastErr error
	for attempt := 0; attempt < registerAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.backoff.NextInterval(attempt)):
			}
		}
		if err := m.sender.register(ctx, payload); err != nil {
			lastErr = err
			continue
		}
		m.emit(Event{Kind: EventRegistered})
		return
	}

	kind := EventWarn
	if errors.Is(lastErr, errTransport) {
		kind = EventError
	}
	m.log.Warn("client registration failed", slog.Any("error", lastErr))
	m.emit(Event{Kind: kind, Err: lastErr, Message: "client registration failed"})
}

// flush snapshots and resets the bucket, then reports it. Counts from a
// failed report are dropped, not retried.
func (m *metricsCollector) flush(ctx context.Context) {
	m.mu.Lock()
	bucket := m.bucket
	bucket.Stop = time.Now()
	m.bucket = newBucket()
	m.mu.Unlock()

	if len(bucket.Toggles) == 0 {
		return
	}

	payload := metricsPayload{AppName: m.appName, InstanceID: m.instanceID, Bucket: bucket}
	if err := m.sender.sendMetrics(ctx, payload); err != nil {
		if ctx.Err() != nil {
			return
		}
		// A rejected report is an expected degradation; a transport-level
		// failure means the service is unreachable.
		kind := EventWarn
		if errors.Is(err, errTransport) {
			kind = EventError
		}
		m.log.Warn("metrics report dropped", slog.Any("error", err))
		m.emit(Event{Kind: kind, Err: err, Message: "metrics report dropped"})
		return
	}
	m.emit(Event{Kind: EventSent})
}
