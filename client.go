package togglekit

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// Client is the composition root: it validates configuration, wires the
// repository, strategy registry and metrics collector, and exposes the
// synchronous query API. All lifecycle and error signals from the wired
// components surface on the client's single event stream (Subscribe).
type Client struct {
	cfg       Config
	log       *slog.Logger
	bus       *eventBus
	registry  *strategyRegistry
	staticCtx Context
	repo      Repository
	metrics   *metricsCollector

	// warns queued during construction (URL rewrites), emitted at Start
	// once subscribers can be attached.
	startupWarns []Event

	started atomic.Bool
	closed  atomic.Bool
}

// New validates the configuration and wires the client. It fails fast on
// missing or invalid required configuration, before any I/O. The returned
// client is inert until Start is called.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	options := defaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}

	c := &Client{
		cfg: cfg,
		log: options.logger,
		bus: newEventBus(),
	}

	baseURL, rewritten := normalizeBaseURL(cfg.URL)
	if rewritten {
		c.startupWarns = append(c.startupWarns, Event{
			Kind:    EventWarn,
			Message: "deprecated url ending in " + legacyURLSuffix + " rewritten to " + baseURL,
		})
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	hostname, _ := options.hostnameLookup()

	c.registry = newStrategyRegistry(builtinStrategies(hostname)...)
	for _, s := range options.strategies {
		c.registry.register(s)
	}

	c.staticCtx = Context{AppName: cfg.AppName, Environment: cfg.Environment}

	api := newAPIClient(baseURL, cfg.AppName, instanceID, cfg.CustomHeaders, options.httpClient)

	if options.repository != nil {
		c.repo = options.repository(c.emit)
	} else {
		backup := options.backup
		if backup == nil {
			backup = NewFileBackup(cfg.BackupPath, cfg.AppName)
		}
		c.repo = newDefaultRepository(api, backup, c.emit, c.log, cfg.RefreshInterval)
	}

	c.metrics = newMetricsCollector(api, c.emit, c.log, cfg, instanceID, c.registry.names())

	return c, nil
}

// Start launches the repository's poll loop and the metrics collector.
// It does not block; readiness is signaled through the event stream.
// Starting an already-started or closed client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	for _, ev := range c.startupWarns {
		c.emit(ev)
	}
	c.startupWarns = nil

	c.repo.Start(ctx)
	c.metrics.Start(ctx)
	return nil
}

// Close stops all polling and reporting, releases timers and closes the
// event stream. Idempotent and safe to call from within an event handler's
// goroutine; once it returns, the client makes no further outbound
// requests. Queries keep serving the last known snapshot.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.repo.Stop()
	c.metrics.Stop()
	c.bus.close()
	return nil
}

// Subscribe returns a stream of lifecycle and observability events. The
// subscription ends when ctx is cancelled or the client is closed. Slow
// consumers miss events rather than blocking the client.
func (c *Client) Subscribe(ctx context.Context) <-chan Event {
	return c.bus.subscribe(ctx)
}

// IsEnabled reports whether the named toggle is active for this request.
// When the toggle is absent or the repository has no snapshot yet, it
// emits one warn and returns the fallback value (false unless overridden
// with WithFallback). The call never touches the network or disk.
func (c *Client) IsEnabled(name string, opts ...EvalOption) bool {
	options := evalOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	toggle := c.repo.Toggle(name)
	if toggle == nil {
		c.emit(Event{
			Kind:       EventWarn,
			ToggleName: name,
			Message:    "toggle not found, returning fallback value",
		})
		return options.fallback
	}

	enabled := c.registry.evaluate(toggle, c.staticCtx.merge(options.ctx), c.emit)
	c.metrics.recordOutcome(name, enabled)
	return enabled
}

// ToggleDefinition returns the named toggle from the current snapshot, or
// nil when absent. Pure in-memory read.
func (c *Client) ToggleDefinition(name string) *Toggle {
	t := c.repo.Toggle(name)
	if t == nil {
		return nil
	}
	cp := cloneToggle(*t)
	return &cp
}

// ToggleDefinitions enumerates the current snapshot in the order supplied
// by the server. Pure in-memory read.
func (c *Client) ToggleDefinitions() []Toggle {
	return c.repo.Toggles()
}

func (c *Client) emit(ev Event) {
	c.bus.publish(ev)
}
