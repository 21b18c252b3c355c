package togglekit

import (
	"log/slog"
	"net/http"
	"os"
)

// Option configures client construction.
type Option func(*clientOptions)

type clientOptions struct {
	logger         *slog.Logger
	httpClient     *http.Client
	strategies     []Strategy
	backup         BackupStore
	repository     func(emit func(Event)) Repository
	hostnameLookup func() (string, error)
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		logger:         slog.Default(),
		hostnameLookup: os.Hostname,
	}
}

// WithLogger sets the structured logger used by all components.
func WithLogger(log *slog.Logger) Option {
	return func(o *clientOptions) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithHTTPClient overrides the HTTP client used for polling and reporting.
// Useful for custom transports, proxies, or testing.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// WithStrategies registers custom activation strategies. A custom strategy
// whose name collides with a built-in replaces it.
func WithStrategies(strategies ...Strategy) Option {
	return func(o *clientOptions) {
		o.strategies = append(o.strategies, strategies...)
	}
}

// WithBackupStore overrides the on-disk snapshot store.
func WithBackupStore(store BackupStore) Option {
	return func(o *clientOptions) {
		o.backup = store
	}
}

// WithRepository injects a custom repository. The build function receives
// the client's emit seam so the repository's lifecycle signals surface on
// the client, exactly once per emission.
func WithRepository(build func(emit func(Event)) Repository) Option {
	return func(o *clientOptions) {
		o.repository = build
	}
}

// WithHostnameLookup overrides how the applicationHostname strategy
// resolves the local hostname, keeping evaluation free of process-global
// lookups in tests.
func WithHostnameLookup(lookup func() (string, error)) Option {
	return func(o *clientOptions) {
		if lookup != nil {
			o.hostnameLookup = lookup
		}
	}
}

// EvalOption configures a single IsEnabled call.
type EvalOption func(*evalOptions)

type evalOptions struct {
	ctx      Context
	fallback bool
}

// WithEvalContext supplies the per-call evaluation context. Its fields
// override same-named static context fields for this call only.
func WithEvalContext(ctx Context) EvalOption {
	return func(o *evalOptions) {
		o.ctx = ctx
	}
}

// WithFallback sets the value returned when the toggle cannot be resolved.
// The default fallback is false.
func WithFallback(value bool) EvalOption {
	return func(o *evalOptions) {
		o.fallback = value
	}
}
