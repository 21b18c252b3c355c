// Package togglekit is a client for a remote feature-toggle management
// service. It periodically synchronizes named, boolean-gated feature
// definitions, evaluates per-request activation strategies against a
// merged context, and reports aggregate usage back to the service, so an
// application can ask "is feature X active for this request?" with a
// local in-memory lookup instead of a network round trip per check.
//
// # Architecture
//
// The client composes four parts:
//
//  1. Repository — owns the in-memory toggle snapshot, polls the service
//     with conditional requests, and falls back to a local backup file.
//  2. Strategy registry — built-in and caller-supplied activation
//     predicates, keyed by name.
//  3. Metrics collector — best-effort aggregation and reporting of
//     evaluation outcomes.
//  4. Event stream — a single observable surface for every lifecycle,
//     error and observability signal the components emit.
//
// Queries never block: IsEnabled and the definition getters read the
// current snapshot only. A failed refresh keeps the previous snapshot, so
// the client degrades to stale data, never to an empty toggle set.
//
// # Usage
//
//	cfg := togglekit.Config{
//		AppName:         "billing-service",
//		URL:             "https://toggles.example.com/api",
//		RefreshInterval: 15 * time.Second,
//		MetricsInterval: time.Minute,
//	}
//
//	client, err := togglekit.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	if client.IsEnabled("new-invoice-flow",
//		togglekit.WithEvalContext(togglekit.Context{UserID: "42"}),
//	) {
//		// feature path
//	}
//
// Subscribe delivers readiness and error signals:
//
//	for ev := range client.Subscribe(ctx) {
//		if ev.Kind == togglekit.EventReady {
//			break
//		}
//	}
//
// # Configuration
//
// Required fields are validated synchronously: New fails before any I/O
// when AppName or URL is missing, so misconfiguration is caught at
// startup rather than surfacing later as a silent no-op client. All
// runtime conditions — network failures, malformed payloads, backup I/O
// errors, unknown strategy names — are reported through the event stream
// and never panic or crash the host process.
package togglekit
