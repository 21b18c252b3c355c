package togglekit_test

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/togglekit"
)

func featureServer(t *testing.T, toggles []togglekit.Toggle) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/client/features":
			fetches.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{"features": toggles})
		case "/api/client/register", "/api/client/metrics":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func waitForEvent(t *testing.T, events <-chan togglekit.Event, kind togglekit.EventKind) togglekit.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event stream closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func countEvents(events <-chan togglekit.Event, kind togglekit.EventKind) int {
	n := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return n
			}
			if ev.Kind == kind {
				n++
			}
		default:
			return n
		}
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	t.Run("missing url fails before any network call", func(t *testing.T) {
		t.Parallel()
		_, err := togglekit.New(togglekit.Config{AppName: "app"})
		assert.ErrorIs(t, err, togglekit.ErrMissingURL)
	})

	t.Run("missing app name fails before any network call", func(t *testing.T) {
		t.Parallel()
		_, err := togglekit.New(togglekit.Config{URL: "http://toggles.local/api"})
		assert.ErrorIs(t, err, togglekit.ErrMissingAppName)
	})
}

func TestClientEndToEnd(t *testing.T) {
	t.Parallel()

	t.Run("synced toggle is active after ready", func(t *testing.T) {
		t.Parallel()
		srv, _ := featureServer(t, []togglekit.Toggle{{Name: "feature", Enabled: true}})

		client, err := togglekit.New(togglekit.Config{
			AppName:        "e2e",
			URL:            srv.URL + "/api",
			BackupPath:     t.TempDir(),
			DisableMetrics: true,
		})
		require.NoError(t, err)
		defer func() { _ = client.Close() }()

		events := client.Subscribe(context.Background())
		require.NoError(t, client.Start(context.Background()))

		waitForEvent(t, events, togglekit.EventReady)
		assert.True(t, client.IsEnabled("feature"))

		defs := client.ToggleDefinitions()
		require.Len(t, defs, 1)
		assert.Equal(t, "feature", defs[0].Name)

		def := client.ToggleDefinition("feature")
		require.NotNil(t, def)
		assert.True(t, def.Enabled)
		assert.Nil(t, client.ToggleDefinition("absent"))
	})

	t.Run("unreachable service falls back before ready", func(t *testing.T) {
		t.Parallel()
		client, err := togglekit.New(togglekit.Config{
			AppName:        "e2e-down",
			URL:            "http://127.0.0.1:1/api",
			BackupPath:     t.TempDir(),
			DisableMetrics: true,
		})
		require.NoError(t, err)
		defer func() { _ = client.Close() }()

		events := client.Subscribe(context.Background())
		require.NoError(t, client.Start(context.Background()))

		assert.False(t, client.IsEnabled("feature"))
		waitForEvent(t, events, togglekit.EventWarn)
	})

	t.Run("fallback value does not suppress the warning", func(t *testing.T) {
		t.Parallel()
		client, err := togglekit.New(togglekit.Config{
			AppName:        "e2e-fallback",
			URL:            "http://127.0.0.1:1/api",
			BackupPath:     t.TempDir(),
			DisableMetrics: true,
		})
		require.NoError(t, err)
		defer func() { _ = client.Close() }()

		events := client.Subscribe(context.Background())

		assert.False(t, client.IsEnabled("missing"))
		assert.True(t, client.IsEnabled("missing", togglekit.WithFallback(true)))

		// One warn per call, regardless of the fallback value.
		time.Sleep(10 * time.Millisecond)
		assert.Equal(t, 2, countEvents(events, togglekit.EventWarn))
	})

	t.Run("close stops polling", func(t *testing.T) {
		t.Parallel()
		srv, fetches := featureServer(t, []togglekit.Toggle{{Name: "feature", Enabled: true}})

		client, err := togglekit.New(togglekit.Config{
			AppName:         "e2e-close",
			URL:             srv.URL + "/api",
			BackupPath:      t.TempDir(),
			RefreshInterval: 5 * time.Millisecond,
			DisableMetrics:  true,
		})
		require.NoError(t, err)

		events := client.Subscribe(context.Background())
		require.NoError(t, client.Start(context.Background()))
		waitForEvent(t, events, togglekit.EventReady)

		require.NoError(t, client.Close())
		after := fetches.Load()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, after, fetches.Load(), "no requests may happen after close")

		// Close is idempotent and the snapshot stays readable.
		require.NoError(t, client.Close())
		assert.Len(t, client.ToggleDefinitions(), 1)
	})

	t.Run("restored backup serves queries while the service is down", func(t *testing.T) {
		t.Parallel()
		backupDir := t.TempDir()
		srv, _ := featureServer(t, []togglekit.Toggle{{Name: "cached-feature", Enabled: true}})

		warm, err := togglekit.New(togglekit.Config{
			AppName:        "e2e-backup",
			URL:            srv.URL + "/api",
			BackupPath:     backupDir,
			DisableMetrics: true,
		})
		require.NoError(t, err)
		warmEvents := warm.Subscribe(context.Background())
		require.NoError(t, warm.Start(context.Background()))
		waitForEvent(t, warmEvents, togglekit.EventChanged)
		require.NoError(t, warm.Close())

		// A fresh client pointed at a dead service restores the snapshot.
		cold, err := togglekit.New(togglekit.Config{
			AppName:        "e2e-backup",
			URL:            "http://127.0.0.1:1/api",
			BackupPath:     backupDir,
			DisableMetrics: true,
		})
		require.NoError(t, err)
		defer func() { _ = cold.Close() }()

		coldEvents := cold.Subscribe(context.Background())
		require.NoError(t, cold.Start(context.Background()))

		waitForEvent(t, coldEvents, togglekit.EventReady)
		assert.True(t, cold.IsEnabled("cached-feature"))
	})

	t.Run("missing backup directory surfaces one error with the io code", func(t *testing.T) {
		t.Parallel()
		client, err := togglekit.New(togglekit.Config{
			AppName:        "e2e-badbackup",
			URL:            "http://127.0.0.1:1/api",
			BackupPath:     filepath.Join(t.TempDir(), "does-not-exist"),
			DisableMetrics: true,
		})
		require.NoError(t, err)
		defer func() { _ = client.Close() }()

		events := client.Subscribe(context.Background())
		require.NoError(t, client.Start(context.Background()))

		ev := waitForEvent(t, events, togglekit.EventError)
		assert.ErrorIs(t, ev.Err, togglekit.ErrBackupLoad)
		assert.ErrorIs(t, ev.Err, fs.ErrNotExist)
	})

	t.Run("legacy url is rewritten with a warn", func(t *testing.T) {
		t.Parallel()
		srv, _ := featureServer(t, []togglekit.Toggle{{Name: "feature", Enabled: true}})

		client, err := togglekit.New(togglekit.Config{
			AppName:        "e2e-legacy",
			URL:            srv.URL + "/api/features",
			BackupPath:     t.TempDir(),
			DisableMetrics: true,
		})
		require.NoError(t, err)
		defer func() { _ = client.Close() }()

		events := client.Subscribe(context.Background())
		require.NoError(t, client.Start(context.Background()))

		warn := waitForEvent(t, events, togglekit.EventWarn)
		assert.Contains(t, warn.Message, "deprecated url")

		waitForEvent(t, events, togglekit.EventReady)
		assert.True(t, client.IsEnabled("feature"), "rewritten base url must reach the features endpoint")
	})

	t.Run("metrics lifecycle registers and reports", func(t *testing.T) {
		t.Parallel()
		srv, _ := featureServer(t, []togglekit.Toggle{{Name: "feature", Enabled: true}})

		client, err := togglekit.New(togglekit.Config{
			AppName:         "e2e-metrics",
			URL:             srv.URL + "/api",
			BackupPath:      t.TempDir(),
			MetricsInterval: 10 * time.Millisecond,
		})
		require.NoError(t, err)
		defer func() { _ = client.Close() }()

		events := client.Subscribe(context.Background())
		require.NoError(t, client.Start(context.Background()))

		// Registration and readiness race; accept either order.
		seen := map[togglekit.EventKind]bool{}
		timeout := time.After(2 * time.Second)
		for !seen[togglekit.EventRegistered] || !seen[togglekit.EventReady] {
			select {
			case ev := <-events:
				seen[ev.Kind] = true
			case <-timeout:
				t.Fatalf("timed out waiting for registration and readiness, saw %v", seen)
			}
		}

		assert.True(t, client.IsEnabled("feature"))
		waitForEvent(t, events, togglekit.EventCount)
		waitForEvent(t, events, togglekit.EventSent)
	})
}

func TestClientEvaluationContext(t *testing.T) {
	t.Parallel()

	toggle := togglekit.Toggle{
		Name:    "env-gated",
		Enabled: true,
		Strategies: []togglekit.StrategyConstraint{
			{Name: "environment", Parameters: map[string]string{"environments": "prod"}},
		},
	}

	newClient := func(t *testing.T) *togglekit.Client {
		t.Helper()
		srv, _ := featureServer(t, []togglekit.Toggle{toggle})
		client, err := togglekit.New(togglekit.Config{
			AppName:        "e2e-ctx",
			URL:            srv.URL + "/api",
			Environment:    "prod",
			BackupPath:     t.TempDir(),
			DisableMetrics: true,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		events := client.Subscribe(context.Background())
		require.NoError(t, client.Start(context.Background()))
		waitForEvent(t, events, togglekit.EventReady)
		return client
	}

	t.Run("static context satisfies the strategy", func(t *testing.T) {
		t.Parallel()
		client := newClient(t)
		assert.True(t, client.IsEnabled("env-gated"))
	})

	t.Run("per-call context overrides static", func(t *testing.T) {
		t.Parallel()
		client := newClient(t)
		assert.False(t, client.IsEnabled("env-gated",
			togglekit.WithEvalContext(togglekit.Context{Environment: "dev"}),
		))
	})
}

type stubRepository struct {
	emit    func(togglekit.Event)
	toggles []togglekit.Toggle
	stopped atomic.Bool
}

func (r *stubRepository) Toggle(name string) *togglekit.Toggle {
	for i := range r.toggles {
		if r.toggles[i].Name == name {
			return &r.toggles[i]
		}
	}
	return nil
}

func (r *stubRepository) Toggles() []togglekit.Toggle { return r.toggles }

func (r *stubRepository) Ready() bool { return true }

func (r *stubRepository) Start(_ context.Context) {
	r.emit(togglekit.Event{Kind: togglekit.EventReady})
}

func (r *stubRepository) Stop() { r.stopped.Store(true) }

func TestClientInjectedRepository(t *testing.T) {
	t.Parallel()

	var repo *stubRepository
	client, err := togglekit.New(
		togglekit.Config{
			AppName:        "injected",
			URL:            "http://toggles.local/api",
			BackupPath:     t.TempDir(),
			DisableMetrics: true,
		},
		togglekit.WithRepository(func(emit func(togglekit.Event)) togglekit.Repository {
			repo = &stubRepository{
				emit:    emit,
				toggles: []togglekit.Toggle{{Name: "stubbed", Enabled: true}},
			}
			return repo
		}),
	)
	require.NoError(t, err)

	events := client.Subscribe(context.Background())
	require.NoError(t, client.Start(context.Background()))

	// The repository's signals surface on the client exactly once each.
	waitForEvent(t, events, togglekit.EventReady)
	repo.emit(togglekit.Event{Kind: togglekit.EventError, Message: "synthetic"})
	ev := waitForEvent(t, events, togglekit.EventError)
	assert.Equal(t, "synthetic", ev.Message)
	assert.Equal(t, 0, countEvents(events, togglekit.EventError))

	assert.True(t, client.IsEnabled("stubbed"))

	require.NoError(t, client.Close())
	assert.True(t, repo.stopped.Load())
}

func TestClientCustomStrategy(t *testing.T) {
	t.Parallel()

	client, err := togglekit.New(
		togglekit.Config{
			AppName:        "custom",
			URL:            "http://toggles.local/api",
			BackupPath:     t.TempDir(),
			DisableMetrics: true,
		},
		togglekit.WithRepository(func(emit func(togglekit.Event)) togglekit.Repository {
			return &stubRepository{emit: emit, toggles: []togglekit.Toggle{
				{
					Name:       "beta",
					Enabled:    true,
					Strategies: []togglekit.StrategyConstraint{{Name: "betaUsers", Parameters: map[string]string{"group": "testers"}}},
				},
			}}
		}),
		togglekit.WithStrategies(groupStrategy{}),
	)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	require.NoError(t, client.Start(context.Background()))

	assert.True(t, client.IsEnabled("beta",
		togglekit.WithEvalContext(togglekit.Context{Properties: map[string]string{"group": "testers"}}),
	))
	assert.False(t, client.IsEnabled("beta",
		togglekit.WithEvalContext(togglekit.Context{Properties: map[string]string{"group": "everyone"}}),
	))
}

type groupStrategy struct{}

func (groupStrategy) Name() string { return "betaUsers" }

func (groupStrategy) IsEnabled(params map[string]string, ctx togglekit.Context) bool {
	return params["group"] != "" && params["group"] == ctx.Field("group")
}
