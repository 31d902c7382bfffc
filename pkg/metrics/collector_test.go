package metrics

import (
	"testing"
	"time"

	"github.com/cuemby/eventstore/pkg/bus"
	"github.com/cuemby/eventstore/pkg/coordinator"
	"github.com/cuemby/eventstore/pkg/index"
	"github.com/cuemby/eventstore/pkg/persistent"
	"github.com/cuemby/eventstore/pkg/reader"
	"github.com/cuemby/eventstore/pkg/subscribe"
	"github.com/cuemby/eventstore/pkg/txlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()

	log, err := txlog.Open(txlog.Config{Dir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	idx, err := index.Open(index.Config{DataDir: t.TempDir()}, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	broker := bus.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	coord := coordinator.New(coordinator.Config{
		NodeID:   "node-1",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	}, log, idx, broker, zerolog.Nop())
	require.NoError(t, coord.Bootstrap())
	t.Cleanup(func() { _ = coord.Shutdown() })

	r := reader.New(log, idx)
	dispatcher := subscribe.New(subscribe.Config{}, r, broker, zerolog.Nop())
	engine := persistent.New(r, coord, zerolog.Nop())

	return NewCollector(log, idx, coord, dispatcher, engine)
}

// TestCollectUpdatesComponentHealth verifies that a collection pass
// feeds live txlog/index/coordinator state into the health checker,
// rather than leaving it pinned to whatever was registered at startup.
func TestCollectUpdatesComponentHealth(t *testing.T) {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}

	c := newTestCollector(t)
	require.Eventually(t, c.coordinator.IsLeader, 5*time.Second, 10*time.Millisecond)
	c.collect()

	readiness := GetReadiness()
	require.Equal(t, "ready", readiness.Status)

	health := GetHealth()
	require.Equal(t, "healthy", health.Status)
	require.Contains(t, health.Components, "coordinator")
	require.Equal(t, "healthy", health.Components["coordinator"])
}
