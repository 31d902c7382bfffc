package metrics

import (
	"strconv"
	"time"

	"github.com/cuemby/eventstore/pkg/coordinator"
	"github.com/cuemby/eventstore/pkg/index"
	"github.com/cuemby/eventstore/pkg/persistent"
	"github.com/cuemby/eventstore/pkg/subscribe"
	"github.com/cuemby/eventstore/pkg/txlog"
)

// Collector periodically samples the node's components and publishes
// their state as Prometheus gauges.
type Collector struct {
	log         *txlog.Log
	idx         *index.Index
	coordinator *coordinator.Coordinator
	dispatcher  *subscribe.Dispatcher
	persistent  *persistent.Engine

	stopCh chan struct{}
}

// NewCollector builds a Collector over a node's wired components.
func NewCollector(log *txlog.Log, idx *index.Index, coord *coordinator.Coordinator, dispatcher *subscribe.Dispatcher, engine *persistent.Engine) *Collector {
	return &Collector{
		log:         log,
		idx:         idx,
		coordinator: coord,
		dispatcher:  dispatcher,
		persistent:  engine,
		stopCh:      make(chan struct{}),
	}
}

// Start begins periodic collection.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectLogMetrics()
	c.collectIndexMetrics()
	c.collectRaftMetrics()
	c.collectSubscriptionMetrics()
	c.collectPersistentMetrics()
}

func (c *Collector) collectLogMetrics() {
	chunks := c.log.Stat()
	ChunksTotal.Set(float64(len(chunks)))

	var total uint64
	for _, ch := range chunks {
		total += ch.PhysicalSize
	}
	LogBytesTotal.Set(float64(total))
	UpdateComponent("txlog", true, chunkCountMessage(len(chunks)))
}

func (c *Collector) collectIndexMetrics() {
	StreamsTotal.Set(float64(c.idx.StreamCount()))
	UpdateComponent("index", true, "")
}

func (c *Collector) collectRaftMetrics() {
	leader := c.coordinator.IsLeader()
	if leader {
		RaftLeader.Set(1)
		UpdateComponent("coordinator", true, "leader")
	} else {
		RaftLeader.Set(0)
		UpdateComponent("coordinator", false, "not leader")
	}

	stats := c.coordinator.Stats()
	if idx, ok := stats["applied_index"]; ok {
		if n, err := strconv.ParseUint(idx, 10, 64); err == nil {
			RaftAppliedIndex.Set(float64(n))
		}
	}
}

func chunkCountMessage(n int) string {
	if n == 0 {
		return "no chunks written"
	}
	return strconv.Itoa(n) + " chunk(s) open"
}

func (c *Collector) collectSubscriptionMetrics() {
	counts := c.dispatcher.CountsByMode()
	SubscriptionsTotal.WithLabelValues("live").Set(float64(counts[subscribe.ModeLive]))
	SubscriptionsTotal.WithLabelValues("catchup_stream").Set(float64(counts[subscribe.ModeCatchUpStream]))
	SubscriptionsTotal.WithLabelValues("catchup_all").Set(float64(counts[subscribe.ModeCatchUpAll]))
}

func (c *Collector) collectPersistentMetrics() {
	stats := c.persistent.Stats()
	PersistentGroupsTotal.Set(float64(len(stats)))
	for _, g := range stats {
		PersistentInFlightTotal.WithLabelValues(g.StreamID, g.GroupName).Set(float64(g.InFlight))
	}
}
