package server

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cuemby/eventstore/pkg/bus"
	"github.com/cuemby/eventstore/pkg/coordinator"
	"github.com/cuemby/eventstore/pkg/index"
	"github.com/cuemby/eventstore/pkg/metrics"
	"github.com/cuemby/eventstore/pkg/persistent"
	"github.com/cuemby/eventstore/pkg/reader"
	"github.com/cuemby/eventstore/pkg/subscribe"
	"github.com/cuemby/eventstore/pkg/txlog"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/rs/zerolog"
)

// Config wires a node's on-disk layout and raft identity. DataDir
// holds three subdirectories: log/, index/, and raft/.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	MaxChunkSize uint64
	WriteMode    txlog.WriteMode

	Subscribe subscribe.Config
}

func (c Config) logDir() string   { return filepath.Join(c.DataDir, "log") }
func (c Config) indexDir() string { return filepath.Join(c.DataDir, "index") }
func (c Config) raftDir() string  { return filepath.Join(c.DataDir, "raft") }

// Server wires every core component of a single node in dependency
// order — log, index, bus, coordinator, reader, dispatcher, persistent
// engine — and exposes them through a small Go API instead of each
// component's constructor. It owns startup and shutdown ordering.
type Server struct {
	cfg Config
	log zerolog.Logger

	txLog      *txlog.Log
	idx        *index.Index
	broker     *bus.Broker
	coord      *coordinator.Coordinator
	reader     *reader.Reader
	dispatcher *subscribe.Dispatcher
	persistent *persistent.Engine
	collector  *metrics.Collector
}

// New constructs a Server's components but does not start raft or the
// commit bus; call Start for that.
func New(cfg Config, log zerolog.Logger) (*Server, error) {
	txLog, err := txlog.Open(txlog.Config{
		Dir:          cfg.logDir(),
		MaxChunkSize: cfg.MaxChunkSize,
		WriteMode:    cfg.WriteMode,
	}, log.With().Str("component", "txlog").Logger())
	if err != nil {
		return nil, fmt.Errorf("server: open log: %w", err)
	}
	drainRecoveryEvents(txLog, log)

	idx, err := index.Open(index.Config{DataDir: cfg.indexDir()}, &logResolver{log: txLog}, log.With().Str("component", "index").Logger())
	if err != nil {
		txLog.Close()
		return nil, fmt.Errorf("server: open index: %w", err)
	}

	broker := bus.NewBroker()

	coord := coordinator.New(coordinator.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.BindAddr,
		DataDir:  cfg.raftDir(),
	}, txLog, idx, broker, log.With().Str("component", "coordinator").Logger())

	r := reader.New(txLog, idx)
	dispatcher := subscribe.New(cfg.Subscribe, r, broker, log.With().Str("component", "subscribe").Logger())
	engine := persistent.New(r, coord, log.With().Str("component", "persistent").Logger())
	collector := metrics.NewCollector(txLog, idx, coord, dispatcher, engine)

	return &Server{
		cfg:        cfg,
		log:        log,
		txLog:      txLog,
		idx:        idx,
		broker:     broker,
		coord:      coord,
		reader:     r,
		dispatcher: dispatcher,
		persistent: engine,
		collector:  collector,
	}, nil
}

// drainRecoveryEvents logs every torn-write truncation Open reported
// while recovering the active chunk. Recovery is not an error to the
// caller; it is logged and nothing more.
func drainRecoveryEvents(txLog *txlog.Log, log zerolog.Logger) {
	for {
		select {
		case ev := <-txLog.RecoveryEvents:
			log.Warn().Uint32("chunk", ev.ChunkNumber).Uint64("discarded_bytes", ev.DiscardedLength).Msg("recovered torn write")
		default:
			return
		}
	}
}

// Start brings up the commit bus, bootstraps raft, and begins metrics
// collection. Must be called once before any Append.
func (s *Server) Start() error {
	s.broker.Start()
	if err := s.coord.Bootstrap(); err != nil {
		return fmt.Errorf("server: bootstrap coordinator: %w", err)
	}
	s.collector.Start()
	return nil
}

// Append appends events to a stream through the Append Coordinator,
// recording append latency and outcome for the metrics collector.
func (s *Server) Append(streamID string, expectedVersion types.EventNumber, events []types.ProposedEvent) (types.LogPosition, types.EventNumber, error) {
	timer := metrics.NewTimer()
	pos, firstEventNumber, err := s.coord.Append(streamID, expectedVersion, events)
	timer.ObserveDuration(metrics.AppendDuration)
	metrics.AppendsTotal.WithLabelValues(appendOutcome(err)).Inc()
	if err == nil {
		metrics.EventsAppendedTotal.Add(float64(len(events)))
	}
	return pos, firstEventNumber, err
}

// appendOutcome classifies an Append error for the appends-by-outcome
// counter. Idempotent replays are indistinguishable from a fresh commit
// at this layer and count as "committed".
func appendOutcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, types.ErrWrongExpectedVersion):
		return "wrong_expected_version"
	case errors.Is(err, types.ErrStreamDeleted):
		return "stream_deleted"
	default:
		return "error"
	}
}

// ReadEvent reads a single event, resolving links if requested, and
// records index lookup latency for the metrics collector.
func (s *Server) ReadEvent(streamID string, eventNumber types.EventNumber, resolveLinks bool) (reader.EventResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.IndexLookupDuration)
	return s.reader.ReadEvent(streamID, eventNumber, resolveLinks)
}

// ReadStreamForward reads count events from a stream starting at from.
func (s *Server) ReadStreamForward(streamID string, from types.EventNumber, count int, resolveLinks bool) (reader.StreamSlice, error) {
	return s.reader.ReadStreamForward(streamID, from, count, resolveLinks)
}

// ReadStreamBackward reads count events from a stream ending at from.
func (s *Server) ReadStreamBackward(streamID string, from types.EventNumber, count int, resolveLinks bool) (reader.StreamSlice, error) {
	return s.reader.ReadStreamBackward(streamID, from, count, resolveLinks)
}

// ReadAllForward reads the global log forward from position.
func (s *Server) ReadAllForward(position types.LogPosition, maxCount int, filter types.FilterSpec, maxSearchWindow int) (reader.AllSlice, error) {
	return s.reader.ReadAllForward(position, maxCount, reader.CompilePredicate(filter), maxSearchWindow)
}

// MarkDeleted soft- or hard-deletes a stream.
func (s *Server) MarkDeleted(streamID string, hard bool) error {
	return s.coord.MarkDeleted(streamID, hard)
}

// SetStreamMetadata replaces a stream's metadata.
func (s *Server) SetStreamMetadata(streamID string, md types.StreamMetadata) error {
	return s.coord.SetStreamMetadata(streamID, md)
}

// SubscribeLive registers a live subscription over the commit bus.
func (s *Server) SubscribeLive(filter types.FilterSpec) *subscribe.Subscription {
	return s.dispatcher.SubscribeLive(filter)
}

// SubscribeCatchUpStream registers a single-stream catch-up subscription.
func (s *Server) SubscribeCatchUpStream(streamID string, fromEventNumber types.EventNumber) *subscribe.Subscription {
	return s.dispatcher.SubscribeCatchUpStream(streamID, fromEventNumber)
}

// SubscribeFilteredAll registers a filtered all-stream catch-up subscription.
func (s *Server) SubscribeFilteredAll(fromPosition types.LogPosition, filter types.FilterSpec) *subscribe.Subscription {
	return s.dispatcher.SubscribeFilteredAll(fromPosition, filter)
}

// Unsubscribe stops a subscription previously returned by one of the
// Subscribe* methods.
func (s *Server) Unsubscribe(sub *subscribe.Subscription) {
	s.dispatcher.Unsubscribe(sub.ID)
}

// CreatePersistentGroup creates a persistent subscription group.
func (s *Server) CreatePersistentGroup(streamID, groupName string, settings types.PersistentSubscriptionSettings, filter types.FilterSpec) error {
	return s.persistent.Create(streamID, groupName, settings, filter)
}

// UpdatePersistentGroup replaces a persistent subscription group's settings.
func (s *Server) UpdatePersistentGroup(streamID, groupName string, settings types.PersistentSubscriptionSettings, filter types.FilterSpec) error {
	return s.persistent.Update(streamID, groupName, settings, filter)
}

// DeletePersistentGroup removes a persistent subscription group.
func (s *Server) DeletePersistentGroup(streamID, groupName string) error {
	return s.persistent.Delete(streamID, groupName)
}

// ConnectPersistent attaches a consumer to a persistent subscription group.
func (s *Server) ConnectPersistent(streamID, groupName, consumerID string) (*persistent.Session, error) {
	return s.persistent.Connect(streamID, groupName, consumerID)
}

// Shutdown tears down every component in reverse construction order.
func (s *Server) Shutdown() error {
	s.collector.Stop()
	s.persistent.Shutdown()
	if err := s.coord.Shutdown(); err != nil {
		s.log.Error().Err(err).Msg("coordinator shutdown")
	}
	s.broker.Stop()
	if err := s.idx.Close(); err != nil {
		s.log.Error().Err(err).Msg("index close")
	}
	if err := s.txLog.Close(); err != nil {
		return fmt.Errorf("server: close log: %w", err)
	}
	return nil
}
