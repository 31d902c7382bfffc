package persistent

import (
	"fmt"
	"sync"

	"github.com/cuemby/eventstore/pkg/reader"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/rs/zerolog"
)

type groupKey struct {
	streamID  string
	groupName string
}

// Engine owns every persistent subscription group on the node.
type Engine struct {
	reader   *reader.Reader
	appender Appender
	log      zerolog.Logger

	mu     sync.Mutex
	groups map[groupKey]*Group
}

// New builds an Engine over the given reader and appender (the Append
// Coordinator, or a test double satisfying Appender).
func New(r *reader.Reader, appender Appender, log zerolog.Logger) *Engine {
	return &Engine{reader: r, appender: appender, log: log, groups: make(map[groupKey]*Group)}
}

// Create starts a new persistent subscription group. It is an error
// to create a group that already exists; call Update instead.
func (e *Engine) Create(streamID, groupName string, settings types.PersistentSubscriptionSettings, filter types.FilterSpec) error {
	key := groupKey{streamID, groupName}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.groups[key]; exists {
		return fmt.Errorf("persistent: group %s/%s already exists", streamID, groupName)
	}
	e.groups[key] = newGroup(streamID, groupName, settings, filter, e.reader, e.appender, e.log.With().Str("stream", streamID).Str("group", groupName).Logger())
	return nil
}

// Update replaces a group's settings and filter in place; connected
// consumers are kept.
func (e *Engine) Update(streamID, groupName string, settings types.PersistentSubscriptionSettings, filter types.FilterSpec) error {
	e.mu.Lock()
	g, ok := e.groups[groupKey{streamID, groupName}]
	e.mu.Unlock()
	if !ok {
		return types.ErrNotFound
	}
	g.mu.Lock()
	g.settings = settings
	g.filter = reader.CompilePredicate(filter)
	g.mu.Unlock()
	g.nudge()
	return nil
}

// Delete stops and removes a group. Its checkpoint and park streams
// are left in place for audit; only in-memory state is torn down.
func (e *Engine) Delete(streamID, groupName string) error {
	key := groupKey{streamID, groupName}
	e.mu.Lock()
	g, ok := e.groups[key]
	if ok {
		delete(e.groups, key)
	}
	e.mu.Unlock()
	if !ok {
		return types.ErrNotFound
	}
	g.shutdown()
	return nil
}

// Connect attaches a consumer to a group and returns its session.
func (e *Engine) Connect(streamID, groupName, consumerID string) (*Session, error) {
	e.mu.Lock()
	g, ok := e.groups[groupKey{streamID, groupName}]
	e.mu.Unlock()
	if !ok {
		return nil, types.ErrNotFound
	}
	c, err := g.connect(consumerID)
	if err != nil {
		return nil, err
	}
	return &Session{group: g, consumerID: consumerID, Events: c.out}, nil
}

// Group exposes a connected group for inspection (metrics, tests);
// returns nil if no such group exists.
func (e *Engine) Group(streamID, groupName string) *Group {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groups[groupKey{streamID, groupName}]
}

// GroupStats summarizes one group's state for metrics collection.
type GroupStats struct {
	StreamID   string
	GroupName  string
	Checkpoint types.EventNumber
	InFlight   int
}

// Stats reports a snapshot of every group's checkpoint and in-flight
// count.
func (e *Engine) Stats() []GroupStats {
	e.mu.Lock()
	groups := make([]*Group, 0, len(e.groups))
	keys := make([]groupKey, 0, len(e.groups))
	for k, g := range e.groups {
		groups = append(groups, g)
		keys = append(keys, k)
	}
	e.mu.Unlock()

	stats := make([]GroupStats, len(groups))
	for i, g := range groups {
		g.mu.Lock()
		stats[i] = GroupStats{StreamID: keys[i].streamID, GroupName: keys[i].groupName, Checkpoint: g.checkpoint, InFlight: len(g.inFlight)}
		g.mu.Unlock()
	}
	return stats
}

// Shutdown stops every group's dispatcher goroutine.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	groups := make([]*Group, 0, len(e.groups))
	for _, g := range e.groups {
		groups = append(groups, g)
	}
	e.groups = make(map[groupKey]*Group)
	e.mu.Unlock()

	for _, g := range groups {
		g.shutdown()
	}
}
