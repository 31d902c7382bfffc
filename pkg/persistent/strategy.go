package persistent

import (
	"encoding/json"
	"hash/fnv"

	"github.com/cuemby/eventstore/pkg/types"
)

// consumerState tracks one connected consumer's delivery channel and
// in-flight count, the unit the named-consumer strategies select over.
type consumerState struct {
	id        string
	out       chan *Delivery
	inFlight  int
	liveBufSz int
}

func (c *consumerState) hasCapacity() bool {
	return c.inFlight < c.liveBufSz
}

// selectConsumer picks which connected consumer should receive ev,
// according to strategy. order is the connection order, used for
// round-robin and dispatch-to-single; rrCursor is advanced in place
// by round-robin selections.
func selectConsumer(strategy types.ConsumerStrategy, consumers map[string]*consumerState, order []string, rrCursor *int, ev types.Event) *consumerState {
	live := make([]*consumerState, 0, len(order))
	for _, id := range order {
		if c, ok := consumers[id]; ok {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return nil
	}

	switch strategy {
	case types.StrategyDispatchToSingle:
		for _, c := range live {
			if c.hasCapacity() {
				return c
			}
		}
		return nil

	case types.StrategyPinned:
		key := correlationKey(ev)
		idx := int(hashString(key) % uint64(len(live)))
		if live[idx].hasCapacity() {
			return live[idx]
		}
		// pinned consumer has no room; this event waits for the next pass
		return nil

	default: // StrategyRoundRobin
		start := *rrCursor
		for i := 0; i < len(live); i++ {
			idx := (start + i) % len(live)
			if live[idx].hasCapacity() {
				*rrCursor = (idx + 1) % len(live)
				return live[idx]
			}
		}
		return nil
	}
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// correlationKey extracts the pinning key for an event: its metadata's
// "correlation_id" field if present and parseable, falling back to its
// event-id.
func correlationKey(ev types.Event) string {
	if len(ev.Metadata) > 0 {
		var meta struct {
			CorrelationID string `json:"correlation_id"`
		}
		if err := json.Unmarshal(ev.Metadata, &meta); err == nil && meta.CorrelationID != "" {
			return meta.CorrelationID
		}
	}
	return ev.ID.String()
}
