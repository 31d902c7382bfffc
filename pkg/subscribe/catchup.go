package subscribe

import (
	"github.com/cuemby/eventstore/pkg/types"
)

// deliverDropOnFull enqueues msg, dropping sub on a full outbound
// queue. The drop reason depends on the current phase: a live-buffer
// overflow while catching up is ProcessingQueueOverflow, any other
// overflow is SubscriberMaxCountReached.
func deliverDropOnFull(sub *Subscription, msg *Message) bool {
	if sub.deliver(msg) {
		return true
	}
	reason := types.DropSubscriberMaxCountReached
	if sub.Phase() == types.PhaseCatchingUpLive {
		reason = types.DropProcessingQueueOverflow
	}
	sub.drop(reason)
	return false
}

// runCatchUpStream drives a single-stream catch-up subscription
// through Reading -> CatchingUpLive -> Live.
func (d *Dispatcher) runCatchUpStream(sub *Subscription, streamID string, from types.EventNumber) {
	defer d.unregister(sub.ID)

	cursor := from + 1
	lastDelivered := types.LogPosition{Commit: -1, Prepare: -1}
	batch := d.cfg.CatchUpBatchSize

	for {
		if sub.isStopped() {
			return
		}
		slice, err := d.reader.ReadStreamForward(streamID, cursor, batch, true)
		if err != nil {
			sub.drop(types.DropServerError)
			return
		}
		if slice.Deleted {
			sub.drop(types.DropNotFound)
			return
		}
		for _, ev := range slice.Events {
			if sub.isStopped() {
				return
			}
			if !deliverDropOnFull(sub, &Message{Kind: MsgEventAppeared, Event: ev, Position: ev.Position}) {
				return
			}
			lastDelivered = ev.Position
		}
		cursor = slice.NextEventNumber
		if slice.IsEndOfStream {
			break
		}
	}

	// Subscribe to the commit bus before the final drain so concurrent
	// commits queue in the bus's own bounded per-subscriber buffer
	// instead of being missed.
	sub.setPhase(types.PhaseCatchingUpLive)
	busSub := d.broker.Subscribe()
	defer d.broker.Unsubscribe(busSub)

	for {
		if sub.isStopped() {
			return
		}
		slice, err := d.reader.ReadStreamForward(streamID, cursor, batch, true)
		if err != nil {
			sub.drop(types.DropServerError)
			return
		}
		for _, ev := range slice.Events {
			if !lastDelivered.Less(ev.Position) {
				continue
			}
			if sub.isStopped() {
				return
			}
			if !deliverDropOnFull(sub, &Message{Kind: MsgEventAppeared, Event: ev, Position: ev.Position}) {
				return
			}
			lastDelivered = ev.Position
		}
		cursor = slice.NextEventNumber
		if slice.IsEndOfStream {
			break
		}
	}

	sub.setPhase(types.PhaseLive)
	if !deliverDropOnFull(sub, &Message{Kind: MsgLiveProcessingStarted}) {
		return
	}

	for {
		select {
		case <-sub.stop:
			return
		case committed, ok := <-busSub:
			if !ok {
				return
			}
			if committed.Event.StreamID != streamID {
				continue
			}
			if !lastDelivered.Less(committed.Position) {
				continue
			}
			if sub.isStopped() {
				return
			}
			if !deliverDropOnFull(sub, &Message{Kind: MsgEventAppeared, Event: committed.Event, Position: committed.Position}) {
				return
			}
			lastDelivered = committed.Position
		}
	}
}

// runCatchUpAll drives a filtered all-stream subscription through the
// same phases as runCatchUpStream, additionally emitting periodic
// Checkpoint frames on the live path for every CheckpointEvery
// examined (not just matched) events.
func (d *Dispatcher) runCatchUpAll(sub *Subscription, fromPosition types.LogPosition) {
	defer d.unregister(sub.ID)

	cursor := types.LogPosition{Commit: fromPosition.Commit + 1}
	lastDelivered := types.LogPosition{Commit: -1, Prepare: -1}
	batch := d.cfg.CatchUpBatchSize

	for {
		if sub.isStopped() {
			return
		}
		slice, err := d.reader.ReadAllForward(cursor, batch, sub.predicate, 0)
		if err != nil {
			sub.drop(types.DropServerError)
			return
		}
		for _, ev := range slice.Events {
			if sub.isStopped() {
				return
			}
			if !deliverDropOnFull(sub, &Message{Kind: MsgEventAppeared, Event: ev, Position: ev.Position}) {
				return
			}
			lastDelivered = ev.Position
		}
		cursor = types.LogPosition{Commit: slice.NextPosition.Commit + 1}
		if slice.IsEndOfStream {
			break
		}
	}

	sub.setPhase(types.PhaseCatchingUpLive)
	busSub := d.broker.Subscribe()
	defer d.broker.Unsubscribe(busSub)

	for {
		if sub.isStopped() {
			return
		}
		slice, err := d.reader.ReadAllForward(cursor, batch, sub.predicate, 0)
		if err != nil {
			sub.drop(types.DropServerError)
			return
		}
		for _, ev := range slice.Events {
			if !lastDelivered.Less(ev.Position) {
				continue
			}
			if sub.isStopped() {
				return
			}
			if !deliverDropOnFull(sub, &Message{Kind: MsgEventAppeared, Event: ev, Position: ev.Position}) {
				return
			}
			lastDelivered = ev.Position
		}
		cursor = types.LogPosition{Commit: slice.NextPosition.Commit + 1}
		if slice.IsEndOfStream {
			break
		}
	}

	sub.setPhase(types.PhaseLive)
	if !deliverDropOnFull(sub, &Message{Kind: MsgLiveProcessingStarted}) {
		return
	}

	examinedSinceCheckpoint := 0
	checkpointEvery := d.cfg.CheckpointEvery

	for {
		select {
		case <-sub.stop:
			return
		case committed, ok := <-busSub:
			if !ok {
				return
			}
			examinedSinceCheckpoint++
			if sub.predicate(committed.Event.StreamID, committed.Event.Type) && lastDelivered.Less(committed.Position) {
				if sub.isStopped() {
					return
				}
				if !deliverDropOnFull(sub, &Message{Kind: MsgEventAppeared, Event: committed.Event, Position: committed.Position}) {
					return
				}
				lastDelivered = committed.Position
			}
			if examinedSinceCheckpoint >= checkpointEvery {
				examinedSinceCheckpoint = 0
				sub.setCheckpoint(committed.Position)
				if !deliverDropOnFull(sub, &Message{Kind: MsgCheckpoint, Position: committed.Position}) {
					return
				}
			}
		}
	}
}
