/*
Package types defines the data model shared by every layer of the event
store: the wire-independent shape of an event, the sentinels a caller
uses to express optimistic-concurrency intent, and the bookkeeping
structures the stream index, subscription dispatcher, and persistent
subscription engine attach to a stream.

# Core Types

Event:
  - Immutable, client-supplied ID plus server-assigned position
  - Data and Metadata are opaque byte payloads (JSON or otherwise)

EventNumber:
  - Dense, zero-based per-stream sequence number
  - Carries the reserved sentinels used as "expected version" on append:
    Any, NoStream, StreamExists, and ExactVersion(n) for n >= 0

LogPosition:
  - (Commit, Prepare) pair; Commit position defines the global order

StreamState:
  - Per-stream tail, tombstone flag, and metadata (truncate-before,
    max-age, max-count) enforced by the Reader

Subscription bookkeeping:
  - CatchUpState backs the catch-up modes of the subscription
    dispatcher
  - PersistentSubscriptionGroup and PersistentSubscriptionSettings back
    the competing-consumer engine

None of these types know how they are persisted or transported; that is
the job of pkg/txlog, pkg/index, pkg/coordinator, and pkg/server.
*/
package types
