package types

// DropReason is why a subscription was dropped, surfaced to the client
// in a SubscriptionDropped frame per the wire contract carried by the
// (out-of-scope) transport layer.
type DropReason string

const (
	DropUnsubscribed                  DropReason = "Unsubscribed"
	DropAccessDenied                  DropReason = "AccessDenied"
	DropNotFound                      DropReason = "NotFound"
	DropPersistentSubscriptionDeleted DropReason = "PersistentSubscriptionDeleted"
	DropSubscriberMaxCountReached     DropReason = "SubscriberMaxCountReached"
	DropProcessingQueueOverflow       DropReason = "ProcessingQueueOverflow"
	DropServerError                   DropReason = "ServerError"
	DropConnectionClosed              DropReason = "ConnectionClosed"
)

// PredicateKind is how a single filter clause matches a string field.
type PredicateKind string

const (
	PredicatePrefix PredicateKind = "prefix"
	PredicateSuffix PredicateKind = "suffix"
	PredicateRegex  PredicateKind = "regex"
)

// PredicateSpec is one clause of a Filter, as supplied by a subscriber.
type PredicateSpec struct {
	Kind  PredicateKind
	Value string
}

// FilterSpec is a disjunction of predicates over stream-id and over
// event-type. An event matches the filter if it matches any stream-id
// predicate or any event-type predicate; an empty FilterSpec matches
// everything.
type FilterSpec struct {
	StreamIDPredicates  []PredicateSpec
	EventTypePredicates []PredicateSpec
}

// CatchUpPhase is where a catch-up subscription is in its lifecycle.
type CatchUpPhase string

const (
	PhaseReading        CatchUpPhase = "Reading"
	PhaseCatchingUpLive  CatchUpPhase = "CatchingUpLive"
	PhaseLive            CatchUpPhase = "Live"
	PhaseDropped         CatchUpPhase = "Dropped"
)

// CatchUpState tracks a single catch-up (or filtered all-stream)
// subscription's progress through Reading -> CatchingUpLive -> Live.
type CatchUpState struct {
	Phase          CatchUpPhase
	LastCheckpoint LogPosition
}

// ConsumerStrategy selects how a persistent subscription group
// distributes events across its connected consumers.
type ConsumerStrategy string

const (
	StrategyRoundRobin      ConsumerStrategy = "RoundRobin"
	StrategyDispatchToSingle ConsumerStrategy = "DispatchToSingle"
	StrategyPinned           ConsumerStrategy = "Pinned"
)

// NackAction is the consumer's disposition of a negatively-acknowledged
// event.
type NackAction string

const (
	NackRetry NackAction = "retry"
	NackPark  NackAction = "park"
	NackSkip  NackAction = "skip"
	NackStop  NackAction = "stop"
)

// PersistentSubscriptionSettings configures a competing-consumer group,
// mirroring the wire-level settings of spec.md §4.F.
type PersistentSubscriptionSettings struct {
	StartFrom             EventNumber // Any here means "start from live"
	ResolveLinks           bool
	MessageTimeout         Duration
	MaxRetries             int
	LiveBufferSize         int
	ReadBatchSize          int
	HistoryBufferSize      int
	CheckpointAfter        Duration
	MinCheckpointCount     int
	MaxCheckpointCount     int
	MaxSubscribers         int // 0 = unlimited
	NamedConsumerStrategy  ConsumerStrategy
}

// Duration is a type alias kept distinct from time.Duration only to give
// settings structs a stable, JSON/YAML-friendly field type; it converts
// freely via time.Duration(d).
type Duration = int64 // nanoseconds, mirrors time.Duration's representation
