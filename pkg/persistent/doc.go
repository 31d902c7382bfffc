/*
Package persistent implements the Persistent Subscription Engine:
server-tracked, competing-consumer groups per stream with checkpointed
progress, ack/nack, retry, and park buffers.

Each group runs one dispatcher goroutine owning its read cursor,
in-flight map, and connected-consumer set, mirroring pkg/subscribe's
one-goroutine-per-subscription ownership model. Checkpoints are
themselves appended to a system stream through the same Appender
(coordinator.Coordinator) interface the rest of the engine uses for
park-buffer writes, so recovery after a restart is just another
catch-up read.
*/
package persistent
