/*
Package bus implements the commit bus: the internal publish/subscribe
channel the Append Coordinator uses to announce newly committed events
to the Subscription Dispatcher and Persistent Subscription Engine.

Subscribers register with Subscribe (no filter; filtering is up to the
subscriber) and receive every Committed message published after
registration, in commit order, through a bounded per-subscriber
channel. A slow subscriber that lets its channel fill misses that
message rather than blocking the broker; the broker does not tell the
subscriber that a message was skipped.
*/
package bus
