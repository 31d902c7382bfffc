/*
Package subscribe implements the Subscription Dispatcher: live
subscriptions, catch-up subscriptions (historical replay then a live
hand-off), and filtered all-stream subscriptions with periodic
checkpoints.

	            +-------------+       catch-up reads        +--------+
	 historical |   Reader    | <--------------------------- |  sub   |
	 phase      +-------------+                              | goroutine
	                                                          |  per   |
	            +-------------+        live Committed        | sub    |
	 live phase |  bus.Broker | --------------------------->  +--------+
	            +-------------+                                  |
	                                                           Out chan
	                                                          (drop on full)

Every subscription is driven by one goroutine that owns its own
Reading -> CatchingUpLive -> Live phase transitions (Live subscriptions
start directly in Live). Delivery never blocks the commit path: the
dispatcher's bus subscription is itself a bounded channel from
pkg/bus, and each subscription's outbound queue is a second, separate
bound with its own drop reason.
*/
package subscribe
