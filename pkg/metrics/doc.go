/*
Package metrics provides Prometheus metrics collection and exposition for
the event store.

All metrics are registered at package init and exposed via an HTTP
/metrics endpoint for scraping. A Collector periodically samples the
log, index, coordinator, subscription dispatcher, and persistent
subscription engine and publishes their state as gauges; append and
read latency are recorded inline by their callers via the Timer helper.

# Metrics Catalog

Log:
  - eventstore_chunks_total (gauge) — chunk files in the transaction log
  - eventstore_log_bytes_total (gauge) — on-disk log size
  - eventstore_append_duration_seconds (histogram) — coordinator append latency
  - eventstore_appends_total{outcome} (counter) — committed/wrong_expected_version/stream_deleted/error
  - eventstore_events_appended_total (counter)

Index:
  - eventstore_streams_total (gauge)
  - eventstore_index_lookup_duration_seconds (histogram)

Raft:
  - eventstore_raft_is_leader (gauge)
  - eventstore_raft_applied_index (gauge)
  - eventstore_raft_apply_duration_seconds (histogram)

Subscriptions:
  - eventstore_subscriptions_total{mode} (gauge) — live/catchup_stream/catchup_all
  - eventstore_subscriptions_dropped_total{reason} (counter)
  - eventstore_subscriber_lag_events (histogram) — events behind tail when a catch-up reaches live

Persistent subscriptions:
  - eventstore_persistent_groups_total (gauge)
  - eventstore_persistent_in_flight_total{stream,group} (gauge)
  - eventstore_persistent_parked_total{stream,group,reason} (counter)
  - eventstore_persistent_acks_total{stream,group} (counter)
  - eventstore_persistent_lag_events{stream,group} (gauge)

# Usage

	timer := metrics.NewTimer()
	pos, firstEventNumber, err := srv.Append(streamID, expectedVersion, events)
	timer.ObserveDuration(metrics.AppendDuration)
	metrics.AppendsTotal.WithLabelValues(appendOutcome(err)).Inc()

	http.Handle("/metrics", metrics.Handler())

pkg/server.Server.Append and ReadEvent record AppendDuration and
IndexLookupDuration inline this way on every call; the Collector never
touches per-call histograms, only the gauges it can sample from
component state.

# Health and Readiness

RegisterComponent/UpdateComponent feed HealthHandler and ReadyHandler;
readiness treats "txlog", "index", and "coordinator" as critical
components and reports not_ready until all three have reported healthy.
*/
package metrics
