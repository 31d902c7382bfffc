/*
Package txlog implements the append-only, chunked transaction log: the
single physical substrate every event is written to before it is
visible anywhere else in the store.

# Architecture

	 Append Coordinator
	        |
	        v
	+----------------+      +----------------+      +----------------+
	| chunk-000000.0 | ---> | chunk-000001.0 | ---> |  active chunk   |
	|   (complete)    |      |   (complete)    |      | (mutable tail)  |
	+----------------+      +----------------+      +----------------+
	      read-only               read-only              single writer

A Log owns a directory of numbered chunk files. Only the active (last)
chunk is ever written to; once it reaches its configured max size it is
completed (footer written, marked read-only) and a new active chunk is
created. Readers address records by LogPosition and never hold a
pointer into a chunk past the call that returned the bytes.

# Record framing

Every record is length-prefixed on both ends so a reader can scan in
either direction: `u32 length | payload | u32 length`. The payload's
first byte is a RecordType discriminator (Prepare, Commit, or
SystemRecord).

# Recovery

Log.Open scans the records of every chunk that has no valid footer
forward from its header, truncating the file at the first invalid
length prefix or mismatched trailing length it finds (a torn write from
an unclean shutdown). The truncation is reported on a RecoveryEvents
channel and logged rather than returned as an error. A completed chunk
whose footer hash does not match its records is not truncated: Open
fails with an error wrapping errTornWrite.
*/
package txlog
