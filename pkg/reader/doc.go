/*
Package reader implements the Reader: point and range reads from a
single stream and from the global "all" order, with optional link
resolution and stream-metadata enforcement (max-age, truncate-before,
max-count).

Reader is a thin, stateless layer over pkg/txlog (physical bytes) and
pkg/index (stream/event-number -> position mapping); it never mutates
either. pkg/subscribe builds its catch-up phase directly on top of
Reader's ReadStreamForward/ReadAllForward.
*/
package reader
