// Package stream turns a backend's raw response body into the canonical
// delta stream.
//
// The work is split in three layers:
//
//  1. LineReader frames the body (SSE or newline-delimited JSON), drops
//     blank and comment lines and recognizes the [DONE] marker.
//  2. A backend-specific Decoder maps each line to zero or more Events.
//     Lines that fail to decode are logged and skipped.
//  3. Normalizer applies the delta rules: cumulative text is diffed per
//     channel, incremental text is passed through, attachment events are
//     fetched and stored, and exactly one terminal delta is produced.
//
// The Normalizer is pull-based. Nothing is read from the body until the
// caller asks for the next delta, so a consumer that stops pulling and closes
// the stream leaves no reader behind.
package stream
