// Package attachments uploads user-supplied images and files to a backend
// once per distinct content and remembers the result.
//
// Resolve hashes the content with SHA-256 and looks the hash up in a durable
// Store. A cached record is reused only after the backend confirms the remote
// file still exists; a missing file is uploaded again and the new record
// replaces the old one. Concurrent resolutions of the same content share a
// single upload.
//
// Records are kept in SQLite (modernc.org/sqlite or mattn/go-sqlite3) or in
// memory. The retention subpackage prunes records that have not been used
// for a configurable number of days.
package attachments
