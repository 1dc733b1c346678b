// Package store provides the SQLite-backed incremental build cache.
//
// The cache maps an opaque rule fingerprint to a run record and keeps, per
// run, the fingerprint of every output target that run produced:
//   - version: a single marker row (magic 76388, schema version)
//   - rule_run: one row per distinct rule fingerprint
//   - target_output: one row per (run, target) pair
//
// # Schema Compatibility
//
// Open checks the version marker before handing out a Store. A missing,
// unreadable or mismatching marker means the file is not a cache this code
// understands; it is deleted and recreated empty. Cached content can always
// be regenerated by re-running rules, so there is no migration path.
//
// # Atomicity
//
// RecordRun upserts the run and replaces its entire output set in one
// transaction. Readers observe either the previous output set or the new
// one, never a mix.
//
// # Concurrency
//
// The package does no locking of its own. SQLite arbitrates between
// connections and processes; a writer that still loses after busy_timeout
// gets an error for which IsBusy reports true. Retrying is up to the caller.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds (WithBusyTimeout)
//   - foreign_keys=ON: Enforce referential integrity
package store
