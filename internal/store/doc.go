// Package store persists gateway state in SQLite via modernc.org/sqlite.
//
// Two tables live here: command_log, the append-only history of every
// dispatched command and its terminal outcome, and mock_agents, the saved
// simulated endpoint profiles that are reloaded into the mock engine on
// startup.
//
// The store is safe for concurrent use; SQLite runs in WAL mode so reads
// do not block the single writer. All writes are best-effort from the
// dispatcher's point of view: a failed insert is logged and never fails
// the command that produced it.
package store
