// Package agent tracks live endpoint connections and in-flight commands.
//
// # Overview
//
// The agent package owns the two shared mutable structures of the dispatch
// core: the Registry of live connections and the PendingTable of commands
// awaiting results. All mutation goes through their narrow contracts so
// callers never observe partial updates.
//
// # Registry
//
// The Registry holds at most one Connection per agent id:
//
//	reg := agent.NewRegistry(logger)
//
// Key operations:
//
//   - Register(conn): install a connection, displacing any previous one
//   - Lookup(id): O(1) reachability check
//   - Remove(id, expected): compare-and-delete, safe against reconnect races
//   - ListConnected() / Snapshot(): status reporting
//
// A reconnect for an id that is already registered displaces the old
// connection: the old handle is returned to the caller, which fails its
// outstanding commands and closes it. The new connection is independent.
//
// # Request/Response Correlation
//
// When the orchestrator dispatches a command it:
//
//  1. Generates a unique command_id
//  2. Creates a PendingTable entry with a deadline
//  3. Sends the encoded command frame over the agent's channel
//  4. Blocks on the entry's Done() channel
//  5. Reads the settlement via Outcome()
//
// The command_id is the only correlation key; an agent may have several
// commands outstanding and their results may arrive in any order.
//
// # Settlement
//
// Every entry settles exactly once, by one of:
//
//   - ResolveSuccess: a matching result frame arrived
//   - ResolveFailure: timeout, disconnect, cancellation, or send failure
//   - ExpireDue: the periodic sweep found the deadline passed
//
// Settling an absent or already-settled entry is an idempotent no-op, so a
// late result racing the timeout sweep cannot resolve a caller twice.
//
// # Thread Safety
//
// Registry, Connection, and PendingTable are all safe for concurrent use.
// Waiters block on a per-entry channel, never on a shared lock.
package agent
