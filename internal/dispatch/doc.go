// Package dispatch runs commands on endpoint agents and waits for results.
//
// # Overview
//
// The Orchestrator is the facade request handlers call. Each Execute call:
//
//  1. Generates a fresh command id
//  2. Picks a path — live connection, mock profile, or immediate failure
//  3. Registers a pending entry with deadline = now + timeout (real path)
//  4. Encodes and transmits the command frame
//  5. Suspends until the entry settles or the deadline sweep fires
//
// Per dispatched command the state machine is:
//
//	created -> sent (real) | synthesized (mock) -> succeeded | failed | timed_out
//
// Terminal states are final; retries belong to the caller.
//
// # Concurrency
//
// The Orchestrator is reentrant: every HTTP request runs its own Execute
// concurrently. The single suspension point is the pending entry's Done()
// channel — a per-request primitive, never a shared lock held across the
// wait. Results for different command ids may settle in any order.
//
// # Error taxonomy
//
//   - not-connected: no live channel and no online mock profile; the error
//     carries the reachable ids as a hint
//   - timed_out: dispatched but no result within the deadline
//   - transport_failed: connection dropped mid-flight (distinct from timeout)
//   - canceled: the caller abandoned the wait; the entry is settled and
//     removed, nothing leaks
//
// Malformed frames and late results stay internal: logged, counted, dropped.
// Nothing here is fatal to the process or to unrelated agents.
package dispatch
