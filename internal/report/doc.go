// Package report stores scenario run results in SQLite so that repeated CLI
// runs can be compared over time.
//
// The database holds two tables:
//   - runs: one row per scenario execution (pass, timeout, digest, final state)
//   - run_actions: the caught actions of each run in trace order
//
// All ordering uses the seq column, never timestamps. Listing is
// ORDER BY seq DESC, the newest run first.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// State, payloads and errors are stored as canonical JSON, the same encoding
// the harness digests.
package report
