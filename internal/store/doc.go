// Package store provides the SQLite-backed snapshot store.
//
// One database can hold any number of snapshot tables. Open creates the
// default "versions" table; WithTable binds another table in the same
// database for record types configured with their own table.
//
// # Ordering
//
// Every read orders by created_at then id. created_at is stored as Unix
// nanoseconds so ordering is numeric, and id is AUTOINCREMENT so it is never
// reused after a purge.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single open connection: one writer at a time
package store
