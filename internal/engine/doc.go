// Package engine implements the snapshot lifecycle: deciding, writing,
// purging, reading, diffing and reverting record versions.
//
// LIFECYCLE:
//
// The Engine implements record.Hooks. A record store calls Saving before it
// persists a record and Saved after. Saving captures the pre-save view
// (insert or update, dirty fields, per-instance switch, pending reason);
// Saved evaluates the policy on that view and then either writes inline or
// publishes a dispatch.Task. The decision is frozen at that point: workers
// write whatever was decided at enqueue and never re-run the policy.
//
// Write Flow:
// 1. Reveal the hidden fields the type versions, deferring re-concealment
// 2. Capture the serializable field set
// 3. Encode with the type's encoder
// 4. Append through the type's store
// 5. Purge beyond the retention limit
//
// ERROR HANDLING:
//
// A failed snapshot write never fails the record save unless strict writes
// are enabled. Failures are logged with owner context and counted. A purge
// failure after a successful append is reported as a *PurgeError next to the
// stored snapshot.
//
// ORDERING:
//
// Snapshots are ordered by (created_at, id). The engine's Clock never returns
// the same instant twice, and the store breaks any remaining tie by id.
package engine
