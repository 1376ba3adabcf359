// Package harness runs YAML lifecycle scenarios against a fully wired engine.
//
// A scenario declares record types and their versioning policy, drives
// records through saves, deletes, reverts and purges, and asserts on the
// resulting snapshot history.
//
// # Scenario Format
//
//	name: rename_post
//	description: "Renaming a post records a second version"
//	types:
//	  post:
//	    soft_deletes: true
//	    hidden: [secret]
//	    reveal: [secret]
//	    exclude: [views]
//	    retention: 5
//	    encoder: json
//	    table: post_versions
//	flow:
//	  - op: create
//	    type: post
//	    ref: p
//	    fields: { title: "Hello" }
//	  - op: update
//	    ref: p
//	    fields: { title: "Hello, world" }
//	    reason: "typo"
//	    actor: "user-7"
//	assertions:
//	  - type: history_count
//	    ref: p
//	    count: 2
//	  - type: version_fields
//	    ref: p
//	    version: 1
//	    expect: { title: "Hello" }
//	  - type: diff
//	    ref: p
//	    version: 1
//	    expect: { title: "Hello, world" }
//
// Versions are numbered from 1, oldest first. Version 0 means the current
// (newest) snapshot.
//
// # Assertion Types
//
//   - history_count: the record has exactly count snapshots
//   - version_fields: the version holds the expected fields (subset match)
//     and none of the absent ones
//   - version_meta: the version's reason and actor match exactly; empty
//     means none was recorded
//   - diff: Engine.Diff of version against another version (default current)
//     equals expect exactly
//
// # Deterministic Testing
//
// Each run gets a fresh in-memory SQLite database, a DeterministicClock
// shared by the record repository and the engine, and sequential record
// keys (rec-1, rec-2, ...), so traces compare byte for byte against golden
// files.
package harness
