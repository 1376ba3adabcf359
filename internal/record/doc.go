// Package record defines the contracts between the versioning engine and the
// store that owns records.
//
// The engine never persists records itself. It reads a Versionable during the
// save lifecycle, and during revert it asks a Registry for an empty Record of
// the owner type, fills it and hands it to a Saver.
//
// Model and MemoryRepository are reference implementations used by the CLI,
// the engine tests and anyone embedding the engine without an ORM.
package record
