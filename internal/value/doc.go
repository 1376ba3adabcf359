// Package value provides the field value model shared by every other package.
//
// A record's fields are carried as a Map of sealed Value types. The package
// imports nothing internal so codecs, stores, the diff engine and the
// versioning engine can all depend on it without cycles.
//
// Key design constraints:
//   - Value is sealed: only Null, String, Int, Float, Bool, List and Map implement it
//   - Equality is strict and structural (Int(1) != Float(1))
//   - Map key order never matters; List order always does
//   - Timestamps travel as RFC 3339 strings (see Time)
package value
