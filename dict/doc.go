// Package dict implements the dictionary manager: it decides the dictionary scope of
// every pending column chunk, interns values, assigns stable codes and tracks which
// dictionaries still need to be written.
//
// Three scopes exist:
//   - NoDict: values are encoded directly
//   - Local: the dictionary is written in the same IOUnit as the codes that use it
//   - Shared: the dictionary is written once, in its own dictionary-only IOUnit, and
//     referenced by dict_id from any number of later encoding units
//
// A shared dictionary is frozen once emitted. When new values appear, the manager
// creates a successor holding the old values followed by the new ones, so existing codes
// keep their meaning, and gives it a fresh dict_id.
//
// Only int64 and binary columns are dictionary encoded.
package dict
