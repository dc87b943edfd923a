// Package section defines the physical layout of an f3 file and the zero-copy parsers
// for its metadata.
//
// # File Layout
//
//	┌──────────────────────────────────────────────┐
//	│ IOUnit 0 .. IOUnit N-1                       │  data part: EncUnits and DictUnits
//	├──────────────────────────────────────────────┤
//	│ OptData entries (embedded codec modules, ...) │
//	├──────────────────────────────────────────────┤
//	│ ColMetadata records, row-group major          │
//	├──────────────────────────────────────────────┤
//	│ Footer: tagged sections                       │
//	├──────────────────────────────────────────────┤
//	│ Postscript (32 bytes)                         │
//	└──────────────────────────────────────────────┘
//
// The postscript is read first. It locates the footer, whose tagged sections describe
// the schema, row groups, IOUnits, dictionaries, OptData entries and a fixed-width
// pointer table with one entry per (row group, column) ColMetadata record. Readers
// resolve a single column's metadata by indexing that table, so only projected columns
// are ever fetched or parsed.
//
// # Compatibility
//
// Unknown footer tags, unknown trailing fields in a ColMetadata record and encoding-unit
// entries larger than the known size are skipped. Version 1 files use a fixed footer
// without dictionaries or checksums and are exposed through the same Directory interface.
package section
