package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/f3/codec"
	"github.com/arloliu/f3/format"
	"github.com/arloliu/f3/section"
	"github.com/arloliu/f3/ude"
)

// LegacyFile builds a version 1 file.
//
// Every column uses the plain codec. Each row group batch is split into units of at
// most unitRows rows.
//
// Parameters:
//   - t: Test handle; encoding failures fail the test
//   - schema: Columns; the Codec field is overwritten with "plain"
//   - rowGroups: rowGroups[rg][col] holds the values of one column in one row group
//   - unitRows: Maximum rows per encoding unit
//
// Returns:
//   - []byte: Complete file
func LegacyFile(t testing.TB, schema []ude.Column, rowGroups [][]*ude.Batch, unitRows int) []byte {
	t.Helper()
	require.Positive(t, unitRows)

	ctx := context.Background()
	plain := codec.NewPlain()

	cols := make([]ude.Column, len(schema))
	for i, c := range schema {
		cols[i] = ude.Column{Name: c.Name, Kind: c.Kind, Codec: codec.PlainID}
	}

	var (
		file    []byte
		records [][]byte
		groups  []section.LegacyRowGroup
		row     uint64
	)
	for _, rg := range rowGroups {
		require.Len(t, rg, len(cols))
		rows := rg[0].Len()
		groups = append(groups, section.LegacyRowGroup{FirstRow: row, RowCount: uint64(rows)})

		for _, batch := range rg {
			require.Equal(t, rows, batch.Len())

			var units []section.LegacyUnit
			for start := 0; start < rows; start += unitRows {
				end := min(start+unitRows, rows)
				data, err := plain.Encode(ctx, batch.Slice(start, end), nil)
				require.NoError(t, err)

				units = append(units, section.LegacyUnit{
					Offset:   uint64(len(file)),
					Size:     uint32(len(data)), //nolint: gosec
					FirstRow: row + uint64(start),
					RowCount: uint32(end - start), //nolint: gosec
				})
				file = append(file, data...)
			}
			records = append(records, section.LegacyColMetadataBytes(uint64(rows), units))
		}
		row += uint64(rows)
	}

	metaStart := len(file)
	locs := make([]section.ColMetaLocation, len(records))
	for i, rec := range records {
		locs[i] = section.ColMetaLocation{Offset: uint64(len(file)), Size: uint32(len(rec))} //nolint: gosec
		file = append(file, rec...)
	}

	footer, err := (&section.LegacyFooter{Columns: cols, RowGroups: groups, ColMeta: locs}).Bytes()
	require.NoError(t, err)
	footerOffset := len(file)
	file = append(file, footer...)

	ps := section.Postscript{
		FooterOffset: uint64(footerOffset),
		FooterSize:   uint32(len(footer)),           //nolint: gosec
		MetadataSize: uint32(len(file) - metaStart), //nolint: gosec
		ChecksumType: format.ChecksumNone,
		Version:      format.VersionV1,
	}

	return ps.AppendTo(file)
}
