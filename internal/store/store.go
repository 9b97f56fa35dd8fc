// Package store reads and writes the single-file catalog container.
//
// A store is one SQLite file holding named sections, each a compressed
// columnar table: image metadata under "fitsinfo", the combined
// photometry under "data", and one section per filter with that
// filter's individual-exposure columns. The file is written once per
// ingest run and never modified afterwards.
package store

import (
	"time"
)

// Fixed section keys.
const (
	SectionFitsInfo = "fitsinfo"
	SectionData     = "data"
)

// Options configure a store build.
type Options struct {
	// Codec selects the column compression codec: zlib (the default)
	// or snappy.
	Codec string
}

// SectionInfo describes one stored section.
type SectionInfo struct {
	Name      string
	Kind      string
	Position  int
	RowCount  int64
	CreatedAt time.Time
}

// ColumnInfo describes one stored column without its payload.
type ColumnInfo struct {
	Section      string
	Position     int
	Name         string
	Kind         string
	Codec        string
	NullCount    int64
	MinValue     *float64
	MaxValue     *float64
	RawBytes     int64
	EncodedBytes int64
}
