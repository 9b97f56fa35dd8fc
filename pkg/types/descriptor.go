package types

// ColumnClass identifies the structural role of a resolved column.
type ColumnClass int

const (
	// ColUnassigned marks a descriptor not yet named by resolution.
	ColUnassigned ColumnClass = iota
	// ColPosition is one of the four fixed input-position columns.
	ColPosition
	// ColPerImage is an input count/magnitude column for one exposure.
	ColPerImage
	// ColGlobal is one of the eleven fixed global photometry columns.
	ColGlobal
	// ColCombined is a per-filter column aggregated across exposures.
	ColCombined
	// ColIndividual is a per-exposure measurement column.
	ColIndividual
)

var columnClassNames = map[ColumnClass]string{
	ColUnassigned: "unassigned",
	ColPosition:   "position",
	ColPerImage:   "per-image",
	ColGlobal:     "global",
	ColCombined:   "combined",
	ColIndividual: "individual",
}

func (c ColumnClass) String() string {
	if s, ok := columnClassNames[c]; ok {
		return s
	}
	return "unassigned"
}

// PerExposure reports whether the class carries per-exposure detail.
// These columns are dropped in lite reads and excluded from the
// combined data section.
func (c ColumnClass) PerExposure() bool {
	return c == ColPerImage || c == ColIndividual
}

// ColumnDescriptor binds one raw column index in the measurement file to
// its free-text description and resolved semantic name. Descriptors are
// produced once per run by the schema resolver and are immutable after
// resolution; Index values are unique, contiguous, and 0-based.
type ColumnDescriptor struct {
	Index int
	Desc  string
	Name  string
	Class ColumnClass

	// Filter is the filter token for combined columns, original case.
	Filter string

	// Image is the source exposure for per-image and individual columns.
	Image string
}
