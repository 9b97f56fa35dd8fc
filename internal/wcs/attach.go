package wcs

import (
	"log/slog"

	apperrors "github.com/photcat/photcat/internal/errors"
	"github.com/photcat/photcat/pkg/types"
)

// Outcome reports what coordinate attachment did with the candidate
// reference images.
type Outcome struct {
	Attached  bool
	Skipped   bool   // no candidate reference image was supplied
	Ambiguous bool   // more than one candidate; the first was used
	Reference string // path of the reference actually applied
}

// Attacher inserts ra and dec columns computed from an astrometric
// reference image.
type Attacher struct {
	resolver Resolver
	log      *slog.Logger
}

// NewAttacher builds an Attacher. A nil resolver reads FITS headers
// from disk; a nil logger falls back to slog.Default().
func NewAttacher(resolver Resolver, log *slog.Logger) *Attacher {
	if resolver == nil {
		resolver = FITSResolver{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Attacher{resolver: resolver, log: log}
}

// Attach computes equatorial coordinates for every row from the first
// candidate reference and inserts them as the fifth and sixth columns,
// shifting later columns right. With no candidates the table is left
// untouched and the skip is reported in the Outcome rather than as an
// error. Rows with missing x or y get missing ra and dec.
func (a *Attacher) Attach(table *types.Table, refs []string) (Outcome, error) {
	if len(refs) == 0 {
		a.log.Warn("no astrometric reference image, coordinates skipped")
		return Outcome{Skipped: true}, nil
	}
	out := Outcome{Reference: refs[0]}
	if len(refs) > 1 {
		out.Ambiguous = true
		a.log.Warn("multiple astrometric reference images",
			"count", len(refs), "selected", refs[0])
	}

	sol, err := a.resolver.Resolve(refs[0])
	if err != nil {
		return out, err
	}

	xcol, xok := table.Column("x")
	ycol, yok := table.Column("y")
	if !xok || !yok || xcol.Kind != types.KindFloat || ycol.Kind != types.KindFloat {
		return out, apperrors.NewInternalError("catalog has no x/y pixel columns", nil)
	}

	n := table.NumRows()
	ra := make([]float64, n)
	dec := make([]float64, n)
	for i := 0; i < n; i++ {
		ra[i], dec[i] = sol.PixelToWorld(xcol.Floats[i], ycol.Floats[i])
	}
	if err := table.InsertColumn(4, types.NewFloatColumn("ra", ra)); err != nil {
		return out, err
	}
	if err := table.InsertColumn(5, types.NewFloatColumn("dec", dec)); err != nil {
		return out, err
	}
	out.Attached = true
	a.log.Info("attached equatorial coordinates", "reference", refs[0], "rows", n)
	return out, nil
}
