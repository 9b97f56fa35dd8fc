package schema

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/photcat/photcat/internal/errors"
	"github.com/photcat/photcat/pkg/types"
)

// chipMarker identifies manifest entries that contribute a column pair
// to the per-exposure input block.
const chipMarker = "chip"

// Fakestar output leads with four columns describing the injected star.
var fakePositionNames = [4]string{"ext_in", "chip_in", "x_in", "y_in"}

// The eleven global photometry columns follow the per-exposure block.
var globalNames = [11]string{
	"ext", "chip", "x", "y", "chi_gl", "snr_gl",
	"sharp_gl", "round_gl", "majax_gl", "crowd_gl", "objtype_gl",
}

// fragmentSuffix maps a description fragment to its column-name suffix.
type fragmentSuffix struct {
	fragment string
	suffix   string
}

// fragmentSuffixes is applied in order; when a description matches more
// than one fragment, the last match wins.
var fragmentSuffixes = []fragmentSuffix{
	{"counts,", "count"},
	{"sky level,", "sky"},
	{"Normalized count rate,", "rate"},
	{"Normalized count rate uncertainty,", "raterr"},
	{"Instrumental VEGAMAG magnitude,", "vega"},
	{"Transformed UBVRI magnitude,", "trans"},
	{"Magnitude uncertainty,", "err"},
	{"Chi,", "chi"},
	{"Signal-to-noise,", "snr"},
	{"Sharpness,", "sharp"},
	{"Roundness,", "round"},
	{"Crowding,", "crowd"},
	{"Photometry quality flag,", "flag"},
}

// Layout is the resolved column schema for one catalog.
type Layout struct {
	// Columns holds the descriptor sequence in raw column order.
	Columns []types.ColumnDescriptor

	// Filters lists the distinct filter tokens found on combined
	// columns, sorted, original case preserved.
	Filters []string

	// ImageCount is the number of chip-bearing manifest entries.
	ImageCount int
}

// GlobalOffset returns the raw index of the first global column. The
// per-exposure input block occupies indices 4 through GlobalOffset-1.
func (l *Layout) GlobalOffset() int {
	return 4 + 2*l.ImageCount
}

// Names returns the resolved semantic names in raw column order.
func (l *Layout) Names() []string {
	names := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		names[i] = c.Name
	}
	return names
}

// LiteColumns returns the descriptors that survive a lite read: every
// column except the per-exposure ones.
func (l *Layout) LiteColumns() []types.ColumnDescriptor {
	lite := make([]types.ColumnDescriptor, 0, len(l.Columns))
	for _, c := range l.Columns {
		if c.Class.PerExposure() {
			continue
		}
		lite = append(lite, c)
	}
	return lite
}

// Resolve assigns a semantic name and class to every descriptor.
//
// The first four indices are the fixed input-position names. Chip-bearing
// manifest entries then claim two indices each, in manifest order. The
// eleven global names follow at 4+2*imageCount. Every remaining index is
// matched against the fragment table: a two-token description is a
// combined column named <filter>_<suffix>; a longer one is an individual
// column named <image>_<suffix>, where image is the second token up to
// its first space.
//
// Resolution fails when any index is left unnamed, two indices resolve
// to the same name, an individual column references an image absent from
// the manifest, or the manifest has no chip-bearing entry at all.
func Resolve(descs []types.ColumnDescriptor, manifest *Manifest) (*Layout, error) {
	n := len(descs)
	cols := make([]types.ColumnDescriptor, n)
	copy(cols, descs)
	for i := range cols {
		cols[i].Index = i
	}

	if n < len(fakePositionNames) {
		return nil, apperrors.NewSchemaMismatch(
			fmt.Sprintf("description file has %d columns, want at least %d", n, len(fakePositionNames)))
	}
	for i, name := range fakePositionNames {
		cols[i].Name = name
		cols[i].Class = types.ColPosition
	}

	imageCount := 0
	for _, e := range manifest.Entries {
		if !strings.Contains(e.Name, chipMarker) {
			continue
		}
		ind := 4 + 2*imageCount
		imageCount++
		if ind+1 >= n {
			return nil, apperrors.NewSchemaMismatch(
				fmt.Sprintf("description file has %d columns, too few for image %q at index %d", n, e.Name, ind))
		}
		cols[ind] = types.ColumnDescriptor{
			Index: ind, Desc: cols[ind].Desc,
			Name: e.Name + "_counts", Class: types.ColPerImage, Image: e.Name,
		}
		cols[ind+1] = types.ColumnDescriptor{
			Index: ind + 1, Desc: cols[ind+1].Desc,
			Name: e.Name + "_mag", Class: types.ColPerImage, Image: e.Name,
		}
	}
	if imageCount == 0 {
		return nil, apperrors.NewMissingManifestEntry(
			"no manifest entry carries a chip marker; single-exposure catalogs are rejected")
	}

	globalOffset := 4 + 2*imageCount
	if globalOffset+len(globalNames) > n {
		return nil, apperrors.NewSchemaMismatch(
			fmt.Sprintf("description file has %d columns, too few for %d global columns at offset %d",
				n, len(globalNames), globalOffset))
	}
	for i, name := range globalNames {
		cols[globalOffset+i].Name = name
		cols[globalOffset+i].Class = types.ColGlobal
	}

	var filters []string
	for _, fs := range fragmentSuffixes {
		for i := globalOffset + len(globalNames); i < n; i++ {
			if !strings.Contains(cols[i].Desc, fs.fragment) {
				continue
			}
			parts := strings.Split(cols[i].Desc, ", ")
			switch {
			case len(parts) == 2:
				filter := filterToken(parts[1])
				cols[i].Name = strings.ToLower(filter) + "_" + fs.suffix
				cols[i].Class = types.ColCombined
				cols[i].Filter = filter
				cols[i].Image = ""
				filters = append(filters, filter)
			case len(parts) > 2:
				image := firstWord(parts[1])
				cols[i].Name = image + "_" + fs.suffix
				cols[i].Class = types.ColIndividual
				cols[i].Image = image
				cols[i].Filter = ""
			}
		}
	}

	seen := make(map[string]int, n)
	for i := range cols {
		if cols[i].Name == "" {
			return nil, apperrors.NewSchemaMismatch(
				fmt.Sprintf("column %d unassigned after resolution (description %q)", i, cols[i].Desc))
		}
		if prev, dup := seen[cols[i].Name]; dup {
			return nil, apperrors.NewSchemaMismatch(
				fmt.Sprintf("columns %d and %d both resolve to %q", prev, i, cols[i].Name))
		}
		seen[cols[i].Name] = i
		if cols[i].Class == types.ColIndividual && !manifest.Contains(cols[i].Image) {
			return nil, apperrors.NewSchemaMismatch(
				fmt.Sprintf("column %d references image %q not present in the manifest", i, cols[i].Image))
		}
	}

	sort.Strings(filters)
	filters = dedupSorted(filters)

	return &Layout{Columns: cols, Filters: filters, ImageCount: imageCount}, nil
}

// filterToken extracts the filter from the trailing token of a combined
// description: quotes are stripped and any leading qualifier words
// ("filter 'F814W'") are dropped.
func filterToken(tok string) string {
	tok = strings.ReplaceAll(tok, "'", "")
	tok = strings.TrimSpace(tok)
	if i := strings.LastIndexByte(tok, ' '); i >= 0 {
		tok = tok[i+1:]
	}
	return tok
}

// firstWord returns the token up to its first space.
func firstWord(tok string) string {
	if i := strings.IndexByte(tok, ' '); i >= 0 {
		return tok[:i]
	}
	return tok
}

func dedupSorted(s []string) []string {
	out := s[:0]
	for i, v := range s {
		if i == 0 || v != s[i-1] {
			out = append(out, v)
		}
	}
	return out
}
