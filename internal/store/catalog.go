package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	apperrors "github.com/photcat/photcat/internal/errors"
	"github.com/photcat/photcat/pkg/types"
)

// BuildInfo summarizes a finished catalog container.
type BuildInfo struct {
	Path         string
	SizeBytes    int64
	SectionCount int
	RowCount     int64
}

// BuildCatalog writes a complete catalog container in one pass: the
// image-metadata table under "fitsinfo", the combined photometry under
// "data", then one section per filter (sorted) holding the columns of
// the unculled catalog whose names carry that filter's
// individual-exposure marker. Build stats are recorded under the keys
// in extraStats.
func BuildCatalog(ctx context.Context, path string, opts Options,
	fitsinfo, combined, full *types.Table, filters []string, extraStats map[string]string) (*BuildInfo, error) {

	w, err := NewWriter(path, opts)
	if err != nil {
		return nil, err
	}
	for k, v := range extraStats {
		w.SetStat(k, v)
	}

	if err := w.WriteSection(ctx, SectionFitsInfo, KindMetadata, fitsinfo); err != nil {
		return nil, err
	}
	if err := w.WriteSection(ctx, SectionData, KindCombined, combined); err != nil {
		return nil, err
	}

	sorted := make([]string, len(filters))
	copy(sorted, filters)
	sort.Strings(sorted)
	for _, filter := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewWriteIO("build canceled", err)
		}
		subset := FilterSubset(full, filter)
		if err := w.WriteSection(ctx, filter, KindFilter, subset); err != nil {
			return nil, err
		}
	}

	if err := w.Close(ctx); err != nil {
		return nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.NewWriteIO(fmt.Sprintf("stat finished store %s", path), err)
	}
	return &BuildInfo{
		Path:         path,
		SizeBytes:    fi.Size(),
		SectionCount: 2 + len(sorted),
		RowCount:     int64(combined.NumRows()),
	}, nil
}

// FilterSubset selects the columns carrying one filter's
// individual-exposure marker: the filter token bracketed by
// underscores, matched case-insensitively.
func FilterSubset(table *types.Table, filter string) *types.Table {
	marker := "_" + strings.ToLower(filter) + "_"
	return table.SelectFunc(func(name string) bool {
		return strings.Contains(strings.ToLower(name), marker)
	})
}
