// Package fitsmeta assembles the fitsinfo section of a catalog store:
// one row per contributing image, one column per header keyword, plus
// the per-image tagging metadata used to name and sort products.
package fitsmeta

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/photcat/photcat/internal/wcs"
	"github.com/photcat/photcat/pkg/types"
)

// Build reads the primary header of every image and returns the
// fitsinfo table together with the extracted tagging metadata, one
// entry per path in input order.
//
// The table's columns are the union of the keywords seen across all
// headers, sorted, behind a leading "filename" column. A keyword whose
// values are numeric in every header becomes a float column (absent
// rows NaN); boolean keywords become flag columns (absent rows null);
// everything else is rendered as strings.
func Build(ctx context.Context, imagePaths []string) (*types.Table, []ImageMeta, error) {
	headers := make([]wcs.Header, 0, len(imagePaths))
	metas := make([]ImageMeta, 0, len(imagePaths))
	names := make([]string, 0, len(imagePaths))

	for _, path := range imagePaths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		h, err := readImageHeader(path)
		if err != nil {
			return nil, nil, err
		}
		name := filepath.Base(path)
		headers = append(headers, h)
		names = append(names, name)
		metas = append(metas, ExtractMeta(name, h))
	}

	table, err := buildTable(names, headers)
	if err != nil {
		return nil, nil, err
	}
	return table, metas, nil
}

func readImageHeader(path string) (wcs.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fitsmeta: open image: %w", err)
	}
	defer f.Close()
	h, err := wcs.ReadPrimaryHeader(f)
	if err != nil {
		return nil, fmt.Errorf("fitsmeta: %s: %w", filepath.Base(path), err)
	}
	return h, nil
}

func buildTable(names []string, headers []wcs.Header) (*types.Table, error) {
	table := types.NewTable()
	if err := table.AddColumn(types.NewStringColumn("filename", names)); err != nil {
		return nil, err
	}
	for _, key := range unionKeys(headers) {
		if err := table.AddColumn(keywordColumn(key, headers)); err != nil {
			return nil, fmt.Errorf("fitsmeta: keyword %s: %w", key, err)
		}
	}
	return table, nil
}

func unionKeys(headers []wcs.Header) []string {
	seen := make(map[string]struct{})
	for _, h := range headers {
		for key := range h {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// keywordColumn picks the narrowest column kind that holds the
// keyword's value in every header it appears in.
func keywordColumn(key string, headers []wcs.Header) types.Column {
	numeric, boolean := true, true
	for _, h := range headers {
		switch h[key].(type) {
		case nil:
		case float64, int:
			boolean = false
		case bool:
			numeric = false
		default:
			numeric, boolean = false, false
		}
	}

	switch {
	case numeric:
		vals := make([]float64, len(headers))
		for i, h := range headers {
			vals[i] = floatOrMissing(h, key)
		}
		return types.NewFloatColumn(key, vals)
	case boolean:
		vals := make([]types.Flag, len(headers))
		for i, h := range headers {
			if b, ok := h[key].(bool); ok {
				vals[i] = types.FlagOf(b)
			} else {
				vals[i] = types.FlagNull
			}
		}
		return types.NewFlagColumn(key, vals)
	default:
		vals := make([]string, len(headers))
		for i, h := range headers {
			vals[i] = renderValue(h[key])
		}
		return types.NewStringColumn(key, vals)
	}
}

func renderValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "T"
		}
		return "F"
	default:
		return fmt.Sprint(v)
	}
}
