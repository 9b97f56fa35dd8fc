package fitsmeta

import (
	"strconv"
	"strings"

	"github.com/photcat/photcat/internal/wcs"
	"github.com/photcat/photcat/pkg/types"
)

// ProductKind classifies an image by the processing-stage marker in its
// filename.
type ProductKind string

const (
	KindDrizzled ProductKind = "DRIZZLED"
	KindScience  ProductKind = "SCIENCE"
	KindUnknown  ProductKind = "UNKNOWN"
)

var productMarkers = []struct {
	marker string
	kind   ProductKind
}{
	{"_i2d", KindDrizzled},
	{"_drc", KindDrizzled},
	{"_flc", KindScience},
	{"_flt", KindScience},
	{"_crf", KindScience},
	{"_cal", KindScience},
}

// ClassifyProduct maps a filename to its product kind by the
// processing-stage marker it carries.
func ClassifyProduct(filename string) ProductKind {
	for _, m := range productMarkers {
		if strings.Contains(filename, m.marker) {
			return m.kind
		}
	}
	return KindUnknown
}

// ImageMeta is the tagging metadata of one contributing image, pulled
// from the well-known keywords of its primary header. Absent numeric
// keywords are NaN; absent strings are empty.
type ImageMeta struct {
	Filename     string      `json:"filename"`
	RA           float64     `json:"ra"`
	Dec          float64     `json:"dec"`
	Telescope    string      `json:"telescope"`
	Detector     string      `json:"detector"`
	Orientation  float64     `json:"orientation"`
	ExposureTime float64     `json:"exptime"`
	ExposureFlag string      `json:"expflag"`
	Camera       string      `json:"cam"`
	Filter       string      `json:"filter"`
	TargetName   string      `json:"targname"`
	ProposalID   string      `json:"proposalid"`
	Kind         ProductKind `json:"type"`
}

// ExtractMeta derives an ImageMeta from a primary header. HST and JWST
// headers spell the same quantities with different keywords; the
// telescope card picks the set.
func ExtractMeta(filename string, h wcs.Header) ImageMeta {
	meta := ImageMeta{
		Filename: filename,
		Kind:     ClassifyProduct(filename),
	}
	meta.Telescope, _ = h.Str("TELESCOP")
	meta.Camera, _ = h.Str("INSTRUME")

	if strings.Contains(meta.Telescope, "JWST") {
		meta.RA = floatOrMissing(h, "TARG_RA")
		meta.Dec = floatOrMissing(h, "TARG_DEC")
		meta.Orientation = floatOrMissing(h, "GS_V3_PA")
		meta.ExposureTime = floatOrMissing(h, "EFFEXPTM")
		// JWST headers carry no exposure-anomaly keyword.
		meta.ExposureFlag = "MANNORMAL"
		meta.TargetName, _ = h.Str("TARGPROP")
		meta.ProposalID = stringOrNumber(h, "PROGRAM")
		meta.Detector, _ = h.Str("INSTRUME")
		meta.Filter, _ = h.Str("FILTER")
		return meta
	}

	meta.RA = floatOrMissing(h, "RA_TARG")
	meta.Dec = floatOrMissing(h, "DEC_TARG")
	meta.Orientation = floatOrMissing(h, "PA_V3")
	meta.ExposureTime = floatOrMissing(h, "EXPTIME")
	meta.ExposureFlag, _ = h.Str("EXPFLAG")
	meta.TargetName, _ = h.Str("TARGNAME")
	meta.ProposalID = stringOrNumber(h, "PROPOSID")
	meta.Detector, _ = h.Str("DETECTOR")
	meta.Filter = hstFilter(h, meta.Detector)
	return meta
}

// hstFilter resolves the effective filter. WFC detectors expose two
// filter wheels where one is always CLEAR; everything else has a single
// FILTER card.
func hstFilter(h wcs.Header, detector string) string {
	if !strings.Contains(detector, "WFC") {
		f, _ := h.Str("FILTER")
		return f
	}
	var filter string
	if f1, ok := h.Str("FILTER1"); ok && !strings.Contains(f1, "CLEAR") {
		filter = f1
	}
	if f2, ok := h.Str("FILTER2"); ok && !strings.Contains(f2, "CLEAR") {
		filter = f2
	}
	return filter
}

func floatOrMissing(h wcs.Header, key string) float64 {
	if v, ok := h.Float(key); ok {
		return v
	}
	return types.Missing()
}

// stringOrNumber reads a keyword that some headers store as a string
// and others as an integer.
func stringOrNumber(h wcs.Header, key string) string {
	if s, ok := h.Str(key); ok {
		return s
	}
	if n, ok := h.Int(key); ok {
		return strconv.Itoa(n)
	}
	return ""
}
