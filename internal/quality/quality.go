// Package quality derives star-quality flags from per-filter photometry.
//
// For each detector-filter identifier the classifier computes two flag
// columns: ST (adequate signal and shape) and GST (ST plus low crowding).
// Thresholds come from an immutable parameter snapshot; any threshold the
// snapshot lacks is taken from a per-detector-class defaults table and
// reported back to the caller, which decides whether to persist it.
package quality

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/photcat/photcat/pkg/types"
)

// DefaultSNRCut is applied when the parameter store carries no snrcut.
const DefaultSNRCut = 4.0

// classDefaults holds the fallback sharpness/crowding thresholds per
// detector class.
var classDefaults = map[types.DetectorClass]struct{ sharp, crowd float64 }{
	types.DetectorIR:     {sharp: 0.15, crowd: 2.25},
	types.DetectorUVIS:   {sharp: 0.15, crowd: 1.30},
	types.DetectorWFC:    {sharp: 0.20, crowd: 2.25},
	types.DetectorNIRCam: {sharp: 0.01, crowd: 0.5},
}

// DeriveClass maps a lowered detector token and filter name to a
// detector class. WFC3 splits on the filter name: the IR channel's
// filters all carry an "f1" prefix.
func DeriveClass(det, filter string) types.DetectorClass {
	switch {
	case det == "wfc3" && strings.Contains(filter, "f1"):
		return types.DetectorIR
	case det == "wfc3":
		return types.DetectorUVIS
	case det == "acs":
		return types.DetectorWFC
	case det == "nircam":
		return types.DetectorNIRCam
	default:
		return types.DetectorUnknown
	}
}

// Snapshot is an immutable view of the quality parameters for one
// classification pass. Concurrent passes must use independent snapshots.
type Snapshot struct {
	// SNRCut is the signal-to-noise threshold for the ST flag.
	SNRCut float64

	// SNRCutDefaulted reports that the store carried no usable snrcut.
	SNRCutDefaulted bool

	thresholds map[string]float64
}

// NewSnapshot parses the relevant keys out of a string parameter store.
// Unparsable values are treated as absent; each such key is named in the
// returned warnings.
func NewSnapshot(params map[string]string) (*Snapshot, []string) {
	var warnings []string

	s := &Snapshot{
		SNRCut:     DefaultSNRCut,
		thresholds: make(map[string]float64),
	}

	if raw, ok := params["snrcut"]; ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			s.SNRCut = v
		} else {
			s.SNRCutDefaulted = true
			warnings = append(warnings, fmt.Sprintf("unparsable snrcut %q, using %g", raw, DefaultSNRCut))
		}
	} else {
		s.SNRCutDefaulted = true
		warnings = append(warnings, fmt.Sprintf("no parameter for snrcut, using %g", DefaultSNRCut))
	}

	for _, class := range []types.DetectorClass{
		types.DetectorIR, types.DetectorUVIS, types.DetectorWFC, types.DetectorNIRCam,
	} {
		for _, kind := range []string{"sharp", "crowd"} {
			key := class.String() + "_" + kind
			raw, ok := params[key]
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("unparsable %s %q, will use the class default", key, raw))
				continue
			}
			s.thresholds[key] = v
		}
	}

	return s, warnings
}

// Threshold returns the stored value for a key like "ir_sharp".
func (s *Snapshot) Threshold(key string) (float64, bool) {
	v, ok := s.thresholds[key]
	return v, ok
}

// classThresholds resolves the sharp/crowd thresholds for a class,
// reporting which keys had to fall back to the defaults table.
func (s *Snapshot) classThresholds(class types.DetectorClass) (sharp, crowd float64, defaulted map[string]float64) {
	d := classDefaults[class]
	defaulted = map[string]float64{}

	sharpKey := class.String() + "_sharp"
	if v, ok := s.thresholds[sharpKey]; ok {
		sharp = v
	} else {
		sharp = d.sharp
		defaulted[sharpKey] = d.sharp
	}

	crowdKey := class.String() + "_crowd"
	if v, ok := s.thresholds[crowdKey]; ok {
		crowd = v
	} else {
		crowd = d.crowd
		defaulted[crowdKey] = d.crowd
	}
	return sharp, crowd, defaulted
}
