package types

// DetectorClass is the coarse detector grouping used to select quality
// cut thresholds. Unmapped instruments carry DetectorUnknown rather than
// falling through silently.
type DetectorClass int

const (
	DetectorUnknown DetectorClass = iota
	DetectorIR
	DetectorUVIS
	DetectorWFC
	DetectorNIRCam
)

var detectorNames = map[DetectorClass]string{
	DetectorIR:     "ir",
	DetectorUVIS:   "uvis",
	DetectorWFC:    "wfc",
	DetectorNIRCam: "nircam",
}

func (d DetectorClass) String() string {
	if name, ok := detectorNames[d]; ok {
		return name
	}
	return "unknown"
}

// Known reports whether the class maps to a real detector grouping.
func (d DetectorClass) Known() bool {
	_, ok := detectorNames[d]
	return ok
}
