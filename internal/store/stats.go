package store

import (
	"github.com/photcat/photcat/pkg/types"
)

// columnStats tracks per-column summary statistics during a section
// write: null count over every kind, min/max over non-missing floats.
type columnStats struct {
	nullCount int64

	min *float64
	max *float64
}

// trackColumn computes the statistics for one column in a single pass.
func trackColumn(c *types.Column) columnStats {
	var s columnStats
	switch c.Kind {
	case types.KindFloat:
		for _, v := range c.Floats {
			if types.IsMissing(v) {
				s.nullCount++
				continue
			}
			if s.min == nil || v < *s.min {
				val := v
				s.min = &val
			}
			if s.max == nil || v > *s.max {
				val := v
				s.max = &val
			}
		}
	case types.KindFlag:
		for _, f := range c.Flags {
			if f == types.FlagNull {
				s.nullCount++
			}
		}
	}
	return s
}

// minMax returns the tracked bounds as nullable SQL values.
func (s columnStats) minMax() (min, max interface{}) {
	if s.min != nil {
		min = *s.min
	}
	if s.max != nil {
		max = *s.max
	}
	return min, max
}
