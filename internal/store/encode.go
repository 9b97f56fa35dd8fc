package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/photcat/photcat/pkg/types"
)

// flagNullByte encodes the null flag state; false and true are 0 and 1.
const flagNullByte = 0xFF

// encodeColumn serializes a column's values to the raw payload bytes
// that the section codec then compresses.
func encodeColumn(c *types.Column) ([]byte, error) {
	switch c.Kind {
	case types.KindFloat:
		raw := make([]byte, 8*len(c.Floats))
		for i, v := range c.Floats {
			binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
		}
		return raw, nil
	case types.KindFlag:
		raw := make([]byte, len(c.Flags))
		for i, f := range c.Flags {
			switch f {
			case types.FlagTrue:
				raw[i] = 1
			case types.FlagFalse:
				raw[i] = 0
			default:
				raw[i] = flagNullByte
			}
		}
		return raw, nil
	case types.KindString:
		raw, err := json.Marshal(c.Strings)
		if err != nil {
			return nil, fmt.Errorf("store: encode string column %q: %w", c.Name, err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("store: column %q has unknown kind %d", c.Name, c.Kind)
	}
}

// decodeColumn rebuilds a column from its raw payload bytes.
func decodeColumn(name, kind string, rowCount int, raw []byte) (types.Column, error) {
	k, err := types.ParseColumnKind(kind)
	if err != nil {
		return types.Column{}, fmt.Errorf("store: column %q: %w", name, err)
	}
	switch k {
	case types.KindFloat:
		if len(raw) != 8*rowCount {
			return types.Column{}, fmt.Errorf("store: column %q: payload is %d bytes, want %d", name, len(raw), 8*rowCount)
		}
		vals := make([]float64, rowCount)
		for i := range vals {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		return types.NewFloatColumn(name, vals), nil
	case types.KindFlag:
		if len(raw) != rowCount {
			return types.Column{}, fmt.Errorf("store: column %q: payload is %d bytes, want %d", name, len(raw), rowCount)
		}
		vals := make([]types.Flag, rowCount)
		for i, b := range raw {
			switch b {
			case 0:
				vals[i] = types.FlagFalse
			case 1:
				vals[i] = types.FlagTrue
			case flagNullByte:
				vals[i] = types.FlagNull
			default:
				return types.Column{}, fmt.Errorf("store: column %q: invalid flag byte 0x%02X at row %d", name, b, i)
			}
		}
		return types.NewFlagColumn(name, vals), nil
	case types.KindString:
		var vals []string
		if err := json.Unmarshal(raw, &vals); err != nil {
			return types.Column{}, fmt.Errorf("store: decode string column %q: %w", name, err)
		}
		if len(vals) != rowCount {
			return types.Column{}, fmt.Errorf("store: column %q: %d values, want %d", name, len(vals), rowCount)
		}
		return types.NewStringColumn(name, vals), nil
	default:
		return types.Column{}, fmt.Errorf("store: column %q has unknown kind %q", name, kind)
	}
}
