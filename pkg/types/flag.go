package types

// Flag is a tri-state boolean. Quality classification appends flag
// columns whose values can be false, true, or null — null marking a
// filter whose flags could not be computed at all, which is distinct
// from a star that failed the cut.
type Flag int8

const (
	FlagFalse Flag = 0
	FlagTrue  Flag = 1
	FlagNull  Flag = -1
)

// FlagOf converts a bool to its Flag value.
func FlagOf(b bool) Flag {
	if b {
		return FlagTrue
	}
	return FlagFalse
}

func (f Flag) String() string {
	switch f {
	case FlagTrue:
		return "true"
	case FlagFalse:
		return "false"
	default:
		return "null"
	}
}

// Bool reports the flag value and whether it is defined.
func (f Flag) Bool() (value, defined bool) {
	if f == FlagNull {
		return false, false
	}
	return f == FlagTrue, true
}
