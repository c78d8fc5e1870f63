package domain

import "fmt"

// ThresholdType selects how a Threshold compares its candidate value.
type ThresholdType string

const (
	// ThresholdAdherence triggers when fewer events than Value were
	// completed on a day.
	ThresholdAdherence ThresholdType = "adherence"

	ThresholdGreaterThan        ThresholdType = "greater_than"
	ThresholdGreaterThanOrEqual ThresholdType = "greater_than_or_equal"
	ThresholdLessThan           ThresholdType = "less_than"
	ThresholdLessThanOrEqual    ThresholdType = "less_than_or_equal"
	ThresholdEqual              ThresholdType = "equal"
	// ThresholdRangeInclusive triggers inside [Value, UpperValue].
	ThresholdRangeInclusive ThresholdType = "range_inclusive"
	// ThresholdRangeExclusive triggers inside (Value, UpperValue).
	ThresholdRangeExclusive ThresholdType = "range_exclusive"
)

// Threshold is a pure predicate flagging an out-of-range numeric result or a
// low daily completion count. It has no identity beyond value equality.
type Threshold struct {
	Type       ThresholdType `json:"type"`
	Value      float64       `json:"value"`
	UpperValue float64       `json:"upper_value,omitempty"`
	Title      string        `json:"title,omitempty"`
}

// AdherenceThreshold triggers when a day's completed event count falls below
// value.
func AdherenceThreshold(value float64, title string) Threshold {
	return Threshold{Type: ThresholdAdherence, Value: value, Title: title}
}

// NumericThreshold builds a single-bound numeric threshold.
func NumericThreshold(value float64, typ ThresholdType, title string) (Threshold, error) {
	switch typ {
	case ThresholdGreaterThan, ThresholdGreaterThanOrEqual, ThresholdLessThan, ThresholdLessThanOrEqual, ThresholdEqual:
		return Threshold{Type: typ, Value: value, Title: title}, nil
	}
	return Threshold{}, fmt.Errorf("%w: %q is not a single-bound numeric threshold type", ErrInvalidArgument, typ)
}

// RangeThreshold builds a range threshold with lower and upper bounds.
func RangeThreshold(lower, upper float64, typ ThresholdType, title string) (Threshold, error) {
	if typ != ThresholdRangeInclusive && typ != ThresholdRangeExclusive {
		return Threshold{}, fmt.Errorf("%w: %q is not a range threshold type", ErrInvalidArgument, typ)
	}
	if upper < lower {
		return Threshold{}, fmt.Errorf("%w: range upper bound %v is below lower bound %v", ErrInvalidArgument, upper, lower)
	}
	return Threshold{Type: typ, Value: lower, UpperValue: upper, Title: title}, nil
}

// Evaluate reports whether the candidate value triggers the threshold.
func (t Threshold) Evaluate(candidate float64) bool {
	switch t.Type {
	case ThresholdAdherence:
		return candidate < t.Value
	case ThresholdGreaterThan:
		return candidate > t.Value
	case ThresholdGreaterThanOrEqual:
		return candidate >= t.Value
	case ThresholdLessThan:
		return candidate < t.Value
	case ThresholdLessThanOrEqual:
		return candidate <= t.Value
	case ThresholdEqual:
		return candidate == t.Value
	case ThresholdRangeInclusive:
		return candidate >= t.Value && candidate <= t.UpperValue
	case ThresholdRangeExclusive:
		return candidate > t.Value && candidate < t.UpperValue
	}
	return false
}
