package objdb

import (
	"fmt"
	"math"
)

// Convert converts a value of type from into type to. Equal types convert
// trivially, numbers convert when the value fits, every type converts to
// string through its string form, and strings convert to any type that can
// parse them. Other pairs fail with ErrNoConversion.
func Convert(from, to FieldType, v any) (any, error) {
	if from.Name() == to.Name() && from.Signature() == to.Signature() {
		return to.Validate(v)
	}
	if isNumericType(from) && isNumericType(to) {
		return convertNumber(to, v)
	}
	if to.Name() == StringType.Name() {
		s, err := from.String(v)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if from.Name() == StringType.Name() {
		s, ok := v.(string)
		if !ok {
			return nil, invalidValuef(from.Name(), v, nil, "wanted string")
		}
		return to.Parse(s)
	}
	return nil, fmt.Errorf("%s to %s: %w", from.Name(), to.Name(), ErrNoConversion)
}

func isNumericType(ft FieldType) bool {
	switch ft {
	case ByteType, ShortType, IntType, LongType, FloatType, DoubleType:
		return true
	}
	return false
}

func convertNumber(to FieldType, v any) (any, error) {
	var i int64
	var f float64
	var isFloat bool
	switch v := v.(type) {
	case int8:
		i = int64(v)
	case int16:
		i = int64(v)
	case int32:
		i = int64(v)
	case int64:
		i = v
	case float32:
		f, isFloat = float64(v), true
	case float64:
		f, isFloat = v, true
	default:
		return nil, invalidValuef(to.Name(), v, nil, "not a number")
	}

	switch to {
	case FloatType:
		if isFloat {
			return float32(f), nil
		}
		return float32(i), nil
	case DoubleType:
		if isFloat {
			return f, nil
		}
		return float64(i), nil
	}

	if isFloat {
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, invalidValuef(to.Name(), v, nil, "not an integer in range")
		}
		i = int64(f)
	}
	var lo, hi int64
	switch to {
	case ByteType:
		lo, hi = math.MinInt8, math.MaxInt8
	case ShortType:
		lo, hi = math.MinInt16, math.MaxInt16
	case IntType:
		lo, hi = math.MinInt32, math.MaxInt32
	default:
		return i, nil
	}
	if i < lo || i > hi {
		return nil, invalidValuef(to.Name(), v, nil, "out of range")
	}
	switch to {
	case ByteType:
		return int8(i), nil
	case ShortType:
		return int16(i), nil
	default:
		return int32(i), nil
	}
}
