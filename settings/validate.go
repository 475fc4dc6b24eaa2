package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Bounds is the allowed range of a numeric option.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ValidationError identifies the option that made an update fail.
type ValidationError struct {
	Key    string
	Bounds *Bounds // set for range failures
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Bounds != nil {
		return fmt.Sprintf("setting %s: %v (allowed %g..%g)", e.Key, e.Err, e.Bounds.Min, e.Bounds.Max)
	}
	return fmt.Sprintf("setting %s: %v", e.Key, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var (
	ErrType    = errors.New("wrong type")
	ErrRange   = errors.New("out of range")
	ErrPattern = errors.New("does not match pattern")
)

// normalize coerces a raw value into the canonical type for opt and checks
// it: float64 for numbers, string for text, bool for flags.
func normalize(opt Option, raw any) (any, error) {
	switch opt.Kind {
	case KindNumber:
		n, err := toFloat(raw)
		if err != nil {
			return nil, &ValidationError{Key: opt.Key, Err: err}
		}
		if opt.Integer && n != math.Trunc(n) {
			return nil, &ValidationError{Key: opt.Key, Err: fmt.Errorf("%w: %g is not a whole number", ErrType, n)}
		}
		if opt.Ranged && (n < opt.Min || n > opt.Max) {
			return nil, &ValidationError{Key: opt.Key, Bounds: &Bounds{Min: opt.Min, Max: opt.Max}, Err: ErrRange}
		}
		return n, nil

	case KindText:
		s, ok := raw.(string)
		if !ok {
			return nil, &ValidationError{Key: opt.Key, Err: fmt.Errorf("%w: want text, got %T", ErrType, raw)}
		}
		if opt.Pattern != nil && !opt.Pattern.MatchString(s) {
			return nil, &ValidationError{Key: opt.Key, Err: ErrPattern}
		}
		if opt.Check != nil {
			if err := opt.Check(s); err != nil {
				return nil, &ValidationError{Key: opt.Key, Err: err}
			}
		}
		return s, nil

	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, &ValidationError{Key: opt.Key, Err: fmt.Errorf("%w: want bool, got %T", ErrType, raw)}
		}
		return b, nil
	}
	return nil, &ValidationError{Key: opt.Key, Err: fmt.Errorf("%w: unknown kind %d", ErrType, opt.Kind)}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		// Text inputs in the game UI submit numbers as strings.
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrType, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: want number, got %T", ErrType, raw)
}

// ParseClock converts an hh:mm:ss string into a duration.
func ParseClock(s string) (time.Duration, error) {
	if !clockPattern.MatchString(s) {
		return 0, fmt.Errorf("parse clock %q: %w", s, ErrPattern)
	}
	parts := strings.Split(s, ":")
	var units [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("parse clock %q: %w", s, err)
		}
		units[i] = n
	}
	return time.Duration(units[0])*time.Hour +
		time.Duration(units[1])*time.Minute +
		time.Duration(units[2])*time.Second, nil
}
