package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingField is returned when a required text block key is absent.
var ErrMissingField = errors.New("missing field")

// FieldError reports a text block field that is absent or malformed.
type FieldError struct {
	Key   string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if errors.Is(e.Err, ErrMissingField) {
		return fmt.Sprintf("field %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("field %q=%q: %v", e.Key, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// TextBlock is a parsed set of key|value records.
type TextBlock map[string]string

// ParseTextBlock parses newline-separated key|value records. A record's value
// is everything after the first '|', so further pipes are kept. Records
// without a '|' are skipped and a repeated key keeps its last value.
func ParseTextBlock(s string) TextBlock {
	block := make(TextBlock)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSuffix(line, "\r")
		key, value, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		block[key] = value
	}
	return block
}

// Has reports whether key is present.
func (b TextBlock) Has(key string) bool {
	_, ok := b[key]
	return ok
}

// String returns the value of key, or def when absent.
func (b TextBlock) String(key, def string) string {
	if v, ok := b[key]; ok {
		return v
	}
	return def
}

// Require returns the value of key or a FieldError.
func (b TextBlock) Require(key string) (string, error) {
	v, ok := b[key]
	if !ok {
		return "", &FieldError{Key: key, Err: ErrMissingField}
	}
	return v, nil
}

// Uint32 parses a required unsigned field.
func (b TextBlock) Uint32(key string) (uint32, error) {
	v, err := b.Require(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0, &FieldError{Key: key, Value: v, Err: err}
	}
	return uint32(n), nil
}

// Uint32Or parses an optional unsigned field, returning def when absent.
func (b TextBlock) Uint32Or(key string, def uint32) (uint32, error) {
	if !b.Has(key) {
		return def, nil
	}
	return b.Uint32(key)
}

// Vec2 parses an optional "x|y" field, returning (0, 0) when absent.
func (b TextBlock) Vec2(key string) (float32, float32, error) {
	v, ok := b[key]
	if !ok {
		return 0, 0, nil
	}
	xs, ys, found := strings.Cut(v, "|")
	if !found {
		return 0, 0, &FieldError{Key: key, Value: v, Err: errors.New("want x|y")}
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 32)
	if err != nil {
		return 0, 0, &FieldError{Key: key, Value: v, Err: err}
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 32)
	if err != nil {
		return 0, 0, &FieldError{Key: key, Value: v, Err: err}
	}
	return float32(x), float32(y), nil
}
