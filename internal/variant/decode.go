package variant

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

// MaxTextLength caps a single text entry to keep a corrupt length prefix from
// allocating unbounded memory.
const MaxTextLength = 1 << 20

// List is an ordered sequence of decoded values.
type List struct {
	values []Value
}

// NewList builds a list from already decoded values.
func NewList(values ...Value) List {
	return List{values: append([]Value(nil), values...)}
}

// Decode parses a variant list buffer.
// Format: [count:1] then count entries of [index:1][kind:1][payload...].
// Payloads are little-endian: float 4, text [len:4][bytes], vec2 8, vec3 12,
// unsigned 4, signed 4. An entry with an unrecognized kind becomes an inert
// placeholder; since its payload width is unknown, decoding stops there and
// the entries decoded so far are kept.
func Decode(data []byte) (List, error) {
	r := bytes.NewReader(data)

	count, err := r.ReadByte()
	if err != nil {
		return List{}, &DecodeError{Err: ErrTruncated, Offset: 0}
	}

	values := make([]Value, 0, count)
	for i := 0; i < int(count); i++ {
		offset := len(data) - r.Len()

		var header [2]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return List{}, &DecodeError{Err: ErrTruncated, Index: i, Offset: offset}
		}

		v, known, err := readPayload(r, Kind(header[1]))
		if err != nil {
			return List{}, &DecodeError{Err: fmt.Errorf("%w: %v", ErrTruncated, err), Index: i, Offset: offset}
		}
		values = append(values, v)
		if !known {
			break
		}
	}

	return List{values: values}, nil
}

func readPayload(r *bytes.Reader, kind Kind) (Value, bool, error) {
	switch kind {
	case KindFloat:
		f, err := readFloats(r, 1)
		if err != nil {
			return Value{}, true, err
		}
		return Float(f[0]), true, nil
	case KindText:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return Value{}, true, fmt.Errorf("text length: %w", err)
		}
		if n > MaxTextLength || int(n) > r.Len() {
			return Value{}, true, fmt.Errorf("text length %d exceeds remaining %d", n, r.Len())
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Value{}, true, fmt.Errorf("text body: %w", err)
		}
		return Text(string(buf)), true, nil
	case KindVec2:
		f, err := readFloats(r, 2)
		if err != nil {
			return Value{}, true, err
		}
		return Vec2(f[0], f[1]), true, nil
	case KindVec3:
		f, err := readFloats(r, 3)
		if err != nil {
			return Value{}, true, err
		}
		return Vec3(f[0], f[1], f[2]), true, nil
	case KindUnsigned:
		var u uint32
		if err := binary.Read(r, binary.LittleEndian, &u); err != nil {
			return Value{}, true, fmt.Errorf("unsigned: %w", err)
		}
		return Unsigned(u), true, nil
	case KindSigned:
		var i int32
		if err := binary.Read(r, binary.LittleEndian, &i); err != nil {
			return Value{}, true, fmt.Errorf("signed: %w", err)
		}
		return Signed(i), true, nil
	default:
		return Value{Kind: KindUnknown}, false, nil
	}
}

func readFloats(r *bytes.Reader, n int) ([3]float32, error) {
	var out [3]float32
	for i := 0; i < n; i++ {
		var bits uint32
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return out, fmt.Errorf("float component %d: %w", i, err)
		}
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// Len returns the number of decoded values.
func (l List) Len() int { return len(l.values) }

// Get returns the value at index i, or false when i is out of range.
func (l List) Get(i int) (Value, bool) {
	if i < 0 || i >= len(l.values) {
		return Value{}, false
	}
	return l.values[i], true
}

func (l List) at(i int) (Value, error) {
	v, ok := l.Get(i)
	if !ok {
		return Value{}, &DecodeError{Err: ErrMissingArgument, Index: i}
	}
	return v, nil
}

func withIndex(err error, i int) error {
	if de, ok := err.(*DecodeError); ok {
		de.Index = i
	}
	return err
}

// Text returns the text at index i.
func (l List) Text(i int) (string, error) {
	v, err := l.at(i)
	if err != nil {
		return "", err
	}
	s, err := v.AsText()
	return s, withIndex(err, i)
}

// Float returns the float at index i.
func (l List) Float(i int) (float32, error) {
	v, err := l.at(i)
	if err != nil {
		return 0, err
	}
	f, err := v.AsFloat()
	return f, withIndex(err, i)
}

// Uint32 returns the unsigned value at index i.
func (l List) Uint32(i int) (uint32, error) {
	v, err := l.at(i)
	if err != nil {
		return 0, err
	}
	u, err := v.AsUint32()
	return u, withIndex(err, i)
}

// Int32 returns the signed value at index i.
func (l List) Int32(i int) (int32, error) {
	v, err := l.at(i)
	if err != nil {
		return 0, err
	}
	n, err := v.AsInt32()
	return n, withIndex(err, i)
}

// Vec2 returns the vector at index i.
func (l List) Vec2(i int) (float32, float32, error) {
	v, err := l.at(i)
	if err != nil {
		return 0, 0, err
	}
	x, y, err := v.AsVec2()
	return x, y, withIndex(err, i)
}

// FunctionName returns element 0, the event name.
func (l List) FunctionName() (string, error) {
	return l.Text(0)
}

// Generic converts every value with Value.Generic, preserving order.
func (l List) Generic() []any {
	out := make([]any, len(l.values))
	for i, v := range l.values {
		out[i] = v.Generic()
	}
	return out
}

// String renders the list for debug logs.
func (l List) String() string {
	parts := make([]string, len(l.values))
	for i, v := range l.values {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
