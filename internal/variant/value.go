// Package variant decodes the typed argument lists ("variant lists") the game
// server pushes as function-call events. Each list is an ordered sequence of
// dynamically typed values; element 0 is conventionally the function name.
package variant

import "fmt"

// Kind identifies the type tag of a decoded value.
type Kind byte

const (
	KindUnknown  Kind = 0
	KindFloat    Kind = 1
	KindText     Kind = 2
	KindVec2     Kind = 3
	KindVec3     Kind = 4
	KindUnsigned Kind = 5
	KindSigned   Kind = 9
)

var kindStrings = map[Kind]string{
	KindUnknown:  "unknown",
	KindFloat:    "float",
	KindText:     "text",
	KindVec2:     "vec2",
	KindVec3:     "vec3",
	KindUnsigned: "unsigned",
	KindSigned:   "signed",
}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Value is one decoded element. Only the field matching Kind is meaningful.
type Value struct {
	Kind Kind

	text string
	f    [3]float32
	u    uint32
	i    int32
}

// Text builds a text value.
func Text(s string) Value { return Value{Kind: KindText, text: s} }

// Float builds a float value.
func Float(f float32) Value { return Value{Kind: KindFloat, f: [3]float32{f}} }

// Unsigned builds an unsigned value.
func Unsigned(u uint32) Value { return Value{Kind: KindUnsigned, u: u} }

// Signed builds a signed value.
func Signed(i int32) Value { return Value{Kind: KindSigned, i: i} }

// Vec2 builds a two-component vector value.
func Vec2(x, y float32) Value { return Value{Kind: KindVec2, f: [3]float32{x, y}} }

// Vec3 builds a three-component vector value.
func Vec3(x, y, z float32) Value { return Value{Kind: KindVec3, f: [3]float32{x, y, z}} }

// AsText returns the text payload or a type mismatch.
func (v Value) AsText() (string, error) {
	if v.Kind != KindText {
		return "", mismatch(KindText, v.Kind)
	}
	return v.text, nil
}

// AsFloat returns the float payload or a type mismatch.
func (v Value) AsFloat() (float32, error) {
	if v.Kind != KindFloat {
		return 0, mismatch(KindFloat, v.Kind)
	}
	return v.f[0], nil
}

// AsUint32 returns the unsigned payload or a type mismatch.
func (v Value) AsUint32() (uint32, error) {
	if v.Kind != KindUnsigned {
		return 0, mismatch(KindUnsigned, v.Kind)
	}
	return v.u, nil
}

// AsInt32 returns the signed payload or a type mismatch.
func (v Value) AsInt32() (int32, error) {
	if v.Kind != KindSigned {
		return 0, mismatch(KindSigned, v.Kind)
	}
	return v.i, nil
}

// AsVec2 returns the two vector components or a type mismatch.
func (v Value) AsVec2() (float32, float32, error) {
	if v.Kind != KindVec2 {
		return 0, 0, mismatch(KindVec2, v.Kind)
	}
	return v.f[0], v.f[1], nil
}

// AsVec3 returns the three vector components or a type mismatch.
func (v Value) AsVec3() (float32, float32, float32, error) {
	if v.Kind != KindVec3 {
		return 0, 0, 0, mismatch(KindVec3, v.Kind)
	}
	return v.f[0], v.f[1], v.f[2], nil
}

// Generic converts the value to a native Go representation: string, float64,
// map[string]float64 for vectors and nil for unrecognized values.
func (v Value) Generic() any {
	switch v.Kind {
	case KindText:
		return v.text
	case KindFloat:
		return float64(v.f[0])
	case KindUnsigned:
		return float64(v.u)
	case KindSigned:
		return float64(v.i)
	case KindVec2:
		return map[string]float64{"x": float64(v.f[0]), "y": float64(v.f[1])}
	case KindVec3:
		return map[string]float64{"x": float64(v.f[0]), "y": float64(v.f[1]), "z": float64(v.f[2])}
	default:
		return nil
	}
}

// String renders the value for logs.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return fmt.Sprintf("%q", v.text)
	case KindFloat:
		return fmt.Sprintf("%g", v.f[0])
	case KindUnsigned:
		return fmt.Sprintf("%d", v.u)
	case KindSigned:
		return fmt.Sprintf("%d", v.i)
	case KindVec2:
		return fmt.Sprintf("(%g, %g)", v.f[0], v.f[1])
	case KindVec3:
		return fmt.Sprintf("(%g, %g, %g)", v.f[0], v.f[1], v.f[2])
	default:
		return "<unknown>"
	}
}
