package variant

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Marshal encodes the list in the layout Decode reads. Placeholders for
// unknown kinds are skipped.
func (l List) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte(0)

	var n byte
	for _, v := range l.values {
		if v.Kind == KindUnknown {
			continue
		}
		buf.WriteByte(n)
		buf.WriteByte(byte(v.Kind))
		switch v.Kind {
		case KindFloat:
			writeFloats(&buf, v.f[:1])
		case KindText:
			binary.Write(&buf, binary.LittleEndian, uint32(len(v.text)))
			buf.WriteString(v.text)
		case KindVec2:
			writeFloats(&buf, v.f[:2])
		case KindVec3:
			writeFloats(&buf, v.f[:3])
		case KindUnsigned:
			binary.Write(&buf, binary.LittleEndian, v.u)
		case KindSigned:
			binary.Write(&buf, binary.LittleEndian, v.i)
		}
		n++
	}

	out := buf.Bytes()
	out[0] = n
	return out
}

func writeFloats(buf *bytes.Buffer, fs []float32) {
	for _, f := range fs {
		binary.Write(buf, binary.LittleEndian, math.Float32bits(f))
	}
}
