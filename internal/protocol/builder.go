package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// PacketBuilder constructs outbound net messages.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteNullString writes a null-terminated string.
func (b *PacketBuilder) WriteNullString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Message constructors ----

// BuildTextMessage creates a text message.
// Format: [type:4][text bytes][0]
func BuildTextMessage(t NetMessage, text string) []byte {
	return NewPacketBuilder().
		WriteUint32(uint32(t)).
		WriteNullString(text).
		Build()
}

// BuildGamePacketMessage creates a game packet message.
// Format: [type:4 = 4][header:56][extended data]
func BuildGamePacketMessage(p GamePacket, ext []byte) []byte {
	return NewPacketBuilder().
		WriteUint32(uint32(MsgGamePacket)).
		WriteBytes(p.Marshal(ext)).
		Build()
}

// TextPacket renders ordered key|value lines, the format of action and login
// packets. Values are written verbatim.
type TextPacket struct {
	keys   []string
	values map[string]string
}

// NewTextPacket starts an empty text packet.
func NewTextPacket() *TextPacket {
	return &TextPacket{values: make(map[string]string)}
}

// Set adds or replaces a key, keeping its first insertion position.
func (t *TextPacket) Set(key string, value any) *TextPacket {
	if _, ok := t.values[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.values[key] = fmt.Sprint(value)
	return t
}

// String renders the packet as newline-terminated key|value lines.
func (t *TextPacket) String() string {
	var sb strings.Builder
	for _, k := range t.keys {
		sb.WriteString(k)
		sb.WriteByte('|')
		sb.WriteString(t.values[k])
		sb.WriteByte('\n')
	}
	return sb.String()
}
