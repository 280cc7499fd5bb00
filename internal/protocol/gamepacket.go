package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// GamePacket is the structured packet exchanged inside MsgGamePacket
// messages. Field order and widths match the wire layout exactly.
type GamePacket struct {
	Type          PacketType `json:"type"`
	ObjectType    uint8      `json:"object_type"`
	JumpCount     uint8      `json:"jump_count"`
	AnimationType uint8      `json:"animation_type"`
	NetID         uint32     `json:"net_id"`
	TargetNetID   int32      `json:"target_net_id"`
	Flags         uint32     `json:"flags"`
	FloatVar      float32    `json:"float_var"`
	Value         uint32     `json:"value"`
	VecX          float32    `json:"vec_x"`
	VecY          float32    `json:"vec_y"`
	VecX2         float32    `json:"vec_x2"`
	VecY2         float32    `json:"vec_y2"`
	ParticleRot   float32    `json:"particle_rot"`
	IntX          int32      `json:"int_x"`
	IntY          int32      `json:"int_y"`
	ExtDataLength uint32     `json:"ext_data_length"`
}

// NewGamePacket returns a zeroed packet of the given type.
func NewGamePacket(t PacketType) GamePacket {
	return GamePacket{Type: t}
}

// Clone returns an unaliased copy. GamePacket holds only value fields, so
// the copy shares nothing with the receiver.
func (p GamePacket) Clone() GamePacket {
	return p
}

// Marshal encodes the header followed by ext. ExtDataLength is set from
// ext when ext is non-empty.
func (p GamePacket) Marshal(ext []byte) []byte {
	if len(ext) > 0 {
		p.ExtDataLength = uint32(len(ext))
		p.Flags |= FlagExtended
	}

	var buf bytes.Buffer
	buf.Grow(GamePacketSize + len(ext))
	binary.Write(&buf, binary.LittleEndian, p)
	buf.Write(ext)
	return buf.Bytes()
}

// UnmarshalGamePacket decodes a packet header and returns the extended data
// that follows it.
func UnmarshalGamePacket(data []byte) (GamePacket, []byte, error) {
	var p GamePacket
	if len(data) < GamePacketSize {
		return p, nil, fmt.Errorf("game packet too short: %d bytes (need %d)", len(data), GamePacketSize)
	}
	if err := binary.Read(bytes.NewReader(data[:GamePacketSize]), binary.LittleEndian, &p); err != nil {
		return p, nil, fmt.Errorf("failed to parse game packet: %w", err)
	}

	rest := data[GamePacketSize:]
	if p.Flags&FlagExtended == 0 || p.ExtDataLength == 0 {
		return p, nil, nil
	}
	if int(p.ExtDataLength) > len(rest) {
		return p, nil, fmt.Errorf("game packet %s: extended data %d bytes, have %d", p.Type, p.ExtDataLength, len(rest))
	}
	return p, rest[:p.ExtDataLength], nil
}
