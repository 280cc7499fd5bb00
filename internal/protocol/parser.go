package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Message is one decoded application message.
type Message struct {
	Type    NetMessage
	Payload []byte
}

// Text returns the payload of a text message with its NUL terminator and
// anything after it removed.
func (m Message) Text() string {
	if i := bytes.IndexByte(m.Payload, 0); i >= 0 {
		return string(m.Payload[:i])
	}
	return string(m.Payload)
}

// GamePacket decodes the payload of a MsgGamePacket message.
func (m Message) GamePacket() (GamePacket, []byte, error) {
	if m.Type != MsgGamePacket {
		return GamePacket{}, nil, fmt.Errorf("message %s is not a game packet", m.Type)
	}
	return UnmarshalGamePacket(m.Payload)
}

// ParseMessage splits a raw message into its type tag and payload.
func ParseMessage(data []byte) (Message, error) {
	if len(data) < 4 {
		return Message{}, fmt.Errorf("message too short: %d bytes", len(data))
	}
	return Message{
		Type:    NetMessage(binary.LittleEndian.Uint32(data[:4])),
		Payload: data[4:],
	}, nil
}

// ReadPacket reads a single length-prefixed frame from a reader.
// Frame format: [4-byte LE length][message bytes...]
func ReadPacket(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read packet length: %w", err)
	}

	if length == 0 {
		return nil, fmt.Errorf("received zero-length packet")
	}

	if length > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes (max %d)", length, MaxPacketSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read packet payload (%d bytes): %w", length, err)
	}

	return payload, nil
}

// WritePacket writes a length-prefixed frame to a writer.
func WritePacket(w io.Writer, data []byte) error {
	if len(data) > MaxPacketSize {
		return fmt.Errorf("packet too large: %d bytes (max %d)", len(data), MaxPacketSize)
	}
	frame := make([]byte, LengthPrefixSize+len(data))
	binary.LittleEndian.PutUint32(frame[:LengthPrefixSize], uint32(len(data)))
	copy(frame[LengthPrefixSize:], data)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write packet data: %w", err)
	}
	return nil
}
