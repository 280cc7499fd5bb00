package session

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/protocol"
)

// Client identification sent with every logon.
const (
	GameVersion     = "4.64"
	ProtocolVersion = 209
)

// RoundTripper is implemented by transports that can estimate latency.
type RoundTripper interface {
	RoundTripTime() time.Duration
}

// HandleMessage routes one application message received from the server.
func (s *Session) HandleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed message")
		return
	}

	switch msg.Type {
	case protocol.MsgServerHello:
		if err := s.sendLogin(); err != nil {
			s.logger.Error().Err(err).Msg("failed to send login")
		}
	case protocol.MsgGenericText, protocol.MsgGameMessage:
		s.onServerText(msg.Text())
	case protocol.MsgGamePacket:
		p, ext, err := msg.GamePacket()
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed game packet")
			return
		}
		s.handleGamePacket(p, ext)
	case protocol.MsgError:
		s.logger.Warn().Str("text", msg.Text()).Msg("server error message")
	default:
		s.logger.Trace().Str("type", msg.Type.String()).Msg("unhandled message")
	}
}

// LoginPacket builds the logon text packet from the credentials and any
// pending redirect data.
func (s *Session) LoginPacket() string {
	creds := s.Auth.Credentials()
	info := s.Auth.LoginInfo()

	tp := protocol.NewTextPacket()
	if !creds.Guest() {
		tp.Set("tankIDName", creds.GrowID).Set("tankIDPass", creds.Password)
	}
	tp.Set("requestedName", "").
		Set("f", 1).
		Set("protocol", ProtocolVersion).
		Set("game_version", GameVersion).
		Set("fz", 0).
		Set("lmode", 1).
		Set("cbits", 0).
		Set("player_age", 20).
		Set("GDPR", 1).
		Set("category", "_-5100").
		Set("totalPlaytime", 0).
		Set("platformID", "0,1,1").
		Set("deviceVersion", 0).
		Set("country", "us")
	if info.Token != "" {
		tp.Set("user", info.UserID).
			Set("token", info.Token).
			Set("UUIDToken", info.UUID).
			Set("doorID", info.DoorID).
			Set("aat", info.AAT)
	}
	return tp.String()
}

func (s *Session) sendLogin() error {
	s.logger.Info().Bool("redirect", s.Runtime.Redirecting()).Msg("server hello, sending login")
	return s.sendText(protocol.MsgGenericText, s.LoginPacket())
}

// onServerText records server log lines in the bot log.
func (s *Session) onServerText(text string) {
	block := protocol.ParseTextBlock(text)
	if block.String("action", "") == "log" {
		s.Log(block.String("msg", ""))
		return
	}
	s.logger.Debug().Str("text", text).Msg("server text")
}

func (s *Session) handleGamePacket(p protocol.GamePacket, ext []byte) {
	switch p.Type {
	case protocol.PacketCallFunction:
		s.HandleVariant(ext)
	case protocol.PacketSendMapData:
		s.onMapData(ext)
	case protocol.PacketPingRequest:
		s.onPingRequest(p)
	case protocol.PacketItemChangeObject:
		if item, ok := s.World.applyItemChange(p); ok && p.NetID == s.Runtime.NetID() {
			s.Inventory.adjust(item.ID, int(item.Count))
		}
	case protocol.PacketSendInventoryState:
		size, slots, err := decodeInventory(ext)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed inventory")
			return
		}
		s.Inventory.replace(size, slots)
	case protocol.PacketModifyItemInventory:
		s.Inventory.adjust(uint16(p.Value), int(p.AnimationType)-int(p.JumpCount))
	case protocol.PacketState:
		if p.NetID != s.Runtime.NetID() {
			s.Players.move(p.NetID, p.VecX, p.VecY)
		}
	case protocol.PacketSendItemDatabaseData:
		if err := s.onItemData(ext); err != nil {
			s.logger.Error().Err(err).Msg("failed to apply item data")
		}
	case protocol.PacketDisconnect:
		s.logger.Info().Msg("server requested disconnect")
	default:
		s.logger.Trace().Str("type", p.Type.String()).Msg("unhandled game packet")
	}
}

func (s *Session) onMapData(ext []byte) {
	w, err := s.worldDecoder.DecodeWorld(ext)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping undecodable world")
		return
	}
	s.World.replace(w)
	s.Players.clear()
	s.SetPhase(events.PhaseInWorld)
	s.logger.Info().Str("world", w.Name).Uint32("width", w.Width).Uint32("height", w.Height).Msg("entered world")
	s.emit(events.EventWorldEntered, events.WorldPayload{Name: w.Name, Width: w.Width, Height: w.Height})
}

func (s *Session) onPingRequest(p protocol.GamePacket) {
	if rt, ok := s.currentTransport().(RoundTripper); ok {
		s.Runtime.setPing(rt.RoundTripTime())
	}

	reply := protocol.NewGamePacket(protocol.PacketPingReply)
	reply.Value = p.Value
	reply.VecX, reply.VecY = s.Movement.Position()
	if err := s.SendGamePacket(reply, nil, true); err != nil {
		s.logger.Debug().Err(err).Msg("ping reply not sent")
	}
}

// onItemData stores item data pushed by the server after a refresh request
// and enters the game with it. The data must hash to the checksum announced
// at logon.
func (s *Session) onItemData(ext []byte) error {
	raw, err := inflate(ext)
	if err != nil {
		return fmt.Errorf("failed to inflate item data: %w", err)
	}
	if want := s.Runtime.expectedItemsHash(); want != 0 {
		if have := protocol.ProtonHash(raw); have != want {
			return fmt.Errorf("item data checksum %08x, announced %08x", have, want)
		}
	}

	if dir := filepath.Dir(s.itemsPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create items directory: %w", err)
		}
	}
	if err := os.WriteFile(s.itemsPath, raw, 0644); err != nil {
		return fmt.Errorf("failed to write items file: %w", err)
	}
	s.logger.Info().Int("bytes", len(raw)).Str("path", s.itemsPath).Msg("item data stored")
	return s.acceptItems(raw)
}

// inflate returns zlib-compressed data decompressed, and anything else as is.
func inflate(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0]&0x0f != 8 || (uint16(data[0])<<8|uint16(data[1]))%31 != 0 {
		return data, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
