package session

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/itemdb"
	"github.com/mori-project/mori/internal/pathfind"
	"github.com/mori-project/mori/internal/protocol"
)

// CollectRadius is how far, in tiles, Collect reaches for dropped items.
const CollectRadius = 5

func (s *Session) send(data []byte) error {
	t := s.currentTransport()
	if t == nil {
		return ErrNotConnected
	}
	return t.Send(data)
}

func (s *Session) sendText(t protocol.NetMessage, text string) error {
	return s.send(protocol.BuildTextMessage(t, text))
}

// SendTextPacket sends text as a message of the given type.
func (s *Session) SendTextPacket(t protocol.NetMessage, text string) error {
	return s.sendText(t, text)
}

// SendGamePacket sends p with optional extended data. Unreliable delivery is
// used only when the transport supports it.
func (s *Session) SendGamePacket(p protocol.GamePacket, ext []byte, reliable bool) error {
	msg := protocol.BuildGamePacketMessage(p, ext)
	if !reliable {
		if u, ok := s.currentTransport().(UnreliableSender); ok {
			return u.SendUnreliable(msg)
		}
	}
	return s.send(msg)
}

// Disconnect closes the transport. The owner decides whether to reconnect.
func (s *Session) Disconnect() error {
	t := s.currentTransport()
	if t == nil {
		return ErrNotConnected
	}
	return t.Disconnect()
}

// Say sends a chat line.
func (s *Session) Say(text string) error {
	return s.sendText(protocol.MsgGenericText, fmt.Sprintf("action|input\n|text|%s\n", text))
}

// Warp asks to join a world.
func (s *Session) Warp(world string) error {
	s.logger.Info().Str("world", world).Msg("warping")
	return s.sendText(protocol.MsgGameMessage, fmt.Sprintf("action|join_request\nname|%s\ninvitedWorld|0\n", world))
}

// Leave exits the current world and forgets its state.
func (s *Session) Leave() error {
	if err := s.sendText(protocol.MsgGameMessage, "action|quit_to_exit\n"); err != nil {
		return err
	}
	s.World.reset()
	s.Players.clear()
	if s.Phase() == events.PhaseInWorld {
		s.SetPhase(events.PhaseInGame)
	}
	return nil
}

// SendDialogReturn answers a dialog with the given key|value body.
func (s *Session) SendDialogReturn(body string) error {
	return s.sendText(protocol.MsgGenericText, "action|dialog_return\n"+body)
}

// Punch hits the tile at the given offset from the bot.
func (s *Session) Punch(ox, oy int) error {
	s.Movement.pace(&s.Movement.lastPunch, func(d Delays) uint32 { return d.Punch })
	return s.tileChange(ox, oy, protocol.ItemFist)
}

// Place puts item id on the tile at the given offset.
func (s *Session) Place(ox, oy int, id uint32) error {
	s.Movement.pace(&s.Movement.lastPlace, func(d Delays) uint32 { return d.Place })
	return s.tileChange(ox, oy, id)
}

// Wrench uses the wrench on the tile at the given offset.
func (s *Session) Wrench(ox, oy int) error {
	return s.tileChange(ox, oy, protocol.ItemWrench)
}

func (s *Session) tileChange(ox, oy int, id uint32) error {
	x, y := s.Movement.Position()
	tx, ty := TileCoord(x), TileCoord(y)

	p := protocol.NewGamePacket(protocol.PacketTileChangeRequest)
	p.NetID = s.Runtime.NetID()
	p.Value = id
	p.VecX, p.VecY = x, y
	p.IntX, p.IntY = int32(tx+ox), int32(ty+oy)
	return s.SendGamePacket(p, nil, true)
}

// WrenchPlayer opens the wrench menu of another player.
func (s *Session) WrenchPlayer(netID uint32) error {
	return s.sendText(protocol.MsgGenericText, fmt.Sprintf("action|wrench\n|netid|%d\n", netID))
}

// Wear equips or unequips an item.
func (s *Session) Wear(id uint32) error {
	p := protocol.NewGamePacket(protocol.PacketItemActivateRequest)
	p.NetID = s.Runtime.NetID()
	p.Value = id
	return s.SendGamePacket(p, nil, true)
}

// Drop drops amount of item id, confirming the dialog the server opens.
func (s *Session) Drop(id, amount uint32) error {
	return s.itemDialog("drop", "drop_item", id, amount)
}

// Trash destroys amount of item id, confirming the dialog the server opens.
func (s *Session) Trash(id, amount uint32) error {
	return s.itemDialog("trash", "trash_item", id, amount)
}

func (s *Session) itemDialog(action, dialog string, id, amount uint32) error {
	reply := fmt.Sprintf("action|dialog_return\ndialog_name|%s\nitemID|%d|\ncount|%d\n", dialog, id, amount)
	prev := s.SetDialogHandler(func(s *Session, _ string) {
		if err := s.sendText(protocol.MsgGenericText, reply); err != nil {
			s.logger.Warn().Err(err).Str("dialog", dialog).Msg("dialog reply not sent")
		}
	})
	if err := s.sendText(protocol.MsgGenericText, fmt.Sprintf("action|%s\n|itemID|%d\n", action, id)); err != nil {
		s.SetDialogHandler(prev)
		return err
	}
	return nil
}

// AcceptAccess accepts a pending lock access offer.
func (s *Session) AcceptAccess() error {
	body := fmt.Sprintf("action|dialog_return\ndialog_name|popup\nnetID|%d|\nbuttonClicked|acceptlock\n", s.Runtime.NetID())
	prev := s.SetDialogHandler(func(s *Session, _ string) {
		if err := s.sendText(protocol.MsgGenericText, "action|dialog_return\ndialog_name|acceptaccess\n"); err != nil {
			s.logger.Warn().Err(err).Msg("access confirmation not sent")
		}
	})
	if err := s.sendText(protocol.MsgGenericText, body); err != nil {
		s.SetDialogHandler(prev)
		return err
	}
	return nil
}

// HasAccess reports whether the bot owns or has access to a lock in the
// current world.
func (s *Session) HasAccess() bool {
	userID := s.Runtime.UserID()
	if userID == 0 {
		return false
	}
	for _, t := range s.World.Snapshot().Tiles {
		if t.Kind != TileLock {
			continue
		}
		if t.LockOwner == userID {
			return true
		}
		for _, id := range t.Access {
			if id == userID {
				return true
			}
		}
	}
	return false
}

// Collect picks up every dropped item within CollectRadius tiles and
// returns how many pickups were requested.
func (s *Session) Collect() int {
	if !s.World.InWorld() {
		return 0
	}
	x, y := s.Movement.Position()
	netID := s.Runtime.NetID()
	reach := float64(CollectRadius * protocol.TileSize)

	n := 0
	for _, d := range s.World.Dropped() {
		if math.Hypot(float64(d.X-x), float64(d.Y-y)) > reach {
			continue
		}
		p := protocol.NewGamePacket(protocol.PacketItemActivateObjectRequest)
		p.NetID = netID
		p.VecX, p.VecY = d.X, d.Y
		p.Value = d.UID
		if err := s.SendGamePacket(p, nil, true); err != nil {
			s.logger.Debug().Err(err).Uint32("uid", d.UID).Msg("collect not sent")
			break
		}
		n++
	}
	return n
}

// Walk moves the bot by whole tiles and reports the new position.
func (s *Session) Walk(ox, oy int) error {
	x, y := s.Movement.Position()
	x += float32(ox * protocol.TileSize)
	y += float32(oy * protocol.TileSize)

	p := protocol.NewGamePacket(protocol.PacketState)
	p.NetID = s.Runtime.NetID()
	p.VecX, p.VecY = x, y
	p.IntX, p.IntY = -1, -1
	if ox < 0 {
		p.Flags |= flagFacingLeft
	}
	if err := s.SendGamePacket(p, nil, true); err != nil {
		return err
	}
	s.Movement.setPosition(x, y)

	if s.Movement.Automation().AutoCollect {
		s.Collect()
	}
	return nil
}

const flagFacingLeft = 0x10

// EnterDoor walks onto the door at the given offset and activates it.
func (s *Session) EnterDoor(ox, oy int) error {
	if err := s.Walk(ox, oy); err != nil {
		return err
	}
	tx, ty := s.Movement.Tile()
	p := protocol.NewGamePacket(protocol.PacketTileActivateRequest)
	p.NetID = s.Runtime.NetID()
	p.IntX, p.IntY = int32(tx), int32(ty)
	return s.SendGamePacket(p, nil, true)
}

// FindPath walks to tile (x, y) along a route that avoids collidable tiles,
// pausing the find-path delay between steps.
func (s *Session) FindPath(ctx context.Context, x, y int) error {
	w := s.World.Snapshot()
	if !w.InWorld() {
		return ErrNotInWorld
	}
	sx, sy := s.Movement.Tile()

	path, ok := pathfind.Find(worldGrid{w: &w, items: s.Items()}, pathfind.Point{X: sx, Y: sy}, pathfind.Point{X: x, Y: y})
	if !ok {
		return ErrNoPath
	}

	cur := pathfind.Point{X: sx, Y: sy}
	for _, step := range path {
		if err := s.Walk(step.X-cur.X, step.Y-cur.Y); err != nil {
			return err
		}
		cur = step

		delay := time.Duration(s.Movement.Delays().FindPath) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

// worldGrid exposes a world snapshot to the path finder. Tiles the decoder
// did not provide are treated as open.
type worldGrid struct {
	w     *World
	items *itemdb.Database
}

func (g worldGrid) Size() (int, int) { return int(g.w.Width), int(g.w.Height) }

func (g worldGrid) Walkable(x, y int) bool {
	t, ok := g.w.Tile(x, y)
	if !ok {
		return true
	}
	return !itemdb.IsCollidable(g.items.CollisionType(uint32(t.Foreground)))
}

// SetAutoCollect toggles collecting drops after each walk step.
func (s *Session) SetAutoCollect(on bool) {
	s.Movement.update(func(_ *Delays, a *Automation) { a.AutoCollect = on })
}

// SetAutoReconnect toggles reconnecting after an unexpected disconnect.
func (s *Session) SetAutoReconnect(on bool) {
	s.Movement.update(func(_ *Delays, a *Automation) { a.AutoReconnect = on })
}

// SetAutoLeaveOnMod toggles leaving a world when a moderator appears.
func (s *Session) SetAutoLeaveOnMod(on bool) {
	s.Movement.update(func(_ *Delays, a *Automation) { a.AutoLeaveOnMod = on })
}

// SetFindPathDelay sets the pause between path steps.
func (s *Session) SetFindPathDelay(ms uint32) {
	s.Movement.update(func(d *Delays, _ *Automation) { d.FindPath = ms })
}

// SetPunchDelay sets the minimum gap between punches.
func (s *Session) SetPunchDelay(ms uint32) {
	s.Movement.update(func(d *Delays, _ *Automation) { d.Punch = ms })
}

// SetPlaceDelay sets the minimum gap between placements.
func (s *Session) SetPlaceDelay(ms uint32) {
	s.Movement.update(func(d *Delays, _ *Automation) { d.Place = ms })
}
