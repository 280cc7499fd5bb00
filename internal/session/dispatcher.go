package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/protocol"
	"github.com/mori-project/mori/internal/variant"
)

// Server function names handled by HandleVariant.
const (
	fnSendToServer  = "OnSendToServer"
	fnAcceptLogon   = "OnSuperMainStartAcceptLogonHrdxs47254722215a"
	fnSetPos        = "OnSetPos"
	fnTalkBubble    = "OnTalkBubble"
	fnConsole       = "OnConsoleMessage"
	fnSetBux        = "OnSetBux"
	fnSetHasGrowID  = "SetHasGrowID"
	fnRemove        = "OnRemove"
	fnSpawn         = "OnSpawn"
	fnDialogRequest = "OnDialogRequest"
)

const (
	actionEnterGame   = "action|enter_game\n"
	actionRefreshData = "action|refresh_item_data\n"
	gazetteReply      = "action|dialog_return\ndialog_name|gazette\nbuttonClicked|banner\n"
)

// HandleVariant decodes a variant list and applies the event it carries.
// Undecodable lists and events with malformed arguments are logged and
// dropped.
func (s *Session) HandleVariant(data []byte) {
	list, err := variant.Decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping undecodable variant list")
		return
	}

	if s.hasSubscribers(events.CallbackVariant) {
		s.notify(events.CallbackVariant, list.Generic())
	}

	name, err := list.FunctionName()
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping variant list without function name")
		return
	}

	if err := s.dispatch(name, list); err != nil {
		var se *ShapeError
		if errors.As(err, &se) {
			s.logger.Warn().Err(err).Str("event", name).Msg("dropping malformed event")
			return
		}
		s.logger.Error().Err(err).Str("event", name).Msg("event handling failed")
	}
}

func (s *Session) dispatch(name string, list variant.List) error {
	switch name {
	case fnSendToServer:
		return s.onSendToServer(list)
	case fnAcceptLogon:
		return s.onAcceptLogon(list)
	case fnSetPos:
		return s.onSetPos(list)
	case fnTalkBubble:
		return s.onTalkBubble(list)
	case fnConsole:
		return s.onConsole(list)
	case fnSetBux:
		gems, err := list.Int32(1)
		if err != nil {
			return shape(name, err)
		}
		s.Inventory.addGems(gems)
		return nil
	case fnSetHasGrowID:
		display, err := list.Text(2)
		if err != nil {
			return shape(name, err)
		}
		s.Auth.setDisplayName(display)
		return nil
	case fnRemove:
		return s.onRemove(list)
	case fnSpawn:
		return s.onSpawn(list)
	case fnDialogRequest:
		return s.onDialogRequest(list)
	default:
		s.logger.Trace().Str("event", name).Msg("unhandled variant event")
		return nil
	}
}

func (s *Session) onSendToServer(list variant.List) error {
	port, err := list.Int32(1)
	if err != nil {
		return shape(fnSendToServer, err)
	}
	token, err := list.Int32(2)
	if err != nil {
		return shape(fnSendToServer, err)
	}
	userID, err := list.Int32(3)
	if err != nil {
		return shape(fnSendToServer, err)
	}
	target, err := list.Text(4)
	if err != nil {
		return shape(fnSendToServer, err)
	}
	aat, err := list.Int32(5)
	if err != nil {
		return shape(fnSendToServer, err)
	}

	parts := strings.Split(target, "|")
	if len(parts) < 3 {
		return shape(fnSendToServer, fmt.Errorf("redirect target %q: want host|door|uuid", target))
	}
	for i := range parts {
		parts[i] = strings.TrimRight(parts[i], " \t\r\n")
	}

	server := ServerData{Host: parts[0], Port: int(port)}
	s.Auth.redirect(server,
		strconv.FormatInt(int64(token), 10),
		strconv.FormatInt(int64(userID), 10),
		parts[1], parts[2],
		strconv.FormatInt(int64(aat), 10))
	s.Runtime.setRedirecting(true)

	s.logger.Info().Str("host", server.Host).Int("port", server.Port).Msg("redirected by server")
	s.emit(events.EventRedirect, events.ConnectedPayload{Host: server.Host, Port: server.Port})

	if err := s.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		return fmt.Errorf("failed to disconnect for redirect: %w", err)
	}
	return nil
}

// onAcceptLogon compares the server's item-data checksum with the local
// items file. Only a match followed by a successful load replaces the item
// database; anything else asks the server for fresh item data.
func (s *Session) onAcceptLogon(list variant.List) error {
	want, err := list.Uint32(1)
	if err != nil {
		return shape(fnAcceptLogon, err)
	}
	s.Runtime.expectItemsHash(want)

	have, raw, err := protocol.HashFile(s.itemsPath)
	switch {
	case err != nil:
		s.logger.Info().Err(err).Str("path", s.itemsPath).Msg("items file unavailable, requesting item data")
		return s.requestItemData()
	case have != want:
		s.logger.Info().Uint32("have", have).Uint32("want", want).Msg("items checksum mismatch, requesting item data")
		return s.requestItemData()
	}

	return s.acceptItems(raw)
}

// acceptItems loads raw item data, swaps it in and enters the game.
func (s *Session) acceptItems(raw []byte) error {
	if s.loader != nil {
		db, err := s.loader.Load(s.ctx(), raw)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to load item database, requesting item data")
			return s.requestItemData()
		}
		if err := s.sendText(protocol.MsgGenericText, actionEnterGame); err != nil {
			return err
		}
		s.items.Swap(db)
		s.logger.Info().Int("items", db.Len()).Msg("item database loaded")
	} else if err := s.sendText(protocol.MsgGenericText, actionEnterGame); err != nil {
		return err
	}

	s.Runtime.setRedirecting(false)
	s.SetPhase(events.PhaseInGame)
	return nil
}

func (s *Session) requestItemData() error {
	s.emit(events.EventItemsRefresh, nil)
	return s.sendText(protocol.MsgGenericText, actionRefreshData)
}

func (s *Session) onSetPos(list variant.List) error {
	x, y, err := list.Vec2(1)
	if err != nil {
		return shape(fnSetPos, err)
	}
	s.Movement.setPosition(x, y)
	s.notify(events.CallbackSetPos, x, y)
	s.emit(events.EventPositionChanged, events.PositionPayload{X: x, Y: y})
	return nil
}

func (s *Session) onTalkBubble(list variant.List) error {
	netID, err := list.Int32(1)
	if err != nil {
		return shape(fnTalkBubble, err)
	}
	text, err := list.Text(2)
	if err != nil {
		return shape(fnTalkBubble, err)
	}
	s.notify(events.CallbackChat, netID, text)
	s.emit(events.EventChat, events.ChatPayload{NetID: netID, Text: text})
	return nil
}

func (s *Session) onConsole(list variant.List) error {
	text, err := list.Text(1)
	if err != nil {
		return shape(fnConsole, err)
	}
	s.notify(events.CallbackConsole, text)
	s.emit(events.EventConsole, events.TextPayload{Text: text})
	return nil
}

// onRemove deletes a player. Subscribers hear about every removal, including
// ids that were never registered.
func (s *Session) onRemove(list variant.List) error {
	text, err := list.Text(1)
	if err != nil {
		return shape(fnRemove, err)
	}
	netID, err := protocol.ParseTextBlock(text).Uint32("netID")
	if err != nil {
		return shape(fnRemove, err)
	}

	s.Players.remove(netID)
	s.notify(events.CallbackPlayerLeave, netID)
	s.emit(events.EventPlayerLeave, events.PlayerPayload{NetID: netID})
	return nil
}

func (s *Session) onSpawn(list variant.List) error {
	text, err := list.Text(1)
	if err != nil {
		return shape(fnSpawn, err)
	}
	block := protocol.ParseTextBlock(text)

	// The local player's record carries a "type" key and is never listed.
	if block.Has("type") {
		netID, err := block.Uint32("netID")
		if err != nil {
			return shape(fnSpawn, err)
		}
		userID, err := block.Uint32("userID")
		if err != nil {
			return shape(fnSpawn, err)
		}
		s.Runtime.setIdentity(netID, userID)
		s.logger.Debug().Uint32("net_id", netID).Uint32("user_id", userID).Msg("own spawn")
		return nil
	}

	p, err := playerFromBlock(block)
	if err != nil {
		return shape(fnSpawn, err)
	}

	if (p.IsMod() || p.Invisible) && s.Movement.Automation().AutoLeaveOnMod {
		s.logger.Warn().Str("player", p.Name).Bool("mod", p.IsMod()).Bool("invisible", p.Invisible).
			Msg("moderator spotted, leaving world")
		if err := s.Leave(); err != nil {
			s.logger.Warn().Err(err).Msg("auto-leave failed")
		}
	}

	s.notify(events.CallbackPlayerJoin, p)
	s.Players.put(p)
	s.emit(events.EventPlayerJoin, p.Payload())
	return nil
}

func (s *Session) onDialogRequest(list variant.List) error {
	text, err := list.Text(1)
	if err != nil {
		return shape(fnDialogRequest, err)
	}

	s.notify(events.CallbackDialog, text)
	s.emit(events.EventDialog, events.TextPayload{Text: text})

	if h := s.takeDialogHandler(); h != nil {
		h(s, text)
	}
	if strings.Contains(text, "Gazette") {
		return s.sendText(protocol.MsgGenericText, gazetteReply)
	}
	return nil
}
