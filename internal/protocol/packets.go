// Package protocol implements the game's application-layer wire formats: the
// typed net message envelope, the fixed-layout game packet, text action
// packets and the key|value text blocks carried inside events. All integers
// are little-endian.
package protocol

import "fmt"

// NetMessage is the u32 type tag that prefixes every application message.
type NetMessage uint32

const (
	MsgUnknown           NetMessage = 0
	MsgServerHello       NetMessage = 1
	MsgGenericText       NetMessage = 2
	MsgGameMessage       NetMessage = 3
	MsgGamePacket        NetMessage = 4
	MsgError             NetMessage = 5
	MsgTrack             NetMessage = 6
	MsgClientLogRequest  NetMessage = 7
	MsgClientLogResponse NetMessage = 8
)

var netMessageStrings = map[NetMessage]string{
	MsgUnknown:           "unknown",
	MsgServerHello:       "server_hello",
	MsgGenericText:       "generic_text",
	MsgGameMessage:       "game_message",
	MsgGamePacket:        "game_packet",
	MsgError:             "error",
	MsgTrack:             "track",
	MsgClientLogRequest:  "client_log_request",
	MsgClientLogResponse: "client_log_response",
}

func (m NetMessage) String() string {
	if s, ok := netMessageStrings[m]; ok {
		return s
	}
	return fmt.Sprintf("net_message(%d)", uint32(m))
}

// PacketType is the first byte of a GamePacket.
type PacketType uint8

const (
	PacketState                     PacketType = 0
	PacketCallFunction              PacketType = 1
	PacketUpdateStatus              PacketType = 2
	PacketTileChangeRequest         PacketType = 3
	PacketSendMapData               PacketType = 4
	PacketSendTileUpdateData        PacketType = 5
	PacketSendTileUpdateDataMulti   PacketType = 6
	PacketTileActivateRequest       PacketType = 7
	PacketTileApplyDamage           PacketType = 8
	PacketSendInventoryState        PacketType = 9
	PacketItemActivateRequest       PacketType = 10
	PacketItemActivateObjectRequest PacketType = 11
	PacketSendTileTreeState         PacketType = 12
	PacketModifyItemInventory       PacketType = 13
	PacketItemChangeObject          PacketType = 14
	PacketSendLock                  PacketType = 15
	PacketSendItemDatabaseData      PacketType = 16
	PacketSendParticleEffect        PacketType = 17
	PacketSetIconState              PacketType = 18
	PacketItemEffect                PacketType = 19
	PacketSetCharacterState         PacketType = 20
	PacketPingReply                 PacketType = 21
	PacketPingRequest               PacketType = 22
	PacketGotPunched                PacketType = 23
	PacketAppCheckResponse          PacketType = 24
	PacketAppIntegrityFail          PacketType = 25
	PacketDisconnect                PacketType = 26
	PacketBattleJoin                PacketType = 27
	PacketBattleEvent               PacketType = 28
	PacketUseDoor                   PacketType = 29
	PacketSendParental              PacketType = 30
	PacketGoneFishin                PacketType = 31
	PacketSteam                     PacketType = 32
	PacketPetBattle                 PacketType = 33
	PacketNpc                       PacketType = 34
	PacketSpecial                   PacketType = 35
	PacketSendParticleEffectV2      PacketType = 36
	PacketActiveArrowToItem         PacketType = 37
	PacketSelectTileIndex           PacketType = 38
	PacketSendPlayerTributeData     PacketType = 39
)

var packetTypeStrings = map[PacketType]string{
	PacketState:                     "state",
	PacketCallFunction:              "call_function",
	PacketUpdateStatus:              "update_status",
	PacketTileChangeRequest:         "tile_change_request",
	PacketSendMapData:               "send_map_data",
	PacketSendTileUpdateData:        "send_tile_update_data",
	PacketSendTileUpdateDataMulti:   "send_tile_update_data_multiple",
	PacketTileActivateRequest:       "tile_activate_request",
	PacketTileApplyDamage:           "tile_apply_damage",
	PacketSendInventoryState:        "send_inventory_state",
	PacketItemActivateRequest:       "item_activate_request",
	PacketItemActivateObjectRequest: "item_activate_object_request",
	PacketSendTileTreeState:         "send_tile_tree_state",
	PacketModifyItemInventory:       "modify_item_inventory",
	PacketItemChangeObject:          "item_change_object",
	PacketSendLock:                  "send_lock",
	PacketSendItemDatabaseData:      "send_item_database_data",
	PacketSendParticleEffect:        "send_particle_effect",
	PacketSetIconState:              "set_icon_state",
	PacketItemEffect:                "item_effect",
	PacketSetCharacterState:         "set_character_state",
	PacketPingReply:                 "ping_reply",
	PacketPingRequest:               "ping_request",
	PacketGotPunched:                "got_punched",
	PacketAppCheckResponse:          "app_check_response",
	PacketAppIntegrityFail:          "app_integrity_fail",
	PacketDisconnect:                "disconnect",
	PacketBattleJoin:                "battle_join",
	PacketBattleEvent:               "battle_event",
	PacketUseDoor:                   "use_door",
	PacketSendParental:              "send_parental",
	PacketGoneFishin:                "gone_fishin",
	PacketSteam:                     "steam",
	PacketPetBattle:                 "pet_battle",
	PacketNpc:                       "npc",
	PacketSpecial:                   "special",
	PacketSendParticleEffectV2:      "send_particle_effect_v2",
	PacketActiveArrowToItem:         "active_arrow_to_item",
	PacketSelectTileIndex:           "select_tile_index",
	PacketSendPlayerTributeData:     "send_player_tribute_data",
}

func (t PacketType) String() string {
	if s, ok := packetTypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("packet(%d)", uint8(t))
}

// Packet flag bits.
const (
	FlagExtended uint32 = 0x8
)

// Item ids used by tile actions.
const (
	ItemFist   uint32 = 18
	ItemWrench uint32 = 32
)

// GamePacketSize is the fixed size of a GamePacket header on the wire.
const GamePacketSize = 56

// MaxPacketSize is the maximum allowed size for a single framed message.
const MaxPacketSize = 1 << 24

// LengthPrefixSize is the size of the frame length prefix in bytes.
const LengthPrefixSize = 4

// TileSize is the width of one tile in world units.
const TileSize = 32
