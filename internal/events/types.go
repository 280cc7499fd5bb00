// Package events holds the two notification paths of a bot session: the
// synchronous script callback registry and the asynchronous bus Go observers
// (telemetry, websocket streams, CLI) listen on.
package events

import "time"

// Script notification names. These are part of the scripting ABI; scripts
// subscribe to them with bot:on(name, fn).
const (
	CallbackVariant     = "onVariant"
	CallbackSetPos      = "onSetPos"
	CallbackChat        = "onChat"
	CallbackConsole     = "onConsole"
	CallbackPlayerJoin  = "onPlayerJoin"
	CallbackPlayerLeave = "onPlayerLeave"
	CallbackDialog      = "onDialogRequest"
)

// ScriptEvents lists every script notification name.
var ScriptEvents = []string{
	CallbackVariant, CallbackSetPos, CallbackChat, CallbackConsole,
	CallbackPlayerJoin, CallbackPlayerLeave, CallbackDialog,
}

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection events
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventPhaseChanged EventType = "phase_changed"
	EventRedirect     EventType = "redirect"
	EventItemsRefresh EventType = "items_refresh"

	// In-game events
	EventPositionChanged EventType = "position_changed"
	EventChat            EventType = "chat"
	EventConsole         EventType = "console"
	EventPlayerJoin      EventType = "player_join"
	EventPlayerLeave     EventType = "player_leave"
	EventDialog          EventType = "dialog"
	EventWorldEntered    EventType = "world_entered"
	EventLog             EventType = "log"

	// Manager events
	EventBotCreated    EventType = "bot_created"
	EventBotRemoved    EventType = "bot_removed"
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
	EventHeartbeat     EventType = "heartbeat"
	EventHealthWarning EventType = "health_warning"
)

// AllEvents lists every bot-scoped event type, in a stable order.
var AllEvents = []EventType{
	EventConnected, EventDisconnected, EventPhaseChanged, EventRedirect, EventItemsRefresh,
	EventPositionChanged, EventChat, EventConsole, EventPlayerJoin, EventPlayerLeave,
	EventDialog, EventWorldEntered, EventLog,
}

// ConnectionPhase is the coarse connection state of a session.
type ConnectionPhase int

const (
	PhaseFetchingServerData ConnectionPhase = iota
	PhaseConnectingToServer
	PhaseInGame
	PhaseInWorld
)

var phaseStrings = map[ConnectionPhase]string{
	PhaseFetchingServerData: "FetchingServerData",
	PhaseConnectingToServer: "ConnectingToServer",
	PhaseInGame:             "InGame",
	PhaseInWorld:            "InWorld",
}

// String returns the name scripts and the API expose for the phase.
func (p ConnectionPhase) String() string {
	if s, ok := phaseStrings[p]; ok {
		return s
	}
	return "FetchingServerData"
}

// MarshalJSON serializes the phase as its name (e.g. "InGame").
func (p ConnectionPhase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now(), Payload: payload}
}

// ConnectedPayload is carried by EventConnected and EventRedirect.
type ConnectedPayload struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DisconnectedPayload is carried by EventDisconnected.
type DisconnectedPayload struct {
	Reason      string `json:"reason"`
	Redirecting bool   `json:"redirecting"`
}

// PhasePayload is carried by EventPhaseChanged.
type PhasePayload struct {
	From ConnectionPhase `json:"from"`
	To   ConnectionPhase `json:"to"`
}

// PositionPayload is carried by EventPositionChanged.
type PositionPayload struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// ChatPayload is carried by EventChat.
type ChatPayload struct {
	NetID int32  `json:"net_id"`
	Text  string `json:"text"`
}

// TextPayload is carried by EventConsole, EventDialog and EventLog.
type TextPayload struct {
	Text string `json:"text"`
}

// PlayerPayload is carried by EventPlayerJoin and EventPlayerLeave.
type PlayerPayload struct {
	NetID     uint32 `json:"net_id"`
	UserID    uint32 `json:"user_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Country   string `json:"country,omitempty"`
	Invisible bool   `json:"invisible,omitempty"`
	Mod       bool   `json:"mod,omitempty"`
}

// WorldPayload is carried by EventWorldEntered.
type WorldPayload struct {
	Name   string `json:"name"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// ConfigChangedPayload is carried by EventConfigChanged.
type ConfigChangedPayload struct {
	Section string `json:"section"`
	Key     string `json:"key,omitempty"`
}

// HeartbeatPayload is carried by EventHeartbeat.
type HeartbeatPayload struct {
	Bots          int     `json:"bots"`
	InWorld       int     `json:"in_world"`
	Players       int     `json:"players"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthWarningPayload is carried by EventHealthWarning. Source is the bot
// ID for bot checks and empty for host checks.
type HealthWarningPayload struct {
	Check   string  `json:"check"`
	Level   string  `json:"level"`
	Message string  `json:"message"`
	Value   float64 `json:"value"`
}
