package scripting

import (
	"fmt"
	"strconv"

	"github.com/Shopify/go-lua"

	"github.com/mori-project/mori/internal/protocol"
	"github.com/mori-project/mori/internal/session"
)

// luaType describes a userdata type: methods are looked up first, then
// field getters. Fields without a setter are read-only.
type luaType struct {
	name    string
	methods map[string]lua.Function
	getters map[string]func(l *lua.State, v any)
	setters map[string]func(l *lua.State, v any, idx int)
}

func (t *luaType) register(l *lua.State) {
	lua.NewMetaTable(l, t.name)
	l.PushGoFunction(t.index)
	l.SetField(-2, "__index")
	l.PushGoFunction(t.newIndex)
	l.SetField(-2, "__newindex")
	l.PushGoFunction(t.toString)
	l.SetField(-2, "__tostring")
	l.Pop(1)
}

func (t *luaType) index(l *lua.State) int {
	v := lua.CheckUserData(l, 1, t.name)
	key := lua.CheckString(l, 2)
	if fn, ok := t.methods[key]; ok {
		l.PushGoFunction(fn)
		return 1
	}
	if get, ok := t.getters[key]; ok {
		get(l, v)
		return 1
	}
	l.PushNil()
	return 1
}

func (t *luaType) newIndex(l *lua.State) int {
	v := lua.CheckUserData(l, 1, t.name)
	key := lua.CheckString(l, 2)
	set, ok := t.setters[key]
	if !ok {
		lua.Errorf(l, "cannot set field '%s' of %s", key, t.name)
	}
	set(l, v, 3)
	return 0
}

func (t *luaType) toString(l *lua.State) int {
	l.PushString(fmt.Sprintf("%s: %v", t.name, lua.CheckUserData(l, 1, t.name)))
	return 1
}

func pushUserData(l *lua.State, name string, v any) {
	l.PushUserData(v)
	lua.SetMetaTableNamed(l, name)
}

// self returns argument 1 as a T, raising an argument error otherwise.
func self[T any](l *lua.State, name string) T {
	v, ok := lua.CheckUserData(l, 1, name).(T)
	if !ok {
		lua.ArgumentError(l, 1, name+" expected")
	}
	return v
}

const (
	typePosition  = "Position"
	typeTile      = "Tile"
	typePlayer    = "Player"
	typeWorld     = "World"
	typeInventory = "Inventory"
	typePacket    = "GamePacket"
	typeBot       = "Bot"
)

type position struct{ x, y float32 }

func (p position) String() string { return fmt.Sprintf("(%g, %g)", p.x, p.y) }

var positionType = &luaType{
	name: typePosition,
	methods: map[string]lua.Function{
		"x": func(l *lua.State) int {
			l.PushNumber(float64(self[position](l, typePosition).x))
			return 1
		},
		"y": func(l *lua.State) int {
			l.PushNumber(float64(self[position](l, typePosition).y))
			return 1
		},
		"tileX": func(l *lua.State) int {
			l.PushInteger(session.TileCoord(self[position](l, typePosition).x))
			return 1
		},
		"tileY": func(l *lua.State) int {
			l.PushInteger(session.TileCoord(self[position](l, typePosition).y))
			return 1
		},
	},
}

// tile is a tile together with the collision type of its foreground item.
type tile struct {
	session.Tile
	collision uint8
}

var tileType = &luaType{
	name: typeTile,
	getters: map[string]func(*lua.State, any){
		"x":             func(l *lua.State, v any) { l.PushInteger(int(v.(tile).X)) },
		"y":             func(l *lua.State, v any) { l.PushInteger(int(v.(tile).Y)) },
		"foreground":    func(l *lua.State, v any) { l.PushInteger(int(v.(tile).Foreground)) },
		"background":    func(l *lua.State, v any) { l.PushInteger(int(v.(tile).Background)) },
		"collisionType": func(l *lua.State, v any) { l.PushInteger(int(v.(tile).collision)) },
		"isCollidable": func(l *lua.State, v any) {
			c := v.(tile).collision
			l.PushBoolean(c == 1 || c == 6)
		},
		"hasLock": func(l *lua.State, v any) { l.PushBoolean(v.(tile).Kind == session.TileLock) },
		"isSeed":  func(l *lua.State, v any) { l.PushBoolean(v.(tile).Kind == session.TileSeed) },
	},
}

var playerType = &luaType{
	name: typePlayer,
	getters: map[string]func(*lua.State, any){
		"name":      func(l *lua.State, v any) { l.PushString(v.(session.Player).Name) },
		"netId":     func(l *lua.State, v any) { l.PushInteger(int(v.(session.Player).NetID)) },
		"userId":    func(l *lua.State, v any) { l.PushInteger(int(v.(session.Player).UserID)) },
		"country":   func(l *lua.State, v any) { l.PushString(v.(session.Player).Country) },
		"invisible": func(l *lua.State, v any) { l.PushBoolean(v.(session.Player).Invisible) },
		"isMod":     func(l *lua.State, v any) { l.PushBoolean(v.(session.Player).IsMod()) },
		"pos": func(l *lua.State, v any) {
			p := v.(session.Player)
			pushUserData(l, typePosition, position{p.X, p.Y})
		},
	},
}

// packet is the Lua view of an outbound GamePacket. Sending copies it.
type packet struct {
	p protocol.GamePacket
}

func (p *packet) String() string { return p.p.Type.String() }

func (t *luaType) field(name string, get func(*lua.State, any), set func(*lua.State, any, int)) {
	t.getters[name], t.setters[name] = get, set
}

func (t *luaType) byteField(name string, ref func(*packet) *uint8) {
	t.field(name,
		func(l *lua.State, v any) { l.PushInteger(int(*ref(v.(*packet)))) },
		func(l *lua.State, v any, idx int) { *ref(v.(*packet)) = uint8(lua.CheckInteger(l, idx)) })
}

func (t *luaType) uintField(name string, ref func(*packet) *uint32) {
	t.field(name,
		func(l *lua.State, v any) { l.PushInteger(int(*ref(v.(*packet)))) },
		func(l *lua.State, v any, idx int) { *ref(v.(*packet)) = uint32(lua.CheckInteger(l, idx)) })
}

func (t *luaType) intField(name string, ref func(*packet) *int32) {
	t.field(name,
		func(l *lua.State, v any) { l.PushInteger(int(*ref(v.(*packet)))) },
		func(l *lua.State, v any, idx int) { *ref(v.(*packet)) = int32(lua.CheckInteger(l, idx)) })
}

func (t *luaType) floatField(name string, ref func(*packet) *float32) {
	t.field(name,
		func(l *lua.State, v any) { l.PushNumber(float64(*ref(v.(*packet)))) },
		func(l *lua.State, v any, idx int) { *ref(v.(*packet)) = float32(lua.CheckNumber(l, idx)) })
}

var packetType = func() *luaType {
	t := &luaType{
		name:    typePacket,
		getters: map[string]func(*lua.State, any){},
		setters: map[string]func(*lua.State, any, int){},
	}
	t.field("type",
		func(l *lua.State, v any) { l.PushInteger(int(v.(*packet).p.Type)) },
		func(l *lua.State, v any, idx int) { v.(*packet).p.Type = protocol.PacketType(lua.CheckInteger(l, idx)) })
	t.byteField("objectType", func(p *packet) *uint8 { return &p.p.ObjectType })
	t.byteField("jumpCount", func(p *packet) *uint8 { return &p.p.JumpCount })
	t.byteField("animationType", func(p *packet) *uint8 { return &p.p.AnimationType })
	t.uintField("netId", func(p *packet) *uint32 { return &p.p.NetID })
	t.intField("targetNetId", func(p *packet) *int32 { return &p.p.TargetNetID })
	t.uintField("flags", func(p *packet) *uint32 { return &p.p.Flags })
	t.floatField("floatVar", func(p *packet) *float32 { return &p.p.FloatVar })
	t.uintField("value", func(p *packet) *uint32 { return &p.p.Value })
	t.floatField("vecX", func(p *packet) *float32 { return &p.p.VecX })
	t.floatField("vecY", func(p *packet) *float32 { return &p.p.VecY })
	t.floatField("vecX2", func(p *packet) *float32 { return &p.p.VecX2 })
	t.floatField("vecY2", func(p *packet) *float32 { return &p.p.VecY2 })
	t.floatField("particleRot", func(p *packet) *float32 { return &p.p.ParticleRot })
	t.intField("intX", func(p *packet) *int32 { return &p.p.IntX })
	t.intField("intY", func(p *packet) *int32 { return &p.p.IntY })
	t.uintField("extDataLength", func(p *packet) *uint32 { return &p.p.ExtDataLength })
	return t
}()

// push converts a Go value into a Lua value on top of the stack.
func (e *Engine) push(l *lua.State, v any) {
	switch x := v.(type) {
	case nil:
		l.PushNil()
	case string:
		l.PushString(x)
	case bool:
		l.PushBoolean(x)
	case int:
		l.PushInteger(x)
	case int32:
		l.PushInteger(int(x))
	case uint32:
		l.PushInteger(int(x))
	case float32:
		l.PushNumber(float64(x))
	case float64:
		l.PushNumber(x)
	case []any:
		l.CreateTable(len(x), 0)
		for i, item := range x {
			e.push(l, item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]float64:
		l.CreateTable(0, len(x))
		for k, f := range x {
			l.PushNumber(f)
			l.SetField(-2, k)
		}
	case map[string]any:
		l.CreateTable(0, len(x))
		for k, item := range x {
			e.push(l, item)
			l.SetField(-2, k)
		}
	case session.Player:
		pushUserData(l, typePlayer, x)
	default:
		l.PushString(fmt.Sprint(x))
	}
}

// argString renders argument i the way print would.
func argString(l *lua.State, i int) string {
	switch l.TypeOf(i) {
	case lua.TypeNil:
		return "nil"
	case lua.TypeBoolean:
		return strconv.FormatBool(l.ToBoolean(i))
	case lua.TypeString, lua.TypeNumber:
		s, _ := l.ToString(i)
		return s
	default:
		return lua.TypeNameOf(l, i)
	}
}
