package scripting

import (
	"math"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/mori-project/mori/internal/itemdb"
	"github.com/mori-project/mori/internal/protocol"
	"github.com/mori-project/mori/internal/session"
)

// Handles pushed to Lua. They carry no state of their own; every access reads
// the session.
type (
	botHandle       struct{}
	worldHandle     struct{}
	inventoryHandle struct{}
)

func (e *Engine) registerTypes() {
	for _, t := range []*luaType{positionType, tileType, playerType, packetType, e.botType(), e.worldType(), e.inventoryType()} {
		t.register(e.l)
	}
}

func (e *Engine) registerGlobals() {
	e.l.Register("getBot", func(l *lua.State) int {
		pushUserData(l, typeBot, botHandle{})
		return 1
	})
	e.l.Register("sleep", e.sleep)
	e.l.Register("log", func(l *lua.State) int {
		parts := make([]string, 0, l.Top())
		for i := 1; i <= l.Top(); i++ {
			parts = append(parts, argString(l, i))
		}
		e.s.Log(strings.Join(parts, " "))
		return 0
	})
	e.l.Register("getItemInfo", func(l *lua.State) int {
		item, ok := e.s.Items().Get(uint32(lua.CheckInteger(l, 1)))
		return pushItem(l, item, ok)
	})
	e.l.Register("getItemInfoByName", func(l *lua.State) int {
		item, ok := e.s.Items().FindByName(lua.CheckString(l, 1))
		return pushItem(l, item, ok)
	})
	e.l.Register("GamePacket", func(l *lua.State) int {
		t := protocol.PacketType(lua.OptInteger(l, 1, 0))
		pushUserData(l, typePacket, &packet{p: protocol.NewGamePacket(t)})
		return 1
	})
}

func pushItem(l *lua.State, item itemdb.Item, ok bool) int {
	if !ok {
		l.PushNil()
		return 1
	}
	l.CreateTable(0, 6)
	l.PushInteger(int(item.ID))
	l.SetField(-2, "id")
	l.PushString(item.Name)
	l.SetField(-2, "name")
	l.PushInteger(int(item.Rarity))
	l.SetField(-2, "rarity")
	l.PushInteger(int(item.CollisionType))
	l.SetField(-2, "collisionType")
	l.PushInteger(int(item.ActionType))
	l.SetField(-2, "actionType")
	l.PushBoolean(item.Collidable())
	l.SetField(-2, "isCollidable")
	return 1
}

// action wraps a fire-and-forget bot action. Failures are written to the
// bot log instead of raising.
func (e *Engine) action(name string, fn func(l *lua.State) error) lua.Function {
	return func(l *lua.State) int {
		self[botHandle](l, typeBot)
		e.stopped(l)
		if err := fn(l); err != nil {
			e.s.Log(name + ": " + err.Error())
		}
		return 0
	}
}

func (e *Engine) botType() *luaType {
	s := e.s
	offset := func(l *lua.State) (int, int) {
		return lua.CheckInteger(l, 2), lua.CheckInteger(l, 3)
	}

	methods := map[string]lua.Function{
		"say": e.action("say", func(l *lua.State) error { return s.Say(lua.CheckString(l, 2)) }),
		"warp": e.action("warp", func(l *lua.State) error {
			return s.Warp(lua.CheckString(l, 2))
		}),
		"leave":      e.action("leave", func(*lua.State) error { return s.Leave() }),
		"disconnect": e.action("disconnect", func(*lua.State) error { return s.Disconnect() }),
		"punch": e.action("punch", func(l *lua.State) error {
			x, y := offset(l)
			return s.Punch(x, y)
		}),
		"place": e.action("place", func(l *lua.State) error {
			x, y := offset(l)
			return s.Place(x, y, uint32(lua.CheckInteger(l, 4)))
		}),
		"wrench": e.action("wrench", func(l *lua.State) error {
			x, y := offset(l)
			return s.Wrench(x, y)
		}),
		"wrenchPlayer": e.action("wrenchPlayer", func(l *lua.State) error {
			return s.WrenchPlayer(uint32(lua.CheckInteger(l, 2)))
		}),
		"wear": e.action("wear", func(l *lua.State) error { return s.Wear(uint32(lua.CheckInteger(l, 2))) }),
		"drop": e.action("drop", func(l *lua.State) error {
			return s.Drop(uint32(lua.CheckInteger(l, 2)), uint32(lua.CheckInteger(l, 3)))
		}),
		"trash": e.action("trash", func(l *lua.State) error {
			return s.Trash(uint32(lua.CheckInteger(l, 2)), uint32(lua.CheckInteger(l, 3)))
		}),
		"acceptAccess": e.action("acceptAccess", func(*lua.State) error { return s.AcceptAccess() }),
		"enterDoor": e.action("enterDoor", func(l *lua.State) error {
			x, y := offset(l)
			return s.EnterDoor(x, y)
		}),
		"sendDialogReturn": e.action("sendDialogReturn", func(l *lua.State) error {
			return s.SendDialogReturn(lua.CheckString(l, 2))
		}),
		"walk": e.action("walk", func(l *lua.State) error {
			x, y := offset(l)
			return s.Walk(x, y)
		}),
		"findPath": e.action("findPath", func(l *lua.State) error {
			x, y := offset(l)
			return s.FindPath(e.currentCtx(), x, y)
		}),
		"sendTextPacket": e.action("sendTextPacket", func(l *lua.State) error {
			return s.SendTextPacket(protocol.NetMessage(lua.CheckInteger(l, 2)), lua.CheckString(l, 3))
		}),
		"sendGamePacket": e.action("sendGamePacket", func(l *lua.State) error {
			p := checkPacket(l, 2)
			return s.SendGamePacket(p, nil, true)
		}),
		"sendGamePacketRaw": e.action("sendGamePacketRaw", func(l *lua.State) error {
			p := checkPacket(l, 2)
			return s.SendGamePacket(p, nil, l.ToBoolean(3))
		}),

		"collect": func(l *lua.State) int {
			self[botHandle](l, typeBot)
			e.stopped(l)
			l.PushInteger(s.Collect())
			return 1
		},
		"hasAccess": func(l *lua.State) int {
			self[botHandle](l, typeBot)
			l.PushBoolean(s.HasAccess())
			return 1
		},

		"setAutoCollect":   e.setter(func(l *lua.State) { s.SetAutoCollect(l.ToBoolean(2)) }),
		"setAutoReconnect": e.setter(func(l *lua.State) { s.SetAutoReconnect(l.ToBoolean(2)) }),
		"setFindPathDelay": e.setter(func(l *lua.State) { s.SetFindPathDelay(uint32(lua.CheckInteger(l, 2))) }),
		"setPunchDelay":    e.setter(func(l *lua.State) { s.SetPunchDelay(uint32(lua.CheckInteger(l, 2))) }),
		"setPlaceDelay":    e.setter(func(l *lua.State) { s.SetPlaceDelay(uint32(lua.CheckInteger(l, 2))) }),

		"on":   e.subscribe(false),
		"once": e.subscribe(true),
		"removeListener": func(l *lua.State) int {
			self[botHandle](l, typeBot)
			e.release(l, e.bus.UnsubscribeAll(lua.CheckString(l, 2)))
			return 0
		},
		"removeAllListeners": func(l *lua.State) int {
			self[botHandle](l, typeBot)
			e.release(l, e.bus.UnsubscribeEverything())
			return 0
		},
	}

	getters := map[string]func(*lua.State, any){
		"pos": func(l *lua.State, _ any) {
			x, y := s.Movement.Position()
			pushUserData(l, typePosition, position{x, y})
		},
		"tile": func(l *lua.State, _ any) {
			x, y := s.Movement.Tile()
			l.CreateTable(0, 2)
			l.PushInteger(x)
			l.SetField(-2, "x")
			l.PushInteger(y)
			l.SetField(-2, "y")
		},
		"gems":   func(l *lua.State, _ any) { l.PushInteger(int(s.Inventory.Gems())) },
		"netId":  func(l *lua.State, _ any) { l.PushInteger(int(s.Runtime.NetID())) },
		"userId": func(l *lua.State, _ any) { l.PushInteger(int(s.Runtime.UserID())) },
		"name": func(l *lua.State, _ any) {
			name := s.Auth.DisplayName()
			if name == "" {
				name = s.Auth.Credentials().GrowID
			}
			l.PushString(name)
		},
		"world":     func(l *lua.State, _ any) { pushUserData(l, typeWorld, worldHandle{}) },
		"inventory": func(l *lua.State, _ any) { pushUserData(l, typeInventory, inventoryHandle{}) },
		"status":    func(l *lua.State, _ any) { l.PushString(s.Phase().String()) },
		"ping":      func(l *lua.State, _ any) { l.PushInteger(int(s.Runtime.Ping())) },
		"isInWorld": func(l *lua.State, _ any) { l.PushBoolean(s.World.InWorld()) },
	}

	return &luaType{name: typeBot, methods: methods, getters: getters}
}

func (e *Engine) setter(fn func(l *lua.State)) lua.Function {
	return func(l *lua.State) int {
		self[botHandle](l, typeBot)
		fn(l)
		return 0
	}
}

// subscribe registers the function at argument 3 for the event named by
// argument 2.
func (e *Engine) subscribe(once bool) lua.Function {
	return func(l *lua.State) int {
		self[botHandle](l, typeBot)
		event := lua.CheckString(l, 2)
		lua.CheckType(l, 3, lua.TypeFunction)
		ref := e.store(l, 3)
		e.bus.Subscribe(event, ref, once)
		return 0
	}
}

func checkPacket(l *lua.State, idx int) protocol.GamePacket {
	p, ok := lua.CheckUserData(l, idx, typePacket).(*packet)
	if !ok {
		lua.ArgumentError(l, idx, "GamePacket expected")
	}
	return p.p.Clone()
}

func (e *Engine) worldType() *luaType {
	s := e.s
	items := func() *itemdb.Database { return s.Items() }
	pushTile := func(l *lua.State, t session.Tile) {
		pushUserData(l, typeTile, tile{Tile: t, collision: items().CollisionType(uint32(t.Foreground))})
	}

	methods := map[string]lua.Function{
		"getTile": func(l *lua.State) int {
			self[worldHandle](l, typeWorld)
			t, ok := s.World.Tile(lua.CheckInteger(l, 2), lua.CheckInteger(l, 3))
			if !ok {
				l.PushNil()
				return 1
			}
			pushTile(l, t)
			return 1
		},
		"getTiles": func(l *lua.State) int {
			self[worldHandle](l, typeWorld)
			w := s.World.Snapshot()
			l.CreateTable(len(w.Tiles), 0)
			for i, t := range w.Tiles {
				pushTile(l, t)
				l.RawSetInt(-2, i+1)
			}
			return 1
		},
		"getPlayers": func(l *lua.State) int {
			self[worldHandle](l, typeWorld)
			players := s.Players.List()
			l.CreateTable(len(players), 0)
			for i, p := range players {
				pushUserData(l, typePlayer, p)
				l.RawSetInt(-2, i+1)
			}
			return 1
		},
		"getPlayer": func(l *lua.State) int {
			self[worldHandle](l, typeWorld)
			p, ok := s.Players.Get(uint32(lua.CheckInteger(l, 2)))
			if !ok {
				l.PushNil()
				return 1
			}
			pushUserData(l, typePlayer, p)
			return 1
		},
		"getDroppedItems": func(l *lua.State) int {
			self[worldHandle](l, typeWorld)
			dropped := s.World.Dropped()
			l.CreateTable(len(dropped), 0)
			for i, d := range dropped {
				l.CreateTable(0, 5)
				l.PushInteger(int(d.UID))
				l.SetField(-2, "uid")
				l.PushInteger(int(d.ID))
				l.SetField(-2, "id")
				l.PushNumber(float64(d.X))
				l.SetField(-2, "x")
				l.PushNumber(float64(d.Y))
				l.SetField(-2, "y")
				l.PushInteger(int(d.Count))
				l.SetField(-2, "count")
				l.RawSetInt(-2, i+1)
			}
			return 1
		},
		"isInWorld": func(l *lua.State) int {
			self[worldHandle](l, typeWorld)
			l.PushBoolean(s.World.InWorld())
			return 1
		},
	}

	getters := map[string]func(*lua.State, any){
		"name":   func(l *lua.State, _ any) { l.PushString(s.World.Name()) },
		"width":  func(l *lua.State, _ any) { l.PushInteger(int(s.World.Snapshot().Width)) },
		"height": func(l *lua.State, _ any) { l.PushInteger(int(s.World.Snapshot().Height)) },
	}
	return &luaType{name: typeWorld, methods: methods, getters: getters}
}

func (e *Engine) inventoryType() *luaType {
	inv := e.s.Inventory
	pushSlot := func(l *lua.State, id uint16, amount uint8) {
		l.CreateTable(0, 2)
		l.PushInteger(int(id))
		l.SetField(-2, "id")
		l.PushInteger(int(amount))
		l.SetField(-2, "amount")
	}

	methods := map[string]lua.Function{
		"getItemCount": func(l *lua.State) int {
			self[inventoryHandle](l, typeInventory)
			id, ok := itemID(l, 2)
			if !ok {
				l.PushInteger(0)
				return 1
			}
			l.PushInteger(int(inv.Count(id)))
			return 1
		},
		"hasItem": func(l *lua.State) int {
			self[inventoryHandle](l, typeInventory)
			id, ok := itemID(l, 2)
			least := lua.OptInteger(l, 3, 1)
			switch {
			case least <= 0:
				l.PushBoolean(true)
			case !ok || least > math.MaxUint8:
				l.PushBoolean(false)
			default:
				l.PushBoolean(inv.Has(id, uint8(least)))
			}
			return 1
		},
		"getItems": func(l *lua.State) int {
			self[inventoryHandle](l, typeInventory)
			snap := inv.Snapshot()
			l.CreateTable(len(snap.Items), 0)
			for i, slot := range snap.Items {
				pushSlot(l, slot.ID, slot.Amount)
				l.RawSetInt(-2, i+1)
			}
			return 1
		},
		"getSize": func(l *lua.State) int {
			self[inventoryHandle](l, typeInventory)
			size, _ := inv.SizeAndCount()
			l.PushInteger(int(size))
			return 1
		},
		"getCount": func(l *lua.State) int {
			self[inventoryHandle](l, typeInventory)
			_, count := inv.SizeAndCount()
			l.PushInteger(count)
			return 1
		},
		"isFull": func(l *lua.State) int {
			self[inventoryHandle](l, typeInventory)
			l.PushBoolean(inv.IsFull())
			return 1
		},
		"findItem": func(l *lua.State) int {
			self[inventoryHandle](l, typeInventory)
			id, ok := itemID(l, 2)
			if !ok {
				l.PushNil()
				return 1
			}
			n := inv.Count(id)
			if n == 0 {
				l.PushNil()
				return 1
			}
			pushSlot(l, id, n)
			return 1
		},
	}

	getters := map[string]func(*lua.State, any){
		"gems": func(l *lua.State, _ any) { l.PushInteger(int(inv.Gems())) },
	}
	return &luaType{name: typeInventory, methods: methods, getters: getters}
}

// itemID reads an inventory item id argument. Values outside the uint16 range
// name no item.
func itemID(l *lua.State, arg int) (uint16, bool) {
	n := lua.CheckInteger(l, arg)
	if n < 0 || n > math.MaxUint16 {
		return 0, false
	}
	return uint16(n), true
}
