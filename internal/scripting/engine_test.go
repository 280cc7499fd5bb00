package scripting

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/itemdb"
	"github.com/mori-project/mori/internal/protocol"
	"github.com/mori-project/mori/internal/session"
	"github.com/mori-project/mori/internal/variant"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (r *recordingTransport) Send(data []byte) error {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) Disconnect() error { return nil }

func (r *recordingTransport) messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.sent...)
}

func newTestEngine(t *testing.T) (*Engine, *session.Session, *recordingTransport) {
	t.Helper()
	items := itemdb.NewStore(itemdb.New([]itemdb.Item{
		{ID: 2, Name: "Dirt", CollisionType: 1},
		{ID: 18, Name: "Fist"},
	}))
	s := session.New(session.Options{ID: "lua", Items: items})
	tr := &recordingTransport{}
	s.AttachTransport(tr)
	e := New(s)
	t.Cleanup(e.Close)
	return e, s, tr
}

func run(t *testing.T, e *Engine, source string) {
	t.Helper()
	if err := e.Run(context.Background(), t.Name(), source); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func variantCall(values ...variant.Value) []byte {
	return variant.NewList(values...).Marshal()
}

func TestOnce_FiresOnlyOnce(t *testing.T) {
	e, s, _ := newTestEngine(t)
	run(t, e, `
		calls = 0
		getBot():once("onChat", function(netId, text)
			calls = calls + 1
			last = text
		end)
	`)
	if !e.HasSubscribers(events.CallbackChat) {
		t.Fatal("once listener not registered")
	}

	s.HandleVariant(variantCall(variant.Text("OnTalkBubble"), variant.Signed(4), variant.Text("first")))
	s.HandleVariant(variantCall(variant.Text("OnTalkBubble"), variant.Signed(4), variant.Text("second")))

	if e.HasSubscribers(events.CallbackChat) {
		t.Fatal("once listener still registered")
	}
	run(t, e, `assert(calls == 1, "calls=" .. calls); assert(last == "first")`)
}

func TestOn_ReceivesPositionAndKeepsOrder(t *testing.T) {
	e, s, _ := newTestEngine(t)
	run(t, e, `
		order = {}
		local bot = getBot()
		bot:on("onSetPos", function(x, y) order[#order + 1] = "a" .. x end)
		bot:on("onSetPos", function(x, y) order[#order + 1] = "b" .. y end)
	`)

	s.HandleVariant(variantCall(variant.Text("OnSetPos"), variant.Vec2(64, 96)))

	run(t, e, `
		assert(#order == 2, "got " .. #order)
		assert(order[1] == "a64" and order[2] == "b96", order[1] .. order[2])
		local pos = getBot().pos
		assert(pos:x() == 64 and pos:tileY() == 3)
	`)
}

func TestRemoveListenerDuringDispatch(t *testing.T) {
	e, _, _ := newTestEngine(t)
	run(t, e, `
		second = 0
		local bot = getBot()
		bot:on("onConsole", function() bot:removeListener("onConsole") end)
		bot:on("onConsole", function() second = second + 1 end)
	`)

	e.Notify(events.CallbackConsole, "hello")
	e.Notify(events.CallbackConsole, "again")

	if e.HasSubscribers(events.CallbackConsole) {
		t.Fatal("listeners survived removeListener")
	}
	run(t, e, `assert(second == 0, "second ran " .. second .. " times")`)
}

func TestCallbackErrorDoesNotStopOthers(t *testing.T) {
	e, s, _ := newTestEngine(t)
	run(t, e, `
		reached = false
		local bot = getBot()
		bot:on("onConsole", function() error("boom") end)
		bot:on("onConsole", function() reached = true end)
	`)

	e.Notify(events.CallbackConsole, "x")

	run(t, e, `assert(reached)`)
	logs := strings.Join(s.Runtime.Logs(), "\n")
	if !strings.Contains(logs, "boom") {
		t.Fatalf("error not logged: %q", logs)
	}
}

func TestGenericVariantTap(t *testing.T) {
	e, s, _ := newTestEngine(t)
	run(t, e, `
		getBot():on("onVariant", function(list)
			name = list[1]
			x = list[2].x
		end)
	`)

	s.HandleVariant(variantCall(variant.Text("OnSomething"), variant.Vec2(5, 6)))

	run(t, e, `assert(name == "OnSomething"); assert(x == 5)`)
}

func TestPlayerJoinPassesPlayer(t *testing.T) {
	e, s, _ := newTestEngine(t)
	run(t, e, `
		getBot():on("onPlayerJoin", function(p) joined = p.name .. ":" .. p.netId .. ":" .. tostring(p.isMod) end)
	`)

	spawn := "spawn|avatar\nnetID|9\nuserID|1\neid|x\nip|y\ncolrect|0|0|20|30\nposXY|32|64\nname|Zed\ncountry|id\nmstate|0\n"
	s.HandleVariant(variantCall(variant.Text("OnSpawn"), variant.Text(spawn)))

	run(t, e, `assert(joined == "Zed:9:false", joined)`)
}

func TestGamePacketIsCopiedOnSend(t *testing.T) {
	e, _, tr := newTestEngine(t)
	run(t, e, `
		local p = GamePacket(3)
		p.value = 18
		p.intX = 4
		p.vecX = 1.5
		getBot():sendGamePacket(p)
		p.value = 99
		assert(p.type == 3 and p.value == 99)
	`)

	msgs := tr.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages", len(msgs))
	}
	p, _, err := msgs[0].GamePacket()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Type != protocol.PacketTileChangeRequest || p.Value != 18 || p.IntX != 4 || p.VecX != 1.5 {
		t.Fatalf("packet=%+v", p)
	}
}

func TestBotActionsAndFields(t *testing.T) {
	e, _, tr := newTestEngine(t)
	run(t, e, `
		local bot = getBot()
		assert(bot.status == "FetchingServerData", bot.status)
		assert(bot.isInWorld == false)
		assert(bot.world.name == "EXIT")
		assert(bot.inventory:getItemCount(2) == 0)
		assert(bot.inventory:findItem(2) == nil)
		bot:say("hello")
		bot:warp("START")
		bot:setPunchDelay(0)
	`)

	msgs := tr.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages", len(msgs))
	}
	if msgs[0].Text() != "action|input\n|text|hello\n" {
		t.Fatalf("say sent %q", msgs[0].Text())
	}
	if msgs[1].Type != protocol.MsgGameMessage || !strings.Contains(msgs[1].Text(), "name|START") {
		t.Fatalf("warp sent %s %q", msgs[1].Type, msgs[1].Text())
	}
}

func TestInventoryArgumentsOutsideItemRange(t *testing.T) {
	e, s, _ := newTestEngine(t)

	var ext bytes.Buffer
	ext.WriteByte(1)
	binary.Write(&ext, binary.LittleEndian, uint32(16))
	binary.Write(&ext, binary.LittleEndian, uint16(1))
	binary.Write(&ext, binary.LittleEndian, []session.Slot{{ID: 2, Amount: 200}})
	s.HandleMessage(protocol.BuildGamePacketMessage(protocol.NewGamePacket(protocol.PacketSendInventoryState), ext.Bytes()))

	run(t, e, `
		local inv = getBot().inventory
		assert(inv:getItemCount(2) == 200)
		assert(inv:hasItem(2, 200))
		assert(inv:hasItem(2, 201) == false)
		assert(inv:hasItem(2, 256) == false, "256 wrapped to 0")
		assert(inv:hasItem(2, 456) == false, "456 wrapped to 200")
		assert(inv:hasItem(18, 0))
		assert(inv:hasItem(18, -1))
		assert(inv:getItemCount(65538) == 0, "65538 read item 2")
		assert(inv:hasItem(65538) == false)
		assert(inv:findItem(65538) == nil)
		assert(inv:getItemCount(-65534) == 0)
		assert(inv:findItem(2).amount == 200)
	`)
}

func TestIsInWorldFollowsMapData(t *testing.T) {
	e, s, _ := newTestEngine(t)
	run(t, e, `assert(getBot().isInWorld == false)`)

	var world bytes.Buffer
	binary.Write(&world, binary.LittleEndian, uint16(1))
	binary.Write(&world, binary.LittleEndian, uint32(0))
	binary.Write(&world, binary.LittleEndian, uint16(5))
	world.WriteString("START")
	binary.Write(&world, binary.LittleEndian, uint32(100))
	binary.Write(&world, binary.LittleEndian, uint32(60))
	s.HandleMessage(protocol.BuildGamePacketMessage(protocol.NewGamePacket(protocol.PacketSendMapData), world.Bytes()))

	run(t, e, `
		local bot = getBot()
		assert(bot.isInWorld, "not in world after map data")
		assert(bot.world.name == "START")
	`)
}

func TestItemLookups(t *testing.T) {
	e, _, _ := newTestEngine(t)
	run(t, e, `
		local dirt = getItemInfo(2)
		assert(dirt.name == "Dirt" and dirt.isCollidable)
		assert(getItemInfoByName("Fist").id == 18)
		assert(getItemInfo(12345) == nil)
	`)
}

func TestScriptErrorIsReported(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.Run(context.Background(), "bad", `error("nope")`)
	var se *ScriptError
	if !errors.As(err, &se) || se.Name != "bad" {
		t.Fatalf("err=%v", err)
	}
	if err := e.Run(context.Background(), "syntax", `this is not lua`); !errors.As(err, &se) {
		t.Fatalf("syntax err=%v", err)
	}
}

func TestSleepLetsCallbacksRun(t *testing.T) {
	e, _, _ := newTestEngine(t)
	done, err := e.Start(context.Background(), "waiter", `
		getBot():on("onConsole", function(text) seen = text end)
		while not seen do sleep(5) end
		assert(seen == "go")
	`)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.Start(context.Background(), "second", ``); !errors.Is(err, ErrScriptRunning) {
		t.Fatalf("second start err=%v", err)
	}

	deadline := time.After(2 * time.Second)
	for !e.HasSubscribers(events.CallbackConsole) {
		select {
		case <-deadline:
			t.Fatal("script never subscribed")
		case <-time.After(time.Millisecond):
		}
	}
	e.Notify(events.CallbackConsole, "go")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("script: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("script did not finish")
	}
}

func TestStopInterruptsSleep(t *testing.T) {
	e, _, _ := newTestEngine(t)
	done, err := e.Start(context.Background(), "loop", `while true do sleep(10) end`)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	e.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("err=%v want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("script did not stop")
	}
	if e.Running() {
		t.Fatal("engine still running")
	}
}

func TestCloseReleasesListeners(t *testing.T) {
	e, s, _ := newTestEngine(t)
	run(t, e, `getBot():on("onChat", function() end)`)
	e.Close()

	if e.HasSubscribers(events.CallbackChat) {
		t.Fatal("listener survived Close")
	}
	if err := e.Run(context.Background(), "late", ``); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v", err)
	}
	// The session no longer notifies the engine.
	s.HandleVariant(variantCall(variant.Text("OnConsoleMessage"), variant.Text("x")))
}
