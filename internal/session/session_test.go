package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/itemdb"
	"github.com/mori-project/mori/internal/protocol"
	"github.com/mori-project/mori/internal/variant"
)

type fakeTransport struct {
	mu           sync.Mutex
	sent         []protocol.Message
	disconnected bool
}

func (f *fakeTransport) Send(data []byte) error {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

func (f *fakeTransport) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.Type != protocol.MsgGamePacket {
			out = append(out, m.Text())
		}
	}
	return out
}

func (f *fakeTransport) packets(t *testing.T) []protocol.GamePacket {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.GamePacket
	for _, m := range f.sent {
		if m.Type == protocol.MsgGamePacket {
			p, _, err := m.GamePacket()
			if err != nil {
				t.Fatalf("sent packet: %v", err)
			}
			out = append(out, p)
		}
	}
	return out
}

type notification struct {
	event string
	args  []any
}

type fakeNotifier struct {
	subscribed map[string]bool
	got        []notification
	onNotify   func(event string, args []any)
}

func (n *fakeNotifier) HasSubscribers(event string) bool { return n.subscribed[event] }

func (n *fakeNotifier) Notify(event string, args ...any) {
	if n.onNotify != nil {
		n.onNotify(event, args)
	}
	n.got = append(n.got, notification{event: event, args: args})
}

func (n *fakeNotifier) find(event string) (notification, bool) {
	for _, x := range n.got {
		if x.event == event {
			return x, true
		}
	}
	return notification{}, false
}

func newTestSession(t *testing.T, opts Options) (*Session, *fakeTransport, *fakeNotifier) {
	t.Helper()
	if opts.ItemsPath == "" {
		opts.ItemsPath = filepath.Join(t.TempDir(), "items.dat")
	}
	opts.ID = "test"
	s := New(opts)
	tr := &fakeTransport{}
	s.AttachTransport(tr)
	n := &fakeNotifier{subscribed: map[string]bool{}}
	s.SetNotifier(n)
	return s, tr, n
}

func call(values ...variant.Value) []byte {
	return variant.NewList(values...).Marshal()
}

const spawnOther = "spawn|avatar\nnetID|7\nuserID|1234\neid|1234|abc\nip|127.0.0.1\ncolrect|0|0|20|30\n" +
	"posXY|320|640\nname|`wAlice``\ntitleIcon|{}\ncountry|us\ninvis|0\nmstate|0\nsmstate|0\nonlineID|\n"

func TestSpawn_SelfRecordIsNotListed(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	self := "spawn|avatar\nnetID|3\nuserID|99\nname|me\ncountry|us\ntype|local\n"
	s.HandleVariant(call(variant.Text("OnSpawn"), variant.Text(self)))

	if s.Runtime.NetID() != 3 || s.Runtime.UserID() != 99 {
		t.Fatalf("identity=(%d,%d)", s.Runtime.NetID(), s.Runtime.UserID())
	}
	if s.Players.Len() != 0 {
		t.Fatalf("self record listed: %d players", s.Players.Len())
	}
}

func TestSpawn_NotifiesBeforeInsertAndOverwrites(t *testing.T) {
	s, _, n := newTestSession(t, Options{})
	var listedDuringNotify bool
	n.onNotify = func(event string, _ []any) {
		if event == events.CallbackPlayerJoin {
			_, listedDuringNotify = s.Players.Get(7)
		}
	}

	s.HandleVariant(call(variant.Text("OnSpawn"), variant.Text(spawnOther)))
	if listedDuringNotify {
		t.Fatal("player listed before join notification")
	}
	p, ok := s.Players.Get(7)
	if !ok || p.UserID != 1234 || p.Country != "us" || p.X != 320 || p.Y != 640 {
		t.Fatalf("player=%+v ok=%v", p, ok)
	}

	renamed := strings.Replace(spawnOther, "`wAlice``", "Bob", 1)
	s.HandleVariant(call(variant.Text("OnSpawn"), variant.Text(renamed)))
	if s.Players.Len() != 1 {
		t.Fatalf("players=%d want 1", s.Players.Len())
	}
	if p, _ := s.Players.Get(7); p.Name != "Bob" {
		t.Fatalf("name=%q want overwritten", p.Name)
	}
}

func TestSpawn_MissingFieldIsDropped(t *testing.T) {
	s, _, n := newTestSession(t, Options{})
	broken := strings.Replace(spawnOther, "userID|1234\n", "", 1)

	s.HandleVariant(call(variant.Text("OnSpawn"), variant.Text(broken)))
	if s.Players.Len() != 0 {
		t.Fatal("malformed spawn inserted a player")
	}
	if _, ok := n.find(events.CallbackPlayerJoin); ok {
		t.Fatal("malformed spawn notified")
	}
}

func TestSpawn_ModeratorTriggersLeave(t *testing.T) {
	s, tr, _ := newTestSession(t, Options{Automation: Automation{AutoLeaveOnMod: true}})
	mod := strings.Replace(spawnOther, "mstate|0", "mstate|1", 1)

	s.HandleVariant(call(variant.Text("OnSpawn"), variant.Text(mod)))

	texts := tr.texts()
	if len(texts) != 1 || texts[0] != "action|quit_to_exit\n" {
		t.Fatalf("sent=%q", texts)
	}
	if _, ok := s.Players.Get(7); !ok {
		t.Fatal("moderator not recorded")
	}
}

func TestRemove_UnknownIDStillNotifies(t *testing.T) {
	s, _, n := newTestSession(t, Options{})

	s.HandleVariant(call(variant.Text("OnRemove"), variant.Text("netID|42\npId|0\n")))

	got, ok := n.find(events.CallbackPlayerLeave)
	if !ok || got.args[0] != uint32(42) {
		t.Fatalf("leave notification=%+v ok=%v", got, ok)
	}
}

func TestRemove_DeletesPlayer(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})
	s.HandleVariant(call(variant.Text("OnSpawn"), variant.Text(spawnOther)))
	s.HandleVariant(call(variant.Text("OnRemove"), variant.Text("netID|7\n")))
	if s.Players.Len() != 0 {
		t.Fatal("player still listed")
	}
}

func writeItems(t *testing.T, path string, data []byte) uint32 {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write items: %v", err)
	}
	return protocol.ProtonHash(data)
}

func TestAcceptLogon_ChecksumMatchSwapsDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.dat")
	loader := itemdb.LoaderFunc(func(_ context.Context, raw []byte) (*itemdb.Database, error) {
		return itemdb.New([]itemdb.Item{{ID: 2, Name: "Dirt"}}), nil
	})
	s, tr, _ := newTestSession(t, Options{ItemsPath: path, Loader: loader})
	hash := writeItems(t, path, []byte("item data"))
	s.Runtime.setRedirecting(true)

	s.HandleVariant(call(variant.Text(fnAcceptLogon), variant.Unsigned(hash)))

	if texts := tr.texts(); len(texts) != 1 || texts[0] != actionEnterGame {
		t.Fatalf("sent=%q", texts)
	}
	if s.Items().Len() != 1 {
		t.Fatalf("items=%d want 1", s.Items().Len())
	}
	if s.Phase() != events.PhaseInGame {
		t.Fatalf("phase=%s", s.Phase())
	}
	if s.Runtime.Redirecting() {
		t.Fatal("redirect flag not cleared")
	}
}

func TestAcceptLogon_MismatchRequestsRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.dat")
	loaded := false
	loader := itemdb.LoaderFunc(func(_ context.Context, raw []byte) (*itemdb.Database, error) {
		loaded = true
		return itemdb.New([]itemdb.Item{{ID: 2}}), nil
	})
	s, tr, _ := newTestSession(t, Options{ItemsPath: path, Loader: loader})
	hash := writeItems(t, path, []byte("item data"))

	s.HandleVariant(call(variant.Text(fnAcceptLogon), variant.Unsigned(hash+1)))

	if texts := tr.texts(); len(texts) != 1 || texts[0] != actionRefreshData {
		t.Fatalf("sent=%q", texts)
	}
	if loaded || s.Items().Len() != 0 {
		t.Fatal("database replaced on mismatch")
	}
	if s.Phase() != events.PhaseFetchingServerData {
		t.Fatalf("phase=%s", s.Phase())
	}
}

func TestAcceptLogon_MissingFileRequestsRefresh(t *testing.T) {
	s, tr, _ := newTestSession(t, Options{})
	s.HandleVariant(call(variant.Text(fnAcceptLogon), variant.Unsigned(1)))
	if texts := tr.texts(); len(texts) != 1 || texts[0] != actionRefreshData {
		t.Fatalf("sent=%q", texts)
	}
}

func TestAcceptLogon_LoadFailureRequestsRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.dat")
	loader := itemdb.LoaderFunc(func(context.Context, []byte) (*itemdb.Database, error) {
		return nil, errors.New("corrupt")
	})
	s, tr, _ := newTestSession(t, Options{ItemsPath: path, Loader: loader})
	hash := writeItems(t, path, []byte("x"))

	s.HandleVariant(call(variant.Text(fnAcceptLogon), variant.Unsigned(hash)))
	if texts := tr.texts(); len(texts) != 1 || texts[0] != actionRefreshData {
		t.Fatalf("sent=%q", texts)
	}
}

func TestSetPos_UpdatesPositionAndNotifies(t *testing.T) {
	s, _, n := newTestSession(t, Options{})

	s.HandleVariant(call(variant.Text("OnSetPos"), variant.Vec2(100.5, 200.25)))

	if x, y := s.Movement.Position(); x != 100.5 || y != 200.25 {
		t.Fatalf("position=(%v,%v)", x, y)
	}
	got, ok := n.find(events.CallbackSetPos)
	if !ok || got.args[0] != float32(100.5) || got.args[1] != float32(200.25) {
		t.Fatalf("notification=%+v", got)
	}
	if tx, ty := s.Movement.Tile(); tx != 3 || ty != 6 {
		t.Fatalf("tile=(%d,%d)", tx, ty)
	}
}

func TestSetPos_WrongTypeIsDropped(t *testing.T) {
	s, _, n := newTestSession(t, Options{})
	s.HandleVariant(call(variant.Text("OnSetPos"), variant.Text("nope")))
	if x, y := s.Movement.Position(); x != 0 || y != 0 {
		t.Fatalf("position changed to (%v,%v)", x, y)
	}
	if len(n.got) != 0 {
		t.Fatalf("notified %+v", n.got)
	}
}

func TestHandleVariant_GarbageIsDropped(t *testing.T) {
	s, _, n := newTestSession(t, Options{})
	n.subscribed[events.CallbackVariant] = true

	s.HandleVariant(nil)
	s.HandleVariant([]byte{3, 0, 2, 0xff})

	if len(n.got) != 0 {
		t.Fatalf("notified %+v", n.got)
	}
}

func TestHandleVariant_TapSeesEveryList(t *testing.T) {
	s, _, n := newTestSession(t, Options{})
	n.subscribed[events.CallbackVariant] = true

	s.HandleVariant(call(variant.Text("OnSomethingNew"), variant.Signed(-1)))

	got, ok := n.find(events.CallbackVariant)
	if !ok {
		t.Fatal("tap not notified")
	}
	list := got.args[0].([]any)
	if list[0] != "OnSomethingNew" {
		t.Fatalf("list=%v", list)
	}
}

func TestTalkAndConsole(t *testing.T) {
	s, _, n := newTestSession(t, Options{})

	s.HandleVariant(call(variant.Text("OnTalkBubble"), variant.Signed(5), variant.Text("hi")))
	s.HandleVariant(call(variant.Text("OnConsoleMessage"), variant.Text("welcome")))

	chat, ok := n.find(events.CallbackChat)
	if !ok || chat.args[0] != int32(5) || chat.args[1] != "hi" {
		t.Fatalf("chat=%+v", chat)
	}
	console, ok := n.find(events.CallbackConsole)
	if !ok || console.args[0] != "welcome" {
		t.Fatalf("console=%+v", console)
	}
}

func TestSetBuxAndGrowID(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	s.HandleVariant(call(variant.Text("OnSetBux"), variant.Signed(150)))
	s.HandleVariant(call(variant.Text("SetHasGrowID"), variant.Unsigned(1), variant.Text("Mori"), variant.Text("")))

	if s.Inventory.Gems() != 150 {
		t.Fatalf("gems=%d", s.Inventory.Gems())
	}
	if s.Auth.DisplayName() != "Mori" {
		t.Fatalf("name=%q", s.Auth.DisplayName())
	}
}

func TestSendToServer_StoresRedirect(t *testing.T) {
	s, tr, _ := newTestSession(t, Options{})

	s.HandleVariant(call(
		variant.Text("OnSendToServer"),
		variant.Signed(17000),
		variant.Signed(555),
		variant.Signed(1234),
		variant.Text("10.0.0.2|0|abcd  "),
		variant.Signed(1),
	))

	if got := s.Auth.ServerData(); got.Host != "10.0.0.2" || got.Port != 17000 {
		t.Fatalf("server=%+v", got)
	}
	info := s.Auth.LoginInfo()
	if info.Token != "555" || info.UserID != "1234" || info.DoorID != "0" || info.UUID != "abcd" || info.AAT != "1" {
		t.Fatalf("login=%+v", info)
	}
	if !s.Runtime.Redirecting() || !tr.disconnected {
		t.Fatalf("redirecting=%v disconnected=%v", s.Runtime.Redirecting(), tr.disconnected)
	}
	if !strings.Contains(s.LoginPacket(), "token|555\n") {
		t.Fatalf("login packet lacks token: %q", s.LoginPacket())
	}
}

func TestDialog_DropHandlerFiresOnce(t *testing.T) {
	s, tr, n := newTestSession(t, Options{})

	if err := s.Drop(2, 10); err != nil {
		t.Fatalf("drop: %v", err)
	}
	s.HandleVariant(call(variant.Text("OnDialogRequest"), variant.Text("drop dialog")))
	s.HandleVariant(call(variant.Text("OnDialogRequest"), variant.Text("another dialog")))

	want := []string{
		"action|drop\n|itemID|2\n",
		"action|dialog_return\ndialog_name|drop_item\nitemID|2|\ncount|10\n",
	}
	texts := tr.texts()
	if len(texts) != len(want) {
		t.Fatalf("sent=%q", texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("sent[%d]=%q want %q", i, texts[i], want[i])
		}
	}
	if _, ok := n.find(events.CallbackDialog); !ok {
		t.Fatal("dialog not notified")
	}
}

func TestDialog_GazetteIsDismissed(t *testing.T) {
	s, tr, _ := newTestSession(t, Options{})
	s.HandleVariant(call(variant.Text("OnDialogRequest"), variant.Text("set_default_color|`o\nadd_label|The Growtopia Gazette|")))
	if texts := tr.texts(); len(texts) != 1 || texts[0] != gazetteReply {
		t.Fatalf("sent=%q", texts)
	}
}

func TestTryReadsDoNotBlock(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	s.World.mu.Lock()
	s.Players.mu.Lock()
	s.Inventory.mu.Lock()
	s.Auth.mu.Lock()

	if _, err := s.World.TryWorld(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("TryWorld err=%v", err)
	}
	if _, err := s.Players.TryPlayers(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("TryPlayers err=%v", err)
	}
	if _, err := s.Inventory.TryInventory(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("TryInventory err=%v", err)
	}
	if _, err := s.Auth.TryLoginInfo(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("TryLoginInfo err=%v", err)
	}
	if s.World.TryInWorld() {
		t.Fatal("TryInWorld reported true while busy")
	}

	s.Auth.mu.Unlock()
	s.Inventory.mu.Unlock()
	s.Players.mu.Unlock()
	s.World.mu.Unlock()
}

func TestStatus_BusySubsystemsUsePlaceholders(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})
	s.Auth.setDisplayName("Mori")

	s.Auth.mu.Lock()
	st := s.Status()
	s.Auth.mu.Unlock()

	if st.Name != "Connecting..." {
		t.Fatalf("name=%q", st.Name)
	}
	if st := s.Status(); st.Name != "Mori" || st.World != "" {
		t.Fatalf("status=%+v", st)
	}
}

func gamePacketMessage(p protocol.GamePacket, ext []byte) []byte {
	return protocol.BuildGamePacketMessage(p, ext)
}

func TestHandleMessage_InventoryState(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	var ext bytes.Buffer
	ext.WriteByte(1)
	binary.Write(&ext, binary.LittleEndian, uint32(16))
	binary.Write(&ext, binary.LittleEndian, uint16(2))
	binary.Write(&ext, binary.LittleEndian, []Slot{{ID: 18, Amount: 1}, {ID: 2, Amount: 200}})

	s.HandleMessage(gamePacketMessage(protocol.NewGamePacket(protocol.PacketSendInventoryState), ext.Bytes()))

	if size, count := s.Inventory.SizeAndCount(); size != 16 || count != 2 {
		t.Fatalf("size=%d count=%d", size, count)
	}
	if !s.Inventory.Has(2, 200) || s.Inventory.Has(2, 201) {
		t.Fatal("Has disagrees with slot amount")
	}

	mod := protocol.NewGamePacket(protocol.PacketModifyItemInventory)
	mod.Value = 2
	mod.JumpCount = 50
	s.HandleMessage(gamePacketMessage(mod, nil))
	if got := s.Inventory.Count(2); got != 150 {
		t.Fatalf("count=%d want 150", got)
	}
}

func TestHandleMessage_HelloSendsLogin(t *testing.T) {
	s, tr, _ := newTestSession(t, Options{Credentials: Credentials{GrowID: "mori", Password: "pw"}})

	s.HandleMessage(protocol.BuildTextMessage(protocol.MsgServerHello, ""))

	texts := tr.texts()
	if len(texts) != 1 || !strings.HasPrefix(texts[0], "tankIDName|mori\ntankIDPass|pw\n") {
		t.Fatalf("sent=%q", texts)
	}
}

func TestHandleMessage_CallFunctionAndMapData(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	fn := protocol.NewGamePacket(protocol.PacketCallFunction)
	s.HandleMessage(gamePacketMessage(fn, call(variant.Text("OnSetBux"), variant.Signed(7))))
	if s.Inventory.Gems() != 7 {
		t.Fatalf("gems=%d", s.Inventory.Gems())
	}

	var world bytes.Buffer
	binary.Write(&world, binary.LittleEndian, uint16(1))
	binary.Write(&world, binary.LittleEndian, uint32(0))
	binary.Write(&world, binary.LittleEndian, uint16(5))
	world.WriteString("START")
	binary.Write(&world, binary.LittleEndian, uint32(100))
	binary.Write(&world, binary.LittleEndian, uint32(60))

	s.HandleMessage(gamePacketMessage(protocol.NewGamePacket(protocol.PacketSendMapData), world.Bytes()))
	if !s.World.InWorld() || s.World.Name() != "START" {
		t.Fatalf("world=%q", s.World.Name())
	}
	if s.Phase() != events.PhaseInWorld {
		t.Fatalf("phase=%s", s.Phase())
	}
}

func TestDroppedItemsAndCollect(t *testing.T) {
	s, tr, _ := newTestSession(t, Options{})
	s.World.replace(World{Name: "START", Width: 10, Height: 10})
	s.Runtime.setIdentity(3, 99)

	near := protocol.NewGamePacket(protocol.PacketItemChangeObject)
	near.NetID = ^uint32(0)
	near.Value = 2
	near.FloatVar = 5
	near.VecX, near.VecY = 32, 32
	far := near
	far.VecX = 3200
	s.HandleMessage(gamePacketMessage(near, nil))
	s.HandleMessage(gamePacketMessage(far, nil))

	if got := len(s.World.Dropped()); got != 2 {
		t.Fatalf("dropped=%d", got)
	}
	if n := s.Collect(); n != 1 {
		t.Fatalf("collected=%d want 1", n)
	}
	pkts := tr.packets(t)
	if len(pkts) != 1 || pkts[0].Type != protocol.PacketItemActivateObjectRequest || pkts[0].Value != 1 {
		t.Fatalf("packets=%+v", pkts)
	}

	// The server confirms the pickup by removing uid 1 on behalf of the bot.
	picked := protocol.NewGamePacket(protocol.PacketItemChangeObject)
	picked.NetID = 3
	picked.Value = 1
	s.HandleMessage(gamePacketMessage(picked, nil))
	if s.Inventory.Count(2) != 5 {
		t.Fatalf("inventory count=%d want 5", s.Inventory.Count(2))
	}
	if got := len(s.World.Dropped()); got != 1 {
		t.Fatalf("dropped=%d after pickup", got)
	}
}

func TestFindPath_WalksAroundBlocks(t *testing.T) {
	items := itemdb.NewStore(itemdb.New([]itemdb.Item{{ID: 8, Name: "Bedrock", CollisionType: 1}}))
	s, tr, _ := newTestSession(t, Options{Items: items})
	s.SetFindPathDelay(0)
	s.SetAutoCollect(false)

	tiles := make([]Tile, 3*3)
	for i := range tiles {
		tiles[i] = Tile{X: uint32(i % 3), Y: uint32(i / 3)}
	}
	tiles[1].Foreground = 8 // (1,0)
	tiles[4].Foreground = 8 // (1,1)
	s.World.replace(World{Name: "MAZE", Width: 3, Height: 3, Tiles: tiles})

	if err := s.FindPath(context.Background(), 2, 0); err != nil {
		t.Fatalf("find path: %v", err)
	}
	if tx, ty := s.Movement.Tile(); tx != 2 || ty != 0 {
		t.Fatalf("ended at (%d,%d)", tx, ty)
	}
	if got := len(tr.packets(t)); got != 6 {
		t.Fatalf("steps=%d want 6", got)
	}

	if err := s.FindPath(context.Background(), 1, 1); !errors.Is(err, ErrNoPath) {
		t.Fatalf("err=%v want ErrNoPath", err)
	}
}

func TestActions_NeedTransport(t *testing.T) {
	s := New(Options{ID: "offline"})
	if err := s.Say("hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v", err)
	}
	if err := s.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v", err)
	}
}

func TestRuntimeLogRing(t *testing.T) {
	var sunk []string
	s := New(Options{ID: "b", LogCapacity: 2, LogSink: func(_, line string) { sunk = append(sunk, line) }})
	s.Log("a")
	s.Log("b")
	s.Log("c")
	if got := s.Runtime.Logs(); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("logs=%q", got)
	}
	if len(sunk) != 3 {
		t.Fatalf("sink got %d lines", len(sunk))
	}
}

func TestConnectionLifecycle(t *testing.T) {
	s, tr, _ := newTestSession(t, Options{})
	s.DetachTransport()

	s.OnConnected(tr, ServerData{Host: "127.0.0.1", Port: 17091})
	if s.Phase() != events.PhaseConnectingToServer || !s.Connected() {
		t.Fatalf("phase=%s connected=%v", s.Phase(), s.Connected())
	}

	s.OnDisconnected("closed")
	if s.Phase() != events.PhaseFetchingServerData || s.Connected() {
		t.Fatalf("phase=%s connected=%v", s.Phase(), s.Connected())
	}

	s.OnConnected(tr, ServerData{Host: "127.0.0.1", Port: 17091})
	s.HandleVariant(call(
		variant.Text("OnSendToServer"),
		variant.Signed(17000),
		variant.Signed(1),
		variant.Signed(2),
		variant.Text("10.0.0.2|0|u"),
		variant.Signed(0),
	))
	s.OnDisconnected("redirect")
	if s.Phase() != events.PhaseConnectingToServer {
		t.Fatalf("redirect reset phase to %s", s.Phase())
	}
}

func TestResetLoginForgetsRedirect(t *testing.T) {
	s, _, _ := newTestSession(t, Options{Server: ServerData{Host: "login", Port: 1}})
	s.HandleVariant(call(
		variant.Text("OnSendToServer"),
		variant.Signed(17000),
		variant.Signed(9),
		variant.Signed(2),
		variant.Text("10.0.0.2|0|u"),
		variant.Signed(0),
	))

	s.ResetLogin(ServerData{Host: "login", Port: 1})

	if s.Runtime.Redirecting() {
		t.Fatal("still redirecting")
	}
	if got := s.Auth.ServerData(); got.Host != "login" {
		t.Fatalf("server=%+v", got)
	}
	if strings.Contains(s.LoginPacket(), "token|") {
		t.Fatalf("stale token in %q", s.LoginPacket())
	}
}
