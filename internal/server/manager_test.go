package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mori-project/mori/internal/config"
	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/network"
	"github.com/mori-project/mori/internal/protocol"
	"github.com/mori-project/mori/internal/session"
	"github.com/mori-project/mori/internal/variant"
)

// pipeDialer hands out in-memory connections and exposes the far ends.
type pipeDialer struct {
	addrs   chan string
	servers chan *network.Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{addrs: make(chan string, 8), servers: make(chan *network.Conn, 8)}
}

func (d *pipeDialer) Dial(_ context.Context, addr string) (Conn, error) {
	client, server := net.Pipe()
	d.addrs <- addr
	d.servers <- network.NewConn(server)
	return network.NewConn(client), nil
}

func (d *pipeDialer) next(t *testing.T) (string, *network.Conn) {
	t.Helper()
	select {
	case addr := <-d.addrs:
		return addr, <-d.servers
	case <-time.After(2 * time.Second):
		t.Fatal("no dial")
		return "", nil
	}
}

// frames reads messages from the server side of a pipe.
func frames(t *testing.T, c *network.Conn) <-chan protocol.Message {
	t.Helper()
	out := make(chan protocol.Message, 16)
	go func() {
		c.ReadLoop(context.Background(), func(b []byte) {
			if m, err := protocol.ParseMessage(b); err == nil {
				out <- m
			}
		})
		close(out)
	}()
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestManager(t *testing.T, dial DialFunc) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Items.Path = filepath.Join(t.TempDir(), "items.dat")
	cfg.Automation.AutoReconnect = false
	m := NewManager(context.Background(), Options{Config: cfg, Dial: dial})
	t.Cleanup(m.Shutdown)
	return m
}

func TestManager_CreateGetRemove(t *testing.T) {
	m := newTestManager(t, nil)

	a, err := m.Create(BotSpec{Name: "alpha"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(BotSpec{Name: "alpha"}); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate err=%v", err)
	}
	b, err := m.Create(BotSpec{Name: "beta", Credentials: session.Credentials{GrowID: "g", Password: "p"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if got, err := m.Get("beta"); err != nil || got != b {
		t.Fatalf("get by name: %v", err)
	}
	if got, err := m.Get(a.ID); err != nil || got != a {
		t.Fatalf("get by id: %v", err)
	}
	if list := m.List(); len(list) != 2 || list[0] != a {
		t.Fatalf("list=%v", list)
	}

	if err := m.Remove("alpha"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := m.Get(a.ID); !errors.Is(err, ErrBotNotFound) {
		t.Fatalf("err=%v", err)
	}
	if m.Count() != 1 {
		t.Fatalf("count=%d", m.Count())
	}
}

func TestInstance_ConnectLogsIn(t *testing.T) {
	d := newPipeDialer()
	m := newTestManager(t, d.Dial)
	inst, err := m.Create(BotSpec{Name: "bot", Credentials: session.Credentials{GrowID: "alice", Password: "pw"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := inst.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := inst.Connect(); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second connect err=%v", err)
	}

	addr, server := d.next(t)
	if addr != "127.0.0.1:17091" {
		t.Fatalf("dialed %s", addr)
	}
	in := frames(t, server)
	if err := server.Send(protocol.BuildTextMessage(protocol.MsgServerHello, "")); err != nil {
		t.Fatalf("hello: %v", err)
	}

	select {
	case msg := <-in:
		if msg.Type != protocol.MsgGenericText || !strings.Contains(msg.Text(), "tankIDName|alice\n") {
			t.Fatalf("login=%s %q", msg.Type, msg.Text())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no login packet")
	}
	if inst.Session.Phase() != events.PhaseConnectingToServer {
		t.Fatalf("phase=%s", inst.Session.Phase())
	}

	if err := inst.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if inst.Connected() || inst.Session.Connected() {
		t.Fatal("still connected")
	}
	if err := inst.Disconnect(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err=%v", err)
	}
}

func TestInstance_FollowsRedirect(t *testing.T) {
	d := newPipeDialer()
	m := newTestManager(t, d.Dial)
	inst, err := m.Create(BotSpec{Name: "bot"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := inst.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	_, first := d.next(t)
	frames(t, first)
	redirect := variant.NewList(
		variant.Text("OnSendToServer"),
		variant.Signed(17200),
		variant.Signed(42),
		variant.Signed(7),
		variant.Text("10.1.1.1|2|uuid"),
		variant.Signed(0),
	).Marshal()
	p := protocol.NewGamePacket(protocol.PacketCallFunction)
	p.Flags = protocol.FlagExtended
	p.ExtDataLength = uint32(len(redirect))
	if err := first.Send(protocol.BuildGamePacketMessage(p, redirect)); err != nil {
		t.Fatalf("send redirect: %v", err)
	}

	addr, second := d.next(t)
	if addr != "10.1.1.1:17200" {
		t.Fatalf("redirect dialed %s", addr)
	}
	in := frames(t, second)
	second.Send(protocol.BuildTextMessage(protocol.MsgServerHello, ""))
	select {
	case msg := <-in:
		if !strings.Contains(msg.Text(), "token|42\n") || !strings.Contains(msg.Text(), "doorID|2\n") {
			t.Fatalf("login after redirect %q", msg.Text())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no login after redirect")
	}
	inst.Disconnect()
}

func TestInstance_ScriptRunsAndStops(t *testing.T) {
	m := newTestManager(t, nil)
	inst, err := m.Create(BotSpec{Name: "bot"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	path := filepath.Join(t.TempDir(), "farm.lua")
	if err := os.WriteFile(path, []byte(`log("tick"); while true do sleep(5) end`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := inst.RunScriptFile(path, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	waitFor(t, "script log", func() bool {
		for _, l := range inst.Session.Runtime.Logs() {
			if l == "tick" {
				return true
			}
		}
		return false
	})
	if inst.ScriptName() != "farm.lua" {
		t.Fatalf("script=%s", inst.ScriptName())
	}

	if err := inst.StopScript(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if inst.Engine.Running() {
		t.Fatal("script still running")
	}
}

func TestFetchServerData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		fmt.Fprint(w, "server|10.0.0.9\nport|17093\ntype|1\nmeta|abc\nRTENDMARKERBS1001")
	}))
	defer srv.Close()

	sd, err := FetchServerData(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if sd.Host != "10.0.0.9" || sd.Port != 17093 {
		t.Fatalf("got %+v", sd)
	}

	if _, err := parseServerData("x", "maint|down\n"); err == nil {
		t.Fatal("expected error for missing server")
	}
}

func TestFetchServerData_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := FetchServerData(context.Background(), srv.Client(), srv.URL)
	var sde *ServerDataError
	if !errors.As(err, &sde) || sde.Status != http.StatusServiceUnavailable {
		t.Fatalf("err=%v", err)
	}
}
