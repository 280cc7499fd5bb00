package network

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/mori-project/mori/internal/protocol"
)

func TestConn_SendAndReadLoop(t *testing.T) {
	client, server := net.Pipe()
	c := NewConn(client)
	peer := NewConn(server)

	got := make(chan []byte, 2)
	done := make(chan error, 1)
	go func() {
		done <- peer.ReadLoop(context.Background(), func(b []byte) { got <- b })
	}()

	msg := protocol.BuildTextMessage(protocol.MsgGenericText, "action|input\n|text|hi\n")
	if err := c.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case b := <-got:
		m, err := protocol.ParseMessage(b)
		if err != nil || m.Text() != "action|input\n|text|hi\n" {
			t.Fatalf("got %q err=%v", b, err)
		}
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}

	c.Disconnect()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("read loop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("read loop did not end")
	}
}

func TestConn_SendAfterDisconnect(t *testing.T) {
	client, _ := net.Pipe()
	c := NewConn(client)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if err := c.Send([]byte{1, 0, 0, 0}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v", err)
	}
}

func TestConn_ReadLoopStopsOnContext(t *testing.T) {
	client, _ := net.Pipe()
	c := NewConn(client)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.ReadLoop(ctx, func([]byte) {}) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("read loop ignored cancel")
	}
}

func TestDial_MeasuresHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		if nc, err := ln.Accept(); err == nil {
			nc.Close()
		}
	}()

	c, err := Dial(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Disconnect()
	if c.RoundTripTime() <= 0 {
		t.Fatal("no round trip estimate")
	}
}

func TestConn_RoundTripFollowsReplies(t *testing.T) {
	client, server := net.Pipe()
	c := NewConn(client)
	defer c.Disconnect()

	const delay = 30 * time.Millisecond
	go func() {
		for {
			data, err := protocol.ReadPacket(server)
			if err != nil {
				return
			}
			time.Sleep(delay)
			if err := protocol.WritePacket(server, data); err != nil {
				return
			}
		}
	}()

	got := make(chan struct{}, 1)
	go c.ReadLoop(context.Background(), func([]byte) { got <- struct{}{} })

	if c.RoundTripTime() != 0 {
		t.Fatalf("rtt before any exchange=%s", c.RoundTripTime())
	}
	if err := c.Send(protocol.BuildTextMessage(protocol.MsgGenericText, "action|refresh_item_data\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
	if rtt := c.RoundTripTime(); rtt < delay {
		t.Fatalf("rtt=%s want at least %s", rtt, delay)
	}
}
