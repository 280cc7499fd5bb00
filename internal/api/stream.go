package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/events"
)

const (
	streamBuffer       = 256
	streamWriteTimeout = 5 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamPingEvery    = 25 * time.Second
)

// handleEvents upgrades to a websocket and streams the bot's events as JSON
// until the client goes away. Events are dropped for clients that fall
// behind.
func (s *Server) handleEvents(c *gin.Context) {
	inst := botFrom(c)
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("API: websocket upgrade failed")
		return
	}
	defer conn.Close()

	out := make(chan events.Event, streamBuffer)
	name := "api.stream." + uuid.NewString()
	s.eventBus.SubscribeAll(name, func(_ context.Context, ev events.Event) error {
		if ev.Source != inst.ID {
			return nil
		}
		select {
		case out <- ev:
		default:
		}
		return nil
	})
	defer s.eventBus.Unsubscribe("", name)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Writer goroutine.
	writeErr := make(chan error, 1)
	go func() {
		ping := time.NewTicker(streamPingEvery)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				writeErr <- ctx.Err()
				return
			case ev := <-out:
				b, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})
	// Client messages are ignored; reading drives pongs and close detection.
	for {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

	select {
	case <-writeErr:
	case <-time.After(500 * time.Millisecond):
	}
}
