package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/scripting"
	"github.com/mori-project/mori/internal/server"
	"github.com/mori-project/mori/internal/session"
)

// actionStatus maps a session action error to an HTTP status.
func actionStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrNotInWorld):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoPath):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func actionFailed(c *gin.Context, inst *server.Instance, action string, err error) {
	log.Warn().Err(err).Str("bot", inst.ID).Str("action", action).Msg("API: action failed")
	c.JSON(actionStatus(err), gin.H{"error": err.Error(), "action": action})
}

// handleConnect starts the bot's connection loop.
func (s *Server) handleConnect(c *gin.Context) {
	inst := botFrom(c)
	if err := inst.Connect(); err != nil {
		if errors.Is(err, server.ErrAlreadyConnected) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("bot", inst.ID).Msg("API: bot connecting")
	c.JSON(http.StatusOK, gin.H{"status": "connecting", "id": inst.ID})
}

// handleDisconnect stops the bot's connection loop.
func (s *Server) handleDisconnect(c *gin.Context) {
	inst := botFrom(c)
	if err := inst.Disconnect(); err != nil {
		if errors.Is(err, server.ErrNotRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("bot", inst.ID).Msg("API: bot disconnected")
	c.JSON(http.StatusOK, gin.H{"status": "disconnected", "id": inst.ID})
}

type warpRequest struct {
	WorldName string `json:"world_name" binding:"required"`
}

// handleWarp asks the bot to join a world.
func (s *Server) handleWarp(c *gin.Context) {
	var req warpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst := botFrom(c)
	world := strings.ToUpper(strings.TrimSpace(req.WorldName))
	if err := inst.Session.Warp(world); err != nil {
		actionFailed(c, inst, "warp", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "warping", "world": world})
}

type sayRequest struct {
	Message string `json:"message" binding:"required"`
}

// handleSay sends a chat line.
func (s *Server) handleSay(c *gin.Context) {
	var req sayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst := botFrom(c)
	if err := inst.Session.Say(req.Message); err != nil {
		actionFailed(c, inst, "say", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

type moveRequest struct {
	Direction string `json:"direction" binding:"required"`
	Tiles     int    `json:"tiles"`
}

// moveOffset converts a direction and distance into a tile offset.
func moveOffset(direction string, tiles int) (int, int, bool) {
	if tiles == 0 {
		tiles = 1
	}
	switch strings.ToLower(direction) {
	case "up":
		return 0, -tiles, true
	case "down":
		return 0, tiles, true
	case "left":
		return -tiles, 0, true
	case "right":
		return tiles, 0, true
	}
	return 0, 0, false
}

// handleMove walks the bot by whole tiles.
func (s *Server) handleMove(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dx, dy, ok := moveOffset(req.Direction, req.Tiles)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid direction", "direction": req.Direction})
		return
	}
	inst := botFrom(c)
	if err := inst.Session.Walk(dx, dy); err != nil {
		actionFailed(c, inst, "move", err)
		return
	}
	x, y := inst.Session.Movement.Tile()
	c.JSON(http.StatusOK, gin.H{"status": "moved", "tile_x": x, "tile_y": y})
}

type findPathRequest struct {
	X *int `json:"x" binding:"required"`
	Y *int `json:"y" binding:"required"`
}

// handleFindPath walks to a tile in the background. The walk is paced by the
// find-path delay, so the request returns once it has started.
func (s *Server) handleFindPath(c *gin.Context) {
	var req findPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst := botFrom(c)
	if !inst.Session.World.InWorld() {
		actionFailed(c, inst, "find_path", session.ErrNotInWorld)
		return
	}

	x, y := *req.X, *req.Y
	go func() {
		if err := inst.Session.FindPath(context.Background(), x, y); err != nil {
			inst.Session.Log("find path failed: " + err.Error())
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "walking", "x": x, "y": y})
}

// handleCollect picks up nearby dropped items.
func (s *Server) handleCollect(c *gin.Context) {
	inst := botFrom(c)
	if !inst.Session.World.InWorld() {
		actionFailed(c, inst, "collect", session.ErrNotInWorld)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collected": inst.Session.Collect()})
}

// handleLeave exits the current world.
func (s *Server) handleLeave(c *gin.Context) {
	inst := botFrom(c)
	if err := inst.Session.Leave(); err != nil {
		actionFailed(c, inst, "leave", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

type scriptRequest struct {
	Name   string `json:"name"`
	Source string `json:"source" binding:"required"`
	// Restart stops a running script first.
	Restart bool `json:"restart"`
}

// handleRunScript starts a Lua script on the bot.
func (s *Server) handleRunScript(c *gin.Context) {
	var req scriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		req.Name = "api.lua"
	}

	inst := botFrom(c)
	if req.Restart {
		if err := inst.StopScript(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if err := inst.RunScript(req.Name, req.Source); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scripting.ErrScriptRunning) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("bot", inst.ID).Str("script", req.Name).Msg("API: script started")
	c.JSON(http.StatusAccepted, gin.H{"status": "running", "script": req.Name})
}

// handleStopScript stops the running script.
func (s *Server) handleStopScript(c *gin.Context) {
	inst := botFrom(c)
	if !inst.Engine.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "no script running"})
		return
	}
	if err := inst.StopScript(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "script": inst.ScriptName()})
}
