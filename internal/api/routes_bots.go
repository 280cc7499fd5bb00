package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/server"
	"github.com/mori-project/mori/internal/session"
)

const botKey = "bot"

// botInfo is the list view of a bot.
type botInfo struct {
	session.Status
	Name      string `json:"name"`
	Display   string `json:"display_name"`
	Connected bool   `json:"connected"`
	Script    string `json:"script,omitempty"`
	Scripting bool   `json:"script_running"`
}

func describe(inst *server.Instance) botInfo {
	st := inst.Session.Status()
	return botInfo{
		Status:    st,
		Name:      inst.Name,
		Display:   st.Name,
		Connected: inst.Connected(),
		Script:    inst.ScriptName(),
		Scripting: inst.Engine.Running(),
	}
}

// loadBot resolves :id to a bot or aborts with 404.
func (s *Server) loadBot() gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, err := s.manager.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "bot not found", "id": c.Param("id")})
			c.Abort()
			return
		}
		c.Set(botKey, inst)
		c.Next()
	}
}

func botFrom(c *gin.Context) *server.Instance {
	return c.MustGet(botKey).(*server.Instance)
}

// handleListBots returns every bot, oldest first.
func (s *Server) handleListBots(c *gin.Context) {
	bots := s.manager.List()
	out := make([]botInfo, 0, len(bots))
	for _, b := range bots {
		out = append(out, describe(b))
	}
	c.JSON(http.StatusOK, gin.H{
		"bots":  out,
		"total": len(out),
	})
}

type createBotRequest struct {
	Name        string `json:"name" binding:"required"`
	GrowID      string `json:"growid"`
	Password    string `json:"password"`
	Connect     bool   `json:"connect"`
	Script      string `json:"script"`
	ScriptName  string `json:"script_name"`
	ServerHost  string `json:"server_host"`
	ServerPort  int    `json:"server_port"`
}

// handleCreateBot creates a bot, optionally starting a script and connecting.
func (s *Server) handleCreateBot(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.GrowID != "" && req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required with growid"})
		return
	}

	spec := server.BotSpec{
		Name:        req.Name,
		Credentials: session.Credentials{GrowID: req.GrowID, Password: req.Password},
	}
	if req.ServerHost != "" {
		port := req.ServerPort
		if port == 0 {
			port = s.cfg.Server.Port
		}
		if port < 1 || port > 65535 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server port"})
			return
		}
		spec.Server = &session.ServerData{Host: req.ServerHost, Port: port}
	}

	inst, err := s.manager.Create(spec)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, server.ErrDuplicateName) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if req.Script != "" {
		name := req.ScriptName
		if name == "" {
			name = "api.lua"
		}
		if err := inst.RunScript(name, req.Script); err != nil {
			log.Warn().Err(err).Str("bot", inst.ID).Msg("API: initial script rejected")
		}
	}
	if req.Connect {
		if err := inst.Connect(); err != nil {
			log.Warn().Err(err).Str("bot", inst.ID).Msg("API: initial connect failed")
		}
	}

	log.Info().Str("bot", inst.ID).Str("name", inst.Name).Msg("API: bot created")
	c.JSON(http.StatusCreated, describe(inst))
}

// handleRemoveBot closes and forgets a bot.
func (s *Server) handleRemoveBot(c *gin.Context) {
	id := c.Param("id")
	if err := s.manager.Remove(id); err != nil {
		if errors.Is(err, server.ErrBotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bot not found", "id": id})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed", "id": id})
}

// handleGetBot returns one bot.
func (s *Server) handleGetBot(c *gin.Context) {
	c.JSON(http.StatusOK, describe(botFrom(c)))
}

type inventoryItem struct {
	ID     uint16 `json:"id"`
	Name   string `json:"name"`
	Amount uint8  `json:"amount"`
}

// handleGetInventory returns the bot's items with their names.
func (s *Server) handleGetInventory(c *gin.Context) {
	inst := botFrom(c)
	inv, err := inst.Session.Inventory.TryInventory()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "inventory busy, retry"})
		return
	}

	items := inst.Session.Items()
	out := make([]inventoryItem, 0, len(inv.Items))
	for _, slot := range inv.Items {
		name := "Unknown"
		if it, ok := items.Get(uint32(slot.ID)); ok {
			name = it.Name
		}
		out = append(out, inventoryItem{ID: slot.ID, Name: name, Amount: slot.Amount})
	}
	c.JSON(http.StatusOK, gin.H{
		"gems":       inv.Gems,
		"size":       inv.Size,
		"item_count": len(out),
		"items":      out,
	})
}

type playerInfo struct {
	Name  string     `json:"name"`
	NetID uint32     `json:"net_id"`
	Mod   bool       `json:"mod,omitempty"`
	Pos   [2]float32 `json:"position"`
}

// handleGetWorld returns the current world header and its players. Pass
// tiles=true for the full tile grid.
func (s *Server) handleGetWorld(c *gin.Context) {
	inst := botFrom(c)
	w, err := inst.Session.World.TryWorld()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "world busy, retry"})
		return
	}
	if !w.InWorld() {
		c.JSON(http.StatusConflict, gin.H{"error": "bot is not in a world"})
		return
	}
	players, err := inst.Session.Players.TryPlayers()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "players busy, retry"})
		return
	}

	list := make([]playerInfo, 0, len(players))
	for _, p := range players {
		list = append(list, playerInfo{Name: p.Name, NetID: p.NetID, Mod: p.IsMod(), Pos: [2]float32{p.X, p.Y}})
	}
	resp := gin.H{
		"name":    w.Name,
		"width":   w.Width,
		"height":  w.Height,
		"players": list,
		"dropped": w.Dropped,
	}
	if withTiles, _ := strconv.ParseBool(c.Query("tiles")); withTiles {
		resp["tiles"] = w.Tiles
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetLogs returns the bot log. With persistence enabled, history older
// than the in-memory buffer is read from the store.
func (s *Server) handleGetLogs(c *gin.Context) {
	inst := botFrom(c)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil || limit < 1 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}

	if store := s.manager.LogStore(); store != nil && c.Query("source") != "memory" {
		entries, err := store.RecentLogs(inst.ID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		lines := make([]string, 0, len(entries))
		for _, e := range entries {
			lines = append(lines, e.Line)
		}
		c.JSON(http.StatusOK, gin.H{"logs": lines, "source": "store"})
		return
	}

	lines := inst.Session.Runtime.Logs()
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"logs": lines, "source": "memory"})
}
