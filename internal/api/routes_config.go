package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/config"
	"github.com/mori-project/mori/internal/events"
)

const redacted = "********"

// handleGetConfig returns the configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	api := s.cfg.API
	if api.Token != "" {
		api.Token = redacted
	}
	bots := s.cfg.GetBots()
	for i := range bots {
		if bots[i].Password != "" {
			bots[i].Password = redacted
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"server":     s.cfg.Server,
		"items":      s.cfg.Items,
		"automation": s.cfg.Automation,
		"delays":     s.cfg.Delays,
		"api":        api,
		"mqtt":       s.cfg.MQTT,
		"logging":    s.cfg.Logging,
		"storage":    s.cfg.Storage,
		"bots":       bots,
	})
}

// handleSaveBotConfig adds or replaces a startup bot and saves the file.
func (s *Server) handleSaveBotConfig(c *gin.Context) {
	var bot config.BotConfig
	if err := c.ShouldBindJSON(&bot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous, existed := configuredBot(s.cfg, bot.Name)
	s.cfg.AddBot(bot)
	result := config.Validate(s.cfg)
	if !result.IsValid() {
		s.cfg.RemoveBot(bot.Name)
		if existed {
			s.cfg.AddBot(previous)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot", "details": result.Errors})
		return
	}
	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.NewEvent(events.EventConfigChanged, "api",
		events.ConfigChangedPayload{Section: "bots", Key: bot.Name}))
	log.Info().Str("bot", bot.Name).Msg("API: startup bot saved")

	c.JSON(http.StatusOK, gin.H{
		"status":   "saved",
		"name":     bot.Name,
		"warnings": result.Warnings,
	})
}

// handleRemoveBotConfig removes a startup bot and saves the file.
func (s *Server) handleRemoveBotConfig(c *gin.Context) {
	name := c.Param("name")
	if !s.cfg.RemoveBot(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not configured", "name": name})
		return
	}
	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.NewEvent(events.EventConfigChanged, "api",
		events.ConfigChangedPayload{Section: "bots", Key: name}))
	c.JSON(http.StatusOK, gin.H{"status": "removed", "name": name})
}

func configuredBot(cfg *config.Config, name string) (config.BotConfig, bool) {
	for _, b := range cfg.GetBots() {
		if b.Name == name {
			return b, true
		}
	}
	return config.BotConfig{}, false
}
