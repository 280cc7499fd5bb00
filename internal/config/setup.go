package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard asks for the game server and a first bot, then saves.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "Mori first run setup")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- Game server --")

	cfg.mu.Lock()
	cfg.Server.Host = promptString(reader, out, "Server host", cfg.Server.Host)
	cfg.Server.Port = promptInt(reader, out, "Server port", cfg.Server.Port)
	cfg.Server.SkipLoginURL = promptBool(reader, out, "Connect directly (skip server data lookup)", cfg.Server.SkipLoginURL)
	if !cfg.Server.SkipLoginURL {
		cfg.Server.ServerDataURL = promptString(reader, out, "Server data host", cfg.Server.Host)
		cfg.Server.UseHTTPS = promptBool(reader, out, "Use HTTPS for server data", cfg.Server.UseHTTPS)
	}
	cfg.Items.Path = promptString(reader, out, "Items file", cfg.Items.Path)
	cfg.mu.Unlock()

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- First bot --")

	bot := BotConfig{AutoConnect: true}
	bot.Name = promptString(reader, out, "Bot name", "bot1")
	bot.GrowID = promptString(reader, out, "GrowID (blank for guest)", "")
	if bot.GrowID != "" {
		bot.Password = promptString(reader, out, "Password", "")
	}
	bot.Script = promptString(reader, out, "Lua script to run (optional)", "")
	cfg.AddBot(bot)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- HTTP API --")

	cfg.mu.Lock()
	cfg.API.Enabled = promptBool(reader, out, "Enable HTTP API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = promptInt(reader, out, "API port", cfg.API.Port)
	}
	cfg.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = promptString(reader, out, "MQTT broker host", cfg.MQTT.BrokerURL)
	}
	cfg.mu.Unlock()

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed")
	}
	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "\nConfiguration saved to %s\n\n", cfg.Path())
	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
