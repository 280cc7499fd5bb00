// Package cli implements the interactive command line for managing bots from
// the terminal that started the process.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/mori-project/mori/internal/config"
	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/server"
	"github.com/mori-project/mori/internal/session"
	"github.com/mori-project/mori/internal/util"
)

var errUsage = errors.New("usage")

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *server.Manager
	in       io.Reader
	out      io.Writer
}

// NewCLI creates a CLI reading commands from in and writing to out.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, manager *server.Manager, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		in:       in,
		out:      out,
	}
}

// Start reads commands until ctx ends, input is exhausted or quit is typed.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nMori CLI ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(c.out, "mori> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

type command struct {
	usage string
	help  string
	run   func(c *CLI, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"bots":       {"bots", "List bots", (*CLI).cmdBots},
	"status":     {"status <bot>", "Show one bot in detail", (*CLI).cmdStatus},
	"create":     {"create <name> [growid password]", "Create a bot", (*CLI).cmdCreate},
	"remove":     {"remove <bot>", "Close and remove a bot", (*CLI).cmdRemove},
	"connect":    {"connect <bot>", "Connect a bot", (*CLI).cmdConnect},
	"disconnect": {"disconnect <bot>", "Disconnect a bot", (*CLI).cmdDisconnect},
	"warp":       {"warp <bot> <world>", "Join a world", (*CLI).cmdWarp},
	"say":        {"say <bot> <text>", "Send a chat line", (*CLI).cmdSay},
	"move":       {"move <bot> <up|down|left|right> [tiles]", "Walk by whole tiles", (*CLI).cmdMove},
	"collect":    {"collect <bot>", "Pick up nearby items", (*CLI).cmdCollect},
	"leave":      {"leave <bot>", "Leave the current world", (*CLI).cmdLeave},
	"players":    {"players <bot>", "List players in the bot's world", (*CLI).cmdPlayers},
	"inventory":  {"inventory <bot>", "List the bot's items", (*CLI).cmdInventory},
	"logs":       {"logs <bot> [n]", "Show the last n log lines", (*CLI).cmdLogs},
	"run":        {"run <bot> <file.lua>", "Start a script", (*CLI).cmdRun},
	"stop":       {"stop <bot>", "Stop the running script", (*CLI).cmdStop},
	"system":     {"system", "Show host resource usage", (*CLI).cmdSystem},
}

var order = []string{
	"bots", "status", "create", "remove", "connect", "disconnect", "warp", "say", "move",
	"collect", "leave", "players", "inventory", "logs", "run", "stop", "system",
}

// execute processes a single CLI command and reports whether to quit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
		return false, nil
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down Mori...")
		if c.eventBus != nil {
			c.eventBus.Emit(ctx, events.NewEvent(events.EventShutdown, "cli", nil))
		}
		return true, nil
	}

	command, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
		return false, nil
	}
	err := command.run(c, ctx, args)
	if errors.Is(err, errUsage) {
		return false, fmt.Errorf("usage: %s", command.usage)
	}
	return false, err
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Command", "Description"})
	tw.SetAutoWrapText(false)
	for _, name := range order {
		tw.Append([]string{commands[name].usage, commands[name].help})
	}
	tw.Append([]string{"quit", "Shut down Mori"})
	tw.Render()
}

// bot resolves the first argument to a bot.
func (c *CLI) bot(args []string, need int) (*server.Instance, error) {
	if len(args) < need {
		return nil, errUsage
	}
	return c.manager.Get(args[0])
}

func (c *CLI) cmdBots(_ context.Context, _ []string) error {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Name", "ID", "Phase", "World", "Gems", "Ping", "Script"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, inst := range c.manager.List() {
		st := inst.Session.Status()
		world := st.World
		if world == "" {
			world = "-"
		}
		script := inst.ScriptName()
		if script == "" {
			script = "-"
		} else if !inst.Engine.Running() {
			script += " (stopped)"
		}
		tw.Append([]string{
			inst.Name,
			shortID(inst.ID),
			st.Phase.String(),
			world,
			strconv.Itoa(int(st.Gems)),
			fmt.Sprintf("%dms", st.Ping),
			script,
		})
	}
	tw.Render()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (c *CLI) cmdStatus(_ context.Context, args []string) error {
	inst, err := c.bot(args, 1)
	if err != nil {
		return err
	}
	st := inst.Session.Status()
	fmt.Fprintf(c.out, "  Name:       %s (%s)\n", inst.Name, st.Name)
	fmt.Fprintf(c.out, "  ID:         %s\n", inst.ID)
	fmt.Fprintf(c.out, "  Phase:      %s\n", st.Phase)
	fmt.Fprintf(c.out, "  Connected:  %v\n", inst.Connected())
	fmt.Fprintf(c.out, "  World:      %s\n", st.World)
	fmt.Fprintf(c.out, "  Position:   %.0f, %.0f\n", st.X, st.Y)
	fmt.Fprintf(c.out, "  Gems:       %d\n", st.Gems)
	fmt.Fprintf(c.out, "  Ping:       %dms\n", st.Ping)
	fmt.Fprintf(c.out, "  Players:    %d\n", st.Players)
	fmt.Fprintf(c.out, "  Script:     %s (running: %v)\n", inst.ScriptName(), inst.Engine.Running())
	return nil
}

func (c *CLI) cmdCreate(_ context.Context, args []string) error {
	if len(args) != 1 && len(args) != 3 {
		return errUsage
	}
	spec := server.BotSpec{Name: args[0]}
	if len(args) == 3 {
		spec.Credentials = session.Credentials{GrowID: args[1], Password: args[2]}
	}
	inst, err := c.manager.Create(spec)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Created %s (%s)\n", inst.Name, inst.ID)
	return nil
}

func (c *CLI) cmdRemove(_ context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	if err := c.manager.Remove(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Removed %s\n", args[0])
	return nil
}

func (c *CLI) cmdConnect(_ context.Context, args []string) error {
	inst, err := c.bot(args, 1)
	if err != nil {
		return err
	}
	if err := inst.Connect(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s connecting\n", inst.Name)
	return nil
}

func (c *CLI) cmdDisconnect(_ context.Context, args []string) error {
	inst, err := c.bot(args, 1)
	if err != nil {
		return err
	}
	if err := inst.Disconnect(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s disconnected\n", inst.Name)
	return nil
}

func (c *CLI) cmdWarp(_ context.Context, args []string) error {
	inst, err := c.bot(args, 2)
	if err != nil {
		return err
	}
	return inst.Session.Warp(strings.ToUpper(args[1]))
}

func (c *CLI) cmdSay(_ context.Context, args []string) error {
	inst, err := c.bot(args, 2)
	if err != nil {
		return err
	}
	return inst.Session.Say(strings.Join(args[1:], " "))
}

func (c *CLI) cmdMove(_ context.Context, args []string) error {
	inst, err := c.bot(args, 2)
	if err != nil {
		return err
	}
	tiles := 1
	if len(args) > 2 {
		if tiles, err = strconv.Atoi(args[2]); err != nil || tiles < 1 {
			return fmt.Errorf("invalid tile count: %s", args[2])
		}
	}
	var dx, dy int
	switch strings.ToLower(args[1]) {
	case "up":
		dy = -tiles
	case "down":
		dy = tiles
	case "left":
		dx = -tiles
	case "right":
		dx = tiles
	default:
		return fmt.Errorf("invalid direction: %s", args[1])
	}
	return inst.Session.Walk(dx, dy)
}

func (c *CLI) cmdCollect(_ context.Context, args []string) error {
	inst, err := c.bot(args, 1)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Collected %d items\n", inst.Session.Collect())
	return nil
}

func (c *CLI) cmdLeave(_ context.Context, args []string) error {
	inst, err := c.bot(args, 1)
	if err != nil {
		return err
	}
	return inst.Session.Leave()
}

func (c *CLI) cmdPlayers(_ context.Context, args []string) error {
	inst, err := c.bot(args, 1)
	if err != nil {
		return err
	}
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Net ID", "Name", "Country", "Tile", "Mod"})
	tw.SetAutoWrapText(false)
	for _, p := range inst.Session.Players.List() {
		mod := ""
		if p.IsMod() {
			mod = "yes"
		}
		tw.Append([]string{
			strconv.FormatUint(uint64(p.NetID), 10),
			p.Name,
			p.Country,
			fmt.Sprintf("%d, %d", session.TileCoord(p.X), session.TileCoord(p.Y)),
			mod,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdInventory(_ context.Context, args []string) error {
	inst, err := c.bot(args, 1)
	if err != nil {
		return err
	}
	inv := inst.Session.Inventory.Snapshot()
	items := inst.Session.Items()

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Item", "Amount"})
	tw.SetAutoWrapText(false)
	tw.SetFooter([]string{"", "Gems", strconv.Itoa(int(inv.Gems))})
	for _, slot := range inv.Items {
		name := "?"
		if it, ok := items.Get(uint32(slot.ID)); ok {
			name = it.Name
		}
		tw.Append([]string{strconv.Itoa(int(slot.ID)), name, strconv.Itoa(int(slot.Amount))})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdLogs(_ context.Context, args []string) error {
	inst, err := c.bot(args, 1)
	if err != nil {
		return err
	}
	n := 20
	if len(args) > 1 {
		if n, err = strconv.Atoi(args[1]); err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[1])
		}
	}
	lines := inst.Session.Runtime.Logs()
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, l := range lines {
		fmt.Fprintln(c.out, l)
	}
	return nil
}

func (c *CLI) cmdRun(_ context.Context, args []string) error {
	inst, err := c.bot(args, 2)
	if err != nil {
		return err
	}
	if err := inst.RunScriptFile(args[1], false); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s running %s\n", inst.Name, args[1])
	return nil
}

func (c *CLI) cmdStop(_ context.Context, args []string) error {
	inst, err := c.bot(args, 1)
	if err != nil {
		return err
	}
	return inst.StopScript()
}

func (c *CLI) cmdSystem(_ context.Context, _ []string) error {
	info := util.GetSystemInfo()
	usage := util.GetUsage()
	fmt.Fprintf(c.out, "  Host:       %s (%s/%s)\n", info.Hostname, info.OS, info.Architecture)
	fmt.Fprintf(c.out, "  CPU:        %s x%d, %.1f%% used\n", info.CPUModel, info.CPUCores, usage.CPUPercent)
	fmt.Fprintf(c.out, "  Memory:     %d MB, %.1f%% used\n", info.TotalMemory, usage.MemoryUsedPercent)
	fmt.Fprintf(c.out, "  Process:    %d MB resident, %d goroutines\n", usage.ProcessRSSMB, usage.Goroutines)
	fmt.Fprintf(c.out, "  Bots:       %d (uptime %s)\n", c.manager.Count(), c.manager.Uptime().Round(time.Second))
	return nil
}
