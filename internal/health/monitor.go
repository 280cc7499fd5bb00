// Package health runs periodic checks over the bot fleet and the host:
// high latency, bots stuck connecting, and disk space. Problems are logged
// and emitted as health warnings; a heartbeat summarizes the fleet.
package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/config"
	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/session"
	"github.com/mori-project/mori/internal/util"
)

// Fleet reports the bots currently managed.
type Fleet interface {
	Statuses() []session.Status
	Uptime() time.Duration
}

// Monitor runs periodic health checks.
type Monitor struct {
	cfg      config.HealthConfig
	diskPath string
	eventBus *events.EventBus
	fleet    Fleet

	now       func() time.Time
	diskUsage func(path string) (util.DiskUsage, error)

	mu sync.Mutex
	// connecting records when each bot entered ConnectingToServer.
	connecting map[string]time.Time
	// warned suppresses repeat warnings until a check clears.
	warned map[string]bool
}

// NewMonitor creates a monitor. diskPath names the filesystem to watch.
func NewMonitor(cfg config.HealthConfig, diskPath string, bus *events.EventBus, fleet Fleet) *Monitor {
	return &Monitor{
		cfg:        cfg,
		diskPath:   diskPath,
		eventBus:   bus,
		fleet:      fleet,
		now:        time.Now,
		diskUsage:  util.GetDiskUsage,
		connecting: make(map[string]time.Time),
		warned:     make(map[string]bool),
	}
}

// Start launches every enabled check and blocks until ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"bots", m.cfg.CheckInterval, m.CheckBots},
		{"disk", m.cfg.DiskInterval, m.CheckDisk},
		{"heartbeat", m.cfg.HeartbeatInterval, m.Heartbeat},
	}

	var wg sync.WaitGroup
	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++
		check := check
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health monitor started")
	wg.Wait()
	log.Info().Msg("health monitor stopped")
}

// CheckBots warns about bots with high ping and bots that have been
// connecting for longer than the stuck threshold.
func (m *Monitor) CheckBots(ctx context.Context) {
	now := m.now()
	stuckAfter := time.Duration(m.cfg.StuckAfter) * time.Second

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, st := range m.fleet.Statuses() {
		seen[st.ID] = true

		if m.cfg.HighPingMillis > 0 {
			high := st.Ping > m.cfg.HighPingMillis
			if m.transition("ping:"+st.ID, high) {
				m.warn(ctx, st.ID, "ping", "warning",
					fmt.Sprintf("%s ping %dms exceeds %dms", st.Name, st.Ping, m.cfg.HighPingMillis),
					float64(st.Ping))
			}
		}

		if st.Phase != events.PhaseConnectingToServer {
			delete(m.connecting, st.ID)
			m.transition("stuck:"+st.ID, false)
			continue
		}
		since, ok := m.connecting[st.ID]
		if !ok {
			m.connecting[st.ID] = now
			continue
		}
		if stuckAfter <= 0 {
			continue
		}
		waited := now.Sub(since)
		if m.transition("stuck:"+st.ID, waited >= stuckAfter) {
			m.warn(ctx, st.ID, "stuck", "warning",
				fmt.Sprintf("%s has been connecting for %s", st.Name, waited.Round(time.Second)),
				waited.Seconds())
		}
	}

	for id := range m.connecting {
		if !seen[id] {
			delete(m.connecting, id)
		}
	}
	for key := range m.warned {
		if _, id, ok := strings.Cut(key, ":"); ok && !seen[id] {
			delete(m.warned, key)
		}
	}
}

// transition records whether a condition holds and reports whether it just
// started holding. Callers hold m.mu.
func (m *Monitor) transition(key string, bad bool) bool {
	was := m.warned[key]
	if bad {
		m.warned[key] = true
	} else {
		delete(m.warned, key)
	}
	return bad && !was
}

// CheckDisk warns when the watched filesystem is fuller than the threshold.
func (m *Monitor) CheckDisk(ctx context.Context) {
	if m.cfg.DiskWarnPercent <= 0 {
		return
	}
	usage, err := m.diskUsage(m.diskPath)
	if err != nil {
		log.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	log.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.transition("disk", usage.UsedPercent >= m.cfg.DiskWarnPercent) {
		return
	}
	level := "warning"
	if usage.UsedPercent >= 98 {
		level = "critical"
	}
	m.warn(ctx, "", "disk", level,
		fmt.Sprintf("disk usage at %.1f%% (%d GB free of %d GB total)", usage.UsedPercent, usage.Free, usage.Total),
		usage.UsedPercent)
}

// Heartbeat emits a fleet summary.
func (m *Monitor) Heartbeat(ctx context.Context) {
	hb := events.HeartbeatPayload{UptimeSeconds: m.fleet.Uptime().Seconds()}
	for _, st := range m.fleet.Statuses() {
		hb.Bots++
		if st.Phase == events.PhaseInWorld {
			hb.InWorld++
		}
		hb.Players += st.Players
	}
	if m.eventBus != nil {
		m.eventBus.Emit(ctx, events.NewEvent(events.EventHeartbeat, "", hb))
	}
}

func (m *Monitor) warn(ctx context.Context, source, check, level, msg string, value float64) {
	log.Warn().Str("check", check).Str("bot", source).Str("level", level).Msg(msg)
	if m.eventBus == nil {
		return
	}
	m.eventBus.Emit(ctx, events.NewEvent(events.EventHealthWarning, source, events.HealthWarningPayload{
		Check:   check,
		Level:   level,
		Message: msg,
		Value:   value,
	}))
}
