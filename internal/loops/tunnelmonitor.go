// Package loops implements the background schedules the runtime starts
// alongside the broker connection: auto-eval on alert ingest, the trailing-
// stop tick, and the tunnel health monitor.
package loops

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/ibkr-bridge/internal/events"
	"github.com/aristath/ibkr-bridge/pkg/tunnel"
)

// TunnelMonitor drives tunnel.Prober on an interval and publishes each
// outcome onto the event bus.
type TunnelMonitor struct {
	prober *tunnel.Prober
	bus    *events.Bus
	log    zerolog.Logger
}

func NewTunnelMonitor(prober *tunnel.Prober, bus *events.Bus, log zerolog.Logger) *TunnelMonitor {
	return &TunnelMonitor{prober: prober, bus: bus, log: log.With().Str("component", "tunnel_monitor").Logger()}
}

// Run schedules the probe on a cron expression derived from interval
// ("@every <interval>") and drives it until ctx is cancelled. A malformed
// interval falls back to a plain time.Ticker so a bad cron spec can never
// silently stop monitoring the tunnel.
func (m *TunnelMonitor) Run(ctx context.Context, interval time.Duration) {
	m.RunCron(ctx, fmt.Sprintf("@every %s", interval), interval)
}

// RunCron drives the probe on an explicit cron expression (robfig/cron
// syntax with a leading seconds field, i.e. 6 fields, or "@every"/"@hourly"
// style; a standard 5-field expression does not parse). fallback is the
// interval used if spec fails to parse.
func (m *TunnelMonitor) RunCron(ctx context.Context, spec string, fallback time.Duration) {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(spec, func() { m.tick(ctx) }); err != nil {
		m.log.Error().Err(err).Str("spec", spec).Msg("invalid tunnel monitor cron schedule, falling back to a plain ticker")
		m.runTicker(ctx, fallback)
		return
	}
	c.Start()
	defer c.Stop()
	<-ctx.Done()
}

func (m *TunnelMonitor) runTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *TunnelMonitor) tick(ctx context.Context) {
	incident := m.prober.Tick(ctx)

	data := &events.TunnelStatusData{
		Connected:        incident == nil,
		ConsecutiveFails: m.prober.ConsecutiveFailures(),
		UptimePct:        m.prober.UptimePct(),
	}
	if incident != nil {
		data.Severity = string(incident.Severity)
		data.Reason = incident.Reason
		data.RestartAttempted = incident.RestartAttempted
		m.log.Warn().Str("severity", string(incident.Severity)).Str("reason", incident.Reason).Msg("tunnel incident")
	}
	m.bus.Publish(data)
}
