// Package tunnel implements the HTTPS health prober and platform-restart
// sequence for the tunnel service the bridge depends on for inbound access.
package tunnel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// ConsecutiveFailureThreshold is the default M before a critical incident
// and restart attempt fire, default 3.
const ConsecutiveFailureThreshold = 3

// Severity tags an incident's urgency.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Incident is one probe-driven event worth surfacing.
type Incident struct {
	Severity         Severity
	Reason           string
	RestartAttempted bool
	At               time.Time
}

// PlatformController issues the service-restart sequence: query → stop →
// start. Implementations talk to whatever process supervisor manages the
// tunnel (systemd, a container orchestrator, a vendor CLI).
type PlatformController interface {
	QueryStatus(ctx context.Context) (running bool, err error)
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
}

// Prober runs the periodic health check and owns the uptime accounting.
type Prober struct {
	healthURL  string
	interval   time.Duration
	probeTimeout time.Duration
	controller PlatformController
	http       *retryablehttp.Client
	log        zerolog.Logger
	clock      func() time.Time

	mu                sync.Mutex
	consecutiveFails  int
	restartCount      int
	connected         bool
	processStart      time.Time
	lastTransition    time.Time
	connectedDuration time.Duration
}

func NewProber(healthURL string, interval, probeTimeout time.Duration, controller PlatformController, log zerolog.Logger) *Prober {
	client := retryablehttp.NewClient()
	client.RetryMax = 0 // retries are the caller's consecutive-failure counter, not transport-level
	client.Logger = nil

	now := time.Now()
	return &Prober{
		healthURL:    healthURL,
		interval:     interval,
		probeTimeout: probeTimeout,
		controller:   controller,
		http:         client,
		log:          log.With().Str("component", "tunnel_prober").Logger(),
		clock:        time.Now,
		processStart: now,
		lastTransition: now,
	}
}

// Run loops until ctx is cancelled, probing every interval.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs exactly one probe cycle and returns an incident if the probe
// produced one.
func (p *Prober) Tick(ctx context.Context) *Incident {
	_, err := p.probe(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	if err == nil {
		p.accumulateConnectedLocked(now)
		p.consecutiveFails = 0
		p.connected = true
		return nil
	}

	p.accumulateConnectedLocked(now)
	p.connected = false
	p.consecutiveFails++

	if p.consecutiveFails < ConsecutiveFailureThreshold {
		return &Incident{Severity: SeverityWarning, Reason: err.Error(), At: now}
	}

	restarted := p.attemptRestartLocked(ctx)
	return &Incident{Severity: SeverityCritical, Reason: err.Error(), RestartAttempted: restarted, At: now}
}

// accumulateConnectedLocked folds the time since the last transition into
// the connected-duration accumulator if the prober was connected during
// that span. Caller must hold mu.
func (p *Prober) accumulateConnectedLocked(now time.Time) {
	if p.connected {
		p.connectedDuration += now.Sub(p.lastTransition)
	}
	p.lastTransition = now
}

func (p *Prober) probe(ctx context.Context) (time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build health request: %w", err)
	}

	start := p.clock()
	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("health probe status %d", resp.StatusCode)
	}
	return p.clock().Sub(start), nil
}

// attemptRestartLocked runs the query → stop → start sequence. It does not
// reset the failure counter — only a subsequent successful probe does
// Caller must hold mu.
func (p *Prober) attemptRestartLocked(ctx context.Context) bool {
	p.restartCount++

	running, err := p.controller.QueryStatus(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("tunnel restart: query status failed")
		return false
	}
	if running {
		if err := p.controller.Stop(ctx); err != nil {
			p.log.Warn().Err(err).Msg("tunnel restart: stop failed")
			return false
		}
	}
	if err := p.controller.Start(ctx); err != nil {
		p.log.Warn().Err(err).Msg("tunnel restart: start failed")
		return false
	}
	return true
}

// UptimePct is the time-weighted uptime since process start: Σ
// dt_connected / Σ dt_total.
func (p *Prober) UptimePct() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	total := now.Sub(p.processStart)
	if total <= 0 {
		return 0
	}
	connected := p.connectedDuration
	if p.connected {
		connected += now.Sub(p.lastTransition)
	}
	return (connected.Seconds() / total.Seconds()) * 100
}

// RestartCount reports how many restart sequences have been attempted.
func (p *Prober) RestartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartCount
}

// ConsecutiveFailures reports the current run of failed probes.
func (p *Prober) ConsecutiveFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveFails
}
