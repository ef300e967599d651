package tunnel

import (
	"context"
	"fmt"
	"os/exec"
)

// SystemdController drives the tunnel's platform-restart sequence through
// systemctl ("systemctl stop/start <unit>").
type SystemdController struct {
	Unit string
}

func NewSystemdController(unit string) SystemdController {
	return SystemdController{Unit: unit}
}

func (c SystemdController) QueryStatus(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", c.Unit)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			// systemctl is-active exits non-zero when the unit is inactive;
			// that's a legitimate "not running" answer, not a query failure.
			_ = exitErr
			return false, nil
		}
		return false, fmt.Errorf("query tunnel unit status: %w", err)
	}
	return true, nil
}

func (c SystemdController) Stop(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "systemctl", "stop", c.Unit).Run(); err != nil {
		return fmt.Errorf("stop tunnel unit: %w", err)
	}
	return nil
}

func (c SystemdController) Start(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "systemctl", "start", c.Unit).Run(); err != nil {
		return fmt.Errorf("start tunnel unit: %w", err)
	}
	return nil
}

// NoopController is a PlatformController that reports the tunnel as always
// running and takes no restart action. It is the default when no systemd
// unit name is configured, so the prober can still count failures and
// surface incidents without attempting a restart it has no way to perform.
type NoopController struct{}

func (NoopController) QueryStatus(ctx context.Context) (bool, error) { return true, nil }
func (NoopController) Stop(ctx context.Context) error                { return nil }
func (NoopController) Start(ctx context.Context) error                { return nil }
