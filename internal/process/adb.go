package process

import (
	"context"
	"fmt"
	"time"

	"github.com/terminail/autodroid-sub001/internal/device"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/config"
)

// ADBServerName identifies the supervised adb server in logs and stats.
const ADBServerName = "adb-server"

// ADBServer returns a Config that runs the adb server in the foreground and
// health-checks it with "adb devices". A nil runner uses device.ExecRunner.
func ADBServer(cfg config.ADBConfig, runner device.CommandRunner) Config {
	binary := cfg.Binary
	if binary == "" {
		binary = "adb"
	}
	if runner == nil {
		runner = device.ExecRunner{}
	}
	timeout := time.Duration(cfg.CommandTimeout) * time.Second

	c := DefaultConfig(ADBServerName, binary, []string{"-a", "nodaemon", "server", "start"})
	// Restarts never stop: the fleet is unusable without the server.
	c.MaxRestartAttempts = 0
	c.RestartDelay = time.Second
	c.MaxRestartDelay = time.Minute
	c.HealthCheck = func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if _, err := runner.Run(ctx, binary, "devices"); err != nil {
			return fmt.Errorf("adb devices: %w", err)
		}
		return nil
	}
	return c
}
