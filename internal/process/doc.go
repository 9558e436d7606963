// Package process supervises long-running child processes.
//
// fleetd uses it to own the adb server when registry.adb.managed is set, so
// that a crashed or wedged server is restarted before the next enumeration
// poll notices every device gone.
//
// Features:
//   - Start/stop with SIGTERM to the process group, SIGKILL after a grace period
//   - Restart on failure with exponential backoff, reset after a stable run
//   - Periodic health checks that kill a hung child after repeated failures
//   - Line-by-line capture of stdout/stderr into the logger
//
// Example usage:
//
//	mgr := process.NewManager(process.ADBServer(cfg.Registry.ADB, nil))
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
