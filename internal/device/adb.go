package device

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args, bounded by ctx.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

const defaultADBTimeout = 10 * time.Second

// ADBEnumerator lists reachable devices through the adb binary.
type ADBEnumerator struct {
	binary  string
	runner  CommandRunner
	timeout time.Duration
	logger  Logger
	now     func() time.Time
}

// NewADBEnumerator creates an enumerator for the given adb binary.
// A nil runner uses ExecRunner.
func NewADBEnumerator(binary string, runner CommandRunner, timeout time.Duration) *ADBEnumerator {
	if binary == "" {
		binary = "adb"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if timeout <= 0 {
		timeout = defaultADBTimeout
	}
	return &ADBEnumerator{
		binary:  binary,
		runner:  runner,
		timeout: timeout,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for per-device property failures.
func (e *ADBEnumerator) SetLogger(logger Logger) {
	e.logger = logger
}

// Enumerate runs `adb devices -l` and enriches every device in the
// "device" state with model, OS version and battery level. Property
// lookups that fail are logged and leave the field unreported.
func (e *ADBEnumerator) Enumerate(ctx context.Context) ([]Observation, error) {
	out, err := e.run(ctx, "devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("%w: adb devices: %w", ErrEnumerationFailed, err)
	}

	entries := parseDeviceList(out)
	observations := make([]Observation, 0, len(entries))
	for _, entry := range entries {
		obs := Observation{
			ID:             entry.serial,
			Name:           entry.model,
			Model:          entry.model,
			BatteryLevel:   BatteryUnknown,
			ConnectionType: connectionTypeForSerial(entry.serial),
			Source:         SourceADB,
		}
		e.enrich(ctx, &obs)
		obs.At = e.now()
		observations = append(observations, obs)
	}
	return observations, nil
}

func (e *ADBEnumerator) enrich(ctx context.Context, obs *Observation) {
	if model, err := e.shell(ctx, obs.ID, "getprop", "ro.product.model"); err != nil {
		e.logger.Debug("adb getprop model failed", "device_id", obs.ID, "error", err)
	} else if model != "" {
		obs.Model = model
		if obs.Name == "" {
			obs.Name = model
		}
	}

	if version, err := e.shell(ctx, obs.ID, "getprop", "ro.build.version.release"); err != nil {
		e.logger.Debug("adb getprop version failed", "device_id", obs.ID, "error", err)
	} else {
		obs.OSVersion = version
	}

	battery, err := e.shell(ctx, obs.ID, "dumpsys", "battery")
	if err != nil {
		e.logger.Debug("adb dumpsys battery failed", "device_id", obs.ID, "error", err)
		return
	}
	if level, ok := parseBatteryLevel(battery); ok {
		obs.BatteryLevel = level
	}
}

func (e *ADBEnumerator) shell(ctx context.Context, serial string, args ...string) (string, error) {
	out, err := e.run(ctx, append([]string{"-s", serial, "shell"}, args...)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (e *ADBEnumerator) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.runner.Run(ctx, e.binary, args...)
}

type adbEntry struct {
	serial string
	model  string
}

// parseDeviceList parses `adb devices -l` output. Only devices in the
// "device" state are reachable; offline and unauthorized ones are skipped.
func parseDeviceList(out []byte) []adbEntry {
	var entries []adbEntry
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "device" {
			continue
		}

		entry := adbEntry{serial: fields[0]}
		for _, f := range fields[2:] {
			if model, ok := strings.CutPrefix(f, "model:"); ok {
				entry.model = strings.ReplaceAll(model, "_", " ")
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// parseBatteryLevel extracts "level: N" from `dumpsys battery`.
func parseBatteryLevel(out string) (int, bool) {
	for line := range strings.Lines(out) {
		key, value, found := strings.Cut(strings.TrimSpace(line), ":")
		if !found || strings.TrimSpace(key) != "level" {
			continue
		}
		level, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || level < 0 || level > 100 {
			return 0, false
		}
		return level, true
	}
	return 0, false
}
