package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/terminail/autodroid-sub001/internal/infrastructure/config"
	"github.com/terminail/autodroid-sub001/internal/script"
)

// check validates everything serve would load, without connecting to any
// service, and reports every problem found.
func check(w io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	fmt.Fprintf(w, "ok: config %s\n", configPath)

	var problems []string

	engine := newEngine(cfg)
	scripts := make(map[string]script.Info)
	for _, info := range engine.ListScripts() {
		scripts[info.Name] = info
		if !info.Valid {
			problems = append(problems, fmt.Sprintf("script %s (%s): %s", info.Name, info.Source, info.Error))
			continue
		}
		fmt.Fprintf(w, "ok: script %s (%s)\n", info.Name, info.Source)
	}

	plans, err := loadPlans(cfg.Scheduler.PlansFile)
	if err != nil {
		problems = append(problems, err.Error())
	}
	for _, p := range plans {
		info, ok := scripts[p.Workscript]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("plan %s: unknown workscript %q", p.ID, p.Workscript))
		case !info.Valid:
			problems = append(problems, fmt.Sprintf("plan %s: workscript %q does not load", p.ID, p.Workscript))
		default:
			fmt.Fprintf(w, "ok: plan %s -> %s\n", p.ID, p.Workscript)
		}
	}

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(w, "error: %s\n", p)
		}
		return errors.New("check failed: " + strings.Join(problems, "; "))
	}
	return nil
}
