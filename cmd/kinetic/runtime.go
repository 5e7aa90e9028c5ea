package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/kinetic/internal/config"
	"github.com/banshee-data/kinetic/internal/control"
	"github.com/banshee-data/kinetic/internal/db"
	"github.com/banshee-data/kinetic/internal/device"
	"github.com/banshee-data/kinetic/internal/scheduler"
	"github.com/banshee-data/kinetic/internal/timeutil"
)

const pruneInterval = time.Hour

// runtime ties the loaded configuration to the running installation and
// device protocol so the configuration file can be re-applied in place.
type runtime struct {
	configPath string
	getenv     func(string) string
	// simulated forces a port path so the simulated link is always opened.
	simulated bool

	clock    timeutil.Clock
	inst     *control.Installation
	protocol *device.Protocol
	db       *db.DB

	mu  sync.Mutex
	cfg *config.Config
}

// loadConfig reads and validates the configuration file with environment
// overrides applied.
func (rt *runtime) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(rt.configPath)
	if err != nil {
		return nil, err
	}
	getenv := rt.getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (rt *runtime) protocolConfig(cfg *config.Config) (device.Config, error) {
	pc, err := cfg.ProtocolConfig()
	if err != nil {
		return pc, err
	}
	if rt.simulated && pc.PortPath == "" {
		pc.PortPath = "simulated"
	}
	return pc, nil
}

// Reload re-reads the configuration file and applies it. The device is only
// reopened when its section changed. Task intervals keep their values until
// the next restart.
func (rt *runtime) Reload() error {
	cfg, err := rt.loadConfig()
	if err != nil {
		return err
	}
	pc, err := rt.protocolConfig(cfg)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.inst.Reconfigure(cfg.ControlConfig()); err != nil {
		return fmt.Errorf("failed to apply configuration: %w", err)
	}
	if deviceChanged(rt.protocol.Config(), pc) {
		log.Printf("device configuration changed, reopening %q", pc.PortPath)
		rt.protocol.Reconfigure(pc)
	}
	if rt.cfg != nil && (cfg.GetTickInterval() != rt.cfg.GetTickInterval() ||
		cfg.Device.GetPollInterval() != rt.cfg.Device.GetPollInterval()) {
		log.Printf("warning: task interval changes take effect after a restart")
	}
	rt.cfg = cfg
	log.Printf("configuration reloaded from %s", rt.configPath)
	return nil
}

func deviceChanged(a, b device.Config) bool {
	if a.PortPath != b.PortPath || !a.Options.Equal(b.Options) ||
		a.Mockup != b.Mockup || a.Timeouts != b.Timeouts {
		return true
	}
	return !sameSchedule(a.Schedule, b.Schedule)
}

func sameSchedule(a, b *device.WorkingHours) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Start != b.Start || a.End != b.End || len(a.Days) != len(b.Days) {
		return false
	}
	for i := range a.Days {
		if a.Days[i] != b.Days[i] {
			return false
		}
	}
	return a.Location.String() == b.Location.String()
}

// addTasks registers the device poll, control tick and journal prune loops.
func (rt *runtime) addTasks(s *scheduler.Scheduler) error {
	rt.mu.Lock()
	cfg := rt.cfg
	rt.mu.Unlock()

	tasks := []scheduler.TaskConfig{
		{
			Name: "device",
			Loop: func(context.Context) bool {
				rt.protocol.Poll()
				return true
			},
			Cleanup: func() {
				if err := rt.protocol.Close(); err != nil {
					log.Printf("failed to close device: %v", err)
				}
			},
			Interval: cfg.Device.GetPollInterval(),
		},
		{
			Name: "control",
			Loop: func(context.Context) bool {
				rt.inst.Tick(rt.clock.Now())
				return true
			},
			Interval: cfg.GetTickInterval(),
		},
	}
	if rt.db != nil {
		tasks = append(tasks, scheduler.TaskConfig{
			Name:     "journal-prune",
			Loop:     func(context.Context) bool { rt.prune(); return true },
			Interval: pruneInterval,
		})
	}
	for _, tc := range tasks {
		if _, err := s.AddTask(tc); err != nil {
			return fmt.Errorf("failed to add task %q: %w", tc.Name, err)
		}
	}
	return nil
}

func (rt *runtime) prune() {
	rt.mu.Lock()
	retention := rt.cfg.GetJournalRetention()
	rt.mu.Unlock()

	n, err := rt.db.Prune(rt.clock.Now().Add(-retention))
	if err != nil {
		log.Printf("failed to prune journal: %v", err)
		return
	}
	if n > 0 {
		log.Printf("pruned %d journal rows older than %s", n, retention)
	}
}
