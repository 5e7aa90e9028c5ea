package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/kinetic/internal/device"
	"github.com/banshee-data/kinetic/internal/serialmux"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func (d *DeviceConfig) validate() error {
	if _, err := d.PortOptions().Normalise(); err != nil {
		return err
	}
	if err := parseDurationField("poll_interval", d.PollInterval); err != nil {
		return err
	}
	if d.Timeouts != nil {
		for name, t := range map[string]*TimeoutConfig{
			"command_sent":     d.Timeouts.CommandSent,
			"command_received": d.Timeouts.CommandReceived,
			"cooling_down":     d.Timeouts.CoolingDown,
		} {
			if t == nil {
				continue
			}
			if err := parseDurationField("timeouts."+name+".operational", t.Operational); err != nil {
				return err
			}
			if err := parseDurationField("timeouts."+name+".testing", t.Testing); err != nil {
				return err
			}
		}
	}
	if d.Schedule != nil {
		if _, err := d.Schedule.WorkingHours(); err != nil {
			return err
		}
	}
	return nil
}

// GetPort returns the serial device path. Empty means no device.
func (d *DeviceConfig) GetPort() string {
	if d == nil || d.Port == nil {
		return ""
	}
	return *d.Port
}

// GetMockup returns the mockup flag.
func (d *DeviceConfig) GetMockup() bool {
	if d == nil || d.Mockup == nil {
		return false
	}
	return *d.Mockup
}

// GetPollInterval returns the device polling period.
func (d *DeviceConfig) GetPollInterval() time.Duration {
	if d == nil {
		return 50 * time.Millisecond
	}
	return durationOr(d.PollInterval, 50*time.Millisecond)
}

// PortOptions returns the serial line settings. Unset values are left zero
// for PortOptions.Normalise to fill in.
func (d *DeviceConfig) PortOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if d == nil {
		return opts
	}
	if d.BaudRate != nil {
		opts.BaudRate = *d.BaudRate
	}
	if d.DataBits != nil {
		opts.DataBits = *d.DataBits
	}
	if d.StopBits != nil {
		opts.StopBits = *d.StopBits
	}
	if d.Parity != nil {
		opts.Parity = *d.Parity
	}
	return opts
}

// GetTimeouts overlays the configured timeouts on device.DefaultTimeouts.
func (d *DeviceConfig) GetTimeouts() device.Timeouts {
	t := device.DefaultTimeouts()
	if d == nil || d.Timeouts == nil {
		return t
	}
	t.CommandSent = d.Timeouts.CommandSent.overlay(t.CommandSent)
	t.CommandReceived = d.Timeouts.CommandReceived.overlay(t.CommandReceived)
	t.CoolingDown = d.Timeouts.CoolingDown.overlay(t.CoolingDown)
	return t
}

func (t *TimeoutConfig) overlay(def device.Timeout) device.Timeout {
	if t == nil {
		return def
	}
	return device.Timeout{
		Operational: durationOr(t.Operational, def.Operational),
		Testing:     durationOr(t.Testing, def.Testing),
	}
}

// WorkingHours converts the schedule section.
func (s *ScheduleConfig) WorkingHours() (*device.WorkingHours, error) {
	start, err := device.ParseTimeOfDay(s.Start)
	if err != nil {
		return nil, fmt.Errorf("schedule start: %w", err)
	}
	end, err := device.ParseTimeOfDay(s.End)
	if err != nil {
		return nil, fmt.Errorf("schedule end: %w", err)
	}
	wh := &device.WorkingHours{Start: start, End: end}
	for _, name := range s.Days {
		day, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("schedule: unknown day %q", name)
		}
		wh.Days = append(wh.Days, day)
	}
	if s.Timezone != "" {
		loc, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return nil, fmt.Errorf("schedule timezone: %w", err)
		}
		wh.Location = loc
	}
	return wh, nil
}

// ProtocolConfig builds the device protocol configuration.
func (c *Config) ProtocolConfig() (device.Config, error) {
	d := c.Device
	cfg := device.Config{
		PortPath: d.GetPort(),
		Options:  d.PortOptions(),
		Mockup:   d.GetMockup(),
		Timeouts: d.GetTimeouts(),
	}
	if d != nil && d.Schedule != nil {
		wh, err := d.Schedule.WorkingHours()
		if err != nil {
			return cfg, err
		}
		cfg.Schedule = wh
	}
	return cfg, nil
}
