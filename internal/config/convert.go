package config

import (
	"time"

	"github.com/banshee-data/kinetic/internal/behavior"
	"github.com/banshee-data/kinetic/internal/control"
	"github.com/banshee-data/kinetic/internal/presence"
)

// ControlConfig builds the control loop configuration.
func (c *Config) ControlConfig() control.Config {
	cfg := control.Config{
		Mode:            c.GetMode(),
		WindowSize:      c.GetWindowSize(),
		StaleAfter:      c.GetStaleAfter(),
		RecordSnapshots: c.GetRecordSnapshots(),
	}
	for _, cam := range c.Cameras {
		cfg.Cameras = append(cfg.Cameras, cam.camera())
	}
	for _, b := range c.Behaviors {
		cfg.Behaviors = append(cfg.Behaviors, b.behavior())
	}
	return cfg
}

func (cam CameraConfig) camera() control.CameraConfig {
	cc := control.CameraConfig{
		ID:      cam.ID,
		Enabled: cam.Enabled == nil || *cam.Enabled,
	}
	if cam.DistanceThreshold != nil {
		cc.DistanceThreshold = *cam.DistanceThreshold
	}
	switch p := cam.MachinePosition; len(p) {
	case 2:
		cc.MachinePosition = presence.Pos2D(p[0], p[1])
	case 3:
		cc.MachinePosition = presence.Pos3D(p[0], p[1], p[2])
	}
	return cc
}

func (b BehaviorConfig) behavior() behavior.Behavior {
	out := behavior.Behavior{
		Name:    b.Name,
		Type:    b.Type,
		Enabled: b.Enabled == nil || *b.Enabled,
		Command: b.Command,
		Loop:    b.Loop,
	}
	for _, p := range b.Parameters {
		out.Parameters = append(out.Parameters, p.parameter())
	}
	return out
}

// parameter converts p without rejecting it. An unparseable timeout is
// left nil so the engine reports the behaviour as malformed.
func (p ParameterConfig) parameter() behavior.Parameter {
	out := behavior.Parameter{
		Kind:    behavior.Kind(p.Kind),
		Enabled: p.Enabled == nil || *p.Enabled,
		Min:     p.Min,
		Max:     p.Max,
	}
	if p.Timeout != nil {
		if d, err := time.ParseDuration(*p.Timeout); err == nil {
			out.Timeout = &d
		}
	}
	return out
}
