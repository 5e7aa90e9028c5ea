// Package control owns one kinetic installation and runs its control tick:
// detections become per-camera presence graphs, graphs fold into the
// rolling window, and the behaviour engine turns the window statistics into
// at most one device command.
//
// All mutable state lives on the Installation value. Nothing in this
// package is global.
package control

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/kinetic/internal/aggregate"
	"github.com/banshee-data/kinetic/internal/behavior"
	"github.com/banshee-data/kinetic/internal/db"
	"github.com/banshee-data/kinetic/internal/device"
	"github.com/banshee-data/kinetic/internal/monitoring"
	"github.com/banshee-data/kinetic/internal/presence"
)

var logf = monitoring.Tagged("control")

// ErrUnknownCamera is returned for detections from an unconfigured camera.
var ErrUnknownCamera = errors.New("unknown camera")

// DefaultStaleAfter drops a camera's detections when no fresh frame arrived
// for this long.
const DefaultStaleAfter = 2 * time.Second

// CameraConfig describes one camera of the installation.
type CameraConfig struct {
	ID      string
	Enabled bool
	// DistanceThreshold bounds presence graph edges. Zero or negative
	// connects everyone.
	DistanceThreshold float64
	// MachinePosition is the mechanism's location in this camera's space.
	MachinePosition presence.Position
}

// Config is everything the control loop needs to build an Installation.
type Config struct {
	Mode       string
	WindowSize int
	StaleAfter time.Duration
	Cameras    []CameraConfig
	Behaviors  []behavior.Behavior
	// RecordSnapshots writes every tick's snapshot to the journal.
	RecordSnapshots bool
}

// Device is the protocol as seen by the control loop.
type Device interface {
	behavior.Commander
	Status() device.Status
}

// Journal persists executions and snapshots. A nil Journal disables it.
type Journal interface {
	RecordExecution(e db.Execution) (db.Execution, error)
	RecordSnapshot(at time.Time, s aggregate.FrameSnapshot, stats aggregate.Stats) error
}

// Detections is one frame of person positions from a camera.
type Detections struct {
	Positions []presence.Position
	At        time.Time
}

type camera struct {
	cfg    CameraConfig
	graph  *presence.Graph
	latest Slot[Detections]
}

// Installation is the explicit context object for one installation. It
// is safe for concurrent use: Observe may be called from detector
// goroutines while Tick runs on the control task.
type Installation struct {
	dev     Device
	engine  *behavior.Engine
	journal Journal

	diagnostics Slot[Diagnostics]

	mu         sync.Mutex
	mode       string
	staleAfter time.Duration
	record     bool
	cameras    []*camera
	byID       map[string]*camera
	window     *aggregate.RollingWindow
	ticks      uint64

	// lastRejection is the behaviour and result of the previous tick's
	// rejected send, used to journal a run of identical rejections once.
	lastRejection string
}

// New validates cfg and builds an installation dispatching to dev. journal
// may be nil.
func New(cfg Config, dev Device, journal Journal) (*Installation, error) {
	inst := &Installation{
		dev:     dev,
		engine:  behavior.NewEngine(cfg.Behaviors, dev),
		journal: journal,
		window:  aggregate.NewRollingWindow(cfg.WindowSize),
	}
	if err := inst.configure(cfg); err != nil {
		return nil, err
	}
	return inst, nil
}

func (inst *Installation) configure(cfg Config) error {
	byID := make(map[string]*camera, len(cfg.Cameras))
	cameras := make([]*camera, 0, len(cfg.Cameras))
	for _, cc := range cfg.Cameras {
		if cc.ID == "" {
			return errors.New("camera id is required")
		}
		if _, dup := byID[cc.ID]; dup {
			return fmt.Errorf("duplicate camera id %q", cc.ID)
		}
		c := &camera{cfg: cc, graph: presence.NewGraph(cc.DistanceThreshold)}
		if old, ok := inst.byID[cc.ID]; ok {
			if d, ok := old.latest.Load(); ok {
				c.latest.Store(d)
			}
		}
		byID[cc.ID] = c
		cameras = append(cameras, c)
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	inst.mode = cfg.Mode
	inst.staleAfter = staleAfter
	inst.record = cfg.RecordSnapshots
	inst.cameras = cameras
	inst.byID = byID
	return nil
}

// Reconfigure applies a new configuration in place. Behaviour execution
// stamps carry over by name and the window keeps its newest snapshots.
func (inst *Installation) Reconfigure(cfg Config) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if err := inst.configure(cfg); err != nil {
		return err
	}
	inst.window.Resize(cfg.WindowSize)
	inst.engine.SetBehaviors(cfg.Behaviors)
	return nil
}

// Mode returns the current operating mode.
func (inst *Installation) Mode() string {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.mode
}

// SetMode changes the operating mode used for behaviour eligibility.
func (inst *Installation) SetMode(mode string) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.mode != mode {
		logf("mode %q -> %q", inst.mode, mode)
	}
	inst.mode = mode
}

// Behaviors returns the configured behaviours with their execution stamps.
func (inst *Installation) Behaviors() []behavior.Behavior {
	return inst.engine.Behaviors()
}

// Snapshots returns the window contents, oldest first.
func (inst *Installation) Snapshots() []aggregate.FrameSnapshot {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.window.Snapshots()
}

// Observe replaces the latest detections of camera id. Positions must all
// be 2D or all be 3D.
func (inst *Installation) Observe(id string, positions []presence.Position, at time.Time) error {
	inst.mu.Lock()
	c, ok := inst.byID[id]
	inst.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCamera, id)
	}
	for i := 1; i < len(positions); i++ {
		if positions[i].Is3D != positions[0].Is3D {
			return fmt.Errorf("%w: camera %q position %d", presence.ErrMixedDimensions, id, i)
		}
	}
	c.latest.Store(Detections{Positions: append([]presence.Position(nil), positions...), At: at})
	return nil
}

// Diagnostics returns the snapshot published by the most recent tick.
func (inst *Installation) Diagnostics() (Diagnostics, bool) {
	return inst.diagnostics.Load()
}

// Tick runs one control cycle at now and publishes its diagnostics. It
// never blocks on I/O other than the journal write and never fails: bad
// input degrades into empty metrics and recorded evaluation errors.
func (inst *Installation) Tick(now time.Time) Diagnostics {
	inst.mu.Lock()
	inst.ticks++
	tick := inst.ticks
	mode := inst.mode
	record := inst.record

	cameras := make([]CameraStatus, 0, len(inst.cameras))
	metrics := make([]aggregate.CameraMetrics, 0, len(inst.cameras))
	for _, c := range inst.cameras {
		status := inst.updateCamera(c, now)
		cameras = append(cameras, status)
		metrics = append(metrics, status.CameraMetrics)
	}
	snapshot := inst.window.Push(metrics)
	stats := inst.window.Stats()
	emptySlots := inst.window.EmptyCount()
	inst.mu.Unlock()

	result := inst.engine.Tick(mode, stats, now)
	inst.journalTick(now, mode, result, snapshot, stats, record)

	d := Diagnostics{
		Tick:        tick,
		At:          now,
		Mode:        mode,
		Selected:    result.Selected,
		Dispatched:  result.Dispatched,
		Evaluations: result.Evaluations,
		Snapshot:    snapshot,
		Stats:       stats,
		EmptySlots:  emptySlots,
		Cameras:     cameras,
	}
	if result.DeviceState != nil {
		d.SendResult = result.DeviceState.String()
	}
	if inst.dev != nil {
		status := inst.dev.Status()
		d.Device = &status
	}
	inst.diagnostics.Store(d)
	return d
}

// updateCamera rebuilds the presence graph of c from its freshest
// detections. Caller holds inst.mu.
func (inst *Installation) updateCamera(c *camera, now time.Time) CameraStatus {
	var status CameraStatus
	c.graph.Reset()
	if det, ok := c.latest.Load(); ok {
		if now.Sub(det.At) <= inst.staleAfter {
			for _, p := range det.Positions {
				c.graph.Add(p)
			}
		} else {
			status.Stale = true
		}
	}
	if err := c.graph.Update(c.cfg.MachinePosition); err != nil {
		status.Error = err.Error()
		logf("camera %q: %v", c.cfg.ID, err)
		// an empty graph cannot fail
		c.graph.Reset()
		c.graph.Update(c.cfg.MachinePosition)
	}
	status.CameraMetrics = aggregate.CameraMetrics{
		CameraID: c.cfg.ID,
		Enabled:  c.cfg.Enabled,
		Metrics:  c.graph.Metrics(),
	}
	return status
}

// shouldJournal reports whether res should be journaled: accepted sends
// always are, a rejection only when it differs from the previous tick's.
func (inst *Installation) shouldJournal(res behavior.TickResult) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if res.Dispatched {
		inst.lastRejection = ""
		return true
	}
	key := res.Selected + " " + res.DeviceState.String()
	if key == inst.lastRejection {
		return false
	}
	inst.lastRejection = key
	return true
}

func (inst *Installation) journalTick(now time.Time, mode string, res behavior.TickResult, s aggregate.FrameSnapshot, stats aggregate.Stats, record bool) {
	if inst.journal == nil {
		return
	}
	if res.Selected != "" && res.DeviceState != nil && inst.shouldJournal(res) {
		cmd := ""
		for _, b := range inst.engine.Behaviors() {
			if b.Name == res.Selected {
				cmd = b.DeviceCommand().Frame()
				break
			}
		}
		_, err := inst.journal.RecordExecution(db.Execution{
			Behavior:    res.Selected,
			Command:     cmd,
			Mode:        mode,
			DeviceState: res.DeviceState.String(),
			Dispatched:  res.Dispatched,
			At:          now,
		})
		if err != nil {
			logf("journal: %v", err)
		}
	}
	if record {
		if err := inst.journal.RecordSnapshot(now, s, stats); err != nil {
			logf("journal: %v", err)
		}
	}
}
