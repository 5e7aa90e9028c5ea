package control

import (
	"time"

	"github.com/banshee-data/kinetic/internal/aggregate"
	"github.com/banshee-data/kinetic/internal/behavior"
	"github.com/banshee-data/kinetic/internal/device"
)

// CameraStatus is one camera's contribution to a tick.
type CameraStatus struct {
	aggregate.CameraMetrics
	// Stale is set when the camera's last detections were too old to use.
	Stale bool   `json:"stale"`
	Error string `json:"error,omitempty"`
}

// Diagnostics is the read-only view of one control tick for telemetry.
type Diagnostics struct {
	Tick        uint64                  `json:"tick"`
	At          time.Time               `json:"at"`
	Mode        string                  `json:"mode"`
	Selected    string                  `json:"selected,omitempty"`
	Dispatched  bool                    `json:"dispatched"`
	SendResult  string                  `json:"send_result,omitempty"`
	Evaluations []behavior.Evaluation   `json:"evaluations"`
	Snapshot    aggregate.FrameSnapshot `json:"snapshot"`
	Stats       aggregate.Stats         `json:"stats"`
	EmptySlots  int                     `json:"empty_slots"`
	Cameras     []CameraStatus          `json:"cameras"`
	Device      *device.Status          `json:"device,omitempty"`
}
