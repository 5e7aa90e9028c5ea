// Package aggregate folds the per-camera presence metrics of every tick into
// one snapshot and keeps running statistics over a fixed window of recent
// snapshots.
package aggregate

import (
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/kinetic/internal/presence"
)

// DefaultWindowSize is used when a window is created with a non-positive
// capacity.
const DefaultWindowSize = 30

// CameraMetrics is one camera's contribution to a tick.
type CameraMetrics struct {
	CameraID string `json:"camera_id"`
	Enabled  bool   `json:"enabled"`
	presence.Metrics
}

// FrameSnapshot aggregates one tick across all enabled cameras.
type FrameSnapshot struct {
	PeopleCount        int     `json:"people_count"`
	GroupCount         int     `json:"group_count"`
	AvgPeopleDistance  float64 `json:"avg_people_distance"`
	AvgMachineDistance float64 `json:"avg_machine_distance"`
	Cameras            int     `json:"cameras"`
	Empty              bool    `json:"empty"`
}

// NewFrameSnapshot sums counts and averages distances over the enabled
// cameras. An enabled camera that saw nobody still counts toward the
// divisor.
func NewFrameSnapshot(cameras []CameraMetrics) FrameSnapshot {
	var s FrameSnapshot
	for _, c := range cameras {
		if !c.Enabled {
			continue
		}
		s.Cameras++
		s.PeopleCount += c.PeopleCount
		s.GroupCount += c.GroupCount
		s.AvgPeopleDistance += c.AvgPeopleDistance
		s.AvgMachineDistance += c.AvgMachineDistance
	}
	if s.Cameras == 0 {
		s.Empty = true
		return s
	}
	s.AvgPeopleDistance /= float64(s.Cameras)
	s.AvgMachineDistance /= float64(s.Cameras)
	return s
}

// RunningStat summarises one quantity across the window. Zero samples are
// counted but excluded from the Average divisor, since zero usually means
// nobody was in frame.
type RunningStat struct {
	Sum          float64 `json:"sum"`
	Average      float64 `json:"average"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Count        int     `json:"count"`
	NonZeroCount int     `json:"non_zero_count"`
}

func newRunningStat(samples []float64) RunningStat {
	if len(samples) == 0 {
		return RunningStat{}
	}
	st := RunningStat{
		Sum:   floats.Sum(samples),
		Min:   floats.Min(samples),
		Max:   floats.Max(samples),
		Count: len(samples),
	}
	for _, v := range samples {
		if v != 0 {
			st.NonZeroCount++
		}
	}
	st.Average = st.Sum
	if st.NonZeroCount > 0 {
		st.Average = st.Sum / float64(st.NonZeroCount)
	}
	return st
}

// Stats are the window statistics the behaviour engine reads.
type Stats struct {
	People          RunningStat `json:"people"`
	Groups          RunningStat `json:"groups"`
	PeopleDistance  RunningStat `json:"people_distance"`
	MachineDistance RunningStat `json:"machine_distance"`
	// GroupRatio is the average group count over the average people count.
	GroupRatio float64 `json:"group_ratio"`
}

// RollingWindow is a fixed-capacity circular buffer of snapshots. It is not
// safe for concurrent use; the control loop owns it.
type RollingWindow struct {
	buf        []FrameSnapshot
	cursor     int
	emptyCount int
	stats      Stats
}

// NewRollingWindow creates a window holding capacity snapshots.
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity < 1 {
		capacity = DefaultWindowSize
	}
	return &RollingWindow{
		buf:        make([]FrameSnapshot, capacity),
		emptyCount: capacity,
	}
}

// Capacity returns the number of slots.
func (w *RollingWindow) Capacity() int { return len(w.buf) }

// EmptyCount returns how many slots have never been written.
func (w *RollingWindow) EmptyCount() int { return w.emptyCount }

// Len returns how many slots hold data.
func (w *RollingWindow) Len() int { return len(w.buf) - w.emptyCount }

// Push builds a snapshot from cameras, stores it and refreshes the stats.
func (w *RollingWindow) Push(cameras []CameraMetrics) FrameSnapshot {
	s := NewFrameSnapshot(cameras)
	w.PushSnapshot(s)
	return s
}

// PushSnapshot overwrites the oldest slot with s and recomputes every
// statistic from a full pass over the window.
func (w *RollingWindow) PushSnapshot(s FrameSnapshot) {
	w.buf[w.cursor] = s
	w.cursor = (w.cursor + 1) % len(w.buf)
	if w.emptyCount > 0 {
		w.emptyCount--
	}
	w.recompute()
}

// Resize changes the capacity, keeping the newest snapshots that fit.
func (w *RollingWindow) Resize(capacity int) {
	if capacity < 1 {
		capacity = DefaultWindowSize
	}
	if capacity == len(w.buf) {
		return
	}
	kept := w.Snapshots()
	if len(kept) > capacity {
		kept = kept[len(kept)-capacity:]
	}
	buf := make([]FrameSnapshot, capacity)
	copy(buf, kept)
	w.buf = buf
	w.cursor = len(kept) % capacity
	w.emptyCount = capacity - len(kept)
	w.recompute()
}

// Snapshots returns the written snapshots, oldest first.
func (w *RollingWindow) Snapshots() []FrameSnapshot {
	n := w.Len()
	out := make([]FrameSnapshot, 0, n)
	// before the first wrap the oldest slot is 0, afterwards it is the cursor
	start := 0
	if w.emptyCount == 0 {
		start = w.cursor
	}
	for i := 0; i < n; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}

// Stats returns the statistics as of the last push.
func (w *RollingWindow) Stats() Stats { return w.stats }

// recompute rescans the written slots only. Until the window has wrapped,
// never-written slots are not counted as zero samples, so Count and Min
// cover the frames pushed so far rather than the whole capacity.
func (w *RollingWindow) recompute() {
	snaps := w.Snapshots()
	people := make([]float64, len(snaps))
	groups := make([]float64, len(snaps))
	peopleDist := make([]float64, len(snaps))
	machineDist := make([]float64, len(snaps))
	for i, s := range snaps {
		people[i] = float64(s.PeopleCount)
		groups[i] = float64(s.GroupCount)
		peopleDist[i] = s.AvgPeopleDistance
		machineDist[i] = s.AvgMachineDistance
	}

	st := Stats{
		People:          newRunningStat(people),
		Groups:          newRunningStat(groups),
		PeopleDistance:  newRunningStat(peopleDist),
		MachineDistance: newRunningStat(machineDist),
	}
	if st.People.Average > 0 {
		st.GroupRatio = st.Groups.Average / st.People.Average
	}
	w.stats = st
}
