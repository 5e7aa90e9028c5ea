package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/kinetic/internal/aggregate"
	"github.com/banshee-data/kinetic/internal/device"
)

// Execution is one dispatch attempt of a selected behaviour.
type Execution struct {
	ID          string    `json:"id"`
	Behavior    string    `json:"behavior"`
	Command     string    `json:"command"`
	Mode        string    `json:"mode"`
	DeviceState string    `json:"device_state"`
	Dispatched  bool      `json:"dispatched"`
	At          time.Time `json:"at"`
}

// RecordExecution stores e, assigning a new ID when e.ID is empty.
func (db *DB) RecordExecution(e Execution) (Execution, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := db.Exec(
		`INSERT INTO executions (
			execution_id, behavior, command, mode, device_state, dispatched, executed_unix_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Behavior, e.Command, e.Mode, e.DeviceState, e.Dispatched, e.At.UnixMilli(),
	)
	if err != nil {
		return e, fmt.Errorf("failed to record execution %s: %w", e.ID, err)
	}
	return e, nil
}

// RecentExecutions returns up to limit executions, newest first.
func (db *DB) RecentExecutions(limit int) ([]Execution, error) {
	rows, err := db.Query(
		`SELECT execution_id, behavior, command, mode, device_state, dispatched, executed_unix_ms
		FROM executions ORDER BY executed_unix_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	executions := []Execution{}
	for rows.Next() {
		var (
			e  Execution
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.Behavior, &e.Command, &e.Mode, &e.DeviceState, &e.Dispatched, &ms); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ms).UTC()
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// TransitionRecord is a stored device state change.
type TransitionRecord struct {
	ID     int64     `json:"id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Event  string    `json:"event"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// RecordTransition stores one device state change.
func (db *DB) RecordTransition(tr device.Transition) error {
	_, err := db.Exec(
		`INSERT INTO device_transitions (from_state, to_state, event, reason, at_unix_ms)
		VALUES (?, ?, ?, ?, ?)`,
		tr.From.String(), tr.To.String(), tr.Event.String(), tr.Reason, tr.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record transition %s -> %s: %w", tr.From, tr.To, err)
	}
	return nil
}

// RecentTransitions returns up to limit device transitions, newest first.
func (db *DB) RecentTransitions(limit int) ([]TransitionRecord, error) {
	rows, err := db.Query(
		`SELECT transition_id, from_state, to_state, event, COALESCE(reason, ''), at_unix_ms
		FROM device_transitions ORDER BY at_unix_ms DESC, transition_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []TransitionRecord{}
	for rows.Next() {
		var (
			r  TransitionRecord
			ms int64
		)
		if err := rows.Scan(&r.ID, &r.From, &r.To, &r.Event, &r.Reason, &ms); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(ms).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// SnapshotRecord is a stored tick snapshot with the window statistics at
// the time.
type SnapshotRecord struct {
	aggregate.FrameSnapshot
	PeopleAverage float64   `json:"people_average"`
	GroupRatio    float64   `json:"group_ratio"`
	At            time.Time `json:"at"`
}

// RecordSnapshot stores the tick snapshot s together with the statistics.
func (db *DB) RecordSnapshot(at time.Time, s aggregate.FrameSnapshot, stats aggregate.Stats) error {
	_, err := db.Exec(
		`INSERT INTO snapshots (
			people_count, group_count, avg_people_distance, avg_machine_distance,
			cameras, people_average, group_ratio, at_unix_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.PeopleCount, s.GroupCount, s.AvgPeopleDistance, s.AvgMachineDistance,
		s.Cameras, stats.People.Average, stats.GroupRatio, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (db *DB) RecentSnapshots(limit int) ([]SnapshotRecord, error) {
	rows, err := db.Query(
		`SELECT people_count, group_count, avg_people_distance, avg_machine_distance,
			cameras, people_average, group_ratio, at_unix_ms
		FROM snapshots ORDER BY at_unix_ms DESC, snapshot_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []SnapshotRecord{}
	for rows.Next() {
		var (
			r  SnapshotRecord
			ms int64
		)
		if err := rows.Scan(&r.PeopleCount, &r.GroupCount, &r.AvgPeopleDistance, &r.AvgMachineDistance,
			&r.Cameras, &r.PeopleAverage, &r.GroupRatio, &ms); err != nil {
			return nil, err
		}
		r.Empty = r.Cameras == 0
		r.At = time.UnixMilli(ms).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune deletes journal rows older than before and returns how many were
// removed.
func (db *DB) Prune(before time.Time) (int64, error) {
	cutoff := before.UnixMilli()
	var total int64
	for _, stmt := range []string{
		`DELETE FROM executions WHERE executed_unix_ms < ?`,
		`DELETE FROM device_transitions WHERE at_unix_ms < ?`,
		`DELETE FROM snapshots WHERE at_unix_ms < ?`,
	} {
		res, err := db.Exec(stmt, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune journal: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
