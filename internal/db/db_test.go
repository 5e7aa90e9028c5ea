package db

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/kinetic/internal/aggregate"
	"github.com/banshee-data/kinetic/internal/device"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "kinetic.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func TestNewDBMigratesToLatest(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// re-running is a no-op
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDownAndUp(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	err = db.RecordSnapshot(base, aggregate.FrameSnapshot{}, aggregate.Stats{})
	assert.Error(t, err, "snapshots table is gone after rolling back")

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.RecordSnapshot(base, aggregate.FrameSnapshot{}, aggregate.Stats{}))
}

func TestExecutionsRoundTripNewestFirst(t *testing.T) {
	db := setupTestDB(t)

	first, err := db.RecordExecution(Execution{
		Behavior: "idle", Command: "$run,breathe,1#", Mode: "normal",
		DeviceState: "COMMAND_SENT", Dispatched: true, At: base,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := db.RecordExecution(Execution{
		ID: "fixed-id", Behavior: "crowd", Command: "$run,bloom,0#", Mode: "normal",
		DeviceState: "BUSY", At: base.Add(time.Second),
	})
	require.NoError(t, err)

	got, err := db.RecentExecutions(10)
	require.NoError(t, err)
	if diff := cmp.Diff([]Execution{second, first}, got); diff != "" {
		t.Errorf("RecentExecutions mismatch (-want +got):\n%s", diff)
	}

	got, err = db.RecentExecutions(1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fixed-id", got[0].ID)
}

func TestTransitionsRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.RecordTransition(device.Transition{
		From: device.StateReady, To: device.StateCommandSent, Event: device.EventSend,
		At: base, Reason: "sent $run,wave,0#",
	}))
	require.NoError(t, db.RecordTransition(device.Transition{
		From: device.StateCommandSent, To: device.StateCommandReceived, Event: device.EventTimeout,
		At: base.Add(5 * time.Second),
	}))

	got, err := db.RecentTransitions(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "COMMAND_RECEIVED", got[0].To)
	assert.Equal(t, "READY", got[1].From)
	assert.Equal(t, "sent $run,wave,0#", got[1].Reason)
	assert.Equal(t, base, got[1].At)
}

func TestSnapshotsAndPrune(t *testing.T) {
	db := setupTestDB(t)

	snap := aggregate.FrameSnapshot{PeopleCount: 4, GroupCount: 2, AvgPeopleDistance: 12.5, Cameras: 2}
	stats := aggregate.Stats{People: aggregate.RunningStat{Average: 3.5}, GroupRatio: 0.5}
	require.NoError(t, db.RecordSnapshot(base, snap, stats))
	require.NoError(t, db.RecordSnapshot(base.Add(time.Hour), aggregate.FrameSnapshot{Empty: true}, aggregate.Stats{}))

	got, err := db.RecentSnapshots(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Empty)
	assert.Equal(t, snap, got[1].FrameSnapshot)
	assert.Equal(t, 3.5, got[1].PeopleAverage)

	_, err = db.RecordExecution(Execution{Behavior: "old", Command: "c", Mode: "m", DeviceState: "READY", At: base})
	require.NoError(t, err)

	removed, err := db.Prune(base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	got, err = db.RecentSnapshots(10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAdminRoutes(t *testing.T) {
	db := setupTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}
