package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTOD(t *testing.T, s string) TimeOfDay {
	t.Helper()
	tod, err := ParseTimeOfDay(s)
	require.NoError(t, err)
	return tod
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 9, Minute: 30}, tod)
	assert.Equal(t, "09:30", tod.String())

	for _, bad := range []string{"", "9", "25:00", "10:61", "noon"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestWorkingHours_Contains(t *testing.T) {
	// 2026-10-14 is a Wednesday
	wed := func(h, m int) time.Time { return time.Date(2026, 10, 14, h, m, 0, 0, time.UTC) }

	weekdays := WorkingHours{
		Days:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Start: mustTOD(t, "10:00"),
		End:   mustTOD(t, "18:00"),
	}
	assert.True(t, weekdays.Contains(wed(10, 0)))
	assert.True(t, weekdays.Contains(wed(17, 59)))
	assert.False(t, weekdays.Contains(wed(18, 0)))
	assert.False(t, weekdays.Contains(wed(9, 59)))
	assert.False(t, weekdays.Contains(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)), "saturday")

	overnight := WorkingHours{Start: mustTOD(t, "20:00"), End: mustTOD(t, "02:00")}
	assert.True(t, overnight.Contains(wed(23, 0)))
	assert.True(t, overnight.Contains(wed(1, 30)))
	assert.False(t, overnight.Contains(wed(12, 0)))

	allDay := WorkingHours{Days: []time.Weekday{time.Wednesday}}
	assert.True(t, allDay.Contains(wed(3, 0)))
}

func TestWorkingHours_Location(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	w := WorkingHours{Start: mustTOD(t, "10:00"), End: mustTOD(t, "12:00"), Location: loc}

	// 08:30 UTC is 10:30 local
	assert.True(t, w.Contains(time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC)))
}
