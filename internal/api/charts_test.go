package api

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/kinetic/internal/aggregate"
	"github.com/banshee-data/kinetic/internal/presence"
)

func TestWindowSeriesOf(t *testing.T) {
	series := windowSeriesOf([]aggregate.FrameSnapshot{
		{PeopleCount: 1, GroupCount: 0, AvgMachineDistance: 5},
		{PeopleCount: 3, GroupCount: 1, AvgPeopleDistance: 2.5, AvgMachineDistance: 7},
	})
	require.Len(t, series, 4)
	assert.Equal(t, []float64{1, 3}, series[0].values)
	assert.Equal(t, []float64{0, 1}, series[1].values)
	assert.Equal(t, []float64{0, 2.5}, series[2].values)
	assert.Equal(t, []float64{5, 7}, series[3].values)
}

func TestAdminRoutes_WindowCharts(t *testing.T) {
	s, inst, _ := newTestServer(t, Options{})
	require.NoError(t, inst.Observe("front", []presence.Position{presence.Pos2D(1, 1), presence.Pos2D(2, 2)}, testNow))
	inst.Tick(testNow)
	inst.Tick(testNow)

	mux := http.NewServeMux()
	s.AttachAdminRoutes(mux)

	w := do(t, mux, http.MethodGet, "/debug/window-chart", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Rolling Window")

	w = do(t, mux, http.MethodGet, "/debug/window.png", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
}

func TestAdminRoutes_EmptyWindowPlot(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	mux := http.NewServeMux()
	s.AttachAdminRoutes(mux)

	w := do(t, mux, http.MethodGet, "/debug/window.png", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
