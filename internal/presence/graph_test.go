package presence

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Position
		want float64
	}{
		{"planar", Pos2D(0, 0), Pos2D(3, 4), 5},
		{"spatial", Pos3D(0, 0, 0), Pos3D(2, 3, 6), 7},
		{"same point", Pos2D(1, 1), Pos2D(1, 1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Distance(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDistance_MixedDimensions(t *testing.T) {
	_, err := Distance(Pos2D(0, 0), Pos3D(0, 0, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMixedDimensions))
}

func TestGraph_ThresholdScenario(t *testing.T) {
	g := NewGraph(50)
	g.AddNode(0, 0)
	g.AddNode(10, 0)
	g.AddNode(1000, 1000)
	require.NoError(t, g.Update(Pos2D(0, 0)))

	m := g.Metrics()
	assert.Equal(t, 3, m.PeopleCount)
	assert.Equal(t, 1, m.EdgeCount)
	assert.Equal(t, 2, m.GroupCount)
	assert.InDelta(t, 10, m.AvgPeopleDistance, 1e-9)

	if diff := cmp.Diff([]Edge{{From: 0, To: 1, Distance: 10}}, g.Edges()); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestGraph_SingleNode(t *testing.T) {
	g := NewGraph(25)
	g.AddNode(5, 5)
	require.NoError(t, g.Update(Pos2D(5, 8)))

	m := g.Metrics()
	assert.Equal(t, 1, m.PeopleCount)
	assert.Equal(t, 0, m.EdgeCount)
	assert.Equal(t, 1, m.GroupCount)
	assert.Zero(t, m.AvgPeopleDistance)
	// a single node is not divisor-reduced
	assert.InDelta(t, 3, m.AvgMachineDistance, 1e-9)
}

func TestGraph_MachineDistanceDivisorReduced(t *testing.T) {
	g := NewGraph(0)
	g.AddNode(3, 4)
	g.AddNode(6, 8)
	require.NoError(t, g.Update(Pos2D(0, 0)))

	// (5 + 10) / (2 - 1)
	assert.InDelta(t, 15, g.Metrics().AvgMachineDistance, 1e-9)
}

func TestGraph_UnboundedIsComplete(t *testing.T) {
	for _, threshold := range []float64{0, -1} {
		g := NewGraph(threshold)
		for i := 0; i < 6; i++ {
			g.AddNode(float64(i*1000), float64(i*7))
		}
		require.NoError(t, g.Update(Pos2D(0, 0)))

		m := g.Metrics()
		assert.Equal(t, 6*5/2, m.EdgeCount, "threshold %v", threshold)
		assert.Zero(t, m.GroupCount, "groups are only counted with a positive threshold")
	}
}

func TestGraph_DuplicateCoordinatesAreDistinct(t *testing.T) {
	g := NewGraph(1)
	g.AddNode(2, 2)
	g.AddNode(2, 2)
	require.NoError(t, g.Update(Pos2D(0, 0)))

	m := g.Metrics()
	assert.Equal(t, 2, m.PeopleCount)
	assert.Equal(t, 1, m.EdgeCount)
	assert.Equal(t, 1, m.GroupCount)
}

func TestGraph_ResetDropsPreviousTick(t *testing.T) {
	g := NewGraph(100)
	g.AddNode(0, 0)
	g.AddNode(1, 1)
	g.AddNode(2, 2)
	require.NoError(t, g.Update(Pos2D(0, 0)))
	require.Equal(t, 3, g.Metrics().EdgeCount)

	g.Reset()
	assert.Empty(t, g.Positions())
	assert.Empty(t, g.Edges())

	g.AddNode(50, 50)
	require.NoError(t, g.Update(Pos2D(0, 0)))
	m := g.Metrics()
	assert.Equal(t, 1, m.PeopleCount)
	assert.Equal(t, 0, m.EdgeCount)
	assert.Equal(t, 1, m.GroupCount)
}

func TestGraph_GroupCountKeptWhenThresholdDisabled(t *testing.T) {
	g := NewGraph(10)
	g.AddNode(0, 0)
	g.AddNode(100, 100)
	require.NoError(t, g.Update(Pos2D(0, 0)))
	require.Equal(t, 2, g.Metrics().GroupCount)

	g.Threshold = 0
	g.Reset()
	g.AddNode(0, 0)
	require.NoError(t, g.Update(Pos2D(0, 0)))
	assert.Equal(t, 2, g.Metrics().GroupCount)
}

func TestGraph_MixedDimensionsRejected(t *testing.T) {
	g := NewGraph(0)
	g.AddNode(0, 0)
	g.AddNode3D(1, 1, 1)
	err := g.Update(Pos2D(0, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMixedDimensions))

	g.Reset()
	g.AddNode3D(0, 0, 0)
	err = g.Update(Pos2D(0, 0))
	assert.True(t, errors.Is(err, ErrMixedDimensions), "machine anchor must match node dimensions")
}

// components counts connected components with a plain union-find so the
// gonum result can be checked independently.
func components(ps []Position, threshold float64) int {
	parent := make([]int, len(ps))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for i := range ps {
		for j := i + 1; j < len(ps); j++ {
			d, _ := Distance(ps[i], ps[j])
			if d <= threshold {
				parent[find(i)] = find(j)
			}
		}
	}
	roots := map[int]bool{}
	for i := range ps {
		roots[find(i)] = true
	}
	return len(roots)
}

func TestGraph_RandomisedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		threshold := 20 + rng.Float64()*200
		n := rng.Intn(25)
		g := NewGraph(threshold)
		for i := 0; i < n; i++ {
			g.AddNode(rng.Float64()*1000, rng.Float64()*1000)
		}
		require.NoError(t, g.Update(Pos2D(500, 500)))

		var sum float64
		for _, e := range g.Edges() {
			require.LessOrEqual(t, e.Distance, threshold)
			sum += e.Distance
		}
		m := g.Metrics()
		assert.Equal(t, components(g.Positions(), threshold), m.GroupCount, "round %d", round)
		if m.EdgeCount > 0 {
			assert.InDelta(t, sum/float64(m.EdgeCount), m.AvgPeopleDistance, 1e-9)
		} else {
			assert.Zero(t, m.AvgPeopleDistance)
		}
		assert.False(t, math.IsNaN(m.AvgMachineDistance))
	}
}
