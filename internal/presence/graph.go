// Package presence builds the per-camera presence graph: detected people as
// nodes, pairwise distances as weighted edges, groups as connected
// components of the thresholded graph.
package presence

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Metrics are the derived fields computed once per tick by Update.
type Metrics struct {
	PeopleCount        int     `json:"people_count"`
	EdgeCount          int     `json:"edge_count"`
	GroupCount         int     `json:"group_count"`
	AvgPeopleDistance  float64 `json:"avg_people_distance"`
	AvgMachineDistance float64 `json:"avg_machine_distance"`
}

// Graph is the presence graph of a single camera. It is rebuilt every tick:
// Reset, zero or more AddNode calls, then exactly one Update.
//
// A positive Threshold keeps only edges no longer than the threshold and
// enables group counting. A zero or negative Threshold connects every pair
// and leaves GroupCount at its previous value.
type Graph struct {
	Threshold float64

	g         *simple.WeightedUndirectedGraph
	positions []Position
	metrics   Metrics
}

// NewGraph returns an empty graph with the given distance threshold.
func NewGraph(threshold float64) *Graph {
	gr := &Graph{Threshold: threshold}
	gr.Reset()
	return gr
}

// Reset drops every node and edge so nothing from the previous tick leaks
// into the next one. GroupCount is left untouched.
func (gr *Graph) Reset() {
	gr.g = simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	gr.positions = gr.positions[:0]
	gr.metrics.PeopleCount = 0
	gr.metrics.EdgeCount = 0
	gr.metrics.AvgPeopleDistance = 0
	gr.metrics.AvgMachineDistance = 0
}

// AddNode inserts a planar detection. Duplicate coordinates are distinct
// people.
func (gr *Graph) AddNode(x, y float64) {
	gr.Add(Pos2D(x, y))
}

// AddNode3D inserts a spatial detection.
func (gr *Graph) AddNode3D(x, y, z float64) {
	gr.Add(Pos3D(x, y, z))
}

// Add inserts p as a new node.
func (gr *Graph) Add(p Position) {
	id := int64(len(gr.positions))
	gr.positions = append(gr.positions, p)
	gr.g.AddNode(simple.Node(id))
}

// Update connects the nodes, counts groups and computes the distance
// metrics relative to machine. It must be called once per tick after all
// nodes are added.
func (gr *Graph) Update(machine Position) error {
	n := len(gr.positions)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if gr.g.HasEdgeBetween(int64(i), int64(j)) {
				continue
			}
			d, err := Distance(gr.positions[i], gr.positions[j])
			if err != nil {
				return fmt.Errorf("update presence graph: %w", err)
			}
			if gr.Threshold > 0 && d > gr.Threshold {
				continue
			}
			gr.g.SetWeightedEdge(gr.g.NewWeightedEdge(simple.Node(int64(i)), simple.Node(int64(j)), d))
		}
	}

	edges := gr.g.WeightedEdges()
	edgeCount := 0
	var weightSum float64
	for edges.Next() {
		edgeCount++
		weightSum += edges.WeightedEdge().Weight()
	}

	gr.metrics.PeopleCount = n
	gr.metrics.EdgeCount = edgeCount

	if gr.Threshold > 0 {
		gr.metrics.GroupCount = len(topo.ConnectedComponents(gr.g))
	}

	gr.metrics.AvgPeopleDistance = 0
	if edgeCount > 0 {
		gr.metrics.AvgPeopleDistance = weightSum / float64(edgeCount)
	}

	machineDistance, err := gr.machineDistance(machine)
	if err != nil {
		return fmt.Errorf("update presence graph: %w", err)
	}
	gr.metrics.AvgMachineDistance = machineDistance
	return nil
}

// machineDistance is the mean node-to-machine distance. With more than one
// node the divisor is reduced by one, matching the installation's historical
// figures; this biases the mean upwards.
func (gr *Graph) machineDistance(machine Position) (float64, error) {
	n := len(gr.positions)
	if n == 0 {
		return 0, nil
	}
	var sum float64
	for _, p := range gr.positions {
		d, err := Distance(p, machine)
		if err != nil {
			return 0, err
		}
		sum += d
	}
	divisor := n
	if n > 1 {
		divisor = n - 1
	}
	return sum / float64(divisor), nil
}

// Metrics returns the values computed by the last Update.
func (gr *Graph) Metrics() Metrics {
	return gr.metrics
}

// Positions returns a copy of the current tick's nodes.
func (gr *Graph) Positions() []Position {
	return append([]Position(nil), gr.positions...)
}

// Edge is a weighted connection between two node indices.
type Edge struct {
	From, To int
	Distance float64
}

// Edges returns the current edges with From < To.
func (gr *Graph) Edges() []Edge {
	it := gr.g.WeightedEdges()
	var out []Edge
	for it.Next() {
		e := it.WeightedEdge()
		from, to := int(e.From().ID()), int(e.To().ID())
		if from > to {
			from, to = to, from
		}
		out = append(out, Edge{From: from, To: to, Distance: e.Weight()})
	}
	return out
}

// Groups returns the node indices of each connected component.
func (gr *Graph) Groups() [][]int {
	var out [][]int
	for _, cc := range topo.ConnectedComponents(gr.g) {
		ids := make([]int, 0, len(cc))
		for _, n := range cc {
			ids = append(ids, int(n.ID()))
		}
		out = append(out, ids)
	}
	return out
}
