package presence

import (
	"errors"
	"fmt"
	"math"
)

// ErrMixedDimensions is returned when a distance is requested between a 2D
// and a 3D position.
var ErrMixedDimensions = errors.New("cannot measure distance between 2D and 3D positions")

// Position is a detected person (or the machine anchor) in camera space.
// Positions are values and are never mutated after creation.
type Position struct {
	X, Y, Z float64
	// Is3D marks Z as meaningful.
	Is3D bool
}

// Pos2D returns a planar position.
func Pos2D(x, y float64) Position {
	return Position{X: x, Y: y}
}

// Pos3D returns a spatial position.
func Pos3D(x, y, z float64) Position {
	return Position{X: x, Y: y, Z: z, Is3D: true}
}

func (p Position) String() string {
	if p.Is3D {
		return fmt.Sprintf("(%g,%g,%g)", p.X, p.Y, p.Z)
	}
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Position) (float64, error) {
	if a.Is3D != b.Is3D {
		return 0, fmt.Errorf("%w: %v and %v", ErrMixedDimensions, a, b)
	}
	dx := a.X - b.X
	dy := a.Y - b.Y
	if !a.Is3D {
		return math.Hypot(dx, dy), nil
	}
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz), nil
}
