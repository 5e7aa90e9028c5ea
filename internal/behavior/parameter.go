package behavior

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/kinetic/internal/aggregate"
)

// ErrInvalidParameter marks a behaviour parameter that cannot be evaluated.
var ErrInvalidParameter = errors.New("invalid behaviour parameter")

// Kind names the quantity a Parameter constrains.
type Kind string

const (
	// ElapsedTime is the time since the behaviour last ran. It is bounded
	// by a timeout rather than a range.
	ElapsedTime     Kind = "elapsed_time"
	People          Kind = "people"
	Groups          Kind = "groups"
	GroupRatio      Kind = "group_ratio"
	PeopleDistance  Kind = "people_distance"
	MachineDistance Kind = "machine_distance"
)

// Kinds lists every known parameter kind.
var Kinds = []Kind{ElapsedTime, People, Groups, GroupRatio, PeopleDistance, MachineDistance}

func (k Kind) known() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Measure returns the value of a measured kind from the rolling statistics.
func (k Kind) Measure(stats aggregate.Stats) (float64, bool) {
	switch k {
	case People:
		return stats.People.Average, true
	case Groups:
		return stats.Groups.Average, true
	case GroupRatio:
		return stats.GroupRatio, true
	case PeopleDistance:
		return stats.PeopleDistance.Average, true
	case MachineDistance:
		return stats.MachineDistance.Average, true
	}
	return 0, false
}

// Parameter is one constraint of a behaviour. Measured kinds use the
// inclusive [Min, Max] range; ElapsedTime uses Timeout.
type Parameter struct {
	Kind    Kind           `json:"kind"`
	Enabled bool           `json:"enabled"`
	Min     *float64       `json:"min,omitempty"`
	Max     *float64       `json:"max,omitempty"`
	Timeout *time.Duration `json:"timeout,omitempty"`
}

// Validate reports whether the parameter carries what its kind needs.
func (p Parameter) Validate() error {
	if !p.Kind.known() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidParameter, p.Kind)
	}
	if p.Kind == ElapsedTime {
		if p.Timeout == nil {
			return fmt.Errorf("%w: %s requires a timeout", ErrInvalidParameter, p.Kind)
		}
		if *p.Timeout < 0 {
			return fmt.Errorf("%w: %s timeout %s is negative", ErrInvalidParameter, p.Kind, *p.Timeout)
		}
		return nil
	}
	if p.Min == nil || p.Max == nil {
		return fmt.Errorf("%w: %s requires min and max", ErrInvalidParameter, p.Kind)
	}
	if *p.Min > *p.Max {
		return fmt.Errorf("%w: %s min %g exceeds max %g", ErrInvalidParameter, p.Kind, *p.Min, *p.Max)
	}
	return nil
}

// ParamResult is the outcome of one parameter in one evaluation.
type ParamResult struct {
	Kind    Kind    `json:"kind"`
	Enabled bool    `json:"enabled"`
	Value   float64 `json:"value"`
	Passed  bool    `json:"passed"`
}

// evaluate checks p. lastRun is nil when the behaviour never ran. The
// caller has already validated enabled parameters.
func (p Parameter) evaluate(stats aggregate.Stats, lastRun *time.Time, now time.Time) ParamResult {
	r := ParamResult{Kind: p.Kind, Enabled: p.Enabled}
	if p.Kind == ElapsedTime {
		if lastRun == nil {
			r.Passed = true
			return r
		}
		elapsed := now.Sub(*lastRun)
		r.Value = elapsed.Seconds()
		r.Passed = p.Timeout != nil && elapsed >= *p.Timeout
		return r
	}
	v, _ := p.Kind.Measure(stats)
	r.Value = v
	r.Passed = p.Min != nil && p.Max != nil && *p.Min <= v && v <= *p.Max
	return r
}

// Range is a convenience for building a measured parameter.
func Range(kind Kind, min, max float64) Parameter {
	return Parameter{Kind: kind, Enabled: true, Min: &min, Max: &max}
}

// Cooldown is a convenience for building an ElapsedTime parameter.
func Cooldown(timeout time.Duration) Parameter {
	return Parameter{Kind: ElapsedTime, Enabled: true, Timeout: &timeout}
}
