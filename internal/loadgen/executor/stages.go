package executor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage. Zero means the target is reached immediately.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Phase describes what the VU target is doing at a point in time.
type Phase string

const (
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// Plan is a compiled, immutable stage list. It maps elapsed run time to a
// target VU count.
//
// Within a stage the target moves linearly from the previous stage's target
// (or the start target for the first stage) to the stage's own target and is
// rounded to the nearest integer. Once the last stage has elapsed the target
// is 0.
type Plan struct {
	start  int
	stages []Stage
	ends   []time.Duration
	total  time.Duration
	max    int
}

// NewPlan compiles stages into a Plan. The stage slice is copied.
func NewPlan(startTarget int, stages []Stage) (*Plan, error) {
	if len(stages) == 0 {
		return nil, &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	if startTarget < 0 {
		return nil, &ValidationError{Field: "startVUs", Message: "must be >= 0"}
	}

	p := &Plan{
		start:  startTarget,
		stages: make([]Stage, len(stages)),
		ends:   make([]time.Duration, len(stages)),
		max:    startTarget,
	}
	copy(p.stages, stages)

	for i, s := range p.stages {
		if s.Duration < 0 {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("stages[%d].duration", i),
				Message: "must be >= 0",
			}
		}
		if s.Target < 0 {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("stages[%d].target", i),
				Message: "must be >= 0",
			}
		}
		p.total += s.Duration
		p.ends[i] = p.total
		if s.Target > p.max {
			p.max = s.Target
		}
	}
	return p, nil
}

// TotalDuration returns the sum of all stage durations.
func (p *Plan) TotalDuration() time.Duration {
	return p.total
}

// MaxTarget returns the highest target the plan ever asks for.
func (p *Plan) MaxTarget() int {
	return p.max
}

// Stages returns a copy of the compiled stages.
func (p *Plan) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// StageAt returns the index of the stage running at elapsed. ok is false once
// the plan has finished.
func (p *Plan) StageAt(elapsed time.Duration) (index int, ok bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	for i, end := range p.ends {
		if elapsed < end {
			return i, true
		}
	}
	return len(p.stages), false
}

// TargetAt returns the target VU count at elapsed.
func (p *Plan) TargetAt(elapsed time.Duration) int {
	i, ok := p.StageAt(elapsed)
	if !ok {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	from := p.fromTarget(i)
	stage := p.stages[i]
	if from == stage.Target {
		return from
	}

	stageStart := p.ends[i] - stage.Duration
	progress := float64(elapsed-stageStart) / float64(stage.Duration)
	return int(math.Round(float64(from) + float64(stage.Target-from)*progress))
}

// Phase returns the phase at elapsed.
func (p *Plan) Phase(elapsed time.Duration) Phase {
	i, ok := p.StageAt(elapsed)
	if !ok {
		return PhaseDone
	}

	from, to := p.fromTarget(i), p.stages[i].Target
	switch {
	case to > from:
		return PhaseRampUp
	case to < from:
		return PhaseRampDown
	default:
		return PhaseSteady
	}
}

// fromTarget is the target a stage starts from.
func (p *Plan) fromTarget(i int) int {
	if i == 0 {
		return p.start
	}
	return p.stages[i-1].Target
}

// ParseStages parses the compact "duration:target" list used by the CLI and
// the STAMPEDE_STAGES environment variable, e.g. "30s:10,1m:10,10s:0".
func ParseStages(s string) ([]Stage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty stage list")
	}

	parts := strings.Split(s, ",")
	stages := make([]Stage, 0, len(parts))
	for i, part := range parts {
		durStr, targetStr, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found {
			return nil, fmt.Errorf("stage %d: %q is not duration:target", i+1, part)
		}

		dur, err := time.ParseDuration(strings.TrimSpace(durStr))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration: %w", i+1, err)
		}
		if dur < 0 {
			return nil, fmt.Errorf("stage %d: duration must be >= 0", i+1)
		}

		target, err := strconv.Atoi(strings.TrimSpace(targetStr))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target: %w", i+1, err)
		}
		if target < 0 {
			return nil, fmt.Errorf("stage %d: target must be >= 0", i+1)
		}

		stages = append(stages, Stage{Duration: dur, Target: target})
	}
	return stages, nil
}
