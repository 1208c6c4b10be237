package schedule

import (
	"fmt"
	"time"
)

// Spec describes a capture job: a timed sequence of uploads spanning
// Duration at a fixed Interval, starting after StartupDelay.
type Spec struct {
	Duration     time.Duration
	Interval     time.Duration
	StartupDelay time.Duration

	// Per-upload metadata forwarded to the aggregator
	Experiment string // xp_id
	Voltage    string

	// CaptureJob is the coordinator's cj_id, recorded but not uploaded
	// per-frame
	CaptureJob string
}

// maxTargets bounds the target slice of a single job. The duration and
// interval arrive as arbitrary numbers from the wire, so the derived count
// must not be allowed to exhaust memory.
const maxTargets = 1_000_000

// Targets derives the absolute wall-clock instants a job must fire at:
// the first at now+StartupDelay, then every Interval for as long as the
// offset stays within Duration. The first instant is always included, even
// when Duration is shorter than Interval.
func Targets(now time.Time, spec Spec) ([]time.Time, error) {
	if spec.Interval <= 0 {
		return nil, fmt.Errorf("capture interval must be positive, got %v", spec.Interval)
	}
	if spec.Duration < 0 {
		return nil, fmt.Errorf("capture duration must not be negative, got %v", spec.Duration)
	}

	if spec.Duration/spec.Interval >= maxTargets {
		return nil, fmt.Errorf("capture job would span more than %d targets", maxTargets)
	}

	first := now.Add(spec.StartupDelay)
	count := int(spec.Duration/spec.Interval) + 1

	targets := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		targets = append(targets, first.Add(time.Duration(i)*spec.Interval))
	}
	return targets, nil
}
