package pipeline

import (
	"time"
)

// Trigger reasons, in precedence order. FirstLight is not a scheduler trigger:
// the pipeline forces a depth run when it establishes the baseline, before the
// scheduler ever gets a say.
const (
	TriggerExternalSignal  = "external-signal"
	TriggerLocalDeviation  = "local-deviation"
	TriggerStarvationGuard = "starvation-guard"
	TriggerForcedInterval  = "forced-interval"
	TriggerFirstLight      = "first-light"
)

// Decision says whether the expensive depth inference runs this cycle, and why.
type Decision struct {
	RunDepth bool   `json:"run_depth"`
	Trigger  string `json:"trigger,omitempty"`
}

// Scheduler decides, cycle by cycle, whether depth inference is worth its
// cost. It layers two safety nets (starvation guard, forced interval) under
// the change-driven triggers, so inference can be throttled hard without ever
// going silently stale.
//
// Mutated only by the pipeline worker, so it carries no locking.
type Scheduler struct {
	cfg                 *Config
	cyclesSinceDepthRun int
	lastDepthRunAt      time.Time
}

func NewScheduler(cfg *Config, now time.Time) *Scheduler {
	return &Scheduler{
		cfg: cfg,
		// Pretend we just ran, so the forced interval measures from startup
		// rather than firing on the first cycle.
		lastDepthRunAt: now,
	}
}

// Decide applies the triggers in precedence order. A run resets both safety
// nets; a skip increments the starvation counter.
func (s *Scheduler) Decide(now time.Time, externalSignal bool, verdict Verdict) Decision {
	trigger := ""
	switch {
	case externalSignal:
		trigger = TriggerExternalSignal
	case verdict.Significant:
		trigger = TriggerLocalDeviation
	case s.cyclesSinceDepthRun >= s.cfg.MaxFramesWithoutInference:
		trigger = TriggerStarvationGuard
	case now.Sub(s.lastDepthRunAt) >= s.cfg.ForceInterval():
		trigger = TriggerForcedInterval
	}
	if trigger == "" {
		s.cyclesSinceDepthRun++
		return Decision{}
	}
	s.MarkRun(now)
	return Decision{RunDepth: true, Trigger: trigger}
}

// MarkRun records that depth inference ran this cycle, resetting the
// starvation counter and the forced-interval clock. The pipeline calls this
// directly for the first-light run.
func (s *Scheduler) MarkRun(now time.Time) {
	s.cyclesSinceDepthRun = 0
	s.lastDepthRunAt = now
}

func (s *Scheduler) CyclesSinceDepthRun() int {
	return s.cyclesSinceDepthRun
}

func (s *Scheduler) LastDepthRunAt() time.Time {
	return s.lastDepthRunAt
}
