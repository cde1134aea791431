// Package pipeline is the stateful heart of sproutcast: it watches the camera
// frame, extracts vegetation metrics, compares them to a rolling baseline, and
// decides cycle by cycle whether the expensive depth inference is worth
// running.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
	"github.com/sproutcast/sproutcast/server/camera"
	"github.com/sproutcast/sproutcast/server/vision"
)

// FrameSource produces the newest camera frame, or nil if the frame on disk
// hasn't changed since the previous call.
type FrameSource interface {
	LatestFrameIfNewer() (*camera.Frame, error)
}

// SignalSource reads the out-of-band change signal, fresh every cycle.
type SignalSource interface {
	Read() (camera.ChangeSignal, error)
}

// LabelSource supplies per-instance label overrides, keyed by the instance's
// position in this cycle's detection order. Positional indices carry no
// identity across cycles, so overrides only reliably describe the cycle in
// which they were captured.
type LabelSource interface {
	InstanceLabel(index int) (string, bool)
}

// CycleRecord is what one pipeline cycle publishes: the current metrics, the
// baseline they were judged against, and the full decision breakdown.
type CycleRecord struct {
	CycleCount          int64                `json:"cycle_count"`
	Current             vegmetrics.Snapshot  `json:"current"`
	Baseline            *vegmetrics.Snapshot `json:"baseline,omitempty"`
	ChangeDetection     Verdict              `json:"change_detection"`
	Deviation           bool                 `json:"deviation"`
	AIAnalysis          bool                 `json:"ai_analysis"`
	Trigger             string               `json:"trigger,omitempty"`
	CyclesSinceDepthRun int                  `json:"cycles_since_depth_run"`
	ExternalSignal      bool                 `json:"external_signal"`
}

// Options wires the pipeline's collaborators. Frames and Engine are required;
// Signal, Labels and MetricsFile are optional.
type Options struct {
	Config      Config
	Frames      FrameSource
	Signal      SignalSource
	Engine      vision.Engine
	Labels      LabelSource
	MetricsFile string // If set, every cycle's record is written here for dashboard collaborators to poll
}

// Pipeline runs the decision loop. A single worker goroutine owns the
// baseline and the scheduler; everything exposed to other goroutines
// (LatestRecord, watchers, baseline reads) is behind its own lock.
type Pipeline struct {
	Log logs.Log

	// cfgLock lets SetConfig swap the thresholds between cycles. The worker
	// holds it for the duration of each cycle, so a cycle always sees one
	// consistent config.
	cfgLock     sync.Mutex
	cfg         Config
	frames      FrameSource
	signal      SignalSource
	engine      vision.Engine
	labels      LabelSource
	metricsFile string

	baseline *BaselineStore
	sched    *Scheduler

	cycleCount int64
	lastErrAt  time.Time

	mustStop      atomic.Bool
	looperStopped chan bool
	nowFunc       func() time.Time

	lastLock sync.Mutex
	last     *CycleRecord

	watchersLock sync.RWMutex
	watchers     []chan *CycleRecord
}

func NewPipeline(logger logs.Log, opts Options) (*Pipeline, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if opts.Frames == nil || opts.Engine == nil {
		return nil, fmt.Errorf("pipeline needs a frame source and a vision engine")
	}
	p := &Pipeline{
		Log:         logs.NewPrefixLogger(logger, "pipeline"),
		cfg:         opts.Config,
		frames:      opts.Frames,
		signal:      opts.Signal,
		engine:      opts.Engine,
		labels:      opts.Labels,
		metricsFile: opts.MetricsFile,
		baseline:    NewBaselineStore(),
		nowFunc:     time.Now,
	}
	p.sched = NewScheduler(&p.cfg, p.nowFunc())
	return p, nil
}

// Start launches the worker goroutine. Call Close to stop it.
func (p *Pipeline) Start() {
	p.mustStop.Store(false)
	p.looperStopped = make(chan bool)
	go p.loop()
}

func (p *Pipeline) Close() {
	p.Log.Infof("Pipeline shutting down")
	p.mustStop.Store(true)
	<-p.looperStopped
	p.Log.Infof("Pipeline is closed")
}

// Config returns a copy of the current pipeline config.
func (p *Pipeline) Config() Config {
	p.cfgLock.Lock()
	defer p.cfgLock.Unlock()
	return p.cfg
}

// SetConfig replaces the pipeline thresholds. The new values take effect on
// the next cycle; in-flight cycles finish with the config they started with.
func (p *Pipeline) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.cfgLock.Lock()
	defer p.cfgLock.Unlock()
	p.cfg = cfg
	p.Log.Infof("Pipeline config updated")
	return nil
}

func (p *Pipeline) Baseline() *BaselineStore {
	return p.baseline
}

// LatestRecord returns the most recently published cycle record, or nil if
// no cycle has completed yet.
func (p *Pipeline) LatestRecord() *CycleRecord {
	p.lastLock.Lock()
	defer p.lastLock.Unlock()
	return p.last
}

// Loop runs until Close()
func (p *Pipeline) loop() {
	for !p.mustStop.Load() {
		cfg := p.Config()
		time.Sleep(cfg.PollInterval())
		if p.mustStop.Load() {
			break
		}
		if _, err := p.runCycle(p.nowFunc()); err != nil {
			if time.Now().Sub(p.lastErrAt) > 15*time.Second {
				p.Log.Errorf("Cycle failed: %v", err)
				p.lastErrAt = time.Now()
			}
		}
	}
	close(p.looperStopped)
}

// runCycle performs one pass: frame check, metrics, deviation, scheduling,
// optional depth enrichment, publication. Returns (nil, nil) when there is
// no new frame. Errors are transient: the caller logs them and the loop
// continues after the normal sleep.
func (p *Pipeline) runCycle(now time.Time) (*CycleRecord, error) {
	p.cfgLock.Lock()
	defer p.cfgLock.Unlock()

	frame, err := p.frames.LatestFrameIfNewer()
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}

	scene, err := p.engine.ExtractScene(frame.Data)
	if err != nil {
		return nil, err
	}
	snapshot := vegmetrics.BuildSnapshot(frame.CapturedAt, scene)

	sig := camera.ChangeSignal{}
	if p.signal != nil {
		sig, err = p.signal.Read()
		if err != nil {
			return nil, err
		}
	}

	p.cycleCount++
	rec := &CycleRecord{
		CycleCount:     p.cycleCount,
		Current:        *snapshot,
		ExternalSignal: sig.Significant,
	}

	decision := Decision{}
	if !p.baseline.IsSet() {
		if snapshot.IsEmpty() {
			// Nothing to anchor a baseline on. Publish the sentinel and wait
			// for vegetation to appear.
			p.publish(rec)
			return rec, nil
		}
		// First sight of vegetation: this becomes the baseline, and we force
		// a depth run so the first published record is fully analyzed.
		p.baseline.Anchor(snapshot, now)
		p.sched.MarkRun(now)
		decision = Decision{RunDepth: true, Trigger: TriggerFirstLight}
		p.Log.Infof("Baseline established (%v instances, vegetation fraction %.3f)", len(snapshot.Instances), snapshot.VegetationFraction)
	} else {
		verdict, err := EvaluateDeviation(&p.cfg, snapshot, p.baseline.Get())
		if err != nil {
			p.Log.Warnf("Deviation evaluation failed (treating cycle as significant): %v", err)
			verdict = FailOpenVerdict()
		}
		rec.ChangeDetection = verdict
		rec.Deviation = verdict.Significant
		decision = p.sched.Decide(now, sig.Significant, verdict)
		if verdict.Significant && !snapshot.IsEmpty() {
			// A confirmed change means the old "normal" is gone. Re-anchor so
			// we measure future deviation against the new appearance.
			p.baseline.Anchor(snapshot, now)
		}
	}

	if decision.RunDepth {
		rec.Trigger = decision.Trigger
		depth, err := p.engine.EstimateDepth(frame.Data)
		if err != nil {
			// Non-fatal: the cycle still publishes color and shape metrics.
			if time.Now().Sub(p.lastErrAt) > 15*time.Second {
				p.Log.Warnf("Depth inference failed, publishing without depth: %v", err)
				p.lastErrAt = time.Now()
			}
		} else {
			EnrichWithDepth(&rec.Current, depth, p.cfg.MinDistanceCm, p.cfg.MaxDistanceCm)
			rec.AIAnalysis = true
		}
	}

	p.applyLabelOverrides(&rec.Current)
	rec.Baseline = p.baseline.Get()
	rec.CyclesSinceDepthRun = p.sched.CyclesSinceDepthRun()
	p.publish(rec)
	return rec, nil
}

func (p *Pipeline) applyLabelOverrides(snapshot *vegmetrics.Snapshot) {
	if p.labels == nil {
		return
	}
	for i := range snapshot.Instances {
		if label, ok := p.labels.InstanceLabel(i); ok {
			snapshot.Instances[i].Label = label
		}
	}
}

func (p *Pipeline) publish(rec *CycleRecord) {
	p.lastLock.Lock()
	p.last = rec
	p.lastLock.Unlock()

	if p.metricsFile != "" {
		if err := writeFileAtomic(p.metricsFile, rec); err != nil {
			if time.Now().Sub(p.lastErrAt) > 15*time.Second {
				p.Log.Errorf("Failed to write metrics file: %v", err)
				p.lastErrAt = time.Now()
			}
		}
	}
	p.sendToWatchers(rec)
}

// writeFileAtomic writes via a temp file and rename, so dashboard pollers
// never observe a half-written record.
func writeFileAtomic(path string, rec *CycleRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
