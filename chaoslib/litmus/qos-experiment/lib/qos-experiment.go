package lib

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/litmuschaos/litmus-qos/pkg/cerrors"
	"github.com/litmuschaos/litmus-qos/pkg/host"
	"github.com/litmuschaos/litmus-qos/pkg/log"
	experimentTypes "github.com/litmuschaos/litmus-qos/pkg/qos/types"
	"github.com/litmuschaos/litmus-qos/pkg/telemetry"
	"github.com/litmuschaos/litmus-qos/pkg/types"
	"github.com/litmuschaos/litmus-qos/pkg/utils/retry"
	"github.com/litmuschaos/litmus-qos/pkg/utils/stringutils"
)

const (
	SenderTask  = "sender"
	PlayerTask  = "player"
	CaptureTask = "capture"
	MonitorTask = "monitor"

	SenderLog   = "sender.log"
	PlayerLog   = "player.log"
	CaptureLog  = "capture.log"
	CaptureFile = "capture.pcap"
	MonitorLog  = "monitor.log"
	TraceFile   = "trace.csv"
	ShapingFile = "shaping.txt"

	readinessPoll      = 100 * time.Millisecond
	traceExportTimeout = time.Minute
)

var errNotReady = errors.New("task not ready")

// GeneratorTask names the i-th competing traffic generator
func GeneratorTask(i int) string {
	return fmt.Sprintf("generator_%d", i)
}

// GeneratorLog is the log artifact of the i-th generator
func GeneratorLog(i int) string {
	return GeneratorTask(i) + ".log"
}

// ArtifactKinds maps every artifact name a run can produce to its kind
func ArtifactKinds(generators int) map[string]types.ArtifactKind {
	kinds := map[string]types.ArtifactKind{
		SenderLog:   types.BitrateLog,
		PlayerLog:   types.PlayerLog,
		CaptureFile: types.CapturePcap,
		MonitorLog:  types.MonitorLog,
		TraceFile:   types.SequenceTrace,
		ShapingFile: types.ShapingSnapshot,
	}
	for i := 0; i < generators; i++ {
		kinds[GeneratorLog(i)] = types.ThroughputLog
	}
	return kinds
}

// Shaper is the shaping contract the orchestrator drives
type Shaper interface {
	Apply(ctx context.Context, p types.Policy, iface types.InterfaceHandle) error
	Reset(ctx context.Context, iface types.InterfaceHandle) error
	DescribeCurrent(ctx context.Context, iface types.InterfaceHandle) (string, error)
}

// Orchestrator sequences the phases of the experiment runs
type Orchestrator struct {
	details *experimentTypes.ExperimentDetails
	runner  host.Runner
	shaper  Shaper
	fs      afero.Fs

	run             *types.RunDetails
	handles         map[string]host.Process
	probes          map[string]func() bool
	selfTerminating map[string]bool
	span            trace.Span
}

// New returns an orchestrator launching the tasks with runner and shaping through shaper
func New(details *experimentTypes.ExperimentDetails, runner host.Runner, shaper Shaper, fs afero.Fs) *Orchestrator {
	return &Orchestrator{details: details, runner: runner, shaper: shaper, fs: fs}
}

type launchResult struct {
	record  types.TaskRecord
	process host.Process
}

// Run drives one run of the policy until Stopped. The error is only set
// when the interface could not be configured, a degraded or aborted run
// is reported through the verdict of the returned details.
func (o *Orchestrator) Run(ctx context.Context, p types.Policy) (*types.RunDetails, error) {
	o.handles = map[string]host.Process{}
	o.probes = map[string]func() bool{}
	o.selfTerminating = map[string]bool{}
	o.span = nil
	o.run = &types.RunDetails{
		RunID:       stringutils.GetRunID(),
		PolicyID:    p.ID,
		PolicyLabel: p.Label,
		Interface:   o.details.Interface.String(),
		StartedAt:   time.Now(),
		WorkDir:     o.details.WorkDir,
	}
	run := o.run

	ctx, runSpan := telemetry.StartTracing(ctx, "RunQoSExperiment",
		attribute.Int("policy.id", p.ID), attribute.String("run.id", run.RunID))
	defer runSpan.End()

	log.InfoWithValues("[Info]: The run details are as follows", logrus.Fields{
		"RunID":     run.RunID,
		"Policy":    p.ID,
		"Label":     p.Label,
		"Interface": run.Interface,
		"WorkDir":   run.WorkDir,
	})
	o.enter(ctx, types.PhaseIdle)

	if err := o.fs.MkdirAll(o.details.WorkDir, 0755); err != nil {
		return o.fail(ctx, cerrors.Generic{Phase: "PreReq", Reason: fmt.Sprintf("unable to create the work dir %s, err: %v", o.details.WorkDir, err)})
	}
	if err := o.applyPolicy(ctx, p); err != nil {
		return o.fail(ctx, err)
	}
	o.enter(ctx, types.PhasePolicyApplied)

	err := o.drive(ctx)
	aborted := ctx.Err() != nil
	if err != nil && !aborted {
		run.RecordFailure("%v", err)
	}
	o.stop(ctx)

	switch {
	case aborted:
		log.Info("[Abort]: Run interrupted, resetting the bottleneck interface")
		if err := o.shaper.Reset(context.Background(), o.details.Interface); err != nil {
			log.Errorf("unable to reset the interface after abort, err: %v", err)
		}
		run.Verdict = types.AbortVerdict
	case len(run.Failures) > 0:
		run.Verdict = types.DegradedVerdict
	default:
		run.Verdict = types.PassVerdict
	}
	if !aborted {
		o.exportTrace()
	}
	run.StoppedAt = time.Now()
	log.Infof("[Status]: Run %s of policy %d is %s", run.RunID, p.ID, run.Verdict)
	return run, nil
}

func (o *Orchestrator) fail(ctx context.Context, err error) (*types.RunDetails, error) {
	o.run.RecordFailure("%v", err)
	o.stop(ctx)
	o.run.Verdict = types.FailVerdict
	o.run.StoppedAt = time.Now()
	return o.run, err
}

// applyPolicy resets the interface to the unshaped baseline and applies the policy
func (o *Orchestrator) applyPolicy(ctx context.Context, p types.Policy) error {
	log.Info("[PreReq]: Resetting the bottleneck interface to the baseline")
	if err := o.shaper.Reset(ctx, o.details.Interface); err != nil {
		return err
	}
	if err := o.shaper.Apply(ctx, p, o.details.Interface); err != nil {
		return err
	}

	snapshot, err := o.shaper.DescribeCurrent(ctx, o.details.Interface)
	if err != nil {
		log.Warnf("[Shaping]: unable to capture the shaping snapshot, err: %v", err)
		return nil
	}
	path := filepath.Join(o.details.WorkDir, ShapingFile)
	if err := afero.WriteFile(o.fs, path, []byte(snapshot), 0644); err != nil {
		log.Warnf("[Shaping]: unable to write the shaping snapshot, err: %v", err)
		return nil
	}
	o.addArtifact(ShapingFile, path, types.ShapingSnapshot, false)
	return nil
}

// drive runs the phases from PolicyApplied up to the end of Draining
func (o *Orchestrator) drive(ctx context.Context) error {
	m := o.details.Media
	settle := o.details.SettleInterval

	// the sender writes a fresh sdp file once its outputs are open
	if err := o.fs.Remove(m.SDPFile); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
		log.Debugf("[PreReq]: unable to remove the stale sdp file, err: %v", err)
	}
	o.probes[SenderTask] = o.nonEmpty(m.SDPFile)
	o.record(o.start(SenderTask, m.SenderHost, SenderCommand(m), SenderLog), types.BitrateLog, true, true)
	if err := o.awaitReady(ctx, settle, SenderTask); err != nil {
		return err
	}

	if m.Player {
		o.record(o.start(PlayerTask, m.ReceiverHost, PlayerCommand(m), PlayerLog), types.PlayerLog, false, false)
	}
	if o.details.Capture.Enabled {
		pcap := filepath.Join(o.details.WorkDir, CaptureFile)
		o.record(o.start(CaptureTask, m.ReceiverHost, CaptureCommand(o.details.Capture, m, pcap), CaptureLog), "", false, false)
		o.addArtifact(CaptureFile, pcap, types.CapturePcap, false)
	}
	o.enter(ctx, types.PhaseMediaStarted)
	if err := o.awaitReady(ctx, settle, PlayerTask, CaptureTask); err != nil {
		return err
	}
	o.enter(ctx, types.PhaseCaptureStarted)

	iface := o.details.Interface
	o.record(o.start(MonitorTask, iface.Host, MonitorCommand(iface.Name, o.details.Monitor), MonitorLog), types.MonitorLog, true, false)
	if err := o.awaitReady(ctx, settle, MonitorTask); err != nil {
		return err
	}
	o.enter(ctx, types.PhaseMonitoringStarted)

	log.Infof("[Wait]: Warming up for %v before the competing traffic", o.details.WarmupInterval)
	if err := o.hold(ctx, o.details.WarmupInterval); err != nil {
		return err
	}
	o.launchGenerators()
	o.enter(ctx, types.PhaseCompetingTrafficStarted)

	o.enter(ctx, types.PhaseDraining)
	return o.drain(ctx)
}

// launchGenerators starts the generators concurrently, the records are
// written once every launch returned
func (o *Orchestrator) launchGenerators() {
	g := o.details.Generators
	results := make([]launchResult, g.Count)
	var wg sync.WaitGroup
	for i := 0; i < g.Count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.start(GeneratorTask(i), g.Host, GeneratorCommand(g, o.details.GeneratorDuration), GeneratorLog(i))
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		o.record(r, types.ThroughputLog, true, true)
	}
	log.Infof("[Launch]: %d competing traffic generator(s) started for %v", g.Count, o.details.GeneratorDuration)
}

// start launches the task, it doesn't touch the run details
func (o *Orchestrator) start(name, hostName string, argv []string, logName string) launchResult {
	logPath := filepath.Join(o.details.WorkDir, logName)
	r := launchResult{record: types.TaskRecord{
		Name:    name,
		Host:    hostName,
		Command: argv,
		LogPath: logPath,
		Started: time.Now(),
	}}
	process, err := o.runner.Start(hostName, argv, logPath)
	if err != nil {
		r.record.Error = err.Error()
		return r
	}
	r.record.LaunchOK = true
	r.process = process
	return r
}

// record adds the launched task and its log artifact to the run
func (o *Orchestrator) record(r launchResult, kind types.ArtifactKind, required, selfTerminating bool) {
	name := r.record.Name
	o.run.Tasks = append(o.run.Tasks, r.record)
	if kind != "" {
		o.addArtifact(filepath.Base(r.record.LogPath), r.record.LogPath, kind, required)
	}
	if !r.record.LaunchOK {
		log.Errorf("[Launch]: unable to launch %s on %s, err: %s", name, r.record.Host, r.record.Error)
		o.run.RecordFailure("launch of %s failed: %s", name, r.record.Error)
		return
	}
	log.Infof("[Launch]: %s started on %s: %s", name, r.record.Host, stringutils.FormatCommand(r.record.Command))
	o.handles[name] = r.process
	o.selfTerminating[name] = selfTerminating
	if _, ok := o.probes[name]; !ok {
		o.probes[name] = o.nonEmpty(r.record.LogPath)
	}
}

func (o *Orchestrator) addArtifact(name, path string, kind types.ArtifactKind, required bool) {
	o.run.Artifacts = append(o.run.Artifacts, types.Artifact{Name: name, Path: path, Kind: kind, Required: required})
}

// awaitReady waits until every named task is ready or has exited, at most bound
func (o *Orchestrator) awaitReady(ctx context.Context, bound time.Duration, names ...string) error {
	var pending []string
	for _, name := range names {
		if o.handles[name] != nil {
			pending = append(pending, name)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	attempts := uint(bound/readinessPoll) + 1
	err := retry.Times(attempts).Wait(readinessPoll).Timeout(bound).TryWithContext(ctx, func(uint) error {
		for _, name := range pending {
			if !o.readyOrExited(name) {
				return errNotReady
			}
		}
		return nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for _, name := range pending {
		task := o.run.Task(name)
		select {
		case <-o.handles[name].Done():
			if exitErr := o.handles[name].Err(); exitErr != nil {
				task.Error = exitErr.Error()
				log.Errorf("[Wait]: %s exited before being ready, err: %v", name, exitErr)
				o.run.RecordFailure("%s exited before being ready: %v", name, exitErr)
				continue
			}
			task.Ready = true
		default:
			if o.probes[name]() {
				task.Ready = true
				continue
			}
			log.Warnf("[Wait]: %s not ready after %v, continuing", name, bound)
		}
	}
	if err != nil && err != errNotReady {
		return err
	}
	return nil
}

func (o *Orchestrator) readyOrExited(name string) bool {
	select {
	case <-o.handles[name].Done():
		return true
	default:
	}
	return o.probes[name]()
}

// nonEmpty is the readiness probe of a task writing the given file
func (o *Orchestrator) nonEmpty(path string) func() bool {
	return func() bool {
		fi, err := o.fs.Stat(path)
		return err == nil && fi.Size() > 0
	}
}

// hold waits for the duration unless the run is aborted
func (o *Orchestrator) hold(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// drain holds the observation window, ending early once every self-terminating task exited
func (o *Orchestrator) drain(ctx context.Context) error {
	window := o.details.ObservationWindow
	log.Infof("[Wait]: Observing for at most %v", window)
	timer := time.NewTimer(window)
	defer timer.Stop()

	for name, self := range o.selfTerminating {
		if !self {
			continue
		}
		select {
		case <-o.handles[name].Done():
		case <-timer.C:
			log.Infof("[Wait]: Observation window of %v is over", window)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	log.Info("[Wait]: Every self-terminating task exited, ending the observation window")
	return nil
}

// stop moves the run to Stopped and terminates every outstanding task, the monitor first
func (o *Orchestrator) stop(ctx context.Context) {
	o.enter(ctx, types.PhaseStopped)
	defer o.span.End()

	grace := o.details.StopGracePeriod
	if p, ok := o.handles[MonitorTask]; ok {
		log.Info("[Cleanup]: Terminating the interface monitor")
		o.settle(MonitorTask, p.Stop(grace))
		delete(o.handles, MonitorTask)
	}

	names := make([]string, 0, len(o.handles))
	for _, task := range o.run.Tasks {
		if _, ok := o.handles[task.Name]; ok {
			names = append(names, task.Name)
		}
	}
	stopped := make([]bool, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, p host.Process) {
			defer wg.Done()
			stopped[i] = p.Stop(grace)
		}(i, o.handles[name])
	}
	wg.Wait()
	for i, name := range names {
		o.settle(name, stopped[i])
	}
	o.handles = map[string]host.Process{}
}

// settle records how the task ended
func (o *Orchestrator) settle(name string, terminated bool) {
	task := o.run.Task(name)
	p := o.handles[name]
	if terminated {
		task.Terminated = true
		if o.selfTerminating[name] {
			task.Overrun = true
			log.Warnf("[Cleanup]: %s overran the run and was terminated", name)
			o.run.RecordFailure("%s overran the run and was terminated", name)
		}
		return
	}
	if err := p.Err(); err != nil && task.Error == "" {
		task.Error = err.Error()
		log.Warnf("[Cleanup]: %s exited with error: %v", name, err)
		o.run.RecordFailure("%s exited with error: %v", name, err)
	}
}

// exportTrace converts the capture into the sequence trace csv
func (o *Orchestrator) exportTrace() {
	if !o.details.Capture.Enabled || !o.details.Capture.ExportTrace {
		return
	}
	pcap := filepath.Join(o.details.WorkDir, CaptureFile)
	if !o.nonEmpty(pcap)() {
		log.Warnf("[Cleanup]: no capture to export at %s", pcap)
		return
	}
	tracePath := filepath.Join(o.details.WorkDir, TraceFile)
	p, err := o.runner.Start("", TraceExportCommand(pcap, o.details.Media, o.details.Trace), tracePath)
	if err != nil {
		log.Warnf("[Cleanup]: unable to export the sequence trace, err: %v", err)
		return
	}
	select {
	case <-p.Done():
		if err := p.Err(); err != nil {
			log.Warnf("[Cleanup]: sequence trace export failed, err: %v", err)
		}
	case <-time.After(traceExportTimeout):
		p.Stop(o.details.StopGracePeriod)
		log.Warnf("[Cleanup]: sequence trace export timed out after %v", traceExportTimeout)
	}
	o.addArtifact(TraceFile, tracePath, types.SequenceTrace, false)
}

// enter moves the run to the phase, each phase is traced as its own span
func (o *Orchestrator) enter(ctx context.Context, phase types.Phase) {
	if o.span != nil {
		o.span.End()
	}
	_, o.span = telemetry.StartTracing(ctx, string(phase))
	o.run.SetPhase(phase)
	log.Infof("[Status]: %s", phase)
}
