package types

import (
	"fmt"
	"time"
)

// Phase is a state of the experiment run state machine
type Phase string

const (
	// PhaseIdle the run has been created, nothing is applied yet
	PhaseIdle Phase = "Idle"
	// PhasePolicyApplied the shaping policy is live on the bottleneck interface
	PhasePolicyApplied Phase = "PolicyApplied"
	// PhaseMediaStarted the media sender and the receiver side are running
	PhaseMediaStarted Phase = "MediaStarted"
	// PhaseCaptureStarted the packet capture is running
	PhaseCaptureStarted Phase = "CaptureStarted"
	// PhaseMonitoringStarted the interface monitor is running
	PhaseMonitoringStarted Phase = "MonitoringStarted"
	// PhaseCompetingTrafficStarted the bulk generators are running
	PhaseCompetingTrafficStarted Phase = "CompetingTrafficStarted"
	// PhaseDraining observation window
	PhaseDraining Phase = "Draining"
	// PhaseStopped terminal state, every handle has been released
	PhaseStopped Phase = "Stopped"
)

const (
	// PassVerdict every task launched and the run completed
	PassVerdict string = "Pass"
	// DegradedVerdict the run completed but some background task failed to launch or overran
	DegradedVerdict string = "Degraded"
	// FailVerdict the policy could not be applied
	FailVerdict string = "Fail"
	// AbortVerdict the run was interrupted by a signal
	AbortVerdict string = "Abort"
)

// Scope is the part of the shaping hierarchy an operation targets
type Scope string

const (
	// ScopeRoot targets a queueing discipline: the interface root one when
	// Parent is empty, otherwise a child discipline attached under a class
	ScopeRoot   Scope = "root"
	ScopeClass  Scope = "class"
	ScopeFilter Scope = "filter"
	// ScopeMark is the marking stage that tags packets before queueing
	ScopeMark Scope = "mark"
)

// Action is either 'add' or 'delete'
type Action string

const (
	ActionAdd    Action = "add"
	ActionDelete Action = "delete"
)

// Kind is the discipline, class or filter type of an operation
type Kind string

const (
	KindTBF  Kind = "tbf"
	KindSFQ  Kind = "sfq"
	KindHTB  Kind = "htb"
	KindU32  Kind = "u32"
	KindFW   Kind = "fw"
	KindMark Kind = "mark"
)

// Marking is where the marking stage tags the packets
type Marking string

const (
	// MarkingEgress tags in the clsact egress hook of the interface, which
	// runs before the root qdisc enqueue for every transmitted packet
	MarkingEgress Marking = "egress"
	// MarkingNetfilter tags in the mangle table, only routed traffic traverses it
	MarkingNetfilter Marking = "netfilter"
)

// Match selects packets by protocol and destination port
type Match struct {
	Protocol string `json:"protocol" yaml:"protocol"`
	DPort    int    `json:"dport" yaml:"dport"`
}

// Operation is one configuration step of a policy.
// Rate and Ceil are in bit/s, Burst in bytes.
type Operation struct {
	Scope        Scope         `json:"scope"`
	Action       Action        `json:"action"`
	Kind         Kind          `json:"kind"`
	Parent       string        `json:"parent,omitempty"`
	Handle       string        `json:"handle,omitempty"`
	Rate         uint64        `json:"rate,omitempty"`
	Ceil         uint64        `json:"ceil,omitempty"`
	Burst        uint32        `json:"burst,omitempty"`
	Latency      time.Duration `json:"latency,omitempty"`
	Perturb      int           `json:"perturb,omitempty"`
	DefaultClass int           `json:"default,omitempty"`
	Prio         int           `json:"prio,omitempty"`
	Match        *Match        `json:"match,omitempty"`
	Mark         int           `json:"mark,omitempty"`
	FlowID       string        `json:"flowid,omitempty"`
}

func (op Operation) String() string {
	s := fmt.Sprintf("%s %s %s", op.Action, op.Scope, op.Kind)
	if op.Handle != "" {
		s += " handle " + op.Handle
	}
	if op.Parent != "" {
		s += " parent " + op.Parent
	}
	if op.FlowID != "" {
		s += " flowid " + op.FlowID
	}
	return s
}

// Policy is a shaping policy template of the catalog
type Policy struct {
	ID         int         `json:"id"`
	Label      string      `json:"label"`
	Operations []Operation `json:"operations"`
}

// HasMarking reports whether the policy classifies through the marking stage
func (p Policy) HasMarking() bool {
	for _, op := range p.Operations {
		if op.Scope == ScopeMark {
			return true
		}
	}
	return false
}

// InterfaceHandle identifies the interface a policy is applied on
type InterfaceHandle struct {
	Host string `json:"host" yaml:"host"`
	Name string `json:"name" yaml:"name"`
}

func (h InterfaceHandle) String() string {
	if h.Host == "" {
		return h.Name
	}
	return h.Host + "/" + h.Name
}

// FlowMetrics contains the network quality derived for one run
type FlowMetrics struct {
	AvgJitterSeconds float64 `json:"avg_jitter_s"`
	MaxJitterSeconds float64 `json:"max_jitter_s"`
	ExpectedPackets  int     `json:"expected_packets"`
	ReceivedPackets  int     `json:"received_packets"`
	LostPackets      int     `json:"lost_packets"`
	LossPercent      float64 `json:"loss_percent"`
	AvgBitrateKbps   float64 `json:"avg_bitrate_kbps"`
	ThroughputMbps   float64 `json:"throughput_mbps"`
	LinkOutKbps      float64 `json:"link_out_kbps"`
}

// PolicyMetrics binds the metrics of a run to its policy
type PolicyMetrics struct {
	PolicyID int         `json:"policy_id"`
	Metrics  FlowMetrics `json:"metrics"`
}

// PhaseRecord is a state machine transition
type PhaseRecord struct {
	Phase Phase     `json:"phase"`
	At    time.Time `json:"at"`
}

// TaskRecord is the serializable trace of a background task.
// Overrun is set on a self-terminating task still running at Stopped.
type TaskRecord struct {
	Name       string    `json:"name"`
	Host       string    `json:"host"`
	Command    []string  `json:"command"`
	LogPath    string    `json:"log_path,omitempty"`
	Started    time.Time `json:"started,omitempty"`
	LaunchOK   bool      `json:"launch_ok"`
	Ready      bool      `json:"ready"`
	Overrun    bool      `json:"overrun"`
	Terminated bool      `json:"terminated"`
	Error      string    `json:"error,omitempty"`
}

// ArtifactKind tells the analyzer how to read an artifact
type ArtifactKind string

const (
	BitrateLog      ArtifactKind = "bitrate-log"
	ThroughputLog   ArtifactKind = "throughput-log"
	MonitorLog      ArtifactKind = "monitor-log"
	PlayerLog       ArtifactKind = "player-log"
	CapturePcap     ArtifactKind = "capture-pcap"
	SequenceTrace   ArtifactKind = "sequence-trace"
	ShapingSnapshot ArtifactKind = "shaping-snapshot"
)

// Artifact is a raw file produced during a run
type Artifact struct {
	Name     string       `json:"name"`
	Path     string       `json:"path"`
	Kind     ArtifactKind `json:"kind"`
	Required bool         `json:"required"`
}

// RunDetails is for collecting all the details of one experiment run
type RunDetails struct {
	RunID       string        `json:"run_id"`
	PolicyID    int           `json:"policy_id"`
	PolicyLabel string        `json:"policy_label"`
	Interface   string        `json:"interface"`
	StartedAt   time.Time     `json:"started_at"`
	StoppedAt   time.Time     `json:"stopped_at"`
	WorkDir     string        `json:"work_dir"`
	Phase       Phase         `json:"phase"`
	Phases      []PhaseRecord `json:"phases"`
	Tasks       []TaskRecord  `json:"tasks"`
	Artifacts   []Artifact    `json:"artifacts"`
	Failures    []string      `json:"failures,omitempty"`
	Verdict     string        `json:"verdict"`
}

// SetPhase moves the run to the given phase and records the transition
func (r *RunDetails) SetPhase(phase Phase) {
	r.Phase = phase
	r.Phases = append(r.Phases, PhaseRecord{Phase: phase, At: time.Now()})
}

// RecordFailure appends a failure reason to the run
func (r *RunDetails) RecordFailure(format string, args ...interface{}) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// Task returns the record of the named task, nil if it was never launched
func (r *RunDetails) Task(name string) *TaskRecord {
	for i := range r.Tasks {
		if r.Tasks[i].Name == name {
			return &r.Tasks[i]
		}
	}
	return nil
}
