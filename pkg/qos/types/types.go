package types

import (
	"time"

	"github.com/litmuschaos/litmus-qos/pkg/types"
)

// ExperimentDetails is for collecting all the experiment-related details
type ExperimentDetails struct {
	ExperimentName string                 `yaml:"experimentName"`
	PolicyID       int                    `yaml:"policyID"`
	MaxPolicyID    int                    `yaml:"maxPolicyID"`
	Backend        string                 `yaml:"backend"`
	Marking        types.Marking          `yaml:"marking"`
	Interface      types.InterfaceHandle  `yaml:"interface"`
	Hosts          map[string]HostDetails `yaml:"hosts"`
	WorkDir        string                 `yaml:"workDir"`
	ResultsDir     string                 `yaml:"resultsDir"`
	// NetworkShutdownCommand is run on exit to release the emulated network, if set
	NetworkShutdownCommand []string `yaml:"networkShutdownCommand"`

	SettleInterval    time.Duration `yaml:"settleInterval"`
	WarmupInterval    time.Duration `yaml:"warmupInterval"`
	GeneratorDuration time.Duration `yaml:"generatorDuration"`
	ObservationWindow time.Duration `yaml:"observationWindow"`
	CoolDownInterval  time.Duration `yaml:"coolDownInterval"`
	StopGracePeriod   time.Duration `yaml:"stopGracePeriod"`

	Media      MediaDetails     `yaml:"media"`
	Capture    CaptureDetails   `yaml:"capture"`
	Monitor    MonitorDetails   `yaml:"monitor"`
	Generators GeneratorDetails `yaml:"generators"`
	Trace      TraceDetails     `yaml:"trace"`

	OTELEndpoint string `yaml:"otelEndpoint"`
	LogLevel     string `yaml:"logLevel"`
}

// HostDetails tells how to reach the network namespace of an emulated host.
// A host with neither PID nor Netns runs in the harness namespace.
type HostDetails struct {
	PID   int    `yaml:"pid"`
	Netns string `yaml:"netns"`
}

// MediaDetails describes the real-time media flow
type MediaDetails struct {
	SenderHost   string `yaml:"senderHost"`
	ReceiverHost string `yaml:"receiverHost"`
	ReceiverAddr string `yaml:"receiverAddr"`
	VideoFile    string `yaml:"videoFile"`
	SDPFile      string `yaml:"sdpFile"`
	VideoPort    int    `yaml:"videoPort"`
	AudioPort    int    `yaml:"audioPort"`
	PacketSize   int    `yaml:"packetSize"`
	// Player enables the playback process on the receiver
	Player bool `yaml:"player"`
}

// CaptureDetails describes the receiver side packet capture
type CaptureDetails struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface"`
	// ExportTrace converts the capture to the sequence trace csv with tshark after the run
	ExportTrace bool `yaml:"exportTrace"`
}

// MonitorDetails describes the bottleneck interface monitor
type MonitorDetails struct {
	IntervalSeconds float64 `yaml:"intervalSeconds"`
}

// GeneratorDetails describes the competing bulk traffic
type GeneratorDetails struct {
	Host      string `yaml:"host"`
	Target    string `yaml:"target"`
	Count     int    `yaml:"count"`
	Bandwidth string `yaml:"bandwidth"`
	Port      int    `yaml:"port"`
}

// TraceDetails names the columns of the sequence/timestamp capture export
type TraceDetails struct {
	SeqField  string `yaml:"seqField"`
	TimeField string `yaml:"timeField"`
}
