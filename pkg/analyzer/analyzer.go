// Package analyzer derives the network quality of a run from its raw
// artifacts. Every derivation is best effort: an empty, partial or missing
// artifact yields zero metrics, never an error.
package analyzer

import (
	"io"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/litmuschaos/litmus-qos/pkg/artifacts"
	"github.com/litmuschaos/litmus-qos/pkg/log"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

// kbPerSecToKbit converts the monitor KB/s columns to kbit/s
const kbPerSecToKbit = 8.192

// Report is the metrics of one run with the per packet series the
// diagnostic figures are drawn from
type Report struct {
	PolicyID int               `json:"policy_id"`
	Metrics  types.FlowMetrics `json:"metrics"`

	// Jitter is one sample per sequence adjacent packet pair
	Jitter []float64 `json:"jitter,omitempty"`

	// Sequence is the distinct sequence numbers in arrival order
	Sequence []int64 `json:"sequence,omitempty"`

	// TraceSource names the artifact the sequence stats were derived from
	TraceSource string `json:"trace_source,omitempty"`
}

// Analyzer reads the artifacts of collected runs
type Analyzer struct {
	fs      afero.Fs
	trace   TraceParser
	pcap    PcapTraceReader
	monitor MonitorParser
}

// New returns an analyzer reading the named trace columns, captures are
// decoded for the media flow on videoPort
func New(fs afero.Fs, seqField, timeField string, videoPort int) *Analyzer {
	return &Analyzer{
		fs:      fs,
		trace:   TraceParser{SeqField: seqField, TimeField: timeField},
		pcap:    PcapTraceReader{Port: videoPort},
		monitor: MonitorParser{Column: 1},
	}
}

// Analyze derives the flow metrics of the collected run
func (a *Analyzer) Analyze(set artifacts.Set) Report {
	report := Report{PolicyID: set.PolicyID}
	m := &report.Metrics

	var bitrates []float64
	for _, art := range a.ofKind(set, types.BitrateLog) {
		bitrates = append(bitrates, a.samples(art, BitrateParser{})...)
	}
	if avg, err := stats.Mean(bitrates); err == nil {
		m.AvgBitrateKbps = avg
	}

	// the generators share the bottleneck, their throughputs add up
	for _, art := range a.ofKind(set, types.ThroughputLog) {
		if s := a.samples(art, ThroughputParser{}); len(s) > 0 {
			m.ThroughputMbps += s[0]
		}
	}

	var out []float64
	for _, art := range a.ofKind(set, types.MonitorLog) {
		out = append(out, a.samples(art, a.monitor)...)
	}
	if avg, err := stats.Mean(out); err == nil {
		m.LinkOutKbps = avg * kbPerSecToKbit
	}

	if packets, source := a.packets(set); source != "" {
		s := ComputeSequenceStats(packets)
		m.AvgJitterSeconds = s.AvgJitter
		m.MaxJitterSeconds = s.MaxJitter
		m.ExpectedPackets = s.Expected
		m.ReceivedPackets = s.Received
		m.LostPackets = s.Lost
		m.LossPercent = s.LossPercent
		report.Jitter = s.Jitter
		report.Sequence = s.Sequence
		report.TraceSource = source
	}

	log.InfoWithValues("[Analyze]: Flow metrics derived", logrus.Fields{
		"Policy":         set.PolicyID,
		"BitrateKbps":    m.AvgBitrateKbps,
		"ThroughputMbps": m.ThroughputMbps,
		"JitterSeconds":  m.AvgJitterSeconds,
		"LossPercent":    m.LossPercent,
		"TraceSource":    report.TraceSource,
	})
	return report
}

// packets prefers the exported trace and falls back to decoding the capture
func (a *Analyzer) packets(set artifacts.Set) ([]Packet, string) {
	for _, art := range a.ofKind(set, types.SequenceTrace) {
		packets, err := withFile(a.fs, art.Path, a.trace.Parse)
		if err != nil {
			log.Warnf("[Analyze]: %s, using %d packets", err, len(packets))
		}
		if len(packets) > 0 {
			return packets, art.Name
		}
	}
	for _, art := range a.ofKind(set, types.CapturePcap) {
		packets, err := withFile(a.fs, art.Path, a.pcap.Read)
		if err != nil {
			log.Warnf("[Analyze]: %s, using %d packets", err, len(packets))
		}
		if len(packets) > 0 {
			return packets, art.Name
		}
	}
	return nil, ""
}

func (a *Analyzer) samples(art types.Artifact, p LineParser) []float64 {
	samples, err := withFile(a.fs, art.Path, func(r io.Reader) ([]float64, error) {
		return Samples(r, p)
	})
	if err != nil {
		log.Warnf("[Analyze]: unable to read %s, err: %v", art.Name, err)
	}
	return samples
}

// ofKind returns the artifacts of the kind ordered by name
func (a *Analyzer) ofKind(set artifacts.Set, kind types.ArtifactKind) []types.Artifact {
	var out []types.Artifact
	for _, art := range set.Artifacts {
		if art.Kind == kind {
			out = append(out, art)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func withFile[T any](fs afero.Fs, path string, read func(io.Reader) (T, error)) (T, error) {
	f, err := fs.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	return read(f)
}
