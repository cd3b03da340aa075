package result

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/litmuschaos/litmus-qos/pkg/analyzer"
	qmath "github.com/litmuschaos/litmus-qos/pkg/math"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

const (
	metricsNamespace = "qosbench"

	// RunFile and MetricsFile are written in every policy dir
	RunFile     = "run.json"
	MetricsFile = "metrics.json"
)

var csvHeader = []string{
	"policy_id", "label", "measured",
	"avg_jitter_s", "max_jitter_s",
	"expected_packets", "received_packets", "lost_packets", "loss_percent",
	"avg_bitrate_kbps", "throughput_mbps", "link_out_kbps",
}

// WriteJSON writes the indented table
func WriteJSON(w io.Writer, t ComparisonTable) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

// WriteCSV writes one row per policy after the header row
func WriteCSV(w io.Writer, t ComparisonTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range t.Entries {
		m := e.Metrics
		row := []string{
			strconv.Itoa(e.PolicyID), e.Label, strconv.FormatBool(e.Measured),
			formatFloat(m.AvgJitterSeconds), formatFloat(m.MaxJitterSeconds),
			strconv.Itoa(m.ExpectedPackets), strconv.Itoa(m.ReceivedPackets), strconv.Itoa(m.LostPackets),
			formatFloat(m.LossPercent), formatFloat(m.AvgBitrateKbps), formatFloat(m.ThroughputMbps), formatFloat(m.LinkOutKbps),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Registry returns a registry exposing the table as gauges labelled by policy
func Registry(t ComparisonTable) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	gauge := func(name, help string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, []string{"policy", "label"})
		reg.MustRegister(g)
		return g
	}
	jitter := gauge("avg_jitter_seconds", "Mean inter-arrival jitter of the media flow.")
	maxJitter := gauge("max_jitter_seconds", "Largest inter-arrival jitter sample of the media flow.")
	loss := gauge("loss_percent", "Share of the expected media packets never received.")
	lost := gauge("lost_packets", "Media packets never received.")
	bitrate := gauge("avg_bitrate_kbps", "Mean encoder bitrate of the media flow.")
	throughput := gauge("throughput_mbps", "Summed throughput of the competing generators.")
	linkOut := gauge("link_out_kbps", "Mean outbound rate of the bottleneck interface.")

	for _, e := range t.Entries {
		labels := prometheus.Labels{"policy": strconv.Itoa(e.PolicyID), "label": e.Label}
		m := e.Metrics
		jitter.With(labels).Set(m.AvgJitterSeconds)
		maxJitter.With(labels).Set(m.MaxJitterSeconds)
		loss.With(labels).Set(m.LossPercent)
		lost.With(labels).Set(float64(m.LostPackets))
		bitrate.With(labels).Set(m.AvgBitrateKbps)
		throughput.With(labels).Set(m.ThroughputMbps)
		linkOut.With(labels).Set(m.LinkOutKbps)
	}
	return reg
}

// WriteTextfile writes the table in the node exporter textfile format
func WriteTextfile(path string, t ComparisonTable) error {
	if err := prometheus.WriteToTextfile(path, Registry(t)); err != nil {
		return errors.Errorf("unable to write the metrics textfile %s, err: %v", path, err)
	}
	return nil
}

// Render returns the table for the terminal
func Render(t ComparisonTable) string {
	w := prettytable.NewWriter()
	w.AppendHeader(prettytable.Row{"Policy", "Label", "Jitter (ms)", "Loss %", "Lost/Expected", "Bitrate (kbit/s)", "Throughput (Mbit/s)", "Link out (kbit/s)"})
	for _, e := range t.Entries {
		m := e.Metrics
		label := e.Label
		if !e.Measured {
			label += " (no data)"
		}
		w.AppendRow(prettytable.Row{
			e.PolicyID, label,
			qmath.Round(m.AvgJitterSeconds*1000, 3),
			qmath.Round(m.LossPercent, 2),
			fmt.Sprintf("%d/%d", m.LostPackets, m.ExpectedPackets),
			qmath.Round(m.AvgBitrateKbps, 2),
			qmath.Round(m.ThroughputMbps, 2),
			qmath.Round(m.LinkOutKbps, 1),
		})
	}
	return w.Render()
}

// State is the lifecycle of a persisted run record, as in start and end of test
type State string

const (
	StartOfTest State = "SOT"
	EndOfTest   State = "EOT"
)

// runRecord is the run.json document of a policy directory
type runRecord struct {
	Status string            `json:"status"`
	Run    *types.RunDetails `json:"run"`
}

// RunResult persists the run record in the policy dir, Running at the start
// of the test and Completed with the final details at its end
func RunResult(fs afero.Fs, dir string, run *types.RunDetails, state State) error {
	status := "Running"
	if state == EndOfTest {
		status = "Completed"
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(runRecord{Status: status, Run: run}, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, filepath.Join(dir, RunFile), data, 0644)
}

// WriteReport writes metrics.json, the report of one run, in its policy dir
func WriteReport(fs afero.Fs, dir string, report analyzer.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, filepath.Join(dir, MetricsFile), data, 0644)
}
