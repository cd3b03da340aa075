package result

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/litmuschaos/litmus-qos/pkg/analyzer"
)

// Figure is a labelled series handed to the external chart renderer
type Figure struct {
	Name   string    `json:"name"`
	Title  string    `json:"title"`
	Kind   string    `json:"kind"`
	XLabel string    `json:"x_label"`
	YLabel string    `json:"y_label"`
	Labels []string  `json:"labels,omitempty"`
	Values []float64 `json:"values"`
}

// Figures returns the two comparison charts of the table followed by the
// jitter and sequence plots of every report
func Figures(t ComparisonTable, reports []analyzer.Report) []Figure {
	labels := make([]string, len(t.Entries))
	bitrate := make([]float64, len(t.Entries))
	throughput := make([]float64, len(t.Entries))
	for i, e := range t.Entries {
		labels[i] = fmt.Sprintf("Policy %d", e.PolicyID)
		bitrate[i] = e.Metrics.AvgBitrateKbps
		throughput[i] = e.Metrics.ThroughputMbps
	}

	figures := []Figure{
		{
			Name: "bitrate_by_policy", Title: "Media bitrate by QoS policy", Kind: "bar",
			XLabel: "Policy", YLabel: "Average bitrate (kbit/s)", Labels: labels, Values: bitrate,
		},
		{
			Name: "throughput_by_policy", Title: "Competing traffic throughput by QoS policy", Kind: "bar",
			XLabel: "Policy", YLabel: "Total throughput (Mbit/s)", Labels: labels, Values: throughput,
		},
	}
	for _, r := range reports {
		seq := make([]float64, len(r.Sequence))
		for i, s := range r.Sequence {
			seq[i] = float64(s)
		}
		jitter := r.Jitter
		if jitter == nil {
			jitter = []float64{}
		}
		suffix := fmt.Sprintf(" (policy %d)", r.PolicyID)
		if e, ok := t.Entry(r.PolicyID); ok && e.Label != "" {
			suffix = fmt.Sprintf(" (policy %d, %s)", r.PolicyID, e.Label)
		}
		figures = append(figures,
			Figure{
				Name: fmt.Sprintf("jitter_%d", r.PolicyID), Title: "Jitter between RTP packets" + suffix, Kind: "line",
				XLabel: "Packet", YLabel: "Jitter (s)", Values: jitter,
			},
			Figure{
				Name: fmt.Sprintf("sequence_%d", r.PolicyID), Title: "Received RTP sequence" + suffix, Kind: "line",
				XLabel: "Arrival order", YLabel: "RTP sequence number", Values: seq,
			},
		)
	}
	return figures
}

// WriteFigures writes the figure specs as a json array
func WriteFigures(w io.Writer, figures []Figure) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(figures)
}
