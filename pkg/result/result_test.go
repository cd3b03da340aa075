package result

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litmuschaos/litmus-qos/pkg/analyzer"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

func label(id int) string {
	return map[int]string{0: "baseline", 3: "htb"}[id]
}

func TestAggregate(t *testing.T) {
	metrics := []types.PolicyMetrics{
		{PolicyID: 4, Metrics: types.FlowMetrics{ThroughputMbps: 4}},
		{PolicyID: 0, Metrics: types.FlowMetrics{AvgBitrateKbps: 500}},
		{PolicyID: 4, Metrics: types.FlowMetrics{ThroughputMbps: 9}},
		{PolicyID: 7, Metrics: types.FlowMetrics{LossPercent: 1}},
	}
	table := Aggregate(metrics, []int{0, 1, 2, 3, 4, 5}, label)

	var ids []int
	for _, e := range table.Entries {
		ids = append(ids, e.PolicyID)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 7}, ids)

	e, ok := table.Entry(4)
	require.True(t, ok)
	assert.Equal(t, 4.0, e.Metrics.ThroughputMbps)

	e, ok = table.Entry(0)
	require.True(t, ok)
	assert.Equal(t, "baseline", e.Label)
	assert.True(t, e.Measured)
}

func TestAggregateZeroFills(t *testing.T) {
	table := Aggregate(nil, []int{3}, label)
	require.Len(t, table.Entries, 1)
	assert.Equal(t, 3, table.Entries[0].PolicyID)
	assert.Equal(t, types.FlowMetrics{}, table.Entries[0].Metrics)
	assert.False(t, table.Entries[0].Measured)

	assert.Empty(t, Aggregate(nil, nil, nil).Entries)
}

func TestAggregateIsPure(t *testing.T) {
	metrics := []types.PolicyMetrics{{PolicyID: 2}, {PolicyID: 1}}
	ids := []int{2, 1}
	assert.Equal(t, Aggregate(metrics, ids, label), Aggregate(metrics, ids, label))
	assert.Equal(t, []int{2, 1}, ids)
	assert.Equal(t, 2, metrics[0].PolicyID)
}

func sampleTable() ComparisonTable {
	return Aggregate([]types.PolicyMetrics{
		{PolicyID: 0, Metrics: types.FlowMetrics{AvgJitterSeconds: 0.015, LossPercent: 25, LostPackets: 1, ExpectedPackets: 4, ReceivedPackets: 3, AvgBitrateKbps: 556.15, ThroughputMbps: 5.2}},
	}, []int{0, 1}, label)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTable()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"0", "baseline", "true", "0.015", "0", "4", "3", "1", "25", "556.15", "5.2", "0"}, rows[1])
	assert.Equal(t, "false", rows[2][2])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleTable()))

	var got ComparisonTable
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, sampleTable(), got)
}

func TestRegistry(t *testing.T) {
	reg := Registry(sampleTable())
	count, err := testutil.GatherAndCount(reg, "qosbench_loss_percent")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	path := filepath.Join(t.TempDir(), "qosbench.prom")
	require.NoError(t, WriteTextfile(path, sampleTable()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `qosbench_avg_bitrate_kbps{label="baseline",policy="0"} 556.15`)
}

func TestRender(t *testing.T) {
	out := Render(sampleTable())
	assert.Contains(t, out, "POLICY")
	assert.Contains(t, out, "556.15")
	assert.Contains(t, out, "(no data)")
}

func TestFigures(t *testing.T) {
	reports := []analyzer.Report{
		{PolicyID: 0, Jitter: []float64{0.01, 0.02}, Sequence: []int64{100, 101, 103}},
		{PolicyID: 9},
	}
	figures := Figures(sampleTable(), reports)
	require.Len(t, figures, 6)

	var names []string
	for _, f := range figures {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"bitrate_by_policy", "throughput_by_policy", "jitter_0", "sequence_0", "jitter_9", "sequence_9"}, names)
	assert.Equal(t, "Jitter between RTP packets (policy 0, baseline)", figures[2].Title)
	assert.Equal(t, "Received RTP sequence (policy 0, baseline)", figures[3].Title)
	assert.Equal(t, "Jitter between RTP packets (policy 9)", figures[4].Title)
	assert.Equal(t, []float64{}, figures[4].Values)
	assert.Equal(t, []string{"Policy 0", "Policy 1"}, figures[0].Labels)
	assert.Equal(t, []float64{556.15, 0}, figures[0].Values)
	assert.Equal(t, []float64{100, 101, 103}, figures[3].Values)

	var buf bytes.Buffer
	require.NoError(t, WriteFigures(&buf, figures))
	assert.Contains(t, buf.String(), `"name": "jitter_0"`)
}

func TestRunResult(t *testing.T) {
	fs := afero.NewMemMapFs()
	run := &types.RunDetails{RunID: "abc", PolicyID: 2, Verdict: types.PassVerdict}
	require.NoError(t, RunResult(fs, "/results/policy_2", run, StartOfTest))
	require.NoError(t, RunResult(fs, "/results/policy_2", run, EndOfTest))

	data, err := afero.ReadFile(fs, "/results/policy_2/run.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status": "Completed"`)
	assert.Contains(t, string(data), `"run_id": "abc"`)

	require.NoError(t, WriteReport(fs, "/results/policy_2", analyzer.Report{PolicyID: 2}))
	exists, _ := afero.Exists(fs, "/results/policy_2/metrics.json")
	assert.True(t, exists)
}

func TestVerdict(t *testing.T) {
	for _, v := range []string{types.PassVerdict, types.DegradedVerdict, types.FailVerdict, types.AbortVerdict} {
		assert.True(t, strings.HasPrefix(Verdict(v), v+" "))
	}
}
