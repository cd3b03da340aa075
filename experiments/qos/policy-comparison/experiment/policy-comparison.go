package experiment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/palantir/stacktrace"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/litmuschaos/litmus-qos/chaoslib/litmus/qos-experiment/lib"
	shaping "github.com/litmuschaos/litmus-qos/chaoslib/litmus/traffic-shaping/lib"
	"github.com/litmuschaos/litmus-qos/chaoslib/litmus/traffic-shaping/netlink"
	"github.com/litmuschaos/litmus-qos/chaoslib/litmus/traffic-shaping/tc"
	"github.com/litmuschaos/litmus-qos/pkg/analyzer"
	"github.com/litmuschaos/litmus-qos/pkg/artifacts"
	"github.com/litmuschaos/litmus-qos/pkg/cerrors"
	"github.com/litmuschaos/litmus-qos/pkg/host"
	"github.com/litmuschaos/litmus-qos/pkg/log"
	"github.com/litmuschaos/litmus-qos/pkg/policy"
	experimentTypes "github.com/litmuschaos/litmus-qos/pkg/qos/types"
	"github.com/litmuschaos/litmus-qos/pkg/result"
	"github.com/litmuschaos/litmus-qos/pkg/telemetry"
	"github.com/litmuschaos/litmus-qos/pkg/types"
	"github.com/litmuschaos/litmus-qos/pkg/utils/stringutils"
)

const (
	ComparisonJSON = "comparison.json"
	ComparisonCSV  = "comparison.csv"
	FiguresFile    = "figures.json"
	TextfileName   = "qosbench.prom"
)

// Toolkit holds the collaborators of the experiment
type Toolkit struct {
	Runner host.Runner
	Shaper lib.Shaper
	Fs     afero.Fs
}

// NewToolkit wires the host runner and the shaping backend of the details
func NewToolkit(experimentsDetails *experimentTypes.ExperimentDetails) (*Toolkit, error) {
	runner := host.NewNsenterRunner(experimentsDetails.Hosts)
	kit := &Toolkit{Runner: runner, Fs: afero.NewOsFs()}
	switch experimentsDetails.Backend {
	case "netlink":
		executor, err := netlink.NewExecutor(experimentsDetails.Marking)
		if err != nil {
			return nil, err
		}
		kit.Shaper = shaping.NewApplier(executor)
	default:
		kit.Shaper = shaping.NewApplier(tc.NewExecutor(runner, experimentsDetails.Marking))
	}
	return kit, nil
}

// Outcome is the processed result of one run
type Outcome struct {
	Run    *types.RunDetails
	Set    artifacts.Set
	Report analyzer.Report

	// Analyzed is false for a failed or aborted run, Report is then empty
	Analyzed bool
}

// PolicyComparison runs the experiment for the policy of the details and
// shuts the emulated network down on exit
func PolicyComparison(ctx context.Context, experimentsDetails *experimentTypes.ExperimentDetails, kit *Toolkit) error {
	defer shutdownNetwork(experimentsDetails, kit)

	p, err := resolvePolicy(experimentsDetails, experimentsDetails.PolicyID)
	if err != nil {
		log.Errorf("[Invalid]: %v", err)
		return err
	}
	outcome, err := runPolicy(ctx, experimentsDetails, kit, p)
	if err != nil {
		return err
	}
	if outcome.Run.Verdict == types.AbortVerdict {
		return ctx.Err()
	}
	return nil
}

// RunAll runs every catalog policy in order with a cool down between the
// runs, then aggregates the comparison. A failed policy does not stop the
// batch, an abort does.
func RunAll(ctx context.Context, experimentsDetails *experimentTypes.ExperimentDetails, kit *Toolkit) error {
	defer shutdownNetwork(experimentsDetails, kit)

	ctx, span := telemetry.StartTracing(ctx, "RunAllPolicies")
	err := runAll(ctx, experimentsDetails, kit)
	telemetry.EndSpan(span, err)
	return err
}

func runAll(ctx context.Context, experimentsDetails *experimentTypes.ExperimentDetails, kit *Toolkit) error {
	ids := policy.IDs(experimentsDetails.MaxPolicyID)
	var (
		errs    []error
		reports []analyzer.Report
	)
	for i, id := range ids {
		if i > 0 {
			log.Infof("[Wait]: Cooling down for %v before the next policy", experimentsDetails.CoolDownInterval)
			select {
			case <-ctx.Done():
			case <-time.After(experimentsDetails.CoolDownInterval):
			}
		}
		if ctx.Err() != nil {
			log.Warn("[Abort]: Batch interrupted, remaining policies skipped")
			break
		}
		p, err := resolvePolicy(experimentsDetails, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		outcome, err := runPolicy(ctx, experimentsDetails, kit, p)
		if err != nil {
			errs = append(errs, err)
		}
		if outcome != nil && outcome.Analyzed {
			reports = append(reports, outcome.Report)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := writeComparison(experimentsDetails, kit.Fs, ids, reports); err != nil {
		errs = append(errs, err)
	}
	return utilerrors.NewAggregate(errs)
}

// Analyze rebuilds the comparison from an existing results tree
func Analyze(ctx context.Context, experimentsDetails *experimentTypes.ExperimentDetails, fs afero.Fs) error {
	_, span := telemetry.StartTracing(ctx, "AnalyzeResults")

	ids := policy.IDs(experimentsDetails.MaxPolicyID)
	kinds := lib.ArtifactKinds(experimentsDetails.Generators.Count)
	a := newAnalyzer(experimentsDetails, fs)

	var reports []analyzer.Report
	for _, id := range ids {
		set, ok := artifacts.Scan(fs, experimentsDetails.ResultsDir, id, kinds)
		if !ok {
			log.Warnf("[Analyze]: No results found for policy %d", id)
			continue
		}
		report := a.Analyze(set)
		if err := result.WriteReport(fs, set.Dir, report); err != nil {
			log.Errorf("unable to write the report of policy %d, err: %v", id, err)
		}
		reports = append(reports, report)
	}
	err := writeComparison(experimentsDetails, fs, ids, reports)
	telemetry.EndSpan(span, err)
	return err
}

// Describe prints the operations of the policy with the commands the tc
// backend issues for them, and the live interface state if asked
func Describe(ctx context.Context, experimentsDetails *experimentTypes.ExperimentDetails, kit *Toolkit, id int, live bool, w io.Writer) error {
	p, err := resolvePolicy(experimentsDetails, id)
	if err != nil {
		return err
	}
	iface := experimentsDetails.Interface
	fmt.Fprintf(w, "Policy %d: %s\n", p.ID, p.Label)
	if len(p.Operations) == 0 {
		fmt.Fprintln(w, "  (no shaping, the interface is left unconfigured)")
	}
	for i, op := range p.Operations {
		argv, err := tc.Render(iface.Name, experimentsDetails.Marking, op)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %d. %s\n     %s\n", i+1, op, stringutils.FormatCommand(argv))
	}
	if !live {
		return nil
	}
	snapshot, err := kit.Shaper.DescribeCurrent(ctx, iface)
	if err != nil {
		return stacktrace.Propagate(err, "could not describe interface %s", iface)
	}
	fmt.Fprintf(w, "\nCurrent state of %s:\n%s", iface, snapshot)
	return nil
}

// resolvePolicy returns the catalog policy, ids above the configured range are invalid
func resolvePolicy(experimentsDetails *experimentTypes.ExperimentDetails, id int) (types.Policy, error) {
	limit := experimentsDetails.MaxPolicyID
	if limit < 0 || limit > policy.MaxPolicyID {
		limit = policy.MaxPolicyID
	}
	if id > limit {
		return types.Policy{}, stacktrace.Propagate(cerrors.InvalidPolicy{PolicyID: id, Max: limit}, "could not resolve the policy")
	}
	p, err := policy.Describe(id)
	if err != nil {
		return p, stacktrace.Propagate(err, "could not resolve the policy")
	}
	return p, nil
}

// runPolicy drives one run and processes its artifacts
func runPolicy(ctx context.Context, experimentsDetails *experimentTypes.ExperimentDetails, kit *Toolkit, p types.Policy) (*Outcome, error) {
	collector := artifacts.NewCollector(kit.Fs, experimentsDetails.ResultsDir)
	log.Infof("[PreReq]: Cleaning the stale logs of %s", experimentsDetails.WorkDir)
	if err := collector.Clean(experimentsDetails.WorkDir); err != nil {
		log.Warnf("unable to clean the work dir, err: %v", err)
	}

	run, runErr := lib.New(experimentsDetails, kit.Runner, kit.Shaper, kit.Fs).Run(ctx, p)
	outcome := &Outcome{Run: run}

	set, err := collector.Collect(run)
	if err != nil {
		log.Warnf("[Collect]: Partial result set for policy %d, err: %v", p.ID, err)
	}
	outcome.Set = set
	if err := result.RunResult(kit.Fs, set.Dir, run, result.EndOfTest); err != nil {
		log.Errorf("unable to write the run record, err: %v", err)
	}

	if run.Verdict != types.FailVerdict && run.Verdict != types.AbortVerdict {
		if !set.Has(lib.TraceFile) && !set.Has(lib.CaptureFile) {
			log.Warnf("[Analyze]: Neither %s nor %s was collected for policy %d, the report will be empty", lib.TraceFile, lib.CaptureFile, p.ID)
		}
		outcome.Report = newAnalyzer(experimentsDetails, kit.Fs).Analyze(set)
		outcome.Analyzed = true
		if err := result.WriteReport(kit.Fs, set.Dir, outcome.Report); err != nil {
			log.Errorf("unable to write the report, err: %v", err)
		}
	}

	log.InfoWithValues("[Summary]: Run finished", logrus.Fields{
		"Policy":   p.ID,
		"Verdict":  result.Verdict(run.Verdict),
		"Failures": len(run.Failures),
		"Results":  set.Dir,
	})
	return outcome, runErr
}

func newAnalyzer(experimentsDetails *experimentTypes.ExperimentDetails, fs afero.Fs) *analyzer.Analyzer {
	return analyzer.New(fs, experimentsDetails.Trace.SeqField, experimentsDetails.Trace.TimeField, experimentsDetails.Media.VideoPort)
}

// writeComparison aggregates the reports and writes every output of the batch
func writeComparison(experimentsDetails *experimentTypes.ExperimentDetails, fs afero.Fs, ids []int, reports []analyzer.Report) error {
	metrics := make([]types.PolicyMetrics, 0, len(reports))
	for _, r := range reports {
		metrics = append(metrics, types.PolicyMetrics{PolicyID: r.PolicyID, Metrics: r.Metrics})
	}
	table := result.Aggregate(metrics, ids, policy.Label)
	dir := experimentsDetails.ResultsDir
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errors.Errorf("unable to create the results dir %s, err: %v", dir, err)
	}

	outputs := map[string]func(io.Writer) error{
		ComparisonJSON: func(w io.Writer) error { return result.WriteJSON(w, table) },
		ComparisonCSV:  func(w io.Writer) error { return result.WriteCSV(w, table) },
		FiguresFile:    func(w io.Writer) error { return result.WriteFigures(w, result.Figures(table, reports)) },
	}
	var errs []error
	for name, write := range outputs {
		var buf bytes.Buffer
		if err := write(&buf); err != nil {
			errs = append(errs, errors.Errorf("unable to render %s, err: %v", name, err))
			continue
		}
		if err := afero.WriteFile(fs, filepath.Join(dir, name), buf.Bytes(), 0644); err != nil {
			errs = append(errs, errors.Errorf("unable to write %s, err: %v", name, err))
		}
	}
	// the textfile collector reads from the real filesystem
	if _, ok := fs.(*afero.OsFs); ok {
		if err := result.WriteTextfile(filepath.Join(dir, TextfileName), table); err != nil {
			errs = append(errs, err)
		}
	}

	log.Infof("[Summary]: QoS policy comparison\n%s", result.Render(table))
	return utilerrors.NewAggregate(errs)
}

// shutdownNetwork releases the emulated network, a no-op when no command is configured
func shutdownNetwork(experimentsDetails *experimentTypes.ExperimentDetails, kit *Toolkit) {
	argv := experimentsDetails.NetworkShutdownCommand
	if len(argv) == 0 {
		return
	}
	log.Infof("[Cleanup]: Shutting the emulated network down with '%s'", strings.Join(argv, " "))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if out, err := kit.Runner.Run(ctx, "", argv...); err != nil {
		log.Errorf("unable to shut the emulated network down, err: %v, output: %s", err, string(out))
	}
}
