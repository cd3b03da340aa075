// Package artifacts moves the raw artifacts of a run into the results layout
// results/policy_<id>/<name>.
package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/litmuschaos/litmus-qos/pkg/cerrors"
	"github.com/litmuschaos/litmus-qos/pkg/log"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

// Set is the collected artifacts of one run, keyed by artifact name with
// paths pointing into Dir
type Set struct {
	PolicyID  int
	Dir       string
	Artifacts map[string]types.Artifact
	Missing   []cerrors.MissingArtifact
}

// Has reports whether the named artifact was collected
func (s Set) Has(name string) bool {
	_, ok := s.Artifacts[name]
	return ok
}

// Collector relocates the artifacts below the results directory
type Collector struct {
	fs         afero.Fs
	resultsDir string
}

// NewCollector returns a collector writing below resultsDir
func NewCollector(fs afero.Fs, resultsDir string) *Collector {
	return &Collector{fs: fs, resultsDir: resultsDir}
}

// PolicyDir returns the results directory of the policy
func PolicyDir(resultsDir string, policyID int) string {
	return filepath.Join(resultsDir, fmt.Sprintf("policy_%d", policyID))
}

// Collect moves every artifact of the run into its policy directory. Missing
// required artifacts are returned as an aggregate of MissingArtifact, the
// remaining artifacts are still collected.
func (c *Collector) Collect(run *types.RunDetails) (Set, error) {
	dir := PolicyDir(c.resultsDir, run.PolicyID)
	set := Set{PolicyID: run.PolicyID, Dir: dir, Artifacts: map[string]types.Artifact{}}
	if err := c.fs.MkdirAll(dir, 0755); err != nil {
		return set, errors.Errorf("unable to create the results dir %s, err: %v", dir, err)
	}

	var errs []error
	for _, a := range run.Artifacts {
		if _, err := c.fs.Stat(a.Path); err != nil {
			if !a.Required {
				log.Debugf("[Collect]: optional artifact %s not produced", a.Name)
				continue
			}
			missing := cerrors.MissingArtifact{Name: a.Name, Path: a.Path}
			log.Warnf("[Collect]: %v", missing)
			set.Missing = append(set.Missing, missing)
			errs = append(errs, missing)
			continue
		}
		dst := filepath.Join(dir, a.Name)
		if err := c.move(a.Path, dst); err != nil {
			errs = append(errs, errors.Errorf("unable to move %s to %s, err: %v", a.Path, dst, err))
			continue
		}
		a.Path = dst
		set.Artifacts[a.Name] = a
	}

	log.InfoWithValues("[Collect]: Artifacts collected", logrus.Fields{
		"Policy":    run.PolicyID,
		"Dir":       dir,
		"Collected": len(set.Artifacts),
		"Missing":   len(set.Missing),
	})
	return set, utilerrors.NewAggregate(errs)
}

// Clean removes every regular file left in the work dir by a previous run
func (c *Collector) Clean(workDir string) error {
	entries, err := afero.ReadDir(c.fs, workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Errorf("unable to list the work dir %s, err: %v", workDir, err)
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := c.fs.Remove(filepath.Join(workDir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// move renames the file, falling back to copy and remove across devices
func (c *Collector) move(src, dst string) error {
	if err := c.fs.Rename(src, dst); err == nil {
		return nil
	}
	in, err := c.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := c.fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return c.fs.Remove(src)
}

// Scan rebuilds the artifact set of a policy directory written by an earlier run
func Scan(fs afero.Fs, resultsDir string, policyID int, kinds map[string]types.ArtifactKind) (Set, bool) {
	dir := PolicyDir(resultsDir, policyID)
	set := Set{PolicyID: policyID, Dir: dir, Artifacts: map[string]types.Artifact{}}
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return set, false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		kind, ok := kinds[e.Name()]
		if !ok {
			continue
		}
		set.Artifacts[e.Name()] = types.Artifact{Name: e.Name(), Path: filepath.Join(dir, e.Name()), Kind: kind}
	}
	return set, true
}
