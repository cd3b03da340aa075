// Package host runs commands on the emulated hosts of the topology.
// A host is reached by entering its network namespace, either through the
// PID of a process living in it or through a named namespace.
package host

import (
	"context"
	"os"
	osexec "os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	utilexec "k8s.io/utils/exec"

	"github.com/litmuschaos/litmus-qos/pkg/log"
	experimentTypes "github.com/litmuschaos/litmus-qos/pkg/qos/types"
)

// Runner is the "run command on host Y" contract of the topology provider
type Runner interface {
	// Run executes the command to completion and returns its combined output
	Run(ctx context.Context, host string, argv ...string) ([]byte, error)
	// Start launches the command in background, stdout and stderr go to logPath
	Start(host string, argv []string, logPath string) (Process, error)
}

// Process is an owned handle on a background task
type Process interface {
	// Done is closed once the process has exited
	Done() <-chan struct{}
	// Err is the exit error, only meaningful after Done is closed
	Err() error
	// Stop terminates the process and waits up to grace for it to exit.
	// It reports whether the process had to be terminated.
	Stop(grace time.Duration) bool
}

// NsenterRunner runs the commands through nsenter/ip netns on the local machine
type NsenterRunner struct {
	hosts map[string]experimentTypes.HostDetails
	exec  utilexec.Interface
}

// NewNsenterRunner returns a runner for the given host namespaces
func NewNsenterRunner(hosts map[string]experimentTypes.HostDetails) *NsenterRunner {
	return &NsenterRunner{hosts: hosts, exec: utilexec.New()}
}

// Wrap prefixes the argv with the namespace entering command of the host
func (r *NsenterRunner) Wrap(host string, argv []string) []string {
	details, ok := r.hosts[host]
	switch {
	case ok && details.PID > 0:
		return append([]string{"nsenter", "-t", strconv.Itoa(details.PID), "-n", "--"}, argv...)
	case ok && details.Netns != "":
		return append([]string{"ip", "netns", "exec", details.Netns}, argv...)
	default:
		return argv
	}
}

// Run executes the command in the namespace of the host
func (r *NsenterRunner) Run(ctx context.Context, host string, argv ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("command can't be empty")
	}
	full := r.Wrap(host, argv)
	log.Debugf("[Exec]: %s: %v", host, full)
	return r.exec.CommandContext(ctx, full[0], full[1:]...).CombinedOutput()
}

// Start launches the command in the namespace of the host
func (r *NsenterRunner) Start(host string, argv []string, logPath string) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("command can't be empty")
	}
	full := r.Wrap(host, argv)

	// a file keeps Wait from blocking on grandchildren holding an output pipe
	if logPath == "" {
		logPath = os.DevNull
	}
	out, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Errorf("unable to create the log file %s, err: %v", logPath, err)
	}

	cmd := osexec.Command(full[0], full[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		out.Close()
		return nil, errors.Errorf("fail to start %v on %s, err: %v", full, host, err)
	}
	log.Debugf("[Exec]: started %s: %v", host, full)

	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		out.Close()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type process struct {
	cmd  *osexec.Cmd
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop sends SIGTERM and escalates to SIGKILL once grace has elapsed
func (p *process) Stop(grace time.Duration) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Debugf("[Cleanup]: unable to send SIGTERM, err: %v", err)
	}
	select {
	case <-p.done:
		return true
	case <-time.After(grace):
	}
	log.Warnf("[Cleanup]: process did not exit within %v after SIGTERM, killing it", grace)
	if err := p.cmd.Process.Kill(); err != nil {
		log.Debugf("[Cleanup]: unable to send SIGKILL, err: %v", err)
	}
	<-p.done
	return true
}
