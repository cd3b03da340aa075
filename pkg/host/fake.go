package host

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FakeRunner records the commands instead of running them, used by the tests
type FakeRunner struct {
	mu sync.Mutex
	// Commands is every command passed to Run, formatted as "host: argv"
	Commands []string
	// Launched is every command passed to Start, formatted as "host: argv"
	Launched []string
	// RunFunc, if set, answers a Run call
	RunFunc func(host string, argv []string) ([]byte, error)
	// StartFunc, if set, answers a Start call, otherwise a running FakeProcess
	// is returned after writing one line to logPath
	StartFunc func(host string, argv []string, logPath string) (Process, error)
}

func (f *FakeRunner) Run(ctx context.Context, host string, argv ...string) ([]byte, error) {
	f.mu.Lock()
	f.Commands = append(f.Commands, host+": "+strings.Join(argv, " "))
	fn := f.RunFunc
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(host, argv)
}

func (f *FakeRunner) Start(host string, argv []string, logPath string) (Process, error) {
	f.mu.Lock()
	f.Launched = append(f.Launched, host+": "+strings.Join(argv, " "))
	fn := f.StartFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(host, argv, logPath)
	}
	if logPath != "" {
		if err := os.WriteFile(logPath, []byte(strings.Join(argv, " ")+"\n"), 0644); err != nil {
			return nil, err
		}
	}
	return NewFakeProcess(), nil
}

// LaunchedCount returns the number of Start calls whose argv begins with the given binary
func (f *FakeRunner) LaunchedCount(binary string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, l := range f.Launched {
		if _, argv, ok := strings.Cut(l, ": "); ok && strings.HasPrefix(argv, binary) {
			count++
		}
	}
	return count
}

// FakeProcess is a process handle driven by the test
type FakeProcess struct {
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	err     error
	stopped bool
}

// NewFakeProcess returns a process that runs until Exit or Stop is called
func NewFakeProcess() *FakeProcess {
	return &FakeProcess{done: make(chan struct{})}
}

// ExitAfter returns a process that exits on its own after d
func ExitAfter(d time.Duration) *FakeProcess {
	p := NewFakeProcess()
	time.AfterFunc(d, func() { p.Exit(nil) })
	return p
}

// Exit marks the process as exited with the given error
func (p *FakeProcess) Exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *FakeProcess) Done() <-chan struct{} {
	return p.done
}

func (p *FakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *FakeProcess) Stop(grace time.Duration) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.Exit(errors.New("signal: terminated"))
	return true
}

// Stopped reports whether Stop terminated the process
func (p *FakeProcess) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
