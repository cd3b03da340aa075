package host

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	experimentTypes "github.com/litmuschaos/litmus-qos/pkg/qos/types"
)

func TestWrap(t *testing.T) {
	r := NewNsenterRunner(map[string]experimentTypes.HostDetails{
		"h1": {PID: 4242},
		"h2": {Netns: "h2ns"},
	})
	tests := []struct {
		host string
		want []string
	}{
		{host: "h1", want: []string{"nsenter", "-t", "4242", "-n", "--", "tc", "qdisc"}},
		{host: "h2", want: []string{"ip", "netns", "exec", "h2ns", "tc", "qdisc"}},
		{host: "s1", want: []string{"tc", "qdisc"}},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Wrap(tt.host, []string{"tc", "qdisc"}))
		})
	}
}

func TestStartWritesLogAndStops(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "sleep.log")
	r := NewNsenterRunner(nil)

	p, err := r.Start("s1", []string{"sh", "-c", "echo ready; sleep 30"}, logPath)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c, err := os.ReadFile(logPath)
		return err == nil && len(c) > 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, p.Stop(5*time.Second))
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Stop")
	}
	assert.Error(t, p.Err())
	assert.False(t, p.Stop(time.Second))
}

func TestStopKillsAfterGrace(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "stubborn.log")
	r := NewNsenterRunner(nil)

	p, err := r.Start("s1", []string{"sh", "-c", "trap '' TERM; echo ready; sleep 30"}, logPath)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c, err := os.ReadFile(logPath)
		return err == nil && len(c) > 0
	}, 5*time.Second, 10*time.Millisecond)

	grace := 300 * time.Millisecond
	begin := time.Now()
	assert.True(t, p.Stop(grace))
	elapsed := time.Since(begin)

	select {
	case <-p.Done():
	default:
		t.Fatal("process still running after Stop returned")
	}
	assert.GreaterOrEqual(t, elapsed, grace)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Error(t, p.Err())

	if testing.Short() {
		return
	}
	// nothing left behind fires once the process is gone
	time.Sleep(11 * time.Second)
	assert.False(t, p.Stop(grace))
}

func TestStartWithoutLog(t *testing.T) {
	r := NewNsenterRunner(nil)
	p, err := r.Start("s1", []string{"sh", "-c", "echo dropped"}, "")
	require.NoError(t, err)
	<-p.Done()
	assert.NoError(t, p.Err())
}

func TestStartSelfTerminating(t *testing.T) {
	r := NewNsenterRunner(nil)
	p, err := r.Start("s1", []string{"true"}, "")
	require.NoError(t, err)
	<-p.Done()
	assert.NoError(t, p.Err())
	assert.False(t, p.Stop(time.Second))
}

func TestEmptyCommand(t *testing.T) {
	r := NewNsenterRunner(nil)
	_, err := r.Start("s1", nil, "")
	assert.Error(t, err)
}

func TestFakeProcess(t *testing.T) {
	p := NewFakeProcess()
	assert.True(t, p.Stop(time.Millisecond))
	assert.True(t, p.Stopped())
	assert.Error(t, p.Err())

	q := ExitAfter(time.Millisecond)
	<-q.Done()
	assert.False(t, q.Stop(time.Millisecond))
	assert.False(t, q.Stopped())
}
