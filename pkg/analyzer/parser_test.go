package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitrateParser(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want []float64
	}{
		{
			name: "newline separated",
			log:  "frame=   10 fps=0.0 q=-1.0 size=N/A time=00:00:00.40 bitrate= 512.3kbits/s speed=0.8x\nframe=   20 bitrate= 600.0kbits/s\n",
			want: []float64{512.3, 600.0},
		},
		{
			name: "progress redrawn with carriage returns",
			log:  "Input #0, mov\rframe= 1 bitrate= 512.3kbits/s\rframe= 2 bitrate= 600.0kbits/s\r\n",
			want: []float64{512.3, 600.0},
		},
		{
			name: "unavailable and malformed values are skipped",
			log:  "bitrate=N/A\nbitrate=1.2.3kbits/s\nbitrate=42kbits/s",
			want: []float64{42},
		},
		{
			name: "empty log",
			log:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Samples(strings.NewReader(tt.log), BitrateParser{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestThroughputParser(t *testing.T) {
	log := strings.Join([]string{
		"Client connecting to 10.0.0.4, UDP port 5001",
		"[  3] Server Report:",
		"[  3]  0.0-20.0 sec  9.00 MBytes  4.00 Mbits/sec Server Report",
		"[  3]  0.0-20.0 sec  12.4 MBytes  5.20 Mbits/sec  1.2 ms  0/ 8 (0%)",
		"[  3]  0.0-20.0 sec  12.4 MBytes  6.10 Mbits/sec",
	}, "\n")
	got, err := Samples(strings.NewReader(log), ThroughputParser{})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, 5.20, got[0])

	got, err = Samples(strings.NewReader("connect failed: Connection refused\n"), ThroughputParser{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMonitorParser(t *testing.T) {
	log := "       eth0\n KB/s in  KB/s out\n    1.50     40.25\n    2.00     60.75\n  n/a  n/a\n"
	got, err := Samples(strings.NewReader(log), MonitorParser{Column: 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{40.25, 60.75}, got)

	got, err = Samples(strings.NewReader(log), MonitorParser{Column: 4})
	require.NoError(t, err)
	assert.Empty(t, got)
}
