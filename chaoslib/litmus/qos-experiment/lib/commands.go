package lib

import (
	"fmt"
	"strconv"
	"time"

	experimentTypes "github.com/litmuschaos/litmus-qos/pkg/qos/types"
)

// SenderCommand streams the video and audio tracks of the media file as two RTP flows
func SenderCommand(m experimentTypes.MediaDetails) []string {
	return []string{
		"ffmpeg", "-re", "-i", m.VideoFile,
		"-map", "0:v:0", "-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency",
		"-x264-params", "keyint=25:scenecut=0:repeat-headers=1",
		"-f", "rtp", rtpURL(m.ReceiverAddr, m.VideoPort, m.PacketSize),
		"-map", "0:a:0", "-c:a", "aac", "-ar", "44100", "-b:a", "128k",
		"-f", "rtp", rtpURL(m.ReceiverAddr, m.AudioPort, m.PacketSize),
		"-sdp_file", m.SDPFile,
	}
}

// PlayerCommand plays the flows described by the sdp file, without a display
func PlayerCommand(m experimentTypes.MediaDetails) []string {
	return []string{
		"ffplay", "-nodisp", "-protocol_whitelist", "file,udp,rtp",
		"-fflags", "nobuffer", "-flags", "low_delay", "-i", m.SDPFile,
	}
}

// CaptureCommand records the video flow on the receiver, packet buffered so partial captures stay readable
func CaptureCommand(c experimentTypes.CaptureDetails, m experimentTypes.MediaDetails, pcapPath string) []string {
	return []string{"tcpdump", "-i", c.Interface, "-U", "-w", pcapPath, "udp", "port", strconv.Itoa(m.VideoPort)}
}

// MonitorCommand samples the bottleneck interface counters, line buffered
func MonitorCommand(iface string, m experimentTypes.MonitorDetails) []string {
	return []string{"stdbuf", "-oL", "ifstat", "-i", iface, strconv.FormatFloat(m.IntervalSeconds, 'f', -1, 64)}
}

// GeneratorCommand sends the competing UDP traffic for the given duration
func GeneratorCommand(g experimentTypes.GeneratorDetails, duration time.Duration) []string {
	return []string{
		"iperf", "-c", g.Target, "-u", "-b", g.Bandwidth,
		"-t", strconv.Itoa(int(duration.Seconds())), "-p", strconv.Itoa(g.Port),
	}
}

// TraceExportCommand exports the rtp sequence numbers and arrival times of the capture as csv
func TraceExportCommand(pcapPath string, m experimentTypes.MediaDetails, t experimentTypes.TraceDetails) []string {
	return []string{
		"tshark", "-r", pcapPath, "-d", fmt.Sprintf("udp.port==%d,rtp", m.VideoPort),
		"-T", "fields", "-E", "header=y", "-E", "separator=,",
		"-e", t.SeqField, "-e", t.TimeField,
	}
}

func rtpURL(addr string, port, packetSize int) string {
	return fmt.Sprintf("rtp://%s:%d?pkt_size=%d", addr, port, packetSize)
}
