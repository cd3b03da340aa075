package analyzer

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceParser(t *testing.T) {
	tests := []struct {
		name   string
		parser TraceParser
		csv    string
		want   []Packet
	}{
		{
			name: "tshark export",
			csv:  "rtp.seq,frame.time_relative\n100,0.000000000\n101,0.010000000\n103,0.050000000\n",
			want: packets(100, 0.0, 101, 0.01, 103, 0.05),
		},
		{
			name: "incomplete rows are dropped",
			csv:  "rtp.seq,frame.time_relative\n,0.001\n7,\nabc,0.2\n8,0.3\n9",
			want: packets(8, 0.3),
		},
		{
			name:   "custom columns in any order",
			parser: TraceParser{SeqField: "seq", TimeField: "t"},
			csv:    "t,src,seq\n0.5,10.0.0.1,3\n0.7,10.0.0.1,4.0\n",
			want:   packets(3, 0.5, 4, 0.7),
		},
		{
			name: "header only",
			csv:  "rtp.seq,frame.time_relative\n",
		},
		{
			name: "empty file",
			csv:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.parser.Parse(strings.NewReader(tt.csv))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTraceParserMissingColumn(t *testing.T) {
	_, err := TraceParser{}.Parse(strings.NewReader("frame.number,frame.time_relative\n1,0.1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rtp.seq")
}

type frame struct {
	port uint16
	seq  uint16
	at   time.Duration
	junk bool
}

// capture builds an ethernet pcap of the given udp frames
func capture(t *testing.T, frames ...frame) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	base := time.Unix(1700000000, 0)
	for _, f := range frames {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
			SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(f.port)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		payload := []byte{0x01}
		if !f.junk {
			var err error
			pkt := &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: f.seq, SSRC: 1}, Payload: []byte{1, 2, 3}}
			payload, err = pkt.Marshal()
			require.NoError(t, err)
		}

		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(payload)))
		data := sb.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: base.Add(f.at), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return buf.Bytes()
}

func TestPcapTraceReader(t *testing.T) {
	data := capture(t,
		frame{port: 5001, at: 0},
		frame{port: 5004, seq: 100, at: 10 * time.Millisecond},
		frame{port: 5004, seq: 101, at: 20 * time.Millisecond},
		frame{port: 5004, junk: true, at: 25 * time.Millisecond},
		frame{port: 5006, seq: 9, at: 30 * time.Millisecond},
		frame{port: 5004, seq: 103, at: 60 * time.Millisecond},
	)
	got, err := PcapTraceReader{Port: 5004}.Read(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []int64{100, 101, 103}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})
	// arrival is relative to the first frame of the capture, whatever its flow
	assert.InDelta(t, 0.01, got[0].Arrival, 1e-6)
	assert.InDelta(t, 0.06, got[2].Arrival, 1e-6)

	s := ComputeSequenceStats(got)
	assert.Equal(t, 4, s.Expected)
	assert.Equal(t, 1, s.Lost)
}

func TestPcapTraceReaderTruncated(t *testing.T) {
	data := capture(t,
		frame{port: 5004, seq: 1, at: 0},
		frame{port: 5004, seq: 2, at: 10 * time.Millisecond},
	)
	got, err := PcapTraceReader{Port: 5004}.Read(bytes.NewReader(data[:len(data)-5]))
	require.Error(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Seq)

	_, err = PcapTraceReader{Port: 5004}.Read(strings.NewReader(""))
	require.Error(t, err)
}
