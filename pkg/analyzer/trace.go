package analyzer

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

const (
	// DefaultSeqField, DefaultTimeField are the columns of the tshark export
	DefaultSeqField  = "rtp.seq"
	DefaultTimeField = "frame.time_relative"
)

// TraceParser reads the tabular sequence trace, a header row naming the
// columns followed by one row per packet. Rows with an empty or malformed
// sequence or time are skipped.
type TraceParser struct {
	SeqField  string
	TimeField string
}

// Parse returns the packets of the trace in arrival order
func (p TraceParser) Parse(r io.Reader) ([]Packet, error) {
	seqField, timeField := p.SeqField, p.TimeField
	if seqField == "" {
		seqField = DefaultSeqField
	}
	if timeField == "" {
		timeField = DefaultTimeField
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Errorf("unable to read the trace header, err: %v", err)
	}
	seqCol, timeCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case seqField:
			seqCol = i
		case timeField:
			timeCol = i
		}
	}
	if seqCol < 0 || timeCol < 0 {
		return nil, errors.Errorf("trace header %v lacks the %s or %s column", header, seqField, timeField)
	}

	var packets []Packet
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return packets, nil
		}
		if err != nil {
			// a partially written trace ends here
			return packets, errors.Errorf("unable to read the trace, err: %v", err)
		}
		if seqCol >= len(record) || timeCol >= len(record) {
			continue
		}
		seq, ok := parseSeq(record[seqCol])
		if !ok {
			continue
		}
		arrival, err := strconv.ParseFloat(strings.TrimSpace(record[timeCol]), 64)
		if err != nil {
			continue
		}
		packets = append(packets, Packet{Seq: seq, Arrival: arrival})
	}
}

func parseSeq(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if seq, err := strconv.ParseInt(s, 10, 64); err == nil {
		return seq, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// PcapTraceReader decodes the RTP sequence numbers of the media flow
// straight from a capture file, for runs without an exported trace
type PcapTraceReader struct {
	// Port is the UDP destination port of the media flow
	Port int
}

// Read returns the packets of the flow in capture order, arrival times
// relative to the first captured frame. A truncated capture yields the
// packets read before the truncation.
func (p PcapTraceReader) Read(r io.Reader) ([]Packet, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, errors.Errorf("unable to read the capture header, err: %v", err)
	}
	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	var (
		packets []Packet
		first   gopacket.CaptureInfo
		started bool
	)
	for {
		pkt, err := source.NextPacket()
		if err == io.EOF {
			return packets, nil
		}
		if err != nil {
			return packets, errors.Errorf("unable to read the capture, err: %v", err)
		}
		info := pkt.Metadata().CaptureInfo
		if !started {
			first, started = info, true
		}
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || int(udp.DstPort) != p.Port {
			continue
		}
		var header rtp.Header
		if _, err := header.Unmarshal(udp.Payload); err != nil {
			continue
		}
		packets = append(packets, Packet{
			Seq:     int64(header.SequenceNumber),
			Arrival: info.Timestamp.Sub(first.Timestamp).Seconds(),
		})
	}
}
