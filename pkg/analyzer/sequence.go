package analyzer

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	qmath "github.com/litmuschaos/litmus-qos/pkg/math"
)

// seqSpace is the size of the RTP sequence number space
const seqSpace = 1 << 16

// Packet is one received media packet, in arrival order
type Packet struct {
	Seq int64

	// Arrival is relative to the start of the capture, in seconds
	Arrival float64
}

// SequenceStats is the jitter and loss derived from a packet trace
type SequenceStats struct {
	AvgJitter float64
	MaxJitter float64
	Expected  int
	Received  int
	Lost      int

	// LossPercent is within [0,100]
	LossPercent float64

	// Jitter holds one sample per sequence adjacent pair
	Jitter []float64

	// Sequence holds the distinct sequence numbers in arrival order
	Sequence []int64
}

// Unwrap extends 16 bit sequence numbers across wraparound, walking the
// packets in arrival order. A backward step of more than half the space
// starts a new cycle, so a gap of that size after heavy loss reads as a
// wrap. Values already outside the 16 bit space are returned unchanged.
func Unwrap(packets []Packet) []Packet {
	out := make([]Packet, len(packets))
	var cycles, last int64
	for i, p := range packets {
		out[i] = p
		if p.Seq < 0 || p.Seq >= seqSpace {
			continue
		}
		if i > 0 {
			switch delta := p.Seq - last; {
			case delta < -seqSpace/2:
				cycles++
			case delta > seqSpace/2 && cycles > 0:
				// late packet from the previous cycle
				out[i].Seq = (cycles-1)*seqSpace + p.Seq
				continue
			}
		}
		last = p.Seq
		out[i].Seq = cycles*seqSpace + p.Seq
	}
	return out
}

// ComputeSequenceStats derives jitter and loss from packets given in
// arrival order. Duplicates keep their first arrival, the remaining
// packets are ordered by sequence number and each jitter sample is the
// absolute arrival difference of sequence adjacent packets.
func ComputeSequenceStats(packets []Packet) SequenceStats {
	seen := make(map[int64]struct{}, len(packets))
	distinct := make([]Packet, 0, len(packets))
	for _, p := range Unwrap(packets) {
		if _, dup := seen[p.Seq]; dup {
			continue
		}
		seen[p.Seq] = struct{}{}
		distinct = append(distinct, p)
	}

	var s SequenceStats
	s.Sequence = make([]int64, len(distinct))
	for i, p := range distinct {
		s.Sequence[i] = p.Seq
	}
	if len(distinct) == 0 {
		return s
	}

	sort.SliceStable(distinct, func(i, j int) bool { return distinct[i].Seq < distinct[j].Seq })

	s.Jitter = make([]float64, 0, len(distinct)-1)
	for i := 1; i < len(distinct); i++ {
		s.Jitter = append(s.Jitter, math.Abs(distinct[i].Arrival-distinct[i-1].Arrival))
	}
	if avg, err := stats.Mean(s.Jitter); err == nil {
		s.AvgJitter = avg
	}
	if max, err := stats.Max(s.Jitter); err == nil {
		s.MaxJitter = max
	}

	s.Expected = int(distinct[len(distinct)-1].Seq - distinct[0].Seq + 1)
	s.Received = len(distinct)
	s.Lost = qmath.Maximum(s.Expected-s.Received, 0)
	s.LossPercent = qmath.Clamp(qmath.Percentage(s.Lost, s.Expected), 0, 100)
	return s
}
