package analyzer

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// maxLineSize bounds a single log line, progress lines of the encoder can be long
const maxLineSize = 1024 * 1024

// LineParser extracts at most one numeric sample from a log line.
// A line without a well formed sample is skipped.
type LineParser interface {
	Parse(line string) (float64, bool)
}

// Samples returns every sample the parser matches in r, in order.
// A read error ends the scan, the samples read so far are returned with it.
func Samples(r io.Reader, p LineParser) ([]float64, error) {
	var samples []float64
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(scanLines)
	for scanner.Scan() {
		if v, ok := p.Parse(scanner.Text()); ok {
			samples = append(samples, v)
		}
	}
	return samples, scanner.Err()
}

// scanLines splits on '\n' and on the bare '\r' the encoder uses to redraw its progress line
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance := i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		} else if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// a '\n' may follow in the next read
			return 0, nil, nil
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var (
	bitrateRE    = regexp.MustCompile(`bitrate=\s*([\d.]+)\s*kbits`)
	throughputRE = regexp.MustCompile(`([\d.]+)\s+Mbits/sec`)
)

// BitrateParser reads the encoder progress lines, bitrate=<float>kbits
type BitrateParser struct{}

func (BitrateParser) Parse(line string) (float64, bool) {
	return matchFloat(bitrateRE, line)
}

// ThroughputParser reads the generator report lines, <float> Mbits/sec.
// Lines of the server report are excluded.
type ThroughputParser struct{}

func (ThroughputParser) Parse(line string) (float64, bool) {
	if strings.Contains(line, "Server Report") {
		return 0, false
	}
	return matchFloat(throughputRE, line)
}

// MonitorParser reads the interface monitor table, one row of numeric
// columns per interval. Column selects the value, 1 is the outbound
// rate of the first interface.
type MonitorParser struct {
	Column int
}

func (p MonitorParser) Parse(line string) (float64, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || p.Column < 0 || p.Column >= len(fields) {
		return 0, false
	}
	var value float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			// header or interface name row
			return 0, false
		}
		if i == p.Column {
			value = v
		}
	}
	return value, true
}

func matchFloat(re *regexp.Regexp, line string) (float64, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
