package sse

import (
	"bytes"
	"strings"
)

const (
	// DataPrefix starts every data frame
	DataPrefix = "data:"
	// Sentinel is the data payload that terminates a stream
	Sentinel = "[DONE]"
)

// FrameKind classifies one line of an event stream
type FrameKind int

const (
	FrameIgnored FrameKind = iota
	FrameComment
	FrameBlank
	FrameData
)

func (k FrameKind) String() string {
	switch k {
	case FrameComment:
		return "comment"
	case FrameBlank:
		return "blank"
	case FrameData:
		return "data"
	default:
		return "ignored"
	}
}

// Classify returns the kind of a line and, for data frames, the trimmed payload.
// The line must not contain its terminator.
func Classify(line string) (FrameKind, string) {
	line = strings.TrimSuffix(line, "\r")
	switch {
	case strings.HasPrefix(line, ":"):
		return FrameComment, ""
	case strings.TrimSpace(line) == "":
		return FrameBlank, ""
	case strings.HasPrefix(line, DataPrefix):
		return FrameData, strings.TrimSpace(line[len(DataPrefix):])
	default:
		return FrameIgnored, ""
	}
}

// Decoder turns arbitrarily split chunks of an event stream into text fragments.
//
// It keeps a single pending buffer. Lines are split at the byte level, so a chunk
// boundary inside a multi-byte UTF-8 sequence is harmless: '\n' never occurs inside one.
// A data line whose payload is not valid JSON is put back in front of the buffer and
// decoding of the current chunk stops. If the same line still fails once more data has
// arrived it is dropped, otherwise a single bad frame would stall the stream forever.
type Decoder struct {
	pending []byte
	stalled string
	done    bool
	dropped int
}

// NewDecoder creates a decoder with an empty buffer
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the pending buffer and returns the fragments of every
// complete line it could decode, in wire order
func (d *Decoder) Feed(chunk []byte) []string {
	if d.done || len(chunk) == 0 {
		return nil
	}
	d.pending = append(d.pending, chunk...)

	var fragments []string
	for !d.done {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			break
		}
		line := string(d.pending[:idx])
		d.pending = d.pending[idx+1:]

		fragment, ok, resync := d.decodeLine(line)
		if resync {
			d.pending = append([]byte(line+"\n"), d.pending...)
			break
		}
		if ok {
			fragments = append(fragments, fragment)
		}
	}
	if d.done {
		d.pending = nil
	}
	return fragments
}

// Flush decodes the lines left in the buffer, the last one possibly unterminated.
// Call it once the transport is closed; malformed frames get no further chance.
func (d *Decoder) Flush() []string {
	if d.done || len(d.pending) == 0 {
		d.pending = nil
		return nil
	}
	lines := strings.Split(string(d.pending), "\n")
	d.pending = nil

	var fragments []string
	for _, line := range lines {
		if d.done {
			break
		}
		fragment, ok, resync := d.decodeLine(line)
		if resync {
			d.stalled = ""
			d.dropped++
			continue
		}
		if ok {
			fragments = append(fragments, fragment)
		}
	}
	return fragments
}

// decodeLine reports the line's fragment, if any, and whether the line must be re-buffered
func (d *Decoder) decodeLine(line string) (string, bool, bool) {
	kind, payload := Classify(line)
	if kind != FrameData {
		return "", false, false
	}
	if payload == Sentinel {
		d.done = true
		return "", false, false
	}
	if !Valid(payload) {
		if d.stalled == line {
			d.stalled = ""
			d.dropped++
			return "", false, false
		}
		d.stalled = line
		return "", false, true
	}
	d.stalled = ""
	fragment, ok := Fragment(payload)
	return fragment, ok, false
}

// Done reports whether the sentinel has been seen
func (d *Decoder) Done() bool {
	return d.done
}

// Buffered returns the number of bytes waiting for a line terminator
func (d *Decoder) Buffered() int {
	return len(d.pending)
}

// Dropped returns how many malformed data frames were discarded
func (d *Decoder) Dropped() int {
	return d.dropped
}
