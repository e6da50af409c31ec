package stream

import (
	"bufio"
	"bytes"
	"io"
)

// Framing selects how a response body is split into lines.
type Framing int

const (
	// FramingSSE is Server-Sent Events: "event:" and "data:" fields separated
	// by blank lines.
	FramingSSE Framing = iota
	// FramingNDJSON is one JSON document per line.
	FramingNDJSON
)

// DoneMarker is the sentinel payload that ends an SSE stream.
const DoneMarker = "[DONE]"

// maxLineSize bounds a single line. Cumulative backends resend the whole
// message on every event, so lines grow with the answer.
const maxLineSize = 8 << 20

// Line is one meaningful unit read from the body.
type Line struct {
	// Event is the SSE event name in effect for this data line, if any.
	Event string

	// Data is the payload with the "data:" prefix removed.
	Data []byte

	// Done is set when the payload is the [DONE] marker.
	Done bool
}

// LineReader applies the line filter to a body.
type LineReader struct {
	scanner *bufio.Scanner
	framing Framing
	event   string
	reads   int
}

// NewLineReader returns a LineReader over r.
func NewLineReader(r io.Reader, framing Framing) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &LineReader{scanner: scanner, framing: framing}
}

// Reads returns the number of raw lines consumed so far.
func (lr *LineReader) Reads() int {
	return lr.reads
}

// Next returns the next meaningful line. It returns io.EOF when the body is
// exhausted and the underlying read error otherwise.
func (lr *LineReader) Next() (Line, error) {
	for lr.scanner.Scan() {
		lr.reads++
		raw := bytes.TrimRight(lr.scanner.Bytes(), "\r")

		if lr.framing == FramingNDJSON {
			raw = bytes.TrimSpace(raw)
			if len(raw) == 0 {
				continue
			}
			return Line{Data: copyBytes(raw)}, nil
		}

		if len(bytes.TrimSpace(raw)) == 0 {
			// Blank line ends an SSE message.
			lr.event = ""
			continue
		}

		switch {
		case raw[0] == ':':
			continue
		case bytes.HasPrefix(raw, []byte("event:")):
			lr.event = string(bytes.TrimSpace(raw[len("event:"):]))
			continue
		case bytes.HasPrefix(raw, []byte("data:")):
			data := raw[len("data:"):]
			if len(data) > 0 && data[0] == ' ' {
				data = data[1:]
			}
			if string(bytes.TrimSpace(data)) == DoneMarker {
				return Line{Event: lr.event, Done: true}, nil
			}
			return Line{Event: lr.event, Data: copyBytes(data)}, nil
		case bytes.HasPrefix(raw, []byte("id:")), bytes.HasPrefix(raw, []byte("retry:")):
			continue
		case raw[0] == '{' || raw[0] == '[':
			// Some backends answer with a bare JSON body on an SSE route
			// (error payloads). Hand it to the decoder as data.
			return Line{Event: lr.event, Data: copyBytes(raw)}, nil
		}
	}

	if err := lr.scanner.Err(); err != nil {
		return Line{}, err
	}
	return Line{}, io.EOF
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
