package provider

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one server-sent event. name is empty for streams that
// only use data lines.
type sseEvent struct {
	name string
	data string
}

// sseReader incrementally parses a text/event-stream body. Comment
// lines and fields other than event/data are skipped.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseReader{scanner: sc}
}

// next returns the next data-bearing event, or io.EOF when the body is
// exhausted. Events without data (keep-alive pings) are skipped.
func (r *sseReader) next() (sseEvent, error) {
	var ev sseEvent
	var data []string
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				ev.data = strings.Join(data, "\n")
				return ev, nil
			}
			ev = sseEvent{}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := r.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	if len(data) > 0 {
		ev.data = strings.Join(data, "\n")
		return ev, nil
	}
	return sseEvent{}, io.EOF
}
