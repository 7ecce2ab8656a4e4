package rlang

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"rbridge/logging"
)

// readOutput scans R's stdout and forwards the id of every end marker.
// Anything else R prints outside a captured evaluation (install chatter,
// stray cat calls) is only logged. The channel is closed at EOF.
func (rr *RRuntime) readOutput(pipe io.Reader, ch chan<- string) {
	defer close(ch)

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if id, ok := parseMarker(line); ok {
			ch <- id
			continue
		}
		if strings.TrimSpace(line) != "" {
			rr.logger.Debug("R stdout", logging.StringField("line", line))
		}
	}
}

// parseMarker extracts the request id from an end-of-output line
func parseMarker(line string) (string, bool) {
	idx := strings.Index(line, EndOfOutputMarker)
	if idx < 0 {
		return "", false
	}
	rest := line[idx+len(EndOfOutputMarker):]
	end := strings.Index(rest, ">>>")
	if end <= 0 {
		return "", false
	}
	return rest[:end], true
}

// readError drains R's stderr into tail so that startup failures and
// crashes can be reported with R's own last words.
func (rr *RRuntime) readError(pipe io.Reader, tail *tailBuffer) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.WriteLine(line)
		if strings.TrimSpace(line) != "" {
			rr.logger.Debug("R stderr", logging.StringField("line", line))
		}
	}
}

// tailBuffer keeps the last max bytes of line-oriented output
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

// WriteLine appends line and a newline, discarding the oldest bytes
func (t *tailBuffer) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
