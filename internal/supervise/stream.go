package supervise

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"github.com/fuelsh/fuel/internal/driver"
)

// streamState accumulates what the stream reader learns from a child's
// stream-JSON output: the session id and the reported cost.
type streamState struct {
	mu        sync.Mutex
	sessionID string
	costUSD   float64
	lastText  string
}

func (s *streamState) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *streamState) CostUSD() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.costUSD
}

// LastText returns the most recent result or message text from the stream.
func (s *streamState) LastText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastText
}

// readStream scans newline-delimited JSON from the child's stdout, mirrors
// every raw line to sink and ring, and pulls session id, cost, and result
// text out of the events. Lines that are not valid JSON are passed through
// as plain output. chunk, if non-nil, is invoked per line.
func readStream(r io.Reader, d *driver.Driver, state *streamState, ring *outputRing, sink io.Writer, chunk func(line []byte)) error {
	scanner := bufio.NewScanner(r)
	// Agent events can carry whole file contents in one line.
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if sink != nil {
			sink.Write(line)
			sink.Write([]byte{'\n'})
		}
		ring.Write(append(append([]byte{}, line...), '\n'))
		if chunk != nil {
			chunk(line)
		}

		var event map[string]any
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		state.mu.Lock()
		if id := findString(event, d.SessionIDFields); id != "" {
			state.sessionID = id
		}
		if cost, ok := findFloat(event, d.CostFields); ok {
			// Agents report cumulative totals, so the latest value wins.
			state.costUSD = cost
		}
		if text := resultText(event); text != "" {
			state.lastText = text
		}
		state.mu.Unlock()
	}
	return scanner.Err()
}

// findString looks for the first of the given keys at the top level or one
// map level down.
func findString(event map[string]any, keys []string) string {
	for _, key := range keys {
		if v, ok := event[key].(string); ok && v != "" {
			return v
		}
	}
	for _, nested := range event {
		m, ok := nested.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			if v, ok := m[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

func findFloat(event map[string]any, keys []string) (float64, bool) {
	for _, key := range keys {
		if v, ok := event[key].(float64); ok {
			return v, true
		}
	}
	for _, nested := range event {
		m, ok := nested.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			if v, ok := m[key].(float64); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// resultText extracts the final text payload from result-style events.
func resultText(event map[string]any) string {
	if v, ok := event["result"].(string); ok {
		return v
	}
	if v, ok := event["content"].(string); ok {
		return v
	}
	if v, ok := event["message"].(string); ok {
		return v
	}
	return ""
}
