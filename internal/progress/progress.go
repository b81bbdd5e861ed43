// Package progress turns diagnostic lines of gh-repo-stats into progress
// updates.
package progress

import (
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
	"strings"
)

type Kind int

const (
	// KindIndexed is "Processing 3/10: name", name is optional
	KindIndexed Kind = iota + 1
	// KindTotal is "Found 42 repositories"
	KindTotal
	// KindItem is "Analyzing repository 'name'", it advances processed by one
	KindItem
)

func (k Kind) String() string {
	switch k {
	case KindIndexed:
		return "indexed"
	case KindTotal:
		return "total"
	case KindItem:
		return "item"
	default:
		return "unknown"
	}
}

// Event is a progress update recognized on a single line.
type Event struct {
	Kind      Kind
	Processed int
	Total     int
	Item      string
}

var (
	indexedRx = regexp.MustCompile(`(?i)Processing\s+(?:repo\s+)?(\d+)\s*/\s*(\d+)(?:\s*:\s*(.+))?`)
	totalRx   = regexp.MustCompile(`(?i)Found\s+(\d+)\s+repositor`)
	itemRx    = regexp.MustCompile(`(?i)Analyzing\s+(?:repository\s+)?["']?([^"']+)["']?`)
)

// Parse tries the recognizers in order and returns the first match.
// Once a recognizer matches, later ones are not consulted even if the
// match is unusable.
func Parse(line string) (Event, bool) {
	if m := indexedRx.FindStringSubmatch(line); m != nil {
		processed, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			return Event{}, false
		}
		return Event{
			Kind:      KindIndexed,
			Processed: processed,
			Total:     total,
			Item:      strings.TrimSpace(m[3]),
		}, true
	}

	if m := totalRx.FindStringSubmatch(line); m != nil {
		total, err := strconv.Atoi(m[1])
		if err != nil {
			return Event{}, false
		}
		return Event{Kind: KindTotal, Total: total}, true
	}

	if m := itemRx.FindStringSubmatch(line); m != nil {
		return Event{Kind: KindItem, Item: m[1]}, true
	}

	return Event{}, false
}

// State is the live progress of one job.
type State struct {
	Percent   int
	Processed int
	Total     int
	Item      string
	Message   string
}

// Apply returns the state after ev. Percent never decreases and never
// exceeds 100.
func (s State) Apply(ev Event) State {
	switch ev.Kind {
	case KindIndexed:
		s.Processed = ev.Processed
		s.Total = ev.Total
		if ev.Item != "" {
			s.Item = ev.Item
		}
		s.recompute()
		item := s.Item
		if item == "" {
			item = "fetching..."
		}
		s.Message = fmt.Sprintf("Processing %d/%d: %s", s.Processed, s.Total, item)
	case KindTotal:
		s.Total = ev.Total
		s.Message = fmt.Sprintf("Found %d repositories to analyze...", s.Total)
	case KindItem:
		s.Item = ev.Item
		s.Processed++
		s.recompute()
		s.Message = "Analyzing: " + s.Item
	}
	return s
}

func (s *State) recompute() {
	if s.Total <= 0 {
		return
	}
	s.Percent = max(s.Percent, percent(s.Processed, s.Total))
}

// percent is floor(processed*100/total) capped at 100. The product is
// computed in 128 bits so large counts do not wrap.
func percent(processed, total int) int {
	if processed <= 0 {
		return 0
	}
	if processed >= total {
		return 100
	}
	hi, lo := bits.Mul64(uint64(processed), 100)
	q, _ := bits.Div64(hi, lo, uint64(total))
	return int(q)
}
