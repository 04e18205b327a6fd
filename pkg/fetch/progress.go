package fetch

import (
	"regexp"
	"strconv"
	"sync"
)

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
	progressPattern = regexp.MustCompile(`\[download\]\s+(\d+\.?\d*)%\s+of\s+~?\s*(\d+\.?\d*[KMGT]?i?B)`)
	percentPattern  = regexp.MustCompile(`(\d+\.?\d*)%`)
	downloadPrefix  = regexp.MustCompile(`^\s*\[download\]`)
)

// Progress is one parsed status line from the fetch tool.
type Progress struct {
	Percent float64
	Total   string // as printed, e.g. "12.34MiB"; empty when unknown
}

// ParseProgress extracts the download percentage from a status line.
// Lines that are not download progress return false.
func ParseProgress(line string) (Progress, bool) {
	line = ansiPattern.ReplaceAllString(line, "")

	if m := progressPattern.FindStringSubmatch(line); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Progress{}, false
		}
		return Progress{Percent: clamp(pct), Total: m[2]}, true
	}

	m := percentPattern.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	if !downloadPrefix.MatchString(line) {
		return Progress{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Progress{}, false
	}
	return Progress{Percent: clamp(pct)}, true
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// monotonic forwards only strictly increasing values. Format merges run the
// tool's progress from 0 to 100 once per stream, so later streams would
// otherwise send the bar backwards.
type monotonic struct {
	mu   sync.Mutex
	last float64
	fn   func(Progress)
}

func (m *monotonic) observe(p Progress) {
	if m.fn == nil {
		return
	}
	m.mu.Lock()
	if p.Percent <= m.last {
		m.mu.Unlock()
		return
	}
	m.last = p.Percent
	m.mu.Unlock()
	m.fn(p)
}
