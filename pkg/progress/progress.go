// Package progress renders a per-request progress message and keeps edits to
// it under the platform's rate limits.
package progress

import (
	"context"
	"strconv"
	"strings"
)

// Reporter is the progress sink used by a relay pipeline. Percent values
// are passed through unchanged; callers are responsible for keeping them
// non-decreasing.
type Reporter interface {
	// Start posts the initial message.
	Start(ctx context.Context, label string) error

	// Update reports a new percentage. Failures are logged, never returned,
	// so progress reporting cannot abort a transfer.
	Update(ctx context.Context, percent int, label string)

	// Delete removes the message. Safe to call more than once.
	Delete(ctx context.Context) error
}

// Silent is a Reporter that does nothing.
type Silent struct{}

func (Silent) Start(context.Context, string) error { return nil }
func (Silent) Update(context.Context, int, string) {}
func (Silent) Delete(context.Context) error        { return nil }

var _ Reporter = Silent{}

// Range maps a phase's own 0..total progress into a slice of the overall
// 0..100 bar, e.g. downloading fills 0-80 and uploading 80-100.
type Range struct {
	From int
	To   int
}

var (
	DownloadRange = Range{From: 0, To: 80}
	UploadRange   = Range{From: 80, To: 99}
)

// Scale returns From + floor(done/total * (To-From)), clamped to the range.
func (r Range) Scale(done, total int64) int {
	if total <= 0 || done <= 0 {
		return r.From
	}
	if done >= total {
		return r.To
	}
	return r.From + int(done*int64(r.To-r.From)/total)
}

// ScalePercent maps a 0..100 phase percentage into the range.
func (r Range) ScalePercent(p float64) int {
	switch {
	case p <= 0:
		return r.From
	case p >= 100:
		return r.To
	}
	return r.From + int(p*float64(r.To-r.From)/100)
}

const barWidth = 20

// Render builds the message text:
//
//	🎬 Processing: 42%
//	[████████░░░░░░░░░░░░]
//	label
func Render(percent int, label string) string {
	filled := max(0, min(barWidth, percent*barWidth/100))

	var b strings.Builder
	b.WriteString("🎬 Processing: ")
	b.WriteString(strconv.Itoa(percent))
	b.WriteString("%\n[")
	b.WriteString(strings.Repeat("█", filled))
	b.WriteString(strings.Repeat("░", barWidth-filled))
	b.WriteString("]")
	if label != "" {
		b.WriteString("\n")
		b.WriteString(label)
	}
	return b.String()
}
