package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/mediarelay/internal/command"
)

// fakeFFmpeg records invocations and writes the output file (last arg) with a
// size chosen per call.
type fakeFFmpeg struct {
	mu        sync.Mutex
	calls     [][]string
	sizeFor   func(call int, args []string) int
	probeJSON string
	fail      map[string]bool // keyed by a marker arg such as "+faststart"
}

func (f *fakeFFmpeg) Run(_ context.Context, program string, args []string, _ command.Options) (*command.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{program}, args...))
	n := len(f.calls)
	f.mu.Unlock()

	for _, a := range args {
		if f.fail[a] {
			return &command.Result{}, &command.ExitError{Program: program, ExitCode: 1, Stderr: "boom"}
		}
	}

	if program == "ffprobe" {
		return &command.Result{Stdout: f.probeJSON}, nil
	}
	if len(args) == 1 && args[0] == "-version" {
		return &command.Result{Stdout: "ffmpeg version 7.0\nbuilt with gcc"}, nil
	}

	size := 10
	if f.sizeFor != nil {
		size = f.sizeFor(n, args)
	}
	out := args[len(args)-1]
	if err := os.WriteFile(out, make([]byte, size), 0o644); err != nil {
		return nil, err
	}
	return &command.Result{}, nil
}

func (f *fakeFFmpeg) qualities() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var qs []string
	for _, c := range f.calls {
		for i, a := range c {
			if a == "-q:v" {
				qs = append(qs, c[i+1])
			}
		}
	}
	return qs
}

func writeVideo(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(p, []byte("video"), 0o644))
	return p
}

func TestThumbnailFitsFirstTry(t *testing.T) {
	t.Parallel()

	ff := &fakeFFmpeg{}
	tool := New(Config{}, ff)

	thumb, err := tool.Thumbnail(context.Background(), writeVideo(t))
	require.NoError(t, err)
	assert.FileExists(t, thumb)
	assert.Equal(t, ".jpg", filepath.Ext(thumb))
	assert.Equal(t, []string{"3"}, ff.qualities())

	args := strings.Join(ff.calls[0], " ")
	assert.Contains(t, args, "-ss 0.1")
	assert.Contains(t, args, "scale='min(320,iw)':'min(320,ih)':force_original_aspect_ratio=decrease")
}

func TestThumbnailEscalatesQuality(t *testing.T) {
	t.Parallel()

	// Oversized until the third attempt.
	ff := &fakeFFmpeg{sizeFor: func(call int, _ []string) int {
		if call < 3 {
			return DefaultThumbMaxBytes + 1
		}
		return DefaultThumbMaxBytes
	}}
	tool := New(Config{}, ff)

	_, err := tool.Thumbnail(context.Background(), writeVideo(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "5", "7"}, ff.qualities())
	assert.NotContains(t, strings.Join(ff.calls[1], " "), "-ss")
}

func TestThumbnailGivesUpAtWorstQuality(t *testing.T) {
	t.Parallel()

	ff := &fakeFFmpeg{sizeFor: func(int, []string) int { return DefaultThumbMaxBytes * 2 }}
	tool := New(Config{}, ff)

	thumb, err := tool.Thumbnail(context.Background(), writeVideo(t))
	require.NoError(t, err, "oversized thumbnail is still returned")
	assert.FileExists(t, thumb)

	qs := ff.qualities()
	assert.Equal(t, "3", qs[0])
	assert.Equal(t, "31", qs[len(qs)-1])
	assert.Len(t, qs, 15)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	ff := &fakeFFmpeg{probeJSON: `{
		"streams": [
			{"codec_type": "audio", "duration": "61.0"},
			{"codec_type": "video", "width": 1280, "height": 720, "duration": "60.5"}
		],
		"format": {"duration": "61.2"}
	}`}
	md, err := New(Config{}, ff).Probe(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, Metadata{Duration: 60.5, Width: 1280, Height: 720}, md)
}

func TestProbeFallsBackToContainerDuration(t *testing.T) {
	t.Parallel()

	ff := &fakeFFmpeg{probeJSON: `{"streams": [{"codec_type": "audio"}], "format": {"duration": "183.4"}}`}
	md, err := New(Config{}, ff).Probe(context.Background(), "song.mp3")
	require.NoError(t, err)
	assert.InDelta(t, 183.4, md.Duration, 0.001)
	assert.Zero(t, md.Width)
}

func TestPrepareVideo(t *testing.T) {
	t.Parallel()

	ff := &fakeFFmpeg{probeJSON: `{"streams":[{"codec_type":"video","width":640,"height":360,"duration":"5"}]}`}
	tool := New(Config{}, ff)
	src := writeVideo(t)

	p := tool.Prepare(context.Background(), src, false)
	assert.NotEqual(t, src, p.Path, "remuxed copy is uploaded")
	assert.FileExists(t, p.Path)
	assert.FileExists(t, p.ThumbPath)
	assert.Equal(t, 640, p.Meta.Width)

	p.Cleanup()
	assert.NoFileExists(t, p.Path)
	assert.NoFileExists(t, p.ThumbPath)
	assert.FileExists(t, src, "source is left for the caller")
}

func TestPrepareFallsBackWhenRemuxFails(t *testing.T) {
	t.Parallel()

	ff := &fakeFFmpeg{
		probeJSON: `{"streams":[]}`,
		fail:      map[string]bool{"+faststart": true},
	}
	src := writeVideo(t)

	p := New(Config{}, ff).Prepare(context.Background(), src, false)
	assert.Equal(t, src, p.Path)
	assert.NotEmpty(t, p.ThumbPath)
	p.Cleanup()
}

func TestPrepareAudioSkipsVideoSteps(t *testing.T) {
	t.Parallel()

	ff := &fakeFFmpeg{probeJSON: `{"streams":[],"format":{"duration":"200"}}`}
	src := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))

	p := New(Config{}, ff).Prepare(context.Background(), src, true)
	assert.Equal(t, src, p.Path)
	assert.Empty(t, p.ThumbPath)
	assert.InDelta(t, 200, p.Meta.Duration, 0.001)
	require.Len(t, ff.calls, 1)
	assert.Equal(t, "ffprobe", ff.calls[0][0])
}

func TestVersion(t *testing.T) {
	t.Parallel()

	v, err := New(Config{}, &fakeFFmpeg{}).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg version 7.0", v)
}

func TestFaststartError(t *testing.T) {
	t.Parallel()

	ff := &fakeFFmpeg{fail: map[string]bool{"+faststart": true}}
	_, err := New(Config{}, ff).Faststart(context.Background(), writeVideo(t))

	var exitErr *command.ExitError
	assert.True(t, errors.As(err, &exitErr))
}
