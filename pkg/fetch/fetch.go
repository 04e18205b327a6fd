// Package fetch drives the external media download tool (yt-dlp) and turns
// its output into a local file path plus a stream of progress events.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/marmos91/mediarelay/internal/command"
	"github.com/marmos91/mediarelay/internal/logger"
	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
	"github.com/marmos91/mediarelay/pkg/store"
)

// DefaultBinary is looked up on PATH when Config.Binary is empty.
const DefaultBinary = "yt-dlp"

// Config configures the fetcher.
type Config struct {
	Binary    string   `mapstructure:"binary" yaml:"binary"`
	OutputDir string   `mapstructure:"output_dir" yaml:"output_dir"`
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args,omitempty"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.OutputDir == "" {
		c.OutputDir = "output"
	}
}

// Fetcher downloads media by URL into OutputDir.
type Fetcher struct {
	config Config
	runner command.Runner
}

// New creates a Fetcher. A nil runner uses os/exec.
func New(config Config, runner command.Runner) *Fetcher {
	config.ApplyDefaults()
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &Fetcher{config: config, runner: runner}
}

// FormatArgs returns the format selection flags for a quality preference.
func FormatArgs(q store.Quality) []string {
	switch q {
	case store.QualityAudio:
		return []string{"-f", "bestaudio/best", "--extract-audio", "--audio-format", "mp3"}
	case store.QualityH265:
		return []string{
			"-f", "bestvideo[vcodec=h265]+bestaudio/best[vcodec=h265]/bestvideo[vcodec^=hvc1]+bestaudio/best",
			"--merge-output-format", "mp4",
		}
	default:
		return []string{
			"-f", "bestvideo[vcodec=h264]+bestaudio/best[vcodec=h264]/bestvideo[vcodec^=avc1]+bestaudio/best",
			"--merge-output-format", "mp4",
		}
	}
}

// Args builds the full argument list for one download. The output template
// is stem plus the extension the tool picks.
func (f *Fetcher) Args(url string, q store.Quality, stem string) []string {
	args := FormatArgs(q)
	args = append(args,
		"--newline",
		"--progress",
		"--no-playlist",
		"--no-warnings",
		"-o", stem+".%(ext)s",
		"--print", "after_move:filepath",
	)
	args = append(args, f.config.ExtraArgs...)
	return append(args, url)
}

// Download fetches url at the requested quality. onProgress receives
// strictly increasing raw percentages in [0,100]; it may be nil. The returned
// path is owned by the caller.
func (f *Fetcher) Download(ctx context.Context, url string, q store.Quality, onProgress func(Progress)) (string, error) {
	if err := os.MkdirAll(f.config.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	stem := filepath.Join(f.config.OutputDir, uuid.NewString())

	mono := &monotonic{fn: onProgress}
	var printed string
	lines := command.NewLineWriter(func(line string) {
		if p, ok := ParseProgress(line); ok {
			mono.observe(p)
			return
		}
		if candidate := strings.TrimSpace(line); strings.HasPrefix(candidate, stem) {
			printed = candidate
		}
	})

	logger.DebugCtx(ctx, "Starting fetch", logger.KeyURL, url, logger.KeyQuality, string(q))
	_, err := f.runner.Run(ctx, f.config.Binary, f.Args(url, q, stem), command.Options{Stdout: lines})
	lines.Flush()
	if err != nil {
		removeMatches(stem)
		return "", classify(ctx, err)
	}

	path, err := resolveOutput(stem, printed)
	if err != nil {
		return "", err
	}
	// A caller that gave up while the tool was finishing never sees path.
	if ctx.Err() != nil {
		removeMatches(stem)
		return "", fmt.Errorf("fetch abandoned: %w", ctx.Err())
	}
	logger.DebugCtx(ctx, "Fetch finished", logger.KeyPath, path)
	return path, nil
}

// Version returns the tool's version string. Used as a readiness probe.
func (f *Fetcher) Version(ctx context.Context) (string, error) {
	res, err := f.runner.Run(ctx, f.config.Binary, []string{"--version"}, command.Options{})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func resolveOutput(stem, printed string) (string, error) {
	if printed != "" {
		if _, err := os.Stat(printed); err == nil {
			return printed, nil
		}
	}
	matches, _ := filepath.Glob(stem + ".*")
	// Leftover fragments (.part, .ytdl) are never the result.
	var finished []string
	for _, m := range matches {
		switch filepath.Ext(m) {
		case ".part", ".ytdl", ".temp":
			continue
		}
		finished = append(finished, m)
	}
	if len(finished) == 0 {
		return "", relayerrors.New(relayerrors.ErrTransientIO, "fetch", "download produced no output file")
	}
	sort.Strings(finished)
	return finished[0], nil
}

func removeMatches(stem string) {
	matches, _ := filepath.Glob(stem + ".*")
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// permanentMarkers are tool messages that will not change on retry.
var permanentMarkers = []string{
	"Sign in required",
	"Sign in to confirm",
	"Video unavailable",
	"Private video",
	"This video is age-restricted",
	"Requested format is not available",
	"Unsupported URL",
	"is not a valid URL",
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	var exitErr *command.ExitError
	if !errors.As(err, &exitErr) {
		return relayerrors.Wrap(relayerrors.ErrTransientIO, "fetch", err)
	}
	msg := lastErrorLine(exitErr.Stderr)
	for _, marker := range permanentMarkers {
		if strings.Contains(exitErr.Stderr, marker) {
			return &relayerrors.RelayError{
				Code:    relayerrors.ErrPermanentRejection,
				Op:      "fetch",
				Message: msg,
				Err:     err,
			}
		}
	}
	return &relayerrors.RelayError{Code: relayerrors.ErrTransientIO, Op: "fetch", Message: msg, Err: err}
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "ERROR:") {
			return l
		}
	}
	return command.Tail(stderr, 200)
}
