// Package transcode wraps ffmpeg and ffprobe for the few media operations a
// relay needs before upload: faststart remuxing, metadata probing and
// thumbnail extraction.
package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/marmos91/mediarelay/internal/command"
	"github.com/marmos91/mediarelay/internal/logger"
)

const (
	// DefaultThumbMaxBytes is the largest thumbnail the platform accepts.
	DefaultThumbMaxBytes = 200 * 1024

	// DefaultThumbMaxDim bounds the longer thumbnail edge in pixels.
	DefaultThumbMaxDim = 320

	thumbStartQuality = 3
	thumbWorstQuality = 31
	thumbQualityStep  = 2
)

// Config configures binary locations and thumbnail limits.
type Config struct {
	FFmpeg        string `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	FFprobe       string `mapstructure:"ffprobe" yaml:"ffprobe"`
	ThumbMaxBytes int64  `mapstructure:"thumb_max_bytes" yaml:"thumb_max_bytes"`
	ThumbMaxDim   int    `mapstructure:"thumb_max_dim" yaml:"thumb_max_dim"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.FFmpeg == "" {
		c.FFmpeg = "ffmpeg"
	}
	if c.FFprobe == "" {
		c.FFprobe = "ffprobe"
	}
	if c.ThumbMaxBytes <= 0 {
		c.ThumbMaxBytes = DefaultThumbMaxBytes
	}
	if c.ThumbMaxDim <= 0 {
		c.ThumbMaxDim = DefaultThumbMaxDim
	}
}

// Tool runs ffmpeg/ffprobe through a command.Runner.
type Tool struct {
	config Config
	runner command.Runner
}

// New creates a Tool. A nil runner uses os/exec.
func New(config Config, runner command.Runner) *Tool {
	config.ApplyDefaults()
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &Tool{config: config, runner: runner}
}

// Metadata describes the first video stream (or the container for audio).
type Metadata struct {
	Duration float64 // seconds
	Width    int
	Height   int
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads duration and dimensions. Stream duration falls back to the
// container duration when the stream does not report one.
func (t *Tool) Probe(ctx context.Context, path string) (Metadata, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height,duration:format=duration",
		"-of", "json",
		path,
	}
	res, err := t.runner.Run(ctx, t.config.FFprobe, args, command.Options{})
	if err != nil {
		return Metadata{}, fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}

	var out probeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return Metadata{}, fmt.Errorf("parse probe output: %w", err)
	}

	var md Metadata
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		md.Width, md.Height = s.Width, s.Height
		md.Duration = parseSeconds(s.Duration)
		break
	}
	if md.Duration <= 0 {
		md.Duration = parseSeconds(out.Format.Duration)
	}
	return md, nil
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// Faststart remuxes an MP4 so its index precedes the media data, which lets
// clients start playback while streaming. The caller owns the returned file.
func (t *Tool) Faststart(ctx context.Context, path string) (string, error) {
	out := siblingPath(path, "faststart", filepath.Ext(path))
	args := []string{"-y", "-i", path, "-c", "copy", "-movflags", "+faststart", out}
	if _, err := t.runner.Run(ctx, t.config.FFmpeg, args, command.Options{}); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("faststart remux: %w", err)
	}
	return out, nil
}

// Thumbnail extracts a JPEG frame no larger than ThumbMaxDim on either edge.
// The JPEG quality is lowered step by step until the file fits
// ThumbMaxBytes; an oversized result after the last step is still returned.
func (t *Tool) Thumbnail(ctx context.Context, videoPath string) (string, error) {
	out := siblingPath(videoPath, "thumb", ".jpg")
	dim := strconv.Itoa(t.config.ThumbMaxDim)
	scale := fmt.Sprintf("scale='min(%s,iw)':'min(%s,ih)':force_original_aspect_ratio=decrease", dim, dim)

	run := func(quality int, seek bool) (int64, error) {
		args := []string{"-y"}
		if seek {
			args = append(args, "-ss", "0.1")
		}
		args = append(args, "-i", videoPath, "-vframes", "1", "-vf", scale, "-q:v", strconv.Itoa(quality), out)
		if _, err := t.runner.Run(ctx, t.config.FFmpeg, args, command.Options{}); err != nil {
			return 0, err
		}
		info, err := os.Stat(out)
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}

	quality := thumbStartQuality
	size, err := run(quality, true)
	if err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("extract thumbnail: %w", err)
	}

	for size > t.config.ThumbMaxBytes && quality < thumbWorstQuality {
		quality += thumbQualityStep
		if size, err = run(quality, false); err != nil {
			_ = os.Remove(out)
			return "", fmt.Errorf("recompress thumbnail: %w", err)
		}
	}

	if size > t.config.ThumbMaxBytes {
		logger.WarnCtx(ctx, "Thumbnail still over size limit", logger.KeySize, size, "limit", t.config.ThumbMaxBytes)
	}
	return out, nil
}

// Version returns the first line of `ffmpeg -version`.
func (t *Tool) Version(ctx context.Context) (string, error) {
	res, err := t.runner.Run(ctx, t.config.FFmpeg, []string{"-version"}, command.Options{})
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(res.Stdout, "\n")
	return strings.TrimSpace(first), nil
}

func siblingPath(path, tag, ext string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return base + "." + tag + ext
}
