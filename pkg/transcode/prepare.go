package transcode

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/mediarelay/internal/logger"
)

// Prepared is a media file ready for upload along with the derived
// artifacts. Cleanup removes the artifacts but never the source file.
type Prepared struct {
	Path      string
	ThumbPath string
	Meta      Metadata
	Audio     bool

	artifacts []string
}

// Cleanup removes every file Prepare created.
func (p *Prepared) Cleanup() {
	for _, a := range p.artifacts {
		if err := os.Remove(a); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove artifact", logger.KeyPath, a, logger.Err(err))
		}
	}
	p.artifacts = nil
}

// Prepare readies a downloaded file for upload. Videos are remuxed for
// faststart (falling back to the original), probed, and given a thumbnail.
// Audio files are only probed. Probe and thumbnail failures are logged and
// leave the corresponding fields empty.
func (t *Tool) Prepare(ctx context.Context, path string, audio bool) *Prepared {
	p := &Prepared{Path: path, Audio: audio}

	if !audio && strings.EqualFold(filepath.Ext(path), ".mp4") {
		if remuxed, err := t.Faststart(ctx, path); err != nil {
			logger.WarnCtx(ctx, "Faststart remux failed, using original", logger.KeyPath, path, logger.Err(err))
		} else {
			p.Path = remuxed
			p.artifacts = append(p.artifacts, remuxed)
		}
	}

	if md, err := t.Probe(ctx, p.Path); err != nil {
		logger.WarnCtx(ctx, "Probe failed", logger.KeyPath, p.Path, logger.Err(err))
	} else {
		p.Meta = md
	}

	if !audio {
		if thumb, err := t.Thumbnail(ctx, path); err != nil {
			logger.WarnCtx(ctx, "Thumbnail failed", logger.KeyPath, path, logger.Err(err))
		} else {
			p.ThumbPath = thumb
			p.artifacts = append(p.artifacts, thumb)
		}
	}
	return p
}
