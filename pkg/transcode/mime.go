package transcode

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var audioMIME = map[string]string{
	".mp3": "audio/mpeg",
	".m4a": "audio/mp4",
	".aac": "audio/aac",
	".ogg": "audio/ogg",
}

// MIMEType returns the content type to declare for an upload. Audio types
// come from the extension (defaulting to audio/mpeg); videos are sniffed,
// falling back to video/mp4.
func MIMEType(path string, audio bool) string {
	if audio {
		if m, ok := audioMIME[strings.ToLower(filepath.Ext(path))]; ok {
			return m
		}
		return "audio/mpeg"
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil || !strings.HasPrefix(mt.String(), "video/") {
		return "video/mp4"
	}
	m, _, _ := strings.Cut(mt.String(), ";")
	return m
}
