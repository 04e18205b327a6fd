// Package rpc is the persistent-session transport used for uploads above the
// Bot HTTP API size limit. A session is authenticated once at connect time
// and then carries file parts and media messages until it drops.
package rpc

import "context"

// MediaKind selects how the platform presents an uploaded file.
type MediaKind string

const (
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
)

// InputFile references a file whose parts were saved on the server.
type InputFile struct {
	ID    int64  `json:"id"`
	Parts int    `json:"parts"`
	Name  string `json:"name"`

	// Big is true when the parts were saved with SaveBigFilePart.
	Big bool `json:"big"`
}

// Media describes the message to send once the file is uploaded.
type Media struct {
	Kind     MediaKind  `json:"kind"`
	File     InputFile  `json:"file"`
	Thumb    *InputFile `json:"thumb,omitempty"`
	MimeType string     `json:"mime_type"`
	Caption  string     `json:"caption,omitempty"`

	Duration          float64 `json:"duration,omitempty"` // seconds
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	SupportsStreaming bool    `json:"supports_streaming,omitempty"`
	Title             string  `json:"title,omitempty"`
	Performer         string  `json:"performer,omitempty"`
}

// Client is one authenticated session. Implementations must be safe for
// concurrent use; a Client that reported a connection loss stays unusable.
type Client interface {
	// SaveFilePart stores part of a file uploaded in the small-file mode.
	SaveFilePart(ctx context.Context, fileID int64, part int, data []byte) error

	// SaveBigFilePart stores part of a file whose total part count is known.
	SaveBigFilePart(ctx context.Context, fileID int64, part, totalParts int, data []byte) error

	// SendMedia delivers an uploaded file to a chat.
	SendMedia(ctx context.Context, chatID int64, media Media) error

	// Ping verifies the session is alive.
	Ping(ctx context.Context) error

	Close() error
}

// Dialer establishes new authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Client, error)

func (f DialerFunc) Dial(ctx context.Context) (Client, error) { return f(ctx) }
