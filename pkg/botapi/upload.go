package botapi

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/marmos91/mediarelay/pkg/transcode"
)

// ProgressFunc receives the bytes of the file body written so far.
type ProgressFunc func(sent, total int64)

// MediaUpload describes a file sent with sendVideo or sendAudio.
type MediaUpload struct {
	ChatID    int64
	Path      string
	ThumbPath string // optional, video only
	Caption   string

	Duration float64 // seconds, optional
	Width    int
	Height   int
}

// SendVideo uploads a video as a streamable message.
func (c *Client) SendVideo(ctx context.Context, up MediaUpload, progress ProgressFunc) error {
	fields := map[string]string{"supports_streaming": "true"}
	if up.Width > 0 && up.Height > 0 {
		fields["width"] = strconv.Itoa(up.Width)
		fields["height"] = strconv.Itoa(up.Height)
	}
	return c.sendFile(ctx, "sendVideo", "video", transcode.MIMEType(up.Path, false), up, fields, progress)
}

// SendAudio uploads an audio track. The MIME type follows the extension.
func (c *Client) SendAudio(ctx context.Context, up MediaUpload, progress ProgressFunc) error {
	up.ThumbPath = ""
	return c.sendFile(ctx, "sendAudio", "audio", transcode.MIMEType(up.Path, true), up, nil, progress)
}

// sendFile streams a multipart body through a pipe so the file is never
// held in memory. progress is driven by the bytes the HTTP client reads.
func (c *Client) sendFile(ctx context.Context, method, field, mimeType string, up MediaUpload, extra map[string]string, progress ProgressFunc) error {
	f, err := os.Open(up.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", up.Path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", up.Path, err)
	}

	fields := map[string]string{"chat_id": strconv.FormatInt(up.ChatID, 10)}
	if up.Caption != "" {
		fields["caption"] = up.Caption
	}
	if up.Duration > 0 {
		fields["duration"] = strconv.Itoa(int(up.Duration + 0.5))
	}
	for k, v := range extra {
		fields[k] = v
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	body := &countingReader{r: f, total: info.Size(), progress: progress}

	written := make(chan struct{})
	go func() {
		defer close(written)
		pw.CloseWithError(writeForm(mw, fields, field, filepath.Base(up.Path), mimeType, body, up.ThumbPath))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		<-written
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	err = c.do(req, method, nil)
	// Unblock the writer if the request ended before the body was consumed,
	// then wait for it so no progress callback fires after we return.
	_ = pr.CloseWithError(io.ErrClosedPipe)
	<-written
	return err
}

func writeForm(mw *multipart.Writer, fields map[string]string, field, name, mimeType string, body io.Reader, thumbPath string) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	if thumbPath != "" {
		if err := writeFilePart(mw, "thumbnail", filepath.Base(thumbPath), "image/jpeg", thumbPath); err != nil {
			return err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return mw.Close()
}

func writeFilePart(mw *multipart.Writer, field, name, mimeType, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// countingReader reports cumulative bytes read.
type countingReader struct {
	r        io.Reader
	total    int64
	read     atomic.Int64
	progress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.progress != nil {
		c.progress(c.read.Add(int64(n)), c.total)
	}
	return n, err
}
