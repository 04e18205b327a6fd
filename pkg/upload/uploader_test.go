package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
	"github.com/marmos91/mediarelay/pkg/rpc"
	"github.com/marmos91/mediarelay/pkg/rpc/rpctest"
)

// ============================================================================
// Fakes
// ============================================================================

type partCall struct {
	fileID int64
	part   int
	total  int
	size   int
	big    bool
}

// fakeClient records calls. failPart, when set, is consulted before each
// part is accepted.
type fakeClient struct {
	id       int
	mu       sync.Mutex
	parts    []partCall
	sent     []rpc.Media
	pings    int
	closed   bool
	failPart func(call partCall) error
	failSend func() error
	failPing func() error
}

func (c *fakeClient) save(call partCall) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPart != nil {
		if err := c.failPart(call); err != nil {
			return err
		}
	}
	c.parts = append(c.parts, call)
	return nil
}

func (c *fakeClient) SaveFilePart(_ context.Context, fileID int64, part int, data []byte) error {
	return c.save(partCall{fileID: fileID, part: part, size: len(data)})
}

func (c *fakeClient) SaveBigFilePart(_ context.Context, fileID int64, part, total int, data []byte) error {
	return c.save(partCall{fileID: fileID, part: part, total: total, size: len(data), big: true})
}

func (c *fakeClient) SendMedia(_ context.Context, _ int64, media rpc.Media) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend != nil {
		if err := c.failSend(); err != nil {
			return err
		}
	}
	c.sent = append(c.sent, media)
	return nil
}

func (c *fakeClient) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	if c.failPing != nil {
		return c.failPing()
	}
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// fakeDialer hands out clients built by configure, numbered from 0.
type fakeDialer struct {
	mu        sync.Mutex
	clients   []*fakeClient
	configure func(c *fakeClient)
}

func (d *fakeDialer) Dial(context.Context) (rpc.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeClient{id: len(d.clients)}
	if d.configure != nil {
		d.configure(c)
	}
	d.clients = append(d.clients, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func writeFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "media.mp4")
	data := bytes.Repeat([]byte{0xAB}, size)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func sequentialIDs(ids ...int64) func() int64 {
	var i atomic.Int32
	return func() int64 {
		n := int(i.Add(1)) - 1
		if n < len(ids) {
			return ids[n]
		}
		return int64(1000 + n)
	}
}

// ============================================================================
// Part splitting
// ============================================================================

func TestSinglePartFastPath(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	u := New(NewSessionHolder(dialer, nil), Config{}, nil)
	u.newFileID = sequentialIDs(5)

	file, err := u.UploadFile(context.Background(), writeFile(t, 1000), KindMedia, nil)
	require.NoError(t, err)

	assert.Equal(t, rpc.InputFile{ID: 5, Parts: 1, Name: "media.mp4", Big: false}, file)
	require.Len(t, dialer.clients[0].parts, 1)
	assert.False(t, dialer.clients[0].parts[0].big)
	assert.Equal(t, 1000, dialer.clients[0].parts[0].size)
}

func TestThumbnailPartSize(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	u := New(NewSessionHolder(dialer, nil), Config{}, nil)

	file, err := u.UploadFile(context.Background(), writeFile(t, 300*1024), KindThumbnail, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, file.Parts)
	parts := dialer.clients[0].parts
	require.Len(t, parts, 3)
	assert.Equal(t, 128*1024, parts[0].size)
	assert.Equal(t, 128*1024, parts[1].size)
	assert.Equal(t, 44*1024, parts[2].size)
}

func TestEmptyFileRejected(t *testing.T) {
	t.Parallel()
	u := New(NewSessionHolder(&fakeDialer{}, nil), Config{}, nil)

	_, err := u.UploadFile(context.Background(), writeFile(t, 0), KindMedia, nil)
	assert.True(t, relayerrors.Is(err, relayerrors.ErrPermanentRejection))
}

// ============================================================================
// Reconnect recovery
// ============================================================================

func TestConnectionLossAtPartSevenRestartsFromZero(t *testing.T) {
	t.Parallel()

	const size = 10 * 1024 * 1024
	dialer := &fakeDialer{configure: func(c *fakeClient) {
		if c.id == 0 {
			c.failPart = func(call partCall) error {
				if call.part == 7 {
					return io.EOF
				}
				return nil
			}
		}
	}}
	holder := NewSessionHolder(dialer, nil)
	u := New(holder, Config{}, nil)
	u.newFileID = sequentialIDs(111, 222)

	var progress []int64
	file, err := u.UploadFile(context.Background(), writeFile(t, size), KindMedia, func(done, total int64) {
		assert.Equal(t, int64(size), total)
		progress = append(progress, done)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, dialer.dials(), "exactly one reconnect")
	assert.Equal(t, uint64(2), holder.Generation())
	assert.True(t, dialer.clients[0].closed, "stale session is closed")

	first := dialer.clients[0].parts
	require.Len(t, first, 7)
	for i, p := range first {
		assert.Equal(t, int64(111), p.fileID)
		assert.Equal(t, i, p.part)
	}

	second := dialer.clients[1].parts
	require.Len(t, second, 20)
	for i, p := range second {
		assert.Equal(t, int64(222), p.fileID, "new upload token after reconnect")
		assert.Equal(t, i, p.part)
		assert.Equal(t, 20, p.total)
		assert.True(t, p.big)
	}

	assert.Equal(t, rpc.InputFile{ID: 222, Parts: 20, Name: "media.mp4", Big: true}, file)

	assert.IsNonDecreasing(t, progress)
	assert.Equal(t, int64(size), progress[len(progress)-1])
}

func TestReconnectBudgetIsBounded(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{configure: func(c *fakeClient) {
		c.failPart = func(partCall) error { return errors.New("connection reset by peer") }
	}}
	u := New(NewSessionHolder(dialer, nil), Config{MaxReconnects: 2}, nil)

	_, err := u.UploadFile(context.Background(), writeFile(t, 2*1024*1024), KindMedia, nil)
	require.Error(t, err)
	assert.True(t, relayerrors.IsConnectionLoss(err))
	assert.Equal(t, 3, dialer.dials(), "initial session plus two reconnects")
}

func TestRateLimitIsNotRecoveredByReconnect(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{configure: func(c *fakeClient) {
		c.failPart = func(call partCall) error {
			if call.part == 2 {
				return relayerrors.NewRateLimited("save_big_file_part", 42*time.Second, nil)
			}
			return nil
		}
	}}
	u := New(NewSessionHolder(dialer, nil), Config{}, nil)

	_, err := u.UploadFile(context.Background(), writeFile(t, 2*1024*1024), KindMedia, nil)
	wait, ok := relayerrors.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, wait)
	assert.Equal(t, 1, dialer.dials())
}

func TestConcurrentReconnectDialsOnce(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	holder := NewSessionHolder(dialer, nil)

	stale, err := holder.Current(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]rpc.Client, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := holder.Reconnect(context.Background(), stale)
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, dialer.dials())
	for _, c := range results {
		assert.Same(t, dialer.clients[1], c)
	}
}

func TestClosedHolder(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	holder := NewSessionHolder(dialer, nil)
	_, err := holder.Current(context.Background())
	require.NoError(t, err)

	require.NoError(t, holder.Close())
	assert.True(t, dialer.clients[0].closed)

	_, err = holder.Current(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

// ============================================================================
// Sending
// ============================================================================

func TestSendMediaDoesNotResendOnLoss(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{configure: func(c *fakeClient) {
		c.failSend = func() error { return relayerrors.New(relayerrors.ErrConnectionLoss, "send", "") }
	}}
	u := New(NewSessionHolder(dialer, nil), Config{}, nil)

	err := u.SendMedia(context.Background(), 9, rpc.Media{Kind: rpc.MediaVideo})
	assert.True(t, relayerrors.IsConnectionLoss(err))
	assert.Equal(t, 1, dialer.dials())
}

func TestDeliverUploadsAgainAfterLossDuringSend(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{configure: func(c *fakeClient) {
		if c.id == 0 {
			c.failSend = func() error { return relayerrors.New(relayerrors.ErrConnectionLoss, "send", "") }
		}
	}}
	u := New(NewSessionHolder(dialer, nil), Config{MediaPartSize: 1024}, nil)
	u.newFileID = sequentialIDs(111, 112, 221, 222)

	var progress []int64
	err := u.Deliver(context.Background(), Delivery{
		ChatID:    9,
		Path:      writeFile(t, 2048),
		ThumbPath: writeFile(t, 512),
		Media:     rpc.Media{Kind: rpc.MediaVideo, MimeType: "video/mp4"},
	}, func(done, _ int64) { progress = append(progress, done) })
	require.NoError(t, err)

	require.Equal(t, 2, dialer.dials())
	first, second := dialer.clients[0], dialer.clients[1]
	assert.Len(t, first.parts, 3)
	assert.Empty(t, first.sent)

	// The new session got its own parts under fresh ids.
	require.Len(t, second.parts, 3)
	assert.Equal(t, int64(221), second.parts[0].fileID)
	assert.Equal(t, int64(222), second.parts[2].fileID)
	require.Len(t, second.sent, 1)
	assert.Equal(t, int64(221), second.sent[0].File.ID)
	require.NotNil(t, second.sent[0].Thumb)
	assert.Equal(t, int64(222), second.sent[0].Thumb.ID)

	// Re-uploading does not move progress backwards.
	assert.Equal(t, []int64{1024, 2048}, progress)
}

func TestDeliverSendLossBudgetIsBounded(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{configure: func(c *fakeClient) {
		c.failSend = func() error { return relayerrors.New(relayerrors.ErrConnectionLoss, "send", "") }
	}}
	u := New(NewSessionHolder(dialer, nil), Config{MaxReconnects: 2}, nil)

	err := u.Deliver(context.Background(), Delivery{ChatID: 9, Path: writeFile(t, 100)}, nil)
	require.Error(t, err)
	assert.True(t, relayerrors.IsConnectionLoss(err))
	assert.Equal(t, 3, dialer.dials())
}

func TestDeliverToleratesThumbnailFailure(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{configure: func(c *fakeClient) {
		c.failPart = func(call partCall) error {
			if call.fileID == 2 {
				return relayerrors.New(relayerrors.ErrPermanentRejection, "save_file_part", "PHOTO_INVALID")
			}
			return nil
		}
	}}
	u := New(NewSessionHolder(dialer, nil), Config{}, nil)
	u.newFileID = sequentialIDs(1, 2)

	err := u.Deliver(context.Background(), Delivery{
		ChatID:    9,
		Path:      writeFile(t, 4096),
		ThumbPath: writeFile(t, 512),
		Media:     rpc.Media{Kind: rpc.MediaVideo, MimeType: "video/mp4"},
	}, nil)
	require.NoError(t, err)

	sent := dialer.clients[0].sent
	require.Len(t, sent, 1)
	assert.Nil(t, sent[0].Thumb)
	assert.Equal(t, int64(1), sent[0].File.ID)
}

// ============================================================================
// Keep-alive
// ============================================================================

func TestKeepAliveReconnectsOnFailedPing(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{configure: func(c *fakeClient) {
		if c.id == 0 {
			c.failPing = func() error { return io.ErrUnexpectedEOF }
		}
	}}
	holder := NewSessionHolder(dialer, nil)
	_, err := holder.Current(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		holder.KeepAlive(10*time.Millisecond, time.Second)(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return dialer.dials() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

// ============================================================================
// Over a real session transport
// ============================================================================

func TestUploadOverWebsocketSurvivesDrop(t *testing.T) {
	t.Parallel()
	srv := rpctest.NewServer("token")
	defer srv.Close()

	var dropped atomic.Bool
	srv.SetHook(func(req rpc.Request) (*rpc.ServerError, bool) {
		if req.Method != rpc.MethodSaveBigFilePart {
			return nil, false
		}
		var p rpc.FilePartParams
		_ = json.Unmarshal(req.Params, &p)
		if p.Part == 7 && dropped.CompareAndSwap(false, true) {
			return nil, true
		}
		return nil, false
	})

	holder := NewSessionHolder(srv.Dialer(), nil)
	defer holder.Close()
	u := New(holder, Config{PartTimeout: 5 * time.Second}, nil)
	u.newFileID = sequentialIDs(10, 20)

	path := writeFile(t, 10*1024*1024)
	err := u.Deliver(context.Background(), Delivery{
		ChatID: 3,
		Path:   path,
		Media:  rpc.Media{Kind: rpc.MediaDocument, MimeType: "video/mp4"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, srv.Sessions())
	assert.Len(t, srv.Parts(20), 20)
	sent := srv.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(20), sent[0].Media.File.ID)
}
