package rpc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
	"github.com/marmos91/mediarelay/pkg/rpc"
	"github.com/marmos91/mediarelay/pkg/rpc/rpctest"
)

func dial(t *testing.T, srv *rpctest.Server) rpc.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := srv.Dialer().Dial(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDialAuthenticates(t *testing.T) {
	t.Parallel()
	srv := rpctest.NewServer("secret")
	defer srv.Close()

	client := dial(t, srv)
	require.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, 1, srv.Sessions())
}

func TestDialRejectsBadToken(t *testing.T) {
	t.Parallel()
	srv := rpctest.NewServer("secret")
	defer srv.Close()

	d := &rpc.WSDialer{Endpoint: srv.URL(), Token: "wrong"}
	_, err := d.Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACCESS_TOKEN_INVALID")
}

func TestUploadAndSend(t *testing.T) {
	t.Parallel()
	srv := rpctest.NewServer("secret")
	defer srv.Close()
	client := dial(t, srv)
	ctx := context.Background()

	require.NoError(t, client.SaveBigFilePart(ctx, 77, 0, 2, []byte("hello ")))
	require.NoError(t, client.SaveBigFilePart(ctx, 77, 1, 2, []byte("world")))

	media := rpc.Media{
		Kind:     rpc.MediaVideo,
		File:     rpc.InputFile{ID: 77, Parts: 2, Name: "clip.mp4", Big: true},
		MimeType: "video/mp4",
		Duration: 12.5,
	}
	require.NoError(t, client.SendMedia(ctx, 1001, media))

	parts := srv.Parts(77)
	require.Len(t, parts, 2)
	assert.Equal(t, "hello world", string(parts[0])+string(parts[1]))

	sent := srv.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(1001), sent[0].ChatID)
	assert.Equal(t, 12.5, sent[0].Media.Duration)
}

func TestServerErrorsAreClassified(t *testing.T) {
	t.Parallel()
	srv := rpctest.NewServer("secret")
	defer srv.Close()
	client := dial(t, srv)

	srv.SetHook(func(req rpc.Request) (*rpc.ServerError, bool) {
		if req.Method == rpc.MethodSaveFilePart {
			return &rpc.ServerError{Code: rpc.CodeFlood, Message: "FLOOD_WAIT_42"}, false
		}
		if req.Method == rpc.MethodSendMedia {
			return &rpc.ServerError{Code: rpc.CodeBadRequest, Message: "MEDIA_INVALID"}, false
		}
		return nil, false
	})

	err := client.SaveFilePart(context.Background(), 1, 0, []byte("x"))
	wait, ok := relayerrors.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, wait)

	err = client.SendMedia(context.Background(), 1, rpc.Media{})
	assert.True(t, relayerrors.Is(err, relayerrors.ErrPermanentRejection))
}

func TestDroppedConnectionIsConnectionLoss(t *testing.T) {
	t.Parallel()
	srv := rpctest.NewServer("secret")
	defer srv.Close()
	client := dial(t, srv)

	srv.DropAll()

	// The first call may race the reader noticing the close; either way the
	// session ends up failed with a connection loss.
	require.Eventually(t, func() bool {
		err := client.Ping(context.Background())
		return relayerrors.IsConnectionLoss(err)
	}, 2*time.Second, 10*time.Millisecond)

	err := client.Ping(context.Background())
	assert.True(t, relayerrors.IsConnectionLoss(err))
}

func TestCallHonoursContext(t *testing.T) {
	t.Parallel()
	srv := rpctest.NewServer("secret")
	defer srv.Close()
	client := dial(t, srv)

	block := make(chan struct{})
	defer close(block)
	srv.SetHook(func(req rpc.Request) (*rpc.ServerError, bool) {
		if req.Method == rpc.MethodPing {
			<-block
		}
		return nil, false
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, client.Ping(ctx), context.DeadlineExceeded)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.True(t, relayerrors.IsConnectionLoss(rpc.Classify("x", &rpc.ServerError{Code: 401, Message: "AUTH_KEY_UNREGISTERED"})))
	assert.True(t, relayerrors.Is(rpc.Classify("x", &rpc.ServerError{Code: 500, Message: "RPC_CALL_FAIL"}), relayerrors.ErrTransientIO))
	assert.True(t, relayerrors.Is(rpc.Classify("x", &rpc.ServerError{Code: 400, Message: "PEER_ID_INVALID"}), relayerrors.ErrPermanentRejection))
	assert.True(t, relayerrors.IsRateLimited(rpc.Classify("x", &rpc.ServerError{Code: 420, Message: "FLOOD_WAIT_3"})))
}
