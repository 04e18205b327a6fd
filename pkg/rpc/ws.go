package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marmos91/mediarelay/internal/logger"
	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
)

// Method names understood by the session endpoint.
const (
	MethodAuth            = "auth.bot"
	MethodSaveFilePart    = "upload.saveFilePart"
	MethodSaveBigFilePart = "upload.saveBigFilePart"
	MethodSendMedia       = "messages.sendMedia"
	MethodPing            = "ping"
)

// Request is a frame sent to the server.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is a frame received from the server.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ServerError    `json:"error,omitempty"`
}

// AuthParams authenticates a bot session.
type AuthParams struct {
	Token string `json:"token"`
	AppID int    `json:"app_id,omitempty"`
	Hash  string `json:"app_hash,omitempty"`
}

// FilePartParams is the payload of both save-part methods.
type FilePartParams struct {
	FileID     int64  `json:"file_id"`
	Part       int    `json:"part"`
	TotalParts int    `json:"total_parts,omitempty"`
	Bytes      []byte `json:"bytes"`
}

// SendMediaParams is the payload of MethodSendMedia.
type SendMediaParams struct {
	ChatID int64 `json:"chat_id"`
	Media  Media `json:"media"`
}

// WSDialer opens sessions over a websocket.
type WSDialer struct {
	// Endpoint is the ws:// or wss:// URL of the session server.
	Endpoint string
	Token    string
	AppID    int
	AppHash  string

	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
}

// Dial connects and authenticates. The returned client owns a reader
// goroutine that lives until the connection drops or Close is called.
func (d *WSDialer) Dial(ctx context.Context) (Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 15 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, d.Endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, relayerrors.Wrap(relayerrors.ErrConnectionLoss, "dial", err)
	}

	c := newWSClient(conn, d.WriteTimeout)
	go c.readLoop()

	auth := AuthParams{Token: d.Token, AppID: d.AppID, Hash: d.AppHash}
	if err := c.call(ctx, MethodAuth, auth, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("authenticate session: %w", err)
	}

	logger.Debug("Session established", logger.KeyComponent, "rpc", "endpoint", d.Endpoint)
	return c, nil
}

// WSClient is a Client over one websocket connection. Requests are
// multiplexed by id; a single reader goroutine dispatches responses.
type WSClient struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	nextID       atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Response
	closed  chan struct{}
	failure error
}

func newWSClient(conn *websocket.Conn, writeTimeout time.Duration) *WSClient {
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	return &WSClient{
		conn:         conn,
		writeTimeout: writeTimeout,
		pending:      make(map[uint64]chan Response),
		closed:       make(chan struct{}),
	}
}

// SaveFilePart implements Client.
func (c *WSClient) SaveFilePart(ctx context.Context, fileID int64, part int, data []byte) error {
	return c.call(ctx, MethodSaveFilePart, FilePartParams{FileID: fileID, Part: part, Bytes: data}, nil)
}

// SaveBigFilePart implements Client.
func (c *WSClient) SaveBigFilePart(ctx context.Context, fileID int64, part, totalParts int, data []byte) error {
	return c.call(ctx, MethodSaveBigFilePart,
		FilePartParams{FileID: fileID, Part: part, TotalParts: totalParts, Bytes: data}, nil)
}

// SendMedia implements Client.
func (c *WSClient) SendMedia(ctx context.Context, chatID int64, media Media) error {
	return c.call(ctx, MethodSendMedia, SendMediaParams{ChatID: chatID, Media: media}, nil)
}

// Ping implements Client.
func (c *WSClient) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, nil)
}

// Close tears the connection down. Pending calls fail with a connection loss.
func (c *WSClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	c.fail(errors.New("session closed"))
	return err
}

// Err returns the failure that ended the session, or nil while it is usable.
func (c *WSClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

func (c *WSClient) call(ctx context.Context, method string, params, result any) error {
	if err := c.Err(); err != nil {
		return err
	}

	req := Request{ID: c.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = raw
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		c.fail(err)
		return relayerrors.Wrap(relayerrors.ErrConnectionLoss, method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return Classify(method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-c.closed:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WSClient) write(req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(req)
}

func (c *WSClient) readLoop() {
	for {
		var resp Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.fail(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if !ok {
			logger.Debug("Dropping response for unknown request", logger.KeyComponent, "rpc", "id", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

// fail marks the session dead once and wakes every pending caller.
func (c *WSClient) fail(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return
	}
	c.failure = relayerrors.Wrap(relayerrors.ErrConnectionLoss, "session", cause)
	close(c.closed)
}
