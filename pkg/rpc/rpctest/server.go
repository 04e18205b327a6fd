// Package rpctest provides an in-process session server for tests.
package rpctest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/marmos91/mediarelay/pkg/rpc"
)

// Hook inspects a request before the server handles it. Returning a non-nil
// error sends it back instead; returning drop closes the connection without
// answering.
type Hook func(req rpc.Request) (fail *rpc.ServerError, drop bool)

// Server is a websocket session server that stores uploaded parts in memory.
type Server struct {
	*httptest.Server

	Token string

	mu       sync.Mutex
	hook     Hook
	parts    map[int64]map[int][]byte
	sent     []rpc.SendMediaParams
	calls    map[string]int
	conns    []*websocket.Conn
	sessions int
}

// NewServer starts a server accepting the given bot token.
func NewServer(token string) *Server {
	s := &Server{
		Token: token,
		parts: make(map[int64]map[int][]byte),
		calls: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the ws:// endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Dialer returns a dialer for this server using its token.
func (s *Server) Dialer() *rpc.WSDialer {
	return &rpc.WSDialer{Endpoint: s.URL(), Token: s.Token}
}

// SetHook installs h for subsequent requests.
func (s *Server) SetHook(h Hook) {
	s.mu.Lock()
	s.hook = h
	s.mu.Unlock()
}

// DropAll closes every open connection from the server side.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Parts returns the stored parts of fileID in part order.
func (s *Server) Parts(fileID int64) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	byIndex := s.parts[fileID]
	idx := make([]int, 0, len(byIndex))
	for i := range byIndex {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([][]byte, 0, len(idx))
	for _, i := range idx {
		out = append(out, byIndex[i])
	}
	return out
}

// Sent returns every delivered media message.
func (s *Server) Sent() []rpc.SendMediaParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rpc.SendMediaParams(nil), s.sent...)
}

// Calls returns how many times method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Sessions returns how many sessions authenticated successfully.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

var upgrader = websocket.Upgrader{}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	defer conn.Close()

	authed := false
	for {
		var req rpc.Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		s.mu.Lock()
		s.calls[req.Method]++
		hook := s.hook
		s.mu.Unlock()

		if hook != nil {
			fail, drop := hook(req)
			if drop {
				return
			}
			if fail != nil {
				_ = conn.WriteJSON(rpc.Response{ID: req.ID, Error: fail})
				continue
			}
		}

		resp := rpc.Response{ID: req.ID}
		switch {
		case req.Method == rpc.MethodAuth:
			var p rpc.AuthParams
			_ = json.Unmarshal(req.Params, &p)
			if p.Token != s.Token {
				resp.Error = &rpc.ServerError{Code: rpc.CodeUnauthorized, Message: "ACCESS_TOKEN_INVALID"}
			} else {
				authed = true
				s.mu.Lock()
				s.sessions++
				s.mu.Unlock()
			}
		case !authed:
			resp.Error = &rpc.ServerError{Code: rpc.CodeUnauthorized, Message: "AUTH_KEY_UNREGISTERED"}
		default:
			resp.Error = s.handle(req)
		}

		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) handle(req rpc.Request) *rpc.ServerError {
	switch req.Method {
	case rpc.MethodPing:
		return nil

	case rpc.MethodSaveFilePart, rpc.MethodSaveBigFilePart:
		var p rpc.FilePartParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return &rpc.ServerError{Code: rpc.CodeBadRequest, Message: "INPUT_INVALID"}
		}
		if p.Part < 0 || (p.TotalParts > 0 && p.Part >= p.TotalParts) {
			return &rpc.ServerError{Code: rpc.CodeBadRequest, Message: "FILE_PART_INVALID"}
		}
		s.mu.Lock()
		if s.parts[p.FileID] == nil {
			s.parts[p.FileID] = make(map[int][]byte)
		}
		s.parts[p.FileID][p.Part] = p.Bytes
		s.mu.Unlock()
		return nil

	case rpc.MethodSendMedia:
		var p rpc.SendMediaParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return &rpc.ServerError{Code: rpc.CodeBadRequest, Message: "INPUT_INVALID"}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if got := len(s.parts[p.Media.File.ID]); got != p.Media.File.Parts {
			return &rpc.ServerError{Code: rpc.CodeBadRequest, Message: "FILE_PARTS_INVALID"}
		}
		s.sent = append(s.sent, p)
		return nil

	default:
		return &rpc.ServerError{Code: rpc.CodeBadRequest, Message: "METHOD_INVALID"}
	}
}
