// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpc implements the JSON-RPC 2.0 dispatcher described in
// spec.md §4.6: a pure synchronous request-to-response call, with
// method handlers registered once at construction, plus the HTTP edge
// that feeds it and a websocket Notifier for one-way push notifications
// (spec.md §9 — "core handlers are
// themselves bounded... the dispatcher is a pure synchronous call").
package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
)

// JSON-RPC 2.0 error codes, exactly as spec.md §4.6/§7.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

// Request is a JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Response is a JSON-RPC 2.0 response object. Exactly one of Result or
// Error is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Handler answers one RPC method call. Returning an error causes
// Dispatch to wrap it as a -32603 Internal error with the message in
// data.error, unless the error is, or wraps, a *HandlerError (found via
// errors.As), whose Code and Message are used instead (handlers needing
// a specific code, e.g. -32602, return a *HandlerError).
type Handler func(params json.RawMessage) (interface{}, error)

// HandlerError lets a Handler specify an exact JSON-RPC error code
// instead of the default -32603.
type HandlerError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *HandlerError) Error() string { return e.Message }

// Server is the JSON-RPC dispatcher plus its HTTP edge (ServeHTTP). It
// does not accept requests over websockets; push notifications are
// served separately by Notifier.
type Server struct {
	handlers map[string]Handler
	upgrader websocket.Upgrader
}

// NewServer creates a Server with no registered methods.
func NewServer() *Server {
	return &Server{
		handlers: make(map[string]Handler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register binds method to handler. Intended to be called once per
// method at construction time, before the server starts serving
// requests (spec.md §4.6 — "method handlers are registered at
// construction").
func (s *Server) Register(method string, h Handler) {
	s.handlers[method] = h
}

// Dispatch decodes raw as a single JSON-RPC request, invokes the
// matching handler, and returns the encoded response. It never returns
// an error itself — every failure mode becomes a JSON-RPC error object
// in the returned bytes, matching spec.md §4.6's error code table.
func (s *Server) Dispatch(raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encodeError(nil, CodeParseError, "invalid JSON")
	}

	if req.JSONRPC != "2.0" {
		return encodeError(req.ID, CodeInvalidRequest, `"jsonrpc" must be "2.0"`)
	}
	if req.Method == "" {
		return encodeError(req.ID, CodeInvalidRequest, "missing method")
	}

	h, ok := s.handlers[req.Method]
	if !ok {
		return encodeError(req.ID, CodeMethodNotFound, "method not found: "+req.Method)
	}

	result, err := h(req.Params)
	if err != nil {
		var he *HandlerError
		if errors.As(err, &he) {
			return encodeError(req.ID, he.Code, he.Message)
		}
		resp := Response{
			JSONRPC: "2.0",
			Error: &Error{
				Code:    CodeInternal,
				Message: "internal error",
				Data:    map[string]string{"error": err.Error()},
			},
			ID: req.ID,
		}
		if encoded, encErr := json.Marshal(resp); encErr == nil {
			return encoded
		}
		return encodeError(req.ID, CodeInternal, err.Error())
	}

	resp := Response{JSONRPC: "2.0", Result: result, ID: req.ID}
	encoded, encErr := json.Marshal(resp)
	if encErr != nil {
		return encodeError(req.ID, CodeInternal, encErr.Error())
	}
	return encoded
}

func encodeError(id json.RawMessage, code int, message string) []byte {
	resp := Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		// json.Marshal of a Response literal cannot fail; this branch
		// exists only so the function has no unchecked error path.
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal"}}`)
	}
	return encoded
}

// ServeHTTP is the one I/O edge: it reads the request body, dispatches
// it, and writes the JSON-RPC response back as the HTTP body.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.Write(encodeError(nil, CodeParseError, "failed to read request body"))
		return
	}

	w.Write(s.Dispatch(body))
}
