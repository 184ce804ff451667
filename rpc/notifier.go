// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// notifyWriteTimeout bounds how long a client's writer goroutine waits
// on a single write before treating it as dead.
const notifyWriteTimeout = 2 * time.Second

// notifyQueueSize bounds how many undelivered notifications queue per
// client before Notify starts dropping to that client rather than
// blocking on it.
const notifyQueueSize = 16

// Notification is a one-way push message delivered to websocket
// subscribers, distinct from the request/response JSON-RPC calls
// Dispatch answers (spec.md §10 — gossip event fan-out exposed via
// getpeerinfo-adjacent push notifications).
type Notification struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// Notifier upgrades HTTP connections to websockets and fans out
// Notify() calls to every currently-connected client, with no
// subscription filter language. Each client has its own outbox and
// writer goroutine, the same per-peer queue/single-writer shape
// gossip.Adapter uses for its own wire connections — gorilla's
// websocket.Conn permits only one concurrent writer, so fanning a
// Notify call out across one goroutine per client (rather than one
// shared writer) would race two notifications against the same
// connection.
type Notifier struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// ServeHTTP upgrades the connection, registers it as a subscriber, and
// starts its writer goroutine, until it disconnects.
func (n *Notifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	outbox := make(chan []byte, notifyQueueSize)
	n.mu.Lock()
	n.clients[conn] = outbox
	n.mu.Unlock()

	go n.writeLoop(conn, outbox)
	go n.drainUntilClosed(conn)
}

// writeLoop is the sole writer for conn: it drains outbox and writes
// each message under its own deadline, until the channel is closed (by
// deregister) or a write fails.
func (n *Notifier) writeLoop(conn *websocket.Conn, outbox chan []byte) {
	for encoded := range outbox {
		conn.SetWriteDeadline(time.Now().Add(notifyWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
			n.deregister(conn)
			return
		}
	}
}

// drainUntilClosed discards inbound frames (this notifier is push-only)
// until the client disconnects, then deregisters it.
func (n *Notifier) drainUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			n.deregister(conn)
			return
		}
	}
}

// deregister removes conn's outbox (closing it, which stops writeLoop)
// and closes the connection. Safe to call more than once for the same
// conn: a second call finds no entry and does nothing.
func (n *Notifier) deregister(conn *websocket.Conn) {
	n.mu.Lock()
	outbox, ok := n.clients[conn]
	delete(n.clients, conn)
	n.mu.Unlock()

	if !ok {
		return
	}
	close(outbox)
	conn.Close()
}

// Notify pushes method/params to every connected client as a JSON text
// frame, via each client's own outbox and writer goroutine. A client
// whose outbox is already full (it isn't draining fast enough) has this
// notification dropped rather than blocking Notify — which runs on the
// node's sole gossip-event consumer goroutine, so blocking here would
// stall all block/forge ingestion on one slow subscriber.
func (n *Notifier) Notify(method string, params interface{}) {
	encoded, err := json.Marshal(Notification{Method: method, Params: params})
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, outbox := range n.clients {
		select {
		case outbox <- encoded:
		default:
			log.Warnf("rpc: notifier client outbox full, dropping %s notification", method)
		}
	}
}

// ClientCount returns the number of currently-subscribed clients.
func (n *Notifier) ClientCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}
