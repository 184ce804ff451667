// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sort"

	"github.com/excalibur-exs/excd/chaincfg"
	"github.com/excalibur-exs/excd/consensus"
	"github.com/excalibur-exs/excd/gossip"
	"github.com/excalibur-exs/excd/mempool"
	"github.com/excalibur-exs/excd/rpc"
	"github.com/excalibur-exs/excd/store"
)

// maxMempoolSize bounds the number of pending forges a node holds
// in memory at once.
const maxMempoolSize = 10_000

// Node wires together the five core components described in spec.md
// §2's data flow: client -> RPC -> mempool -> gossip -> ... -> chain
// store commits -> mempool evicts -> gossip block. It is not itself
// part of spec.md's component list; it exists to glue the others
// together for the `start` subcommand (SPEC_FULL.md §10).
type Node struct {
	net *chaincfg.Params

	store    *store.Store
	pool     *mempool.ForgePool
	engine   *consensus.Engine
	adapter  gossip.Adapter
	rpc      *rpc.Server
	notifier *rpc.Notifier
	httpSrv  *http.Server
}

// NewNode constructs a Node rooted at dataDir, listening for gossip
// peers on listeners and for RPC over addr.
func NewNode(netParams *chaincfg.Params, dataDir string, rpcAddr string, listeners []net.Listener) (*Node, error) {
	st, err := store.Open(filepath.Join(dataDir, "chain"))
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	engine := consensus.NewEngine(netParams)
	if err := loadChainState(engine, st); err != nil {
		return nil, fmt.Errorf("node: restore chain state: %w", err)
	}
	pool := mempool.New(maxMempoolSize, 0)

	adapter, err := gossip.New(defaultDial, listeners)
	if err != nil {
		return nil, fmt.Errorf("node: create gossip adapter: %w", err)
	}

	rpcServer := rpc.NewServer()
	rpc.RegisterHandlers(rpcServer, &rpc.Services{
		Engine:  engine,
		Pool:    pool,
		Store:   st,
		Adapter: adapter,
		Net:     netParams,
	})

	notifier := rpc.NewNotifier()

	mux := http.NewServeMux()
	mux.Handle("/", rpcServer)
	mux.Handle("/ws", notifier)

	return &Node{
		net:      netParams,
		store:    st,
		pool:     pool,
		engine:   engine,
		adapter:  adapter,
		rpc:      rpcServer,
		notifier: notifier,
		httpSrv:  &http.Server{Addr: rpcAddr, Handler: mux},
	}, nil
}

// loadChainState replays every block persisted in st into engine, in
// ascending height order, so a restarted node rejoins the network at its
// last-known chain tip instead of genesis (store.IterBlocks walks its
// keyspace in byte order, not numeric order, per its own little-endian
// height-key layout, so the entries are re-sorted here before replay).
func loadChainState(engine *consensus.Engine, st *store.Store) error {
	entries, err := st.IterBlocks()
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Height < entries[j].Height })

	for _, e := range entries {
		if err := engine.ApplyBlock(e.Block); err != nil {
			return fmt.Errorf("replay block at height %d: %w", e.Height, err)
		}
	}
	if len(entries) > 0 {
		log.Infof("restored chain state: height=%d forges=%d", engine.Height(), engine.TotalForges())
	}
	return nil
}

// defaultDial is the gossip adapter's outbound dialer.
func defaultDial(addr net.Addr) (net.Conn, error) {
	return net.Dial(addr.Network(), addr.String())
}

// Run starts every component and blocks serving RPC until the HTTP
// server stops, returning its error (main's signal handling calls
// Shutdown, which closes it; spec.md §6 — no suspension points inside
// any lock, all suspension lives at this I/O edge).
func (n *Node) Run() error {
	if err := n.adapter.Start(); err != nil {
		return fmt.Errorf("node: start gossip adapter: %w", err)
	}
	log.Infof("node started: network=%s height=%d difficulty=%d",
		n.net.Name, n.engine.Height(), n.engine.Difficulty())

	go n.consumeGossipEvents()

	return n.httpSrv.ListenAndServe()
}

// Shutdown stops every component in reverse dependency order.
func (n *Node) Shutdown() {
	n.adapter.Stop()
	_ = n.httpSrv.Close()
	if err := n.store.Close(); err != nil {
		log.Errorf("error closing store: %v", err)
	}
}

// consumeGossipEvents drains inbound gossip notifications: received
// blocks are applied to the chain store and evict their forges from the
// mempool; received forges are admitted to the mempool (spec.md §2 data
// flow).
func (n *Node) consumeGossipEvents() {
	for evt := range n.adapter.Events() {
		switch evt.Kind {
		case gossip.ForgeReceived:
			n.handleReceivedForge(evt.Bytes)
		case gossip.BlockReceived:
			n.handleReceivedBlock(evt.Bytes)
		case gossip.PeerConnected:
			n.notifier.Notify("peerconnected", evt.Peer)
		case gossip.PeerDisconnected:
			n.notifier.Notify("peerdisconnected", evt.Peer)
		}
	}
}
