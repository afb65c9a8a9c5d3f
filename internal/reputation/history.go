// Package reputation persists per-peer connection history across
// restarts: when a NodeId was first and last seen, how often, and over
// which transport. The Peer Registry loads this once at start and
// records a connection every time a handshake succeeds, so a node
// restart doesn't lose a peer's track record.
package reputation

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/soundtime-fm/p2p/internal/wire"
)

// PeerRecord holds cross-restart interaction history for a single peer.
type PeerRecord struct {
	NodeID          wire.NodeId    `json:"node_id"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
	ConnectionCount int            `json:"connection_count"`
	AvgLatencyMs    float64        `json:"avg_latency_ms"`
	PathTypes       map[string]int `json:"path_types"` // "direct":12, "relay":3
}

// PeerHistory manages the on-disk peer interaction history file.
type PeerHistory struct {
	mu      sync.RWMutex
	path    string
	records map[wire.NodeId]*PeerRecord
}

// NewPeerHistory creates or loads a peer history from the given file
// path. A missing file is not an error: history starts empty, same as a
// brand-new node.
func NewPeerHistory(path string) *PeerHistory {
	h := &PeerHistory{
		path:    path,
		records: make(map[wire.NodeId]*PeerRecord),
	}
	_ = h.Load() // best-effort load
	return h
}

// RecordConnection updates connection count, last_seen, path type
// counts, and running average latency for a peer. latencyMs of 0 means
// "unknown" and is excluded from the running average.
func (h *PeerHistory) RecordConnection(id wire.NodeId, pathType string, latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.records[id]
	if !ok {
		r = &PeerRecord{
			NodeID:    id,
			FirstSeen: time.Now(),
			PathTypes: make(map[string]int),
		}
		h.records[id] = r
	}

	r.LastSeen = time.Now()
	r.ConnectionCount++

	if pathType != "" {
		r.PathTypes[pathType]++
	}

	// Running average: new_avg = old_avg + (value - old_avg) / count
	if latencyMs > 0 {
		r.AvgLatencyMs += (latencyMs - r.AvgLatencyMs) / float64(r.ConnectionCount)
	}
}

// Get returns a copy of the record for id, or false if this node has
// never recorded a connection to it.
func (h *PeerHistory) Get(id wire.NodeId) (PeerRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.records[id]
	if !ok {
		return PeerRecord{}, false
	}
	cp := *r
	cp.PathTypes = make(map[string]int, len(r.PathTypes))
	for k, v := range r.PathTypes {
		cp.PathTypes[k] = v
	}
	return cp, true
}

// Count returns the number of peers tracked.
func (h *PeerHistory) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Load reads the history file from disk, replacing in-memory state.
func (h *PeerHistory) Load() error {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reputation: read history: %w", err)
	}

	var records map[wire.NodeId]*PeerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("reputation: parse history: %w", err)
	}

	h.mu.Lock()
	h.records = records
	h.mu.Unlock()
	return nil
}

// Save writes the history file to disk atomically (temp file + rename),
// the same discipline internal/identity uses for the node's key file.
func (h *PeerHistory) Save() error {
	h.mu.RLock()
	data, err := json.MarshalIndent(h.records, "", "  ")
	h.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("reputation: marshal history: %w", err)
	}

	tmpPath := h.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("reputation: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, h.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("reputation: rename temp file: %w", err)
	}
	return nil
}
