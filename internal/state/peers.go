// Package state tracks per-peer session state.
package state

import (
	"sync"
	"time"
)

// PeerState is the session-level state of one remote peer.
type PeerState int

const (
	NotConnected PeerState = iota
	Connecting
	Connected
)

func (s PeerState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "not-connected"
	}
}

// MarshalText lets PeerState render as its name in JSON.
func (s PeerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type SeenPeer struct {
	Name      string    `json:"name"`
	State     PeerState `json:"state"`
	LastSeen  time.Time `json:"last_seen"`
	Connected time.Time `json:"connected,omitempty"`
}

// PeerTable holds the last known state of every peer the session has touched.
// Transitions are applied one at a time; callers learn whether one was real.
type PeerTable struct {
	mu    sync.Mutex
	peers map[string]SeenPeer
}

func NewPeerTable() *PeerTable {
	return &PeerTable{peers: map[string]SeenPeer{}}
}

// Transition moves a peer to state s. It returns the previous state and
// whether anything changed. A non-empty name replaces the stored one.
func (t *PeerTable) Transition(id, name string, s PeerState) (PeerState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sp, ok := t.peers[id]
	prev := NotConnected
	if ok {
		prev = sp.State
	}
	if name != "" {
		sp.Name = name
	}
	sp.LastSeen = time.Now()
	if ok && prev == s {
		t.peers[id] = sp
		return prev, false
	}
	if !ok && s == NotConnected {
		return prev, false
	}
	sp.State = s
	if s == Connected {
		sp.Connected = time.Now()
	} else {
		sp.Connected = time.Time{}
	}
	t.peers[id] = sp
	return prev, true
}

func (t *PeerTable) Get(id string) (SeenPeer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sp, ok := t.peers[id]
	return sp, ok
}

// State returns NotConnected for unknown peers.
func (t *PeerTable) State(id string) PeerState {
	sp, _ := t.Get(id)
	return sp.State
}

// InState returns the ids of every peer currently in state s.
func (t *PeerTable) InState(s PeerState) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.peers))
	for id, sp := range t.peers {
		if sp.State == s {
			ids = append(ids, id)
		}
	}
	return ids
}

func (t *PeerTable) Snapshot() map[string]SeenPeer {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(map[string]SeenPeer, len(t.peers))
	for k, v := range t.peers {
		cp[k] = v
	}
	return cp
}

// PruneStale forgets not-connected peers last touched before cutoff.
func (t *PeerTable) PruneStale(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, sp := range t.peers {
		if sp.State == NotConnected && sp.LastSeen.Before(cutoff) {
			delete(t.peers, id)
			n++
		}
	}
	return n
}
