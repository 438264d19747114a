// Package exchange owns the local profile, the set of connected peers and the
// profiles received from them, and decides when the local profile is sent.
//
// Every state mutation goes through one mutex. Advertiser and browser toggles
// are serialized on a second one so a slow Stop never holds up state.
// Transport events, HTTP handlers and config reloads can call in from any
// goroutine; observers only ever see whole snapshots published from inside
// the locked section.
package exchange

import (
	"context"
	"log"
	"sync"

	"github.com/petervdpas/profileshare/internal/profile"
	"github.com/petervdpas/profileshare/internal/session"
	"github.com/petervdpas/profileshare/internal/state"
)

// Transport is the part of the session the coordinator needs.
type Transport interface {
	Send(payload []byte, to []session.Peer, mode session.SendMode) error
	Events() <-chan session.Event
}

// Facet is an advertiser or browser.
type Facet interface {
	Start() error
	Stop()
}

type Option func(*Coordinator)

// WithCodec sets the limits used to encode and decode profiles.
func WithCodec(c profile.Codec) Option {
	return func(co *Coordinator) { co.codec = c }
}

type Coordinator struct {
	t     Transport
	adv   Facet
	br    Facet
	codec profile.Codec

	// facetMu serializes advertiser and browser toggles. It is never taken
	// while mu is held.
	facetMu sync.Mutex

	mu          sync.Mutex
	local       profile.Profile
	connected   []session.Peer
	received    []profile.Profile
	receivedIdx map[string]int
	advertising bool
	browsing    bool
	stats       Stats
	version     uint64

	subs    map[int]chan Snapshot
	nextSub int
}

func New(t Transport, adv, br Facet, local profile.Profile, opts ...Option) *Coordinator {
	c := &Coordinator{
		t:           t,
		adv:         adv,
		br:          br,
		local:       local.Clone(),
		receivedIdx: map[string]int{},
		subs:        map[int]chan Snapshot{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run feeds transport events into the coordinator until ctx is done or the
// event channel closes.
func (c *Coordinator) Run(ctx context.Context) {
	events := c.t.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.dispatch(ev)
		}
	}
}

func (c *Coordinator) dispatch(ev session.Event) {
	switch ev.Kind {
	case session.PeerStateChanged:
		c.HandlePeerState(ev.Peer, ev.State)
	case session.PayloadReceived:
		c.HandlePayload(ev.Peer, ev.Data)
	case session.SendFailed:
		c.mu.Lock()
		c.stats.SendFailures++
		c.publishLocked()
		c.mu.Unlock()
	}
}

// ── Sharing ─────────────────────────────────────────────────────────────────

func (c *Coordinator) StartSharing() {
	on := true
	c.setFacets(&on, &on)
}

func (c *Coordinator) StopSharing() {
	off := false
	c.setFacets(&off, &off)
}

func (c *Coordinator) SetAdvertising(on bool) {
	c.setFacets(&on, nil)
}

func (c *Coordinator) SetBrowsing(on bool) {
	c.setFacets(nil, &on)
}

// setFacets moves the advertiser and browser towards adv and br; nil leaves a
// facet alone. Start and Stop run outside c.mu: a browser waits for its
// zeroconf goroutines on Stop, and events and reads must keep flowing
// meanwhile. facetMu keeps toggles from interleaving.
func (c *Coordinator) setFacets(adv, br *bool) {
	c.facetMu.Lock()
	defer c.facetMu.Unlock()

	c.mu.Lock()
	advOn, brOn := c.advertising, c.browsing
	c.mu.Unlock()

	changed := false
	if adv != nil && toggleFacet("advertising", c.adv, &advOn, *adv) {
		changed = true
	}
	if br != nil && toggleFacet("browsing", c.br, &brOn, *br) {
		changed = true
	}
	if !changed {
		return
	}

	c.mu.Lock()
	c.advertising, c.browsing = advOn, brOn
	c.publishLocked()
	c.mu.Unlock()
}

// toggleFacet starts or stops f and reports whether flag changed. A facet
// that fails to start leaves its flag false.
func toggleFacet(name string, f Facet, flag *bool, on bool) bool {
	if *flag == on {
		return false
	}
	if !on {
		f.Stop()
		*flag = false
		log.Printf("EXCHANGE: %s off", name)
		return true
	}
	if err := f.Start(); err != nil {
		log.Printf("EXCHANGE: %s failed to start: %v", name, err)
		return false
	}
	*flag = true
	log.Printf("EXCHANGE: %s on", name)
	return true
}

// ── Local profile ───────────────────────────────────────────────────────────

// UpdateProfile replaces the local profile and broadcasts it. Each call is
// exactly one send attempt.
func (c *Coordinator) UpdateProfile(p profile.Profile) SendResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = p.Clone()
	c.publishLocked()
	return c.sendLocked()
}

// EditProfile applies edit to a copy of the local profile and submits the
// result through UpdateProfile. The id is kept whatever edit does to it.
func (c *Coordinator) EditProfile(edit func(p *profile.Profile)) SendResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.local.Clone()
	edit(&next)
	next.ID = c.local.ID
	c.local = next
	c.publishLocked()
	return c.sendLocked()
}

// SendProfile sends the local profile to every connected peer.
func (c *Coordinator) SendProfile() SendResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked()
}

func (c *Coordinator) sendLocked() SendResult {
	if !c.local.Sendable() {
		log.Printf("EXCHANGE: local profile has no name, not sending")
		return SendResult{Outcome: Skipped}
	}
	payload, err := c.codec.Encode(c.local)
	if err != nil {
		log.Printf("EXCHANGE: encode local profile: %v", err)
		return SendResult{Outcome: EncodeFailed, Err: err}
	}
	to := append([]session.Peer(nil), c.connected...)
	if err := c.t.Send(payload, to, session.Reliable); err != nil {
		log.Printf("EXCHANGE: send profile: %v", err)
		c.stats.SendFailures += uint64(len(to))
		return SendResult{Outcome: TransportFailed, Err: err}
	}
	c.stats.Sends++
	if len(to) > 0 {
		log.Printf("EXCHANGE: sent %s to %d peer(s) (%d bytes)", c.local, len(to), len(payload))
	}
	return SendResult{Outcome: Sent, Recipients: len(to)}
}

// ── Transport events ────────────────────────────────────────────────────────

// HandlePeerState tracks connected peers. A newly connected peer gets the
// current profile right away.
func (c *Coordinator) HandlePeerState(p session.Peer, s state.PeerState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch s {
	case state.Connected:
		if c.connectedIndexLocked(p) >= 0 {
			return
		}
		c.connected = append(c.connected, p)
		log.Printf("EXCHANGE: peer %s connected (%d total)", p, len(c.connected))
		c.publishLocked()
		c.sendLocked()
	case state.NotConnected:
		i := c.connectedIndexLocked(p)
		if i < 0 {
			return
		}
		c.connected = append(c.connected[:i], c.connected[i+1:]...)
		log.Printf("EXCHANGE: peer %s disconnected (%d left)", p, len(c.connected))
		c.publishLocked()
	case state.Connecting:
	}
}

func (c *Coordinator) connectedIndexLocked(p session.Peer) int {
	for i, cp := range c.connected {
		if cp.ID == p.ID {
			return i
		}
	}
	return -1
}

// HandlePayload decodes an inbound profile and keeps it unless one with the
// same id was received before.
func (c *Coordinator) HandlePayload(from session.Peer, data []byte) ReceiveResult {
	p, err := c.codec.Decode(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.stats.Rejected++
		log.Printf("EXCHANGE: discarding payload from %s: %v", from, err)
		return Rejected
	}
	if _, dup := c.receivedIdx[p.ID]; dup {
		c.stats.Duplicates++
		log.Printf("EXCHANGE: duplicate profile %s from %s", p, from)
		return Duplicate
	}
	c.receivedIdx[p.ID] = len(c.received)
	c.received = append(c.received, p)
	c.stats.Received++
	log.Printf("EXCHANGE: received profile %s from %s", p, from)
	c.publishLocked()
	return Accepted
}

// ── Reads ───────────────────────────────────────────────────────────────────

func (c *Coordinator) LocalProfile() profile.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local.Clone()
}

func (c *Coordinator) ConnectedPeers() []session.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.Peer(nil), c.connected...)
}

// ReceivedProfiles returns received profiles in arrival order.
func (c *Coordinator) ReceivedProfiles() []profile.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneProfiles(c.received)
}

func (c *Coordinator) Received(id string) (profile.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.receivedIdx[id]
	if !ok {
		return profile.Profile{}, false
	}
	return c.received[i].Clone(), true
}

func (c *Coordinator) Advertising() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advertising
}

func (c *Coordinator) Browsing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.browsing
}

func cloneProfiles(in []profile.Profile) []profile.Profile {
	out := make([]profile.Profile, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}
