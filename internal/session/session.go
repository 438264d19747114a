// Package session is the encrypted multi-peer channel profiles travel over.
//
// A remote peer becomes part of the session once the invitation handshake on
// proto.InviteProtoID succeeds, in either direction. From then on payloads can
// be sent to it until libp2p reports the connection gone. Every state change
// and every inbound payload is delivered, in order, on the Events channel.
package session

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/petervdpas/profileshare/internal/proto"
	"github.com/petervdpas/profileshare/internal/state"
	"github.com/petervdpas/profileshare/internal/util"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"golang.org/x/time/rate"
)

var (
	ErrClosed       = errors.New("session: closed")
	ErrTooLarge     = errors.New("session: payload exceeds message size limit")
	ErrEmptyPayload = errors.New("session: empty payload")
	ErrNotConnected = errors.New("session: peer not connected")
	ErrNoAck        = errors.New("session: no acknowledgement")
)

const (
	DefaultMaxMessageSize = 1 << 20
	DefaultInboundRate    = 10
	DefaultInboundBurst   = 20
	defaultEventBuffer    = 256
	handshakeTimeout      = 10 * time.Second
	forgetAfter           = 10 * time.Minute
)

// SendMode selects the delivery guarantee for Send.
type SendMode int

const (
	// Reliable waits for the receiver's acknowledgement before the send
	// counts as done. A missing ack is reported as SendFailed.
	Reliable SendMode = iota
	// Unreliable writes the payload and closes the stream.
	Unreliable
)

func (m SendMode) String() string {
	if m == Unreliable {
		return "unreliable"
	}
	return "reliable"
}

// Peer identifies a remote node: its libp2p id plus the display name it
// announced during the invitation.
type Peer struct {
	ID   peer.ID `json:"id"`
	Name string  `json:"name"`
}

func (p Peer) String() string {
	id := p.ID.String()
	if len(id) > 12 {
		id = id[len(id)-12:]
	}
	if p.Name == "" {
		return id
	}
	return p.Name + "/" + id
}

// InvitationHandler decides whether an inbound invitation is accepted.
type InvitationHandler func(from Peer) bool

type Options struct {
	DisplayName    string
	ServiceTag     string
	MaxMessageSize int
	SendTimeout    time.Duration
	InboundRate    float64
	InboundBurst   int
}

func (o *Options) setDefaults() {
	if o.ServiceTag == "" {
		o.ServiceTag = proto.ServiceTag
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = util.DefaultSendTimeout
	}
	if o.InboundRate <= 0 {
		o.InboundRate = DefaultInboundRate
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = DefaultInboundBurst
	}
}

type Session struct {
	host host.Host
	opts Options

	peers *state.PeerTable

	// emitMu keeps peer-table transitions and their events in the same order.
	emitMu sync.Mutex
	events chan Event
	done   chan struct{}

	mu        sync.RWMutex
	onInvite  InvitationHandler
	limiters  map[peer.ID]*rate.Limiter
	pending   map[peer.ID]chan struct{} // outbound invites awaiting a reply
	closed    bool
	closeOnce sync.Once

	notifiee *network.NotifyBundle
	inflight sync.WaitGroup
}

// New attaches a session to h and starts accepting profile payloads from
// admitted peers. Invitations are only answered after ListenInvitations.
func New(h host.Host, opts Options) *Session {
	opts.setDefaults()
	s := &Session{
		host:     h,
		opts:     opts,
		peers:    state.NewPeerTable(),
		events:   make(chan Event, defaultEventBuffer),
		done:     make(chan struct{}),
		limiters: make(map[peer.ID]*rate.Limiter),
		pending:  make(map[peer.ID]chan struct{}),
	}

	h.SetStreamHandler(protocol.ID(proto.ProfileProtoID), s.handlePayload)

	s.notifiee = &network.NotifyBundle{
		DisconnectedF: func(_ network.Network, c network.Conn) {
			go s.handleDisconnect(c.RemotePeer())
		},
	}
	h.Network().Notify(s.notifiee)

	log.Printf("SESSION: ready as %q (%s)", opts.DisplayName, h.ID())
	return s
}

// Events delivers state changes, payloads and send failures. The session has
// a single consumer; it must keep draining until Done is closed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once Close starts tearing the session down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) LocalPeer() Peer {
	return Peer{ID: s.host.ID(), Name: s.opts.DisplayName}
}

// ConnectedPeers returns admitted peers sorted by id.
func (s *Session) ConnectedPeers() []Peer {
	ids := s.peers.InState(state.Connected)
	sort.Strings(ids)
	out := make([]Peer, 0, len(ids))
	for _, id := range ids {
		pid, err := peer.Decode(id)
		if err != nil {
			continue
		}
		sp, _ := s.peers.Get(id)
		out = append(out, Peer{ID: pid, Name: sp.Name})
	}
	return out
}

// State returns the session state of pid.
func (s *Session) State(pid peer.ID) state.PeerState {
	return s.peers.State(pid.String())
}

func (s *Session) IsConnected(pid peer.ID) bool {
	return s.State(pid) == state.Connected
}

// Peers returns a copy of the peer table for diagnostics.
func (s *Session) Peers() map[string]state.SeenPeer {
	return s.peers.Snapshot()
}

// Close stops handlers, marks every connected peer not-connected and waits for
// in-flight sends. Established libp2p connections are left to the host.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.onInvite = nil
		s.mu.Unlock()

		s.host.RemoveStreamHandler(protocol.ID(proto.ProfileProtoID))
		s.host.RemoveStreamHandler(protocol.ID(proto.InviteProtoID))
		s.host.Network().StopNotify(s.notifiee)
		close(s.done)

		s.inflight.Wait()

		for _, p := range s.ConnectedPeers() {
			s.transition(p, state.NotConnected)
		}
		log.Printf("SESSION: closed")
	})
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// transition applies a state change and emits it when something changed.
func (s *Session) transition(p Peer, to state.PeerState) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	_, changed := s.peers.Transition(p.ID.String(), p.Name, to)
	if !changed {
		return false
	}
	if sp, ok := s.peers.Get(p.ID.String()); ok && p.Name == "" {
		p.Name = sp.Name
	}
	log.Printf("SESSION: peer %s changed state: %s", p, to)
	s.emitLocked(Event{Kind: PeerStateChanged, Peer: p, State: to})
	return true
}

func (s *Session) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.emitLocked(ev)
}

// emitLocked blocks while the consumer is behind. After Close it only
// delivers what fits in the buffer.
func (s *Session) emitLocked(ev Event) {
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// admit puts p into the session.
func (s *Session) admit(p Peer) {
	s.transition(p, state.Connected)
}

func (s *Session) handleDisconnect(pid peer.ID) {
	if s.host.Network().Connectedness(pid) == network.Connected {
		return
	}
	if s.peers.State(pid.String()) == state.NotConnected {
		return
	}
	s.mu.Lock()
	delete(s.limiters, pid)
	s.mu.Unlock()
	s.transition(Peer{ID: pid}, state.NotConnected)
	s.peers.PruneStale(time.Now().Add(-forgetAfter))
}

func (s *Session) limiter(pid peer.ID) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[pid]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.opts.InboundRate), s.opts.InboundBurst)
		s.limiters[pid] = l
	}
	return l
}

// beginInvite records an outbound invite to pid. It reports false when one
// is already outstanding.
func (s *Session) beginInvite(pid peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.pending[pid]; busy {
		return false
	}
	s.pending[pid] = make(chan struct{})
	return true
}

// endInvite releases payloads that arrived while the invite was outstanding.
func (s *Session) endInvite(pid peer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.pending[pid]; ok {
		close(ch)
		delete(s.pending, pid)
	}
}

// awaitMember reports whether pid is a member. The invitee admits us before
// its reply reaches us and may send right away, so a payload from a peer we
// are still inviting waits for that invite to settle.
func (s *Session) awaitMember(pid peer.ID, timeout time.Duration) bool {
	if s.peers.State(pid.String()) == state.Connected {
		return true
	}
	s.mu.RLock()
	ch, ok := s.pending[pid]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
	case <-s.done:
		return false
	case <-t.C:
		return false
	}
	return s.peers.State(pid.String()) == state.Connected
}

func (s *Session) peerName(pid peer.ID) string {
	sp, _ := s.peers.Get(pid.String())
	return sp.Name
}
