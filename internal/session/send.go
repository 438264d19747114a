package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/petervdpas/profileshare/internal/proto"
	"github.com/petervdpas/profileshare/internal/state"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-msgio"
)

// Send queues payload for every peer in to and returns without waiting for
// the network. Per-peer failures arrive later as SendFailed events. An empty
// target list is a no-op.
func (s *Session) Send(payload []byte, to []Peer, mode SendMode) error {
	// Held across the dispatch so Close cannot start waiting between the
	// check and inflight.Add.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > s.opts.MaxMessageSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(payload), s.opts.MaxMessageSize)
	}
	if len(to) == 0 {
		return nil
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	// Failures are reported from the worker too, so Send never waits on the
	// event consumer.
	for _, p := range to {
		s.inflight.Add(1)
		go func(p Peer) {
			defer s.inflight.Done()
			if s.peers.State(p.ID.String()) != state.Connected {
				s.reportSendFailure(p, ErrNotConnected)
				return
			}
			if err := s.sendTo(p, data, mode); err != nil {
				s.reportSendFailure(p, err)
			}
		}(p)
	}
	return nil
}

func (s *Session) reportSendFailure(p Peer, err error) {
	log.Printf("SESSION: send to %s failed: %v", p, err)
	s.emit(Event{Kind: SendFailed, Peer: p, Err: err})
}

func (s *Session) sendTo(p Peer, data []byte, mode SendMode) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
	defer cancel()

	st, err := s.host.NewStream(network.WithNoDial(ctx, "session member"), p.ID, protocol.ID(proto.ProfileProtoID))
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	_ = st.SetDeadline(time.Now().Add(s.opts.SendTimeout))

	w := msgio.NewVarintWriter(st)
	if err := w.WriteMsg(data); err != nil {
		_ = st.Reset()
		return fmt.Errorf("write: %w", err)
	}

	if mode == Unreliable {
		return st.Close()
	}

	_ = st.CloseWrite()
	var ack [1]byte
	if _, err := io.ReadFull(st, ack[:]); err != nil {
		_ = st.Reset()
		return fmt.Errorf("%w: %v", ErrNoAck, err)
	}
	if ack[0] != proto.Ack {
		_ = st.Reset()
		return fmt.Errorf("%w: got 0x%02x", ErrNoAck, ack[0])
	}
	return st.Close()
}

func (s *Session) handlePayload(st network.Stream) {
	defer st.Close()
	_ = st.SetDeadline(time.Now().Add(s.opts.SendTimeout))

	remote := st.Conn().RemotePeer()

	if s.isClosed() {
		_ = st.Reset()
		return
	}
	if !s.awaitMember(remote, handshakeTimeout) {
		log.Printf("SESSION: dropping payload from non-member %s", Peer{ID: remote, Name: s.peerName(remote)})
		_ = st.Reset()
		return
	}
	from := Peer{ID: remote, Name: s.peerName(remote)}
	if !s.limiter(remote).Allow() {
		log.Printf("SESSION: rate limit exceeded for %s", from)
		_ = st.Reset()
		return
	}

	r := msgio.NewVarintReaderSize(st, s.opts.MaxMessageSize)
	msg, err := r.ReadMsg()
	if err != nil {
		log.Printf("SESSION: read payload from %s: %v", from, err)
		_ = st.Reset()
		return
	}
	data := make([]byte, len(msg))
	copy(data, msg)
	r.ReleaseMsg(msg)

	// Unreliable senders have already closed; the ack write just fails.
	_, _ = st.Write([]byte{proto.Ack})

	s.emit(Event{Kind: PayloadReceived, Peer: from, Data: data})
}
