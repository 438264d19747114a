package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/petervdpas/profileshare/internal/proto"
	"github.com/petervdpas/profileshare/internal/state"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

const maxInviteBytes = 4 << 10

// ListenInvitations answers inbound invitations with handler until
// StopListening. Calling it again replaces the handler.
func (s *Session) ListenInvitations(handler InvitationHandler) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	first := s.onInvite == nil
	s.onInvite = handler
	s.mu.Unlock()

	if first {
		s.host.SetStreamHandler(protocol.ID(proto.InviteProtoID), s.handleInvite)
	}
}

// StopListening stops answering invitations. Admitted peers stay connected.
func (s *Session) StopListening() {
	s.mu.Lock()
	was := s.onInvite != nil
	s.onInvite = nil
	s.mu.Unlock()

	if was {
		s.host.RemoveStreamHandler(protocol.ID(proto.InviteProtoID))
	}
}

// Listening reports whether invitations are currently answered.
func (s *Session) Listening() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onInvite != nil
}

// Invite asks info.ID to join the session and blocks until it answers, the
// timeout passes or ctx is done. The outcome is only visible as peer state
// events.
func (s *Session) Invite(ctx context.Context, info peer.AddrInfo, timeout time.Duration) {
	if s.isClosed() || info.ID == s.host.ID() {
		return
	}
	if s.peers.State(info.ID.String()) == state.Connected {
		return
	}
	if !s.beginInvite(info.ID) {
		return
	}
	defer s.endInvite(info.ID)

	p := Peer{ID: info.ID}
	s.transition(p, state.Connecting)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, err := s.invite(ctx, info)
	if err != nil {
		log.Printf("SESSION: invite %s failed: %v", p, err)
		if s.peers.State(info.ID.String()) == state.Connecting {
			s.transition(p, state.NotConnected)
		}
		return
	}
	p.Name = name
	s.admit(p)
}

func (s *Session) invite(ctx context.Context, info peer.AddrInfo) (string, error) {
	if err := s.host.Connect(ctx, info); err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}

	st, err := s.host.NewStream(ctx, info.ID, protocol.ID(proto.InviteProtoID))
	if err != nil {
		return "", fmt.Errorf("open invite stream: %w", err)
	}
	defer st.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(dl)
	}

	msg := proto.InviteMsg{
		Type:    proto.TypeInvite,
		Service: s.opts.ServiceTag,
		Name:    s.opts.DisplayName,
		TS:      proto.NowMillis(),
	}
	if err := json.NewEncoder(st).Encode(msg); err != nil {
		_ = st.Reset()
		return "", fmt.Errorf("write invite: %w", err)
	}
	_ = st.CloseWrite()

	var reply proto.InviteReply
	if err := json.NewDecoder(bufio.NewReader(io.LimitReader(st, maxInviteBytes))).Decode(&reply); err != nil {
		_ = st.Reset()
		return "", fmt.Errorf("read reply: %w", err)
	}
	if reply.Type != proto.TypeReply {
		return "", fmt.Errorf("unexpected reply type %q", reply.Type)
	}
	if !reply.Accepted {
		if reply.Reason != "" {
			return "", fmt.Errorf("declined: %s", reply.Reason)
		}
		return "", fmt.Errorf("declined")
	}
	return reply.Name, nil
}

func (s *Session) handleInvite(st network.Stream) {
	defer st.Close()
	_ = st.SetDeadline(time.Now().Add(handshakeTimeout))

	remote := st.Conn().RemotePeer()

	var msg proto.InviteMsg
	if err := json.NewDecoder(bufio.NewReader(io.LimitReader(st, maxInviteBytes))).Decode(&msg); err != nil {
		log.Printf("SESSION: bad invite from %s: %v", Peer{ID: remote}, err)
		_ = st.Reset()
		return
	}
	from := Peer{ID: remote, Name: msg.Name}

	s.mu.RLock()
	handler := s.onInvite
	closed := s.closed
	s.mu.RUnlock()

	reply := proto.InviteReply{Type: proto.TypeReply, Name: s.opts.DisplayName}
	switch {
	case closed || handler == nil:
		reply.Reason = "not accepting invitations"
	case msg.Type != proto.TypeInvite:
		reply.Reason = "unexpected message"
	case msg.Service != s.opts.ServiceTag:
		reply.Reason = "unknown service"
	default:
		reply.Accepted = handler(from)
		if !reply.Accepted {
			reply.Reason = "declined"
		}
	}

	// Admit before replying so the inviter's first payload finds us ready.
	if reply.Accepted {
		s.admit(from)
	} else {
		log.Printf("SESSION: rejected invite from %s: %s", from, reply.Reason)
	}

	if err := json.NewEncoder(st).Encode(reply); err != nil {
		log.Printf("SESSION: write reply to %s: %v", from, err)
		_ = st.Reset()
	}
}
