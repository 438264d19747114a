package discovery

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/petervdpas/profileshare/internal/p2p"
	"github.com/petervdpas/profileshare/internal/proto"
	"github.com/petervdpas/profileshare/internal/session"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/zeroconf/v2"
	manet "github.com/multiformats/go-multiaddr/net"
)

var ErrNoLANAddrs = errors.New("discovery: no LAN addresses to announce")

// registerFunc publishes a DNS-SD record and returns its shutdown.
type registerFunc func(instance, service string, ips, txt []string) (func(), error)

func zeroconfRegister(instance, service string, ips, txt []string) (func(), error) {
	srv, err := zeroconf.RegisterProxy(instance, service, proto.MdnsDomain, announcedPort, instance, ips, txt, nil)
	if err != nil {
		return nil, err
	}
	return srv.Shutdown, nil
}

// Advertiser makes this node visible to browsers and accepts their
// invitations while running.
type Advertiser struct {
	h       host.Host
	sess    InvitationListener
	service string

	register registerFunc

	mu       sync.Mutex
	shutdown func()
}

func NewAdvertiser(h host.Host, sess InvitationListener, serviceTag string) *Advertiser {
	if serviceTag == "" {
		serviceTag = proto.ServiceTag
	}
	return &Advertiser{
		h:        h,
		sess:     sess,
		service:  proto.MdnsService(serviceTag),
		register: zeroconfRegister,
	}
}

// Start listens for invitations and registers the service. Calling it while
// running does nothing.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shutdown != nil {
		return nil
	}

	addrs := p2p.LANAddrs(a.h)
	if len(addrs) == 0 {
		return ErrNoLANAddrs
	}
	txt, err := BuildTXT(peer.AddrInfo{ID: a.h.ID(), Addrs: addrs})
	if err != nil {
		return fmt.Errorf("build txt: %w", err)
	}
	ips := make([]string, 0, len(addrs))
	seen := map[string]bool{}
	for _, addr := range addrs {
		ip, err := manet.ToIP(addr)
		if err != nil || seen[ip.String()] {
			continue
		}
		seen[ip.String()] = true
		ips = append(ips, ip.String())
	}

	a.sess.ListenInvitations(a.accept)

	instance := strings.ReplaceAll(uuid.NewString(), "-", "")
	shutdown, err := a.register(instance, a.service, ips, txt)
	if err != nil {
		a.sess.StopListening()
		return fmt.Errorf("register %s: %w", a.service, err)
	}
	a.shutdown = shutdown
	log.Printf("DISCOVERY: advertising %s as %s (%d addrs)", a.service, instance, len(txt))
	return nil
}

// Stop withdraws the service and stops answering invitations. Peers already
// in the session stay there.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shutdown == nil {
		return
	}
	a.shutdown()
	a.shutdown = nil
	a.sess.StopListening()
	log.Printf("DISCOVERY: stopped advertising")
}

func (a *Advertiser) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shutdown != nil
}

// accept admits every inviter.
func (a *Advertiser) accept(from session.Peer) bool {
	log.Printf("DISCOVERY: invitation from %s accepted", from)
	return true
}
