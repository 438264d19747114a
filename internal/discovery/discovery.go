// Package discovery announces this node on the local network and finds
// other nodes announcing the same service tag.
//
// Both halves speak plain DNS-SD over multicast via zeroconf. A service
// entry's TXT records carry the node's multiaddrs as "dnsaddr=<addr>/p2p/<id>",
// the same layout libp2p's own mDNS discovery uses.
package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/petervdpas/profileshare/internal/session"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

const dnsaddrPrefix = "dnsaddr="

// mDNS advertises a port, but peers dial the multiaddrs from the TXT records.
const announcedPort = 4001

// InvitationListener is the part of the session the advertiser drives.
type InvitationListener interface {
	ListenInvitations(handler session.InvitationHandler)
	StopListening()
}

// Inviter is the part of the session the browser drives.
type Inviter interface {
	Invite(ctx context.Context, info peer.AddrInfo, timeout time.Duration)
	IsConnected(id peer.ID) bool
}

// ParseTXT extracts peer addresses from dnsaddr TXT records. Records with
// another prefix or a malformed address are skipped.
func ParseTXT(txt []string) []peer.AddrInfo {
	var addrs []ma.Multiaddr
	for _, rec := range txt {
		if !strings.HasPrefix(rec, dnsaddrPrefix) {
			continue
		}
		addr, err := ma.NewMultiaddr(rec[len(dnsaddrPrefix):])
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil
	}
	infos, err := peer.AddrInfosFromP2pAddrs(addrs...)
	if err != nil {
		return nil
	}
	return infos
}

// BuildTXT is the inverse of ParseTXT for one peer.
func BuildTXT(info peer.AddrInfo) ([]string, error) {
	p2pAddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil, err
	}
	txt := make([]string, 0, len(p2pAddrs))
	for _, a := range p2pAddrs {
		txt = append(txt, dnsaddrPrefix+a.String())
	}
	return txt, nil
}
