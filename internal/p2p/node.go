package p2p

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

func init() {
	// Dial failures and backoff errors go to stderr by default and bury the
	// exchange log.
	_ = logging.SetLogLevel("swarm2", "error")
	_ = logging.SetLogLevel("mdns", "warn")
	_ = logging.SetLogLevel("autonat", "warn")
}

// SetLogLevel applies level to every libp2p subsystem logger. An empty level
// keeps the defaults set above.
func SetLogLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return err
	}
	logging.SetAllLoggers(lvl)
	return nil
}

// Node owns the libp2p host. Every session, advertiser and browser in the
// process shares it.
type Node struct {
	Host host.Host

	startTime time.Time
}

// loadOrCreateKey loads a persistent identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Printf("WARNING: corrupt identity key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}

// New starts a libp2p host listening on TCP and QUIC. Sessions are encrypted
// with the host's default security transports (Noise, TLS).
func New(ctx context.Context, listenPort int, keyFile string) (*Node, error) {
	priv, isNew, err := loadOrCreateKey(keyFile)
	if err != nil {
		return nil, err
	}
	if isNew {
		log.Printf("Generated new identity key: %s", keyFile)
	} else {
		log.Printf("Loaded identity key: %s", keyFile)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort),
			fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", listenPort),
		),
	)
	if err != nil {
		return nil, err
	}

	return &Node{Host: h, startTime: time.Now()}, nil
}

func (n *Node) Close() error {
	return n.Host.Close()
}

func (n *Node) ID() string {
	return n.Host.ID().String()
}

// LANAddrs returns the host's multiaddresses without loopback and link-local
// entries. These are the addresses worth announcing over mDNS.
func LANAddrs(h host.Host) []ma.Multiaddr {
	var out []ma.Multiaddr
	for _, a := range h.Addrs() {
		ip, err := manet.ToIP(a)
		if err != nil {
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			continue
		}
		out = append(out, a)
	}
	return out
}

// DiagSnapshot reports host addresses and live connections.
func (n *Node) DiagSnapshot() map[string]any {
	now := time.Now()

	var addrs []string
	for _, a := range n.Host.Addrs() {
		addrs = append(addrs, a.String())
	}

	var conns []map[string]any
	for _, pid := range n.Host.Network().Peers() {
		for _, c := range n.Host.Network().ConnsToPeer(pid) {
			conns = append(conns, map[string]any{
				"peer_id":   pid.String(),
				"addr":      c.RemoteMultiaddr().String(),
				"dir":       dirString(c.Stat().Direction),
				"age":       now.Sub(c.Stat().Opened).Truncate(time.Second).String(),
				"streams":   len(c.GetStreams()),
				"transport": c.ConnState().Transport,
				"security":  string(c.ConnState().Security),
			})
		}
	}

	hostname, _ := os.Hostname()
	return map[string]any{
		"peer_id":       n.ID(),
		"addrs":         addrs,
		"connections":   conns,
		"uptime":        now.Sub(n.startTime).Truncate(time.Second).String(),
		"hostname":      hostname,
		"os":            runtime.GOOS,
		"go_version":    runtime.Version(),
		"num_goroutine": runtime.NumGoroutine(),
	}
}

// dirString converts a network.Direction to a human-readable string.
func dirString(d network.Direction) string {
	switch d {
	case network.DirInbound:
		return "inbound"
	case network.DirOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}
