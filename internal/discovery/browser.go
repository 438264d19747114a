package discovery

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/petervdpas/profileshare/internal/proto"
	"github.com/petervdpas/profileshare/internal/util"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/zeroconf/v2"
)

const DefaultLostAfter = 60 * time.Second

// browseFunc streams service entries until ctx is done.
type browseFunc func(ctx context.Context, service string, entries chan<- *zeroconf.ServiceEntry) error

func zeroconfBrowse(ctx context.Context, service string, entries chan<- *zeroconf.ServiceEntry) error {
	return zeroconf.Browse(ctx, service, proto.MdnsDomain, entries)
}

type BrowserOptions struct {
	// InviteTimeout bounds each invitation. Zero means util.DefaultInviteTimeout.
	InviteTimeout time.Duration
	// LostAfter is how long a peer may go unannounced before it is dropped
	// from the found set. Zero means DefaultLostAfter.
	LostAfter time.Duration
}

type foundPeer struct {
	lastSeen    time.Time
	lastInvited time.Time
}

// Browser looks for advertisers and invites each newly found one into the
// session. A peer is invited again only after it was lost and found anew, or
// when the inviter reports it is not connected and the last invite is older
// than the invite timeout.
type Browser struct {
	h       host.Host
	inv     Inviter
	service string
	opts    BrowserOptions

	browse browseFunc
	now    func() time.Time

	mu      sync.Mutex
	found   map[peer.ID]*foundPeer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewBrowser(h host.Host, inv Inviter, serviceTag string, opts BrowserOptions) *Browser {
	if serviceTag == "" {
		serviceTag = proto.ServiceTag
	}
	if opts.InviteTimeout <= 0 {
		opts.InviteTimeout = util.DefaultInviteTimeout
	}
	if opts.LostAfter <= 0 {
		opts.LostAfter = DefaultLostAfter
	}
	return &Browser{
		h:       h,
		inv:     inv,
		service: proto.MdnsService(serviceTag),
		opts:    opts,
		browse:  zeroconfBrowse,
		now:     time.Now,
		found:   map[peer.ID]*foundPeer{},
	}
}

// Start begins browsing. Calling it while running does nothing.
func (b *Browser) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	entries := make(chan *zeroconf.ServiceEntry, 64)
	b.cancel = cancel
	b.running = true

	b.wg.Add(3)
	go func() {
		defer b.wg.Done()
		if err := b.browse(ctx, b.service, entries); err != nil && ctx.Err() == nil {
			log.Printf("DISCOVERY: browse %s: %v", b.service, err)
		}
	}()
	go func() {
		defer b.wg.Done()
		b.consume(ctx, entries)
	}()
	go func() {
		defer b.wg.Done()
		b.sweepLoop(ctx)
	}()

	log.Printf("DISCOVERY: browsing for %s", b.service)
	return nil
}

// Stop ends browsing and forgets every found peer. In-flight invitations run
// to completion and session peers are untouched.
func (b *Browser) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.cancel()
	b.cancel = nil
	b.found = map[peer.ID]*foundPeer{}
	b.mu.Unlock()

	b.wg.Wait()
	log.Printf("DISCOVERY: stopped browsing")
}

func (b *Browser) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Found returns the ids currently in the found set, sorted.
func (b *Browser) Found() []peer.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]peer.ID, 0, len(b.found))
	for id := range b.found {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *Browser) consume(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if e == nil {
				continue
			}
			for _, info := range ParseTXT(e.Text) {
				b.handleFound(info)
			}
		}
	}
}

func (b *Browser) handleFound(info peer.AddrInfo) {
	if info.ID == b.h.ID() {
		return
	}

	now := b.now()
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	fp, known := b.found[info.ID]
	if !known {
		fp = &foundPeer{}
		b.found[info.ID] = fp
	}
	fp.lastSeen = now
	invite := !known
	if known && !b.inv.IsConnected(info.ID) &&
		now.Sub(fp.lastInvited) >= b.opts.InviteTimeout {
		invite = true
	}
	if invite {
		fp.lastInvited = now
	}
	b.mu.Unlock()

	if !invite {
		return
	}
	if known {
		log.Printf("DISCOVERY: re-inviting %s", info.ID)
	} else {
		log.Printf("DISCOVERY: found peer %s", info.ID)
	}
	go b.inv.Invite(context.Background(), info, b.opts.InviteTimeout)
}

func (b *Browser) sweepLoop(ctx context.Context) {
	interval := b.opts.LostAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.sweep()
		}
	}
}

// sweep drops peers not announced within LostAfter. Lost peers are only
// logged; their session membership follows the transport.
func (b *Browser) sweep() []peer.ID {
	cutoff := b.now().Add(-b.opts.LostAfter)
	b.mu.Lock()
	var lost []peer.ID
	for id, fp := range b.found {
		if fp.lastSeen.Before(cutoff) {
			delete(b.found, id)
			lost = append(lost, id)
		}
	}
	b.mu.Unlock()

	for _, id := range lost {
		log.Printf("DISCOVERY: lost peer %s", id)
	}
	return lost
}
