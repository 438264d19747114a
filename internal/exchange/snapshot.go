package exchange

import (
	"github.com/petervdpas/profileshare/internal/profile"
	"github.com/petervdpas/profileshare/internal/session"
)

type SendOutcome int

const (
	// Skipped: the local profile has no name.
	Skipped SendOutcome = iota
	EncodeFailed
	// TransportFailed: the session refused the payload outright.
	TransportFailed
	Sent
)

func (o SendOutcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case EncodeFailed:
		return "encode-failed"
	case TransportFailed:
		return "transport-failed"
	case Sent:
		return "sent"
	default:
		return "unknown"
	}
}

// SendResult describes one send attempt. Recipients is the size of the
// connected set the payload was handed to.
type SendResult struct {
	Outcome    SendOutcome
	Recipients int
	Err        error
}

type ReceiveResult int

const (
	Accepted ReceiveResult = iota
	Duplicate
	Rejected
)

func (r ReceiveResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	default:
		return "rejected"
	}
}

// Stats counts exchange activity since start.
type Stats struct {
	Sends        uint64 `json:"sends"`
	SendFailures uint64 `json:"send_failures"`
	Received     uint64 `json:"received"`
	Duplicates   uint64 `json:"duplicates"`
	Rejected     uint64 `json:"rejected"`
}

// Snapshot is a consistent copy of everything observers can see. Version
// grows by one with every published change.
type Snapshot struct {
	Version        uint64
	Local          profile.Profile
	ConnectedPeers []session.Peer
	Received       []profile.Profile
	Advertising    bool
	Browsing       bool
	Stats          Stats
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	return Snapshot{
		Version:        c.version,
		Local:          c.local.Clone(),
		ConnectedPeers: append([]session.Peer(nil), c.connected...),
		Received:       cloneProfiles(c.received),
		Advertising:    c.advertising,
		Browsing:       c.browsing,
		Stats:          c.stats,
	}
}

// Subscribe returns a channel of snapshots, starting with the current one,
// and a function that ends the subscription. A subscriber that falls behind
// loses older snapshots; the newest is always kept.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Snapshot, 8)
	ch <- c.snapshotLocked()
	c.subs[id] = ch

	var once bool
	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if once {
			return
		}
		once = true
		delete(c.subs, id)
		close(ch)
	}
	return ch, cancel
}

func (c *Coordinator) publishLocked() {
	c.version++
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Full: drop the oldest and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
