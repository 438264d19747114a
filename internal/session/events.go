package session

import "github.com/petervdpas/profileshare/internal/state"

type EventKind int

const (
	PeerStateChanged EventKind = iota + 1
	PayloadReceived
	SendFailed
)

func (k EventKind) String() string {
	switch k {
	case PeerStateChanged:
		return "peer-state"
	case PayloadReceived:
		return "payload"
	case SendFailed:
		return "send-failed"
	default:
		return "unknown"
	}
}

// Event is one notification from the session. Which fields are set depends
// on Kind: State for PeerStateChanged, Data for PayloadReceived, Err for
// SendFailed.
type Event struct {
	Kind  EventKind
	Peer  Peer
	State state.PeerState
	Data  []byte
	Err   error
}
