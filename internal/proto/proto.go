package proto

import "time"

const (
	// ServiceTag scopes discovery to compatible instances. Peers advertising a
	// different tag never see each other.
	ServiceTag = "profile-share"

	// libp2p stream protocol ID used to admit a peer into the session
	InviteProtoID = "/profileshare/invite/1.0.0"

	// libp2p stream protocol ID carrying one encoded profile per stream
	ProfileProtoID = "/profileshare/profile/1.0.0"
)

// MdnsService returns the DNS-SD service name for a service tag.
func MdnsService(tag string) string {
	return "_" + tag + "._udp"
}

const MdnsDomain = "local"

const (
	TypeInvite = "invite"
	TypeReply  = "reply"
)

// InviteMsg is written by the browsing side right after the stream opens.
type InviteMsg struct {
	Type    string `json:"type"`    // invite
	Service string `json:"service"` // must equal ServiceTag
	Name    string `json:"name"`    // inviter display name
	TS      int64  `json:"ts"`
}

// InviteReply is written back by the advertising side.
type InviteReply struct {
	Type     string `json:"type"` // reply
	Accepted bool   `json:"accepted"`
	Name     string `json:"name,omitempty"` // invitee display name
	Reason   string `json:"reason,omitempty"`
}

// Ack is the single byte a receiver writes after accepting a reliable payload.
const Ack byte = 0x06

func NowMillis() int64 { return time.Now().UnixMilli() }
