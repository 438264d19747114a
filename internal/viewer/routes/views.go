package routes

import (
	"github.com/petervdpas/profileshare/internal/exchange"
	"github.com/petervdpas/profileshare/internal/profile"
	"github.com/petervdpas/profileshare/internal/session"
)

// Views leave image bytes out; images are fetched by URL.

type peerView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type profileView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Bio       string   `json:"bio"`
	Interests []string `json:"interests"`
	HasImage  bool     `json:"has_image"`
	ImageURL  string   `json:"image_url"`
}

type stateView struct {
	Version        uint64         `json:"version"`
	Local          profileView    `json:"local"`
	ConnectedPeers []peerView     `json:"connected_peers"`
	Received       []profileView  `json:"received"`
	Advertising    bool           `json:"advertising"`
	Browsing       bool           `json:"browsing"`
	Stats          exchange.Stats `json:"stats"`
}

func newPeerView(p session.Peer) peerView {
	return peerView{ID: p.ID.String(), Name: p.Name}
}

func newProfileView(p profile.Profile, imageURL string) profileView {
	interests := p.Interests
	if interests == nil {
		interests = []string{}
	}
	return profileView{
		ID:        p.ID,
		Name:      p.Name,
		Bio:       p.Bio,
		Interests: interests,
		HasImage:  p.HasImage(),
		ImageURL:  imageURL,
	}
}

func receivedImageURL(id string) string {
	return "/api/profiles/" + id + "/image"
}

func newStateView(s exchange.Snapshot) stateView {
	v := stateView{
		Version:        s.Version,
		Local:          newProfileView(s.Local, "/api/profile/image"),
		ConnectedPeers: make([]peerView, 0, len(s.ConnectedPeers)),
		Received:       make([]profileView, 0, len(s.Received)),
		Advertising:    s.Advertising,
		Browsing:       s.Browsing,
		Stats:          s.Stats,
	}
	for _, p := range s.ConnectedPeers {
		v.ConnectedPeers = append(v.ConnectedPeers, newPeerView(p))
	}
	for _, p := range s.Received {
		v.Received = append(v.Received, newProfileView(p, receivedImageURL(p.ID)))
	}
	return v
}
