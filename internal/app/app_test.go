package app

import (
	"path/filepath"
	"testing"

	"github.com/petervdpas/profileshare/internal/config"
	"github.com/petervdpas/profileshare/internal/exchange"
	"github.com/petervdpas/profileshare/internal/session"
)

func TestNormalizeLocalViewer(t *testing.T) {
	tests := []struct {
		in, addr, url string
	}{
		{":8080", "127.0.0.1:8080", "http://127.0.0.1:8080"},
		{"0.0.0.0:9000", "127.0.0.1:9000", "http://127.0.0.1:9000"},
		{" 127.0.0.1:7000 ", "127.0.0.1:7000", "http://127.0.0.1:7000"},
	}
	for _, tt := range tests {
		addr, url := NormalizeLocalViewer(tt.in)
		if addr != tt.addr || url != tt.url {
			t.Errorf("NormalizeLocalViewer(%q) = %q, %q", tt.in, addr, url)
		}
	}
}

func TestFromConfig(t *testing.T) {
	cp := config.Profile{ID: "6f1c7f4e-2f0a-4b7e-9a53-0c7f3e2d1a10", Name: "Alice", Bio: "hi", Interests: []string{"chess"}}
	p := fromConfig(cp, nil)
	if p.ID != cp.ID || p.Name != "Alice" || p.HasImage() {
		t.Fatalf("%+v", p)
	}
	cp.Interests[0] = "go"
	if p.Interests[0] != "chess" {
		t.Fatal("interests must be copied")
	}

	noID := fromConfig(config.Profile{Name: "Bob"}, []byte{1})
	if noID.ID == "" || !noID.HasImage() {
		t.Fatalf("%+v", noID)
	}
}

func TestDisplayNameFallsBack(t *testing.T) {
	cfg := config.Default()
	cfg.Profile.Name = "Alice"
	if displayName(cfg) != "Alice" {
		t.Fatal("configured name should win")
	}
	cfg.Profile.Name = ""
	if displayName(cfg) == "" {
		t.Fatal("fallback name is empty")
	}
}

type nopTransport struct{}

func (nopTransport) Send([]byte, []session.Peer, session.SendMode) error { return nil }
func (nopTransport) Events() <-chan session.Event                       { return nil }

type idleFacet struct{}

func (idleFacet) Start() error { return nil }
func (idleFacet) Stop()        {}

func TestProfileSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)
	cfg, _, err := config.Ensure(path)
	if err != nil {
		t.Fatal(err)
	}

	coord := exchange.New(nopTransport{}, idleFacet{}, idleFacet{}, fromConfig(cfg.Profile, nil))
	ps := newProfileSync(path, cfg, coord, nil)

	// An API edit is saved; reading it back must not re-apply it.
	edited := coord.LocalProfile()
	edited.Bio = "from the api"
	coord.UpdateProfile(edited)
	if err := ps.save(coord.LocalProfile()); err != nil {
		t.Fatalf("save: %v", err)
	}
	onDisk, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if onDisk.Profile.Bio != "from the api" {
		t.Fatalf("bio on disk %q", onDisk.Profile.Bio)
	}
	if ps.reload(onDisk) {
		t.Fatal("own write applied again")
	}

	// A hand edit of the file is applied, keeping the id.
	onDisk.Profile.Bio = "from the file"
	onDisk.Profile.Interests = []string{"go"}
	if !ps.reload(onDisk) {
		t.Fatal("file edit ignored")
	}
	local := coord.LocalProfile()
	if local.Bio != "from the file" || len(local.Interests) != 1 || local.ID != cfg.Profile.ID {
		t.Fatalf("local %+v", local)
	}
}
