package app

import (
	"log"
	"slices"
	"sync"

	"github.com/petervdpas/profileshare/internal/avatar"
	"github.com/petervdpas/profileshare/internal/config"
	"github.com/petervdpas/profileshare/internal/exchange"
	"github.com/petervdpas/profileshare/internal/profile"
)

// fromConfig builds the local profile from its config section and photo.
func fromConfig(cp config.Profile, image []byte) profile.Profile {
	p := profile.Profile{
		ID:        cp.ID,
		Name:      cp.Name,
		Bio:       cp.Bio,
		Interests: slices.Clone(cp.Interests),
	}
	if len(image) > 0 {
		p.ImageData = image
	}
	if p.ID == "" {
		p = profile.New(p.Name, p.Bio, p.Interests...)
		p.ImageData = image
	}
	return p
}

func sameSection(a, b config.Profile) bool {
	return a.Name == b.Name && a.Bio == b.Bio && slices.Equal(a.Interests, b.Interests)
}

// profileSync keeps the config file and the coordinator's local profile in
// step. Edits made through the API are written to the file; edits made to the
// file are fed back through the coordinator. last is what either side saw
// most recently, so our own writes are not applied a second time.
type profileSync struct {
	mu      sync.Mutex
	cfgPath string
	coord   *exchange.Coordinator
	photo   *avatar.Store
	last    config.Profile
}

func newProfileSync(cfgPath string, cfg config.Config, coord *exchange.Coordinator, photo *avatar.Store) *profileSync {
	return &profileSync{cfgPath: cfgPath, coord: coord, photo: photo, last: cfg.Profile}
}

// save writes the text fields of p into the config file.
func (s *profileSync) save(p profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := config.Load(s.cfgPath)
	if err != nil {
		return err
	}
	cfg.Profile.Name = p.Name
	cfg.Profile.Bio = p.Bio
	cfg.Profile.Interests = slices.Clone(p.Interests)
	if cfg.Profile.Interests == nil {
		cfg.Profile.Interests = []string{}
	}
	if err := config.Save(s.cfgPath, cfg); err != nil {
		return err
	}
	s.last = cfg.Profile
	return nil
}

// reload applies a changed profile section from the file. It reports whether
// the coordinator was updated.
func (s *profileSync) reload(cfg config.Config) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := config.ApplyEnv(&cfg); err != nil {
		log.Printf("CONFIG: env override: %v", err)
	}
	if sameSection(cfg.Profile, s.last) {
		return false
	}
	s.last = cfg.Profile

	var image []byte
	if s.photo != nil {
		img, err := s.photo.Read()
		if err != nil {
			log.Printf("CONFIG: read photo: %v", err)
		}
		image = img
	}
	next := cfg.Profile
	res := s.coord.EditProfile(func(p *profile.Profile) {
		p.Name = next.Name
		p.Bio = next.Bio
		p.Interests = slices.Clone(next.Interests)
		p.ImageData = image
	})
	log.Printf("CONFIG: profile reloaded (send: %s, %d recipients)", res.Outcome, res.Recipients)
	return true
}
