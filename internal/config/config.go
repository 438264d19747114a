package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/petervdpas/profileshare/internal/util"
)

const FileName = "profileshare.json"

type Config struct {
	Identity Identity `json:"identity"`
	P2P      P2P      `json:"p2p"`
	Profile  Profile  `json:"profile"`
	Exchange Exchange `json:"exchange"`
	Viewer   Viewer   `json:"viewer"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

type P2P struct {
	ListenPort int `json:"listen_port"`

	// Level for libp2p's own loggers (debug, info, warn, error).
	LogLevel string `json:"log_level"`
}

// Profile is the local profile as kept on disk. ID is generated once by
// Ensure and then never changes.
type Profile struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Bio       string   `json:"bio"`
	Interests []string `json:"interests"`

	// Photo file, relative to the peer directory.
	ImageFile string `json:"image_file"`
}

type Exchange struct {
	InviteTimeoutSec int     `json:"invite_timeout_seconds"`
	LostAfterSec     int     `json:"lost_after_seconds"`
	MaxImageKB       int     `json:"max_image_kb"`
	MaxMessageKB     int     `json:"max_message_kb"`
	InboundRate      float64 `json:"inbound_rate"`
	InboundBurst     int     `json:"inbound_burst"`

	// Start advertising and browsing as soon as the node is up.
	AutoStart bool `json:"auto_start"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
	Debug    bool   `json:"debug"`
}

func Default() Config {
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		name = "profileshare"
	}
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		P2P: P2P{
			ListenPort: 0,
			LogLevel:   "error",
		},
		Profile: Profile{
			Name:      name,
			Interests: []string{},
			ImageFile: "data/photo",
		},
		Exchange: Exchange{
			InviteTimeoutSec: 30,
			LostAfterSec:     60,
			MaxImageKB:       256,
			MaxMessageKB:     1024,
			InboundRate:      10,
			InboundBurst:     20,
			AutoStart:        false,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8080",
			Debug:    false,
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}

	// P2P
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	switch c.P2P.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("p2p.log_level %q is not one of debug, info, warn, error", c.P2P.LogLevel)
	}

	// Profile
	if c.Profile.ID != "" {
		if _, err := uuid.Parse(c.Profile.ID); err != nil {
			return fmt.Errorf("profile.id: %w", err)
		}
	}
	for i, in := range c.Profile.Interests {
		if strings.TrimSpace(in) == "" {
			return fmt.Errorf("profile.interests[%d] is empty", i)
		}
	}

	// Exchange
	if c.Exchange.InviteTimeoutSec < 1 || c.Exchange.InviteTimeoutSec > 300 {
		return errors.New("exchange.invite_timeout_seconds must be 1..300")
	}
	if c.Exchange.LostAfterSec < 5 {
		return errors.New("exchange.lost_after_seconds must be >= 5")
	}
	if c.Exchange.MaxImageKB < 1 {
		return errors.New("exchange.max_image_kb must be > 0")
	}
	if c.Exchange.MaxMessageKB < 1 || c.Exchange.MaxMessageKB > 64*1024 {
		return errors.New("exchange.max_message_kb must be 1..65536")
	}
	if c.Exchange.MaxImageKB >= c.Exchange.MaxMessageKB {
		return errors.New("exchange.max_image_kb must be < exchange.max_message_kb")
	}
	if c.Exchange.InboundRate <= 0 {
		return errors.New("exchange.inbound_rate must be > 0")
	}
	if c.Exchange.InboundBurst < 1 {
		return errors.New("exchange.inbound_burst must be > 0")
	}

	// Viewer
	if a := strings.TrimSpace(c.Viewer.HTTPAddr); a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Profile.Interests == nil {
		cfg.Profile.Interests = []string{}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// A missing profile id is generated and written back.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		if err != nil {
			return Config{}, false, err
		}
		if cfg.Profile.ID == "" {
			cfg.Profile.ID = uuid.NewString()
			if err := Save(path, cfg); err != nil {
				return Config{}, false, fmt.Errorf("save profile id: %w", err)
			}
		}
		return cfg, false, nil
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	cfg.Profile.ID = uuid.NewString()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
