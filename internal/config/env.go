package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides, applied on top of the file.
const (
	EnvHTTPAddr   = "PROFILESHARE_HTTP_ADDR"
	EnvListenPort = "PROFILESHARE_LISTEN_PORT"
	EnvName       = "PROFILESHARE_NAME"
	EnvLogLevel   = "PROFILESHARE_LOG"
)

// LoadDotEnv reads dir/.env into the process environment if it exists.
// Variables already set win over the file.
func LoadDotEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

// ApplyEnv overlays environment variables onto cfg and revalidates it.
// It reports the names of the variables that were applied.
func ApplyEnv(cfg *Config) ([]string, error) {
	var applied []string

	if v, ok := lookup(EnvHTTPAddr); ok {
		cfg.Viewer.HTTPAddr = v
		applied = append(applied, EnvHTTPAddr)
	}
	if v, ok := lookup(EnvListenPort); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return applied, fmt.Errorf("%s: %w", EnvListenPort, err)
		}
		cfg.P2P.ListenPort = n
		applied = append(applied, EnvListenPort)
	}
	if v, ok := lookup(EnvName); ok {
		cfg.Profile.Name = v
		applied = append(applied, EnvName)
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.P2P.LogLevel = strings.ToLower(v)
		applied = append(applied, EnvLogLevel)
	}

	return applied, cfg.Validate()
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
