// Package avatar stores the local profile photo and renders a fallback for
// profiles without one.
package avatar

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrTooLarge    = errors.New("avatar: image too large")
	ErrUnsupported = errors.New("avatar: unsupported image type")
)

var allowedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Store manages the local photo file and provides hash-based cache invalidation.
type Store struct {
	mu       sync.RWMutex
	path     string
	maxBytes int
	hash     string // cached hash of current photo (empty = no photo)
}

// NewStore creates a store for the photo at path. It computes the initial
// hash if the file exists.
func NewStore(path string, maxBytes int) *Store {
	s := &Store{path: path, maxBytes: maxBytes}
	s.hash = s.computeHash()
	return s
}

// Hash returns the current photo hash (16 hex chars), or "" if no photo.
func (s *Store) Hash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hash
}

// Read returns the photo bytes, or nil if there is none.
func (s *Store) Read() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// Check validates data as a photo. maxBytes <= 0 means no size limit.
func Check(data []byte, maxBytes int) error {
	if maxBytes > 0 && len(data) > maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), maxBytes)
	}
	if !allowedTypes[ContentType(data)] {
		return ErrUnsupported
	}
	return nil
}

// Write validates and stores a new photo and updates the cached hash.
func (s *Store) Write(data []byte) error {
	if err := Check(data, s.maxBytes); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return err
	}
	s.hash = HashBytes(data)
	return nil
}

// Delete removes the photo file and clears the cached hash.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		err = nil
	}
	s.hash = ""
	return err
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) computeHash() string {
	data, err := os.ReadFile(s.path)
	if err != nil || len(data) == 0 {
		return ""
	}
	return HashBytes(data)
}

// HashBytes returns 16 hex chars identifying data. Used as an ETag.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ContentType sniffs an image's MIME type.
func ContentType(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// InitialsSVG generates a deterministic initials-based SVG avatar.
// label is the display name, seed keeps colors apart for equal names.
func InitialsSVG(label, seed string) []byte {
	initials := html.EscapeString(extractInitials(label))
	color := deterministicColor(label + seed)
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="256" height="256" viewBox="0 0 256 256">
  <rect width="256" height="256" rx="128" fill="%s"/>
  <text x="128" y="128" dy=".35em" text-anchor="middle"
        font-family="sans-serif" font-size="100" font-weight="600" fill="#fff">%s</text>
</svg>`, color, initials)
	return []byte(svg)
}

func extractInitials(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "?"
	}
	parts := strings.Fields(label)
	if len(parts) >= 2 {
		return strings.ToUpper(string([]rune(parts[0])[:1]) + string([]rune(parts[1])[:1]))
	}
	r := []rune(parts[0])
	if len(r) >= 2 {
		return strings.ToUpper(string(r[:2]))
	}
	return strings.ToUpper(string(r[:1]))
}

var palette = []string{
	"#e74c3c", "#e67e22", "#f1c40f", "#2ecc71", "#1abc9c",
	"#3498db", "#9b59b6", "#e91e63", "#00bcd4", "#ff5722",
	"#607d8b", "#795548", "#8bc34a", "#673ab7",
}

func deterministicColor(s string) string {
	h := sha256.Sum256([]byte(s))
	idx := int(h[0]) % len(palette)
	return palette[idx]
}
