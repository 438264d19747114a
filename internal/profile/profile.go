// Package profile holds the record nearby peers exchange and its wire codec.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// ErrInvalid is returned for profiles that cannot be sent or accepted.
var ErrInvalid = errors.New("profile: invalid")

// Profile is the unit of exchange. ID is assigned once by New and identifies
// the logical profile; two values with the same ID are the same profile.
type Profile struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Bio       string   `json:"bio"`
	Interests []string `json:"interests"`
	ImageData []byte   `json:"imageData,omitempty"`
}

// New creates a profile with a fresh identifier.
func New(name, bio string, interests ...string) Profile {
	return Profile{
		ID:        uuid.NewString(),
		Name:      name,
		Bio:       bio,
		Interests: slices.Clone(interests),
	}
}

// HasImage reports whether a photo is attached.
func (p Profile) HasImage() bool {
	return len(p.ImageData) > 0
}

// Sendable reports whether the profile passes the outbound precondition.
func (p Profile) Sendable() bool {
	return p.Name != ""
}

// Clone returns a deep copy so callers never share interests or image bytes.
func (p Profile) Clone() Profile {
	c := p
	c.Interests = slices.Clone(p.Interests)
	if p.ImageData != nil {
		c.ImageData = bytes.Clone(p.ImageData)
	}
	return c
}

// Equal compares every field. Nil and empty slices are equal.
func (p Profile) Equal(o Profile) bool {
	if p.ID != o.ID || p.Name != o.Name || p.Bio != o.Bio {
		return false
	}
	if len(p.Interests) != len(o.Interests) {
		return false
	}
	for i := range p.Interests {
		if p.Interests[i] != o.Interests[i] {
			return false
		}
	}
	return bytes.Equal(p.ImageData, o.ImageData)
}

// Validate checks the identifier and the image bound. maxImage <= 0 disables
// the size check.
func (p Profile) Validate(maxImage int) error {
	if _, err := uuid.Parse(p.ID); err != nil {
		return fmt.Errorf("%w: id %q: %v", ErrInvalid, p.ID, err)
	}
	if maxImage > 0 && len(p.ImageData) > maxImage {
		return fmt.Errorf("%w: image is %d bytes, limit %d", ErrInvalid, len(p.ImageData), maxImage)
	}
	return nil
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (%s, %d interests, image=%t)", p.Name, shortID(p.ID), len(p.Interests), p.HasImage())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
