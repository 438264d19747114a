package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrEncode = errors.New("profile: encode failed")
	ErrDecode = errors.New("profile: decode failed")
)

const (
	// DefaultMaxImageBytes bounds ImageData. Larger photos must be compressed
	// by the caller before they are attached.
	DefaultMaxImageBytes = 256 << 10

	// DefaultMaxPayloadBytes bounds a decoded payload (JSON body, after any
	// frame decompression).
	DefaultMaxPayloadBytes = 1 << 20
)

// Codec turns profiles into framed payloads and back. The zero value uses the
// default limits.
type Codec struct {
	MaxImageBytes   int
	MaxPayloadBytes int
}

func (c Codec) maxImage() int {
	if c.MaxImageBytes > 0 {
		return c.MaxImageBytes
	}
	return DefaultMaxImageBytes
}

func (c Codec) maxPayload() int {
	if c.MaxPayloadBytes > 0 {
		return c.MaxPayloadBytes
	}
	return DefaultMaxPayloadBytes
}

// wireProfile detects missing fields on decode. imageData is the only
// optional field.
type wireProfile struct {
	ID        *string   `json:"id"`
	Name      *string   `json:"name"`
	Bio       *string   `json:"bio"`
	Interests *[]string `json:"interests"`
	ImageData []byte    `json:"imageData,omitempty"`
}

// Marshal encodes p as the JSON body carried inside a frame.
func (c Codec) Marshal(p Profile) ([]byte, error) {
	if err := p.Validate(c.maxImage()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	interests := p.Interests
	if interests == nil {
		interests = []string{}
	}
	w := wireProfile{
		ID:        &p.ID,
		Name:      &p.Name,
		Bio:       &p.Bio,
		Interests: &interests,
		ImageData: p.ImageData,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(b) > c.maxPayload() {
		return nil, fmt.Errorf("%w: body is %d bytes, limit %d", ErrEncode, len(b), c.maxPayload())
	}
	return b, nil
}

// Unmarshal decodes a JSON body. Unknown fields, missing required fields and
// trailing data all fail the message.
func (c Codec) Unmarshal(b []byte) (Profile, error) {
	if len(b) > c.maxPayload() {
		return Profile{}, fmt.Errorf("%w: body is %d bytes, limit %d", ErrDecode, len(b), c.maxPayload())
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var w wireProfile
	if err := dec.Decode(&w); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Profile{}, fmt.Errorf("%w: trailing data after profile", ErrDecode)
	}

	switch {
	case w.ID == nil:
		return Profile{}, fmt.Errorf("%w: missing field id", ErrDecode)
	case w.Name == nil:
		return Profile{}, fmt.Errorf("%w: missing field name", ErrDecode)
	case w.Bio == nil:
		return Profile{}, fmt.Errorf("%w: missing field bio", ErrDecode)
	case w.Interests == nil:
		return Profile{}, fmt.Errorf("%w: missing field interests", ErrDecode)
	}

	p := Profile{
		ID:        *w.ID,
		Name:      *w.Name,
		Bio:       *w.Bio,
		Interests: *w.Interests,
		ImageData: w.ImageData,
	}
	if len(p.ImageData) == 0 {
		p.ImageData = nil
	}
	if err := p.Validate(c.maxImage()); err != nil {
		return Profile{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return p, nil
}

// Encode marshals p and wraps it in a frame, compressing when that helps.
func (c Codec) Encode(p Profile) ([]byte, error) {
	body, err := c.Marshal(p)
	if err != nil {
		return nil, err
	}
	frame, err := wrapFrame(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return frame, nil
}

// Decode unwraps a frame and unmarshals the profile inside it.
func (c Codec) Decode(frame []byte) (Profile, error) {
	body, err := unwrapFrame(frame, c.maxPayload())
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return c.Unmarshal(body)
}

// Encode and Decode with the default limits.
func Encode(p Profile) ([]byte, error)     { return Codec{}.Encode(p) }
func Decode(frame []byte) (Profile, error) { return Codec{}.Decode(frame) }
