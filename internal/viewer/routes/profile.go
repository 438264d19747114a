package routes

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/petervdpas/profileshare/internal/avatar"
	"github.com/petervdpas/profileshare/internal/exchange"
	"github.com/petervdpas/profileshare/internal/profile"
	"github.com/petervdpas/profileshare/internal/util"
)

type profileEdit struct {
	Name      string   `json:"name"`
	Bio       string   `json:"bio"`
	Interests []string `json:"interests"`
}

type editResult struct {
	Profile    profileView `json:"profile"`
	Send       string      `json:"send"`
	Recipients int         `json:"recipients"`
	Error      string      `json:"error,omitempty"`
}

func cleanInterests(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// cleanName allows an empty name (it only blocks sending) but otherwise
// applies the display name rules.
func cleanName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil
	}
	return util.ValidateDisplayName(name)
}

func registerProfileRoutes(mux *http.ServeMux, d Deps) {
	// commit runs one edit through the coordinator, persists the result and
	// reports the send outcome.
	commit := func(w http.ResponseWriter, edit func(p *profile.Profile)) {
		res := d.Coord.EditProfile(edit)
		local := d.Coord.LocalProfile()
		if d.SaveProfile != nil {
			if err := d.SaveProfile(local); err != nil {
				log.Printf("VIEWER: save profile: %v", err)
			}
		}
		out := editResult{
			Profile:    newProfileView(local, "/api/profile/image"),
			Send:       res.Outcome.String(),
			Recipients: res.Recipients,
		}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		writeJSON(w, out)
	}

	// GET /api/profile: editable copy of the local profile
	handleGet(mux, "/api/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, newProfileView(d.Coord.LocalProfile(), "/api/profile/image"))
	})

	// PUT /api/profile: replace name, bio and interests
	handlePut(mux, "/api/profile", func(w http.ResponseWriter, r *http.Request) {
		var body profileEdit
		if decodeJSON(w, r, &body) != nil {
			return
		}
		name, err := cleanName(body.Name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		interests := cleanInterests(body.Interests)
		commit(w, func(p *profile.Profile) {
			p.Name = name
			p.Bio = body.Bio
			p.Interests = interests
		})
	})

	// POST /api/profile/interests: append one interest
	handlePost(mux, "/api/profile/interests", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Interest string `json:"interest"`
		}
		if decodeJSON(w, r, &body) != nil {
			return
		}
		interest := strings.TrimSpace(body.Interest)
		if interest == "" {
			writeError(w, http.StatusBadRequest, "interest is empty")
			return
		}
		commit(w, func(p *profile.Profile) {
			p.Interests = append(p.Interests, interest)
		})
	})

	// GET /api/profile/image: own photo or initials fallback
	handleGet(mux, "/api/profile/image", func(w http.ResponseWriter, r *http.Request) {
		local := d.Coord.LocalProfile()
		serveImage(w, r, local.ImageData, local.Name, local.ID)
	})

	// PUT /api/profile/image: raw image body
	handlePut(mux, "/api/profile/image", func(w http.ResponseWriter, r *http.Request) {
		limit := d.MaxImageBytes
		if limit <= 0 {
			limit = profile.DefaultMaxImageBytes
		}
		data, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read error")
			return
		}
		if len(data) > limit {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		if d.Photo != nil {
			err = d.Photo.Write(data)
		} else {
			err = avatar.Check(data, limit)
		}
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, avatar.ErrTooLarge) || errors.Is(err, avatar.ErrUnsupported) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error())
			return
		}
		commit(w, func(p *profile.Profile) {
			p.ImageData = data
		})
	})

	// DELETE /api/profile/image
	handleDelete(mux, "/api/profile/image", func(w http.ResponseWriter, r *http.Request) {
		if d.Photo != nil {
			if err := d.Photo.Delete(); err != nil {
				writeError(w, http.StatusInternalServerError, "delete error")
				return
			}
		}
		commit(w, func(p *profile.Profile) {
			p.ImageData = nil
		})
	})

	// POST /api/profile/send: resend without editing
	handlePost(mux, "/api/profile/send", func(w http.ResponseWriter, r *http.Request) {
		res := d.Coord.SendProfile()
		out := map[string]any{"send": res.Outcome.String(), "recipients": res.Recipients}
		if res.Outcome == exchange.EncodeFailed || res.Outcome == exchange.TransportFailed {
			out["error"] = res.Err.Error()
		}
		writeJSON(w, out)
	})
}
