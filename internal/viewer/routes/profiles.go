package routes

import (
	"net/http"

	"github.com/petervdpas/profileshare/internal/avatar"
)

func registerReceivedRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/profiles: received profiles in arrival order
	handleGet(mux, "/api/profiles", func(w http.ResponseWriter, r *http.Request) {
		received := d.Coord.ReceivedProfiles()
		out := make([]profileView, 0, len(received))
		for _, p := range received {
			out = append(out, newProfileView(p, receivedImageURL(p.ID)))
		}
		writeJSON(w, out)
	})

	handleGet(mux, "/api/profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		p, ok := d.Coord.Received(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeJSON(w, newProfileView(p, receivedImageURL(p.ID)))
	})

	handleGet(mux, "/api/profiles/{id}/image", func(w http.ResponseWriter, r *http.Request) {
		p, ok := d.Coord.Received(r.PathValue("id"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		serveImage(w, r, p.ImageData, p.Name, p.ID)
	})
}

// serveImage writes data with an ETag, or an initials SVG when data is empty.
func serveImage(w http.ResponseWriter, r *http.Request, data []byte, name, seed string) {
	if len(data) == 0 {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(avatar.InitialsSVG(name, seed))
		return
	}

	etag := `"` + avatar.HashBytes(data) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", avatar.ContentType(data))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}
