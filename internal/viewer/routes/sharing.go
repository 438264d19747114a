package routes

import "net/http"

type sharingView struct {
	Advertising bool `json:"advertising"`
	Browsing    bool `json:"browsing"`
}

func registerSharingRoutes(mux *http.ServeMux, d Deps) {
	current := func(w http.ResponseWriter) {
		writeJSON(w, sharingView{
			Advertising: d.Coord.Advertising(),
			Browsing:    d.Coord.Browsing(),
		})
	}

	handleGet(mux, "/api/sharing", func(w http.ResponseWriter, r *http.Request) {
		current(w)
	})

	handlePost(mux, "/api/sharing/start", func(w http.ResponseWriter, r *http.Request) {
		d.Coord.StartSharing()
		current(w)
	})

	handlePost(mux, "/api/sharing/stop", func(w http.ResponseWriter, r *http.Request) {
		d.Coord.StopSharing()
		current(w)
	})

	// POST /api/sharing/advertise?on=1
	handlePost(mux, "/api/sharing/advertise", func(w http.ResponseWriter, r *http.Request) {
		on, ok := parseBool(r.URL.Query().Get("on"))
		if !ok {
			writeError(w, http.StatusBadRequest, "on must be a boolean")
			return
		}
		d.Coord.SetAdvertising(on)
		current(w)
	})

	// POST /api/sharing/browse?on=1
	handlePost(mux, "/api/sharing/browse", func(w http.ResponseWriter, r *http.Request) {
		on, ok := parseBool(r.URL.Query().Get("on"))
		if !ok {
			writeError(w, http.StatusBadRequest, "on must be a boolean")
			return
		}
		d.Coord.SetBrowsing(on)
		current(w)
	})
}
