package routes

import "net/http"

func registerDiagRoutes(mux *http.ServeMux, d Deps) {
	if d.Diag == nil {
		return
	}
	handleGet(mux, "/api/diag", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Diag())
	})
}
