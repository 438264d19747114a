package routes

import (
	"net/http"

	"github.com/petervdpas/profileshare/internal/avatar"
	"github.com/petervdpas/profileshare/internal/exchange"
	"github.com/petervdpas/profileshare/internal/profile"
)

type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

type Deps struct {
	Coord *exchange.Coordinator
	Photo *avatar.Store
	Logs  Logs

	// Diag reports node and session internals. Optional.
	Diag func() map[string]any

	// SaveProfile persists the local profile after an edit. Optional.
	SaveProfile func(p profile.Profile) error

	MaxImageBytes int
}

func Register(mux *http.ServeMux, d Deps) {
	registerAPILogRoutes(mux, d)
	registerStateRoutes(mux, d)
	registerSharingRoutes(mux, d)
	registerProfileRoutes(mux, d)
	registerReceivedRoutes(mux, d)
	registerDiagRoutes(mux, d)
}
