// Package viewer serves the local HTTP API the presentation layer talks to.
package viewer

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/petervdpas/profileshare/internal/avatar"
	"github.com/petervdpas/profileshare/internal/discovery"
	"github.com/petervdpas/profileshare/internal/exchange"
	"github.com/petervdpas/profileshare/internal/p2p"
	"github.com/petervdpas/profileshare/internal/profile"
	"github.com/petervdpas/profileshare/internal/session"
	"github.com/petervdpas/profileshare/internal/viewer/routes"
)

type Viewer struct {
	Node    *p2p.Node
	Session *session.Session
	Browser *discovery.Browser
	Coord   *exchange.Coordinator

	Photo *avatar.Store
	Logs  *LogBuffer

	// SaveProfile persists the local profile after edits made through the API.
	SaveProfile   func(p profile.Profile) error
	MaxImageBytes int

	// Debug exposes /api/diag.
	Debug bool
}

// Handler builds the API handler without starting a server.
func Handler(v Viewer) http.Handler {
	mux := http.NewServeMux()

	deps := routes.Deps{
		Coord:         v.Coord,
		Photo:         v.Photo,
		SaveProfile:   v.SaveProfile,
		MaxImageBytes: v.MaxImageBytes,
	}
	if v.Debug {
		deps.Diag = v.diag
	}
	if v.Logs != nil {
		deps.Logs = v.Logs
	}
	routes.Register(mux, deps)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Images carry their own ETag validation.
		if strings.HasSuffix(r.URL.Path, "/image") {
			mux.ServeHTTP(w, r)
			return
		}
		noCache(mux).ServeHTTP(w, r)
	})
}

// Start serves the API on addr until ctx is done.
func Start(ctx context.Context, addr string, v Viewer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(v),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("VIEWER: listening on http://%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (v Viewer) diag() map[string]any {
	out := map[string]any{}
	if v.Node != nil {
		out["node"] = v.Node.DiagSnapshot()
	}
	if v.Session != nil {
		out["session_peers"] = v.Session.Peers()
		out["listening"] = v.Session.Listening()
	}
	if v.Photo != nil {
		out["photo"] = map[string]string{"path": v.Photo.Path(), "hash": v.Photo.Hash()}
	}
	if v.Browser != nil {
		found := v.Browser.Found()
		ids := make([]string, 0, len(found))
		for _, id := range found {
			ids = append(ids, id.String())
		}
		out["found"] = ids
	}
	return out
}
