package locator

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerHandler serves GET /locator?id=<id>[&locality=<loc>] plus the
// health, readiness and metrics endpoints of the standalone locator process.
func (l *Locator) ServerHandler() http.Handler {
	r := chi.NewRouter()
	r.Get("/locator", l.handleLookup)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !l.Ready() {
			http.Error(w, "not ready: "+l.State().String(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (l *Locator) handleLookup(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	var (
		cell string
		err  error
	)
	if locality := r.URL.Query().Get("locality"); locality != "" {
		cell, err = l.LookupInLocality(r.Context(), id, locality)
	} else {
		cell, err = l.Lookup(r.Context(), id)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{id: cell})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLocalityMismatch):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotReady), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("locator: lookup %q: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
