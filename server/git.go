package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// The dumb HTTP protocol: HEAD, info/refs and loose objects. The project
// segment is accepted for any name, there is a single repository.

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.repo.Head()))
}

func (s *Server) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(s.repo.InfoRefs()))
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	data, err := s.repo.GetLooseObject(r.Context(), chi.URLParam(r, "nib"), chi.URLParam(r, "rest"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-git-loose-object")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}
