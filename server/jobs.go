package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"git.wyat.me/zuul-gateway/jobs"
	"git.wyat.me/zuul-gateway/vgit"
)

const (
	// TriggerAuthor signs the commits of triggered jobs.
	TriggerAuthor = "Zuul Gateway <zuul@localhost>"
	triggerTitle  = "Trigger event"
	confFile      = "zuul.yaml"

	maxConfSize = 1 << 20
)

func jobRef(name string) string {
	return "pull/" + name + "/head"
}

func (s *Server) handleJobsList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "name"))
	if !ok {
		s.writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleJobTrigger commits the posted zuul.yaml as pull/<name>/head and
// tells Zuul about it. When Zuul can not be reached the ref and the job are
// put back the way they were.
func (s *Server) handleJobTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	log := s.log.WithField("job", name)

	conf, err := io.ReadAll(io.LimitReader(r.Body, maxConfSize+1))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("read body: %w", err))
		return
	}
	if len(conf) > maxConfSize {
		http.Error(w, "zuul.yaml too large", http.StatusRequestEntityTooLarge)
		return
	}
	parsed, err := jobs.ParseConf(conf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ref := jobRef(name)

	// A re-trigger replaces a working job; keep it until Zuul accepts the
	// new one.
	previous, hadJob := s.jobs.Get(name)
	cp, err := s.repo.Checkpoint(ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job := s.jobs.Create(name, parsed)

	commit, err := s.repo.AddRef(ctx, ref, TriggerAuthor, triggerTitle, []vgit.File{{Name: confFile, Content: conf}})
	if err != nil {
		cp.Release(ctx)
		s.jobs.Restore(name, previous, hadJob)
		s.writeError(w, r, err)
		return
	}
	log = log.WithField("commit", commit)

	if err := s.zuul.PullRequestNew(ctx, name); err != nil {
		log.WithError(err).Error("notify zuul")
		if rerr := cp.Rollback(context.WithoutCancel(ctx)); rerr != nil {
			log.WithError(rerr).Warn("rollback ref")
		}
		s.jobs.Restore(name, previous, hadJob)
		http.Error(w, fmt.Sprintf("failure to send payload: %v", err), http.StatusBadGateway)
		return
	}
	cp.Release(ctx)

	log.Info("job triggered")
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	jobErr := s.jobs.Delete(name)
	refErr := s.repo.DeleteRef(r.Context(), jobRef(name))
	if errors.Is(jobErr, jobs.ErrNotFound) && errors.Is(refErr, vgit.ErrNotFound) {
		s.writeError(w, r, jobErr)
		return
	}
	if refErr != nil && !errors.Is(refErr, vgit.ErrNotFound) {
		s.writeError(w, r, refErr)
		return
	}

	s.log.WithFields(logrus.Fields{"job": name}).Info("job removed")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
