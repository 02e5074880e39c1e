package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"git.wyat.me/zuul-gateway/jobs"
	"git.wyat.me/zuul-gateway/vgit"
)

// Notifier is the part of the Zuul client the server needs.
type Notifier interface {
	PullRequestNew(ctx context.Context, job string) error
	LatestBuild(ctx context.Context, ref string) (string, bool, error)
	BuildPage(buildUUID string) string
}

type Server struct {
	repo  *vgit.Store
	jobs  *jobs.Table
	zuul  Notifier
	token string
	log   logrus.FieldLogger
	now   func() time.Time
}

type Option func(*Server)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithHookToken sets the webhook token advertised to Zuul by the project API.
func WithHookToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func New(repo *vgit.Store, jobTable *jobs.Table, zuul Notifier, opts ...Option) *Server {
	s := &Server{
		repo: repo,
		jobs: jobTable,
		zuul: zuul,
		log:  logrus.StandardLogger(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/jobs", s.handleJobsList)
	r.Route("/jobs/{name}", func(r chi.Router) {
		r.Get("/", s.handleJobGet)
		r.Post("/", s.handleJobTrigger)
		r.Delete("/", s.handleJobDelete)
	})

	r.Get("/{proj}/HEAD", s.handleHead)
	r.Get("/{proj}/info/refs", s.handleInfoRefs)
	r.Get("/{proj}/objects/{nib}/{rest}", s.handleObject)
	r.Get("/{proj}/pull-request/{pr}", s.handlePullRequestInfo)

	r.Route("/api/0/{proj}/pull-request/{pr}", func(r chi.Router) {
		r.Get("/", s.handlePullRequest)
		r.Get("/diffstats", s.handlePullRequest)
		r.Get("/flag", s.handlePullRequest)
		r.Post("/flag", s.handlePullRequest)
		r.Post("/comment", s.handlePullRequest)
	})

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut} {
		r.MethodFunc(method, "/*", s.handleProjectAPI)
	}
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("write json response")
	}
}

// writeError maps store and job errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vgit.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, vgit.ErrInvalidRefName):
		status = http.StatusBadRequest
	case errors.Is(err, vgit.ErrProtectedRef), errors.Is(err, vgit.ErrInvalidState):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	http.Error(w, err.Error(), status)
}
