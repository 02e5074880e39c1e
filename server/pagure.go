package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Just enough of the pagure API for Zuul's pagure driver to accept the
// gateway as a project.

type pullRequest struct {
	Status     string `json:"status"`
	Branch     string `json:"branch"`
	CommitStop string `json:"commit_stop"`
	Flags      any    `json:"flags"`
	ZuulYAML   string `json:"zuul.yaml"`
}

type apiToken struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Expired     bool   `json:"expired"`
}

type connector struct {
	APITokens []apiToken `json:"api_tokens"`
	HookToken string     `json:"hook_token"`
}

type projectInfo struct {
	TotalBranches int       `json:"total_branches"`
	Branches      []string  `json:"branches"`
	Connector     connector `json:"connector"`
}

// handlePullRequestInfo shows a pending job, or sends the browser to the
// newest Zuul build of a job that is gone.
func (s *Server) handlePullRequestInfo(w http.ResponseWriter, r *http.Request) {
	pr := chi.URLParam(r, "pr")
	if job, ok := s.jobs.Get(pr); ok {
		s.writeJSON(w, http.StatusOK, job)
		return
	}

	buildUUID, found, err := s.zuul.LatestBuild(r.Context(), "refs/"+jobRef(pr))
	if err != nil {
		s.log.WithError(err).WithField("job", pr).Warn("lookup builds")
		http.Error(w, "failed to look up builds", http.StatusBadGateway)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, s.zuul.BuildPage(buildUUID), http.StatusFound)
}

// handlePullRequest records the status flags and comments Zuul reports.
func (s *Server) handlePullRequest(w http.ResponseWriter, r *http.Request) {
	pr := chi.URLParam(r, "pr")

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var err error
		if status := r.PostForm.Get("status"); status != "" {
			err = s.jobs.SetStatus(pr, status)
		} else if comment := r.PostForm.Get("comment"); comment != "" {
			err = s.jobs.SetComment(pr, comment)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, pullRequest{
		Status:     "Open",
		Branch:     "master",
		CommitStop: pr,
		ZuulYAML:   "yes",
	})
}

func (s *Server) handleProjectAPI(w http.ResponseWriter, r *http.Request) {
	token := apiToken{
		ID:          1,
		Description: fmt.Sprintf("zuul-token-%d", s.now().Unix()),
	}
	s.writeJSON(w, http.StatusOK, projectInfo{
		TotalBranches: 1,
		Branches:      []string{"master"},
		Connector: connector{
			APITokens: []apiToken{token},
			HookToken: s.token,
		},
	})
}
