package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/agentflow/internal/integrations/github"
	"github.com/kalambet/agentflow/internal/integrations/jira"
	"github.com/kalambet/agentflow/internal/session"
)

const statusProbeTimeout = 10 * time.Second

// StatusProber is a remote service that can report whether it is reachable.
type StatusProber interface {
	Ping(ctx context.Context) error
}

// adapterStatus picks the status code for an integration failure. Upstream
// errors are passed through with their raw message and never retried.
func adapterStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, github.ErrInvalidRepoURL), errors.Is(err, jira.ErrInvalidURL):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

type githubConnectRequest struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Branch string `json:"branch"`
}

func handleGitHubConnect(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req githubConnectRequest
		if err := decodeJSON(w, r, &req); err != nil {
			adapterError(w, http.StatusBadRequest, err)
			return
		}
		conn := github.Connection{URL: req.URL, Token: req.Token, Connected: true, Branch: req.Branch}
		c, err := deps.newGitHub(conn)
		if err != nil {
			adapterError(w, http.StatusBadRequest, err)
			return
		}
		branches, err := c.Branches(r.Context())
		if err != nil {
			adapterError(w, adapterStatus(err), fmt.Errorf("connecting to %s: %w", c.Repo(), err))
			return
		}

		conn.Branches = branches
		if conn.Branch == "" {
			conn.Branch = deps.DefaultBranch
			if conn.Branch == "" && len(branches) > 0 {
				conn.Branch = branches[0]
			}
		}
		deps.State.SetGitHub(conn)
		adapterOK(w, conn)
	}
}

func handleGitHubBranches(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.GitHubClient()
		if err != nil {
			adapterError(w, adapterStatus(err), err)
			return
		}
		branches, err := c.Branches(r.Context())
		if err != nil {
			adapterError(w, adapterStatus(err), err)
			return
		}
		adapterOK(w, branches)
	}
}

func handleGitHubContents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.GitHubClient()
		if err != nil {
			adapterError(w, adapterStatus(err), err)
			return
		}
		q := r.URL.Query()
		entries, err := c.Contents(r.Context(), deps.branch(q.Get("branch")), q.Get("path"))
		if err != nil {
			adapterError(w, adapterStatus(err), err)
			return
		}
		if entries == nil {
			entries = []github.Entry{}
		}
		adapterOK(w, entries)
	}
}

type importRequest struct {
	Paths  []string `json:"paths"`
	Keys   []string `json:"keys"`
	Branch string   `json:"branch"`
}

func handleGitHubImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if err := decodeJSON(w, r, &req); err != nil {
			adapterError(w, http.StatusBadRequest, err)
			return
		}
		if len(req.Paths) == 0 {
			adapterError(w, http.StatusBadRequest, errors.New("paths is required"))
			return
		}
		c, err := deps.GitHubClient()
		if err != nil {
			adapterError(w, adapterStatus(err), err)
			return
		}
		outcomes, err := deps.Documents.ImportGitHub(r.Context(), c, deps.branch(req.Branch), req.Paths, deps.State.TeamID())
		if err != nil {
			code, _ := documentStatus(err)
			if code == http.StatusInternalServerError {
				code = adapterStatus(err)
			}
			adapterError(w, code, err)
			return
		}
		adapterOK(w, outcomes)
	}
}

type jiraConnectRequest struct {
	BaseURL string `json:"base_url"`
	Email   string `json:"email"`
	Token   string `json:"token"`
}

// handleJiraConnect rejects a malformed site URL before any request is made.
func handleJiraConnect(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jiraConnectRequest
		if err := decodeJSON(w, r, &req); err != nil {
			adapterError(w, http.StatusBadRequest, err)
			return
		}
		base, err := jira.ValidateBaseURL(req.BaseURL)
		if err != nil {
			adapterError(w, http.StatusBadRequest, err)
			return
		}
		c, err := deps.NewJira(jira.Config{BaseURL: base, Email: req.Email, Token: req.Token})
		if err != nil {
			adapterError(w, http.StatusBadRequest, err)
			return
		}
		user, err := c.Connect(r.Context())
		if err != nil {
			adapterError(w, adapterStatus(err), err)
			return
		}

		conn := session.JiraConnection{
			BaseURL:     base,
			Email:       req.Email,
			Token:       req.Token,
			Connected:   true,
			DisplayName: user.DisplayName,
		}
		deps.State.SetJira(conn)
		adapterOK(w, conn)
	}
}

func handleJiraProjects(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.JiraClient()
		if err != nil {
			adapterError(w, adapterStatus(err), err)
			return
		}
		projects, err := c.Projects(r.Context())
		if err != nil {
			adapterError(w, adapterStatus(err), err)
			return
		}
		if projects == nil {
			projects = []jira.Project{}
		}
		adapterOK(w, projects)
	}
}

// handleJiraIssues searches with ?jql=..., or lists a project's issues with ?project=KEY.
func handleJiraIssues(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		jql := strings.TrimSpace(q.Get("jql"))
		if jql == "" {
			project := strings.TrimSpace(q.Get("project"))
			if project == "" {
				adapterError(w, http.StatusBadRequest, errors.New("jql or project is required"))
				return
			}
			jql = fmt.Sprintf("project = %q ORDER BY created DESC", project)
		}
		c, err := deps.JiraClient()
		if err != nil {
			adapterError(w, adapterStatus(err), err)
			return
		}
		issues, err := c.SearchIssues(r.Context(), jql)
		if err != nil {
			adapterError(w, adapterStatus(err), err)
			return
		}
		if issues == nil {
			issues = []jira.Issue{}
		}
		adapterOK(w, issues)
	}
}

func handleJiraImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if err := decodeJSON(w, r, &req); err != nil {
			adapterError(w, http.StatusBadRequest, err)
			return
		}
		if len(req.Keys) == 0 {
			adapterError(w, http.StatusBadRequest, errors.New("keys is required"))
			return
		}
		c, err := deps.JiraClient()
		if err != nil {
			adapterError(w, adapterStatus(err), err)
			return
		}
		outcomes, err := deps.Documents.ImportJira(r.Context(), c, req.Keys, deps.State.TeamID())
		if err != nil {
			code, _ := documentStatus(err)
			if code == http.StatusInternalServerError {
				code = adapterStatus(err)
			}
			adapterError(w, code, err)
			return
		}
		adapterOK(w, outcomes)
	}
}

// ServiceStatus is the reachability of one integration.
type ServiceStatus struct {
	Configured bool   `json:"configured"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// handleIntegrationsStatus probes every configured integration in parallel.
// A failing probe is reported in its slot and does not cancel the others.
func handleIntegrationsStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), statusProbeTimeout)
		defer cancel()

		probes := map[string]func(context.Context) (bool, error){
			"github": func(ctx context.Context) (bool, error) {
				c, err := deps.GitHubClient()
				if errors.Is(err, ErrNotConnected) {
					return false, nil
				}
				if err != nil {
					return true, err
				}
				return true, c.Ping(ctx)
			},
			"jira": func(ctx context.Context) (bool, error) {
				c, err := deps.JiraClient()
				if errors.Is(err, ErrNotConnected) {
					return false, nil
				}
				if err != nil {
					return true, err
				}
				_, err = c.Connect(ctx)
				return true, err
			},
			"supabase": func(ctx context.Context) (bool, error) {
				if deps.Supabase == nil {
					return false, nil
				}
				return true, deps.Supabase.Ping(ctx)
			},
		}

		names := []string{"github", "jira", "supabase"}
		results := make([]ServiceStatus, len(names))
		var g errgroup.Group
		for i, name := range names {
			probe := probes[name]
			g.Go(func() error {
				configured, err := probe(ctx)
				results[i] = ServiceStatus{Configured: configured, OK: configured && err == nil}
				if err != nil {
					results[i].Error = err.Error()
				}
				return nil
			})
		}
		g.Wait()

		status := make(map[string]ServiceStatus, len(names))
		for i, name := range names {
			status[name] = results[i]
		}
		adapterOK(w, status)
	}
}
