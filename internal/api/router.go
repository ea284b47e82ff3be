package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/agentflow/internal/agent"
	"github.com/kalambet/agentflow/internal/cache"
	"github.com/kalambet/agentflow/internal/docconv"
	"github.com/kalambet/agentflow/internal/documents"
	"github.com/kalambet/agentflow/internal/integrations/github"
	"github.com/kalambet/agentflow/internal/integrations/jira"
	"github.com/kalambet/agentflow/internal/jobs"
	"github.com/kalambet/agentflow/internal/metrics"
	"github.com/kalambet/agentflow/internal/session"
	"github.com/kalambet/agentflow/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadSize      = 20 << 20 // 20MB
)

// ErrNotConnected is returned when an integration is used before connecting.
var ErrNotConnected = errors.New("integration is not connected")

// InteractionLister reads interaction history.
type InteractionLister interface {
	ListInteractions(limit, offset int) ([]storage.Interaction, error)
}

type AppDeps struct {
	Invoker   *agent.Invoker
	Exporter  *docconv.Exporter
	Documents *documents.Service
	State     *session.State
	Jobs      jobs.JobStore
	History   InteractionLister // optional
	Metrics   *metrics.Metrics  // optional; nil disables /metrics
	Token     string

	// GitHub client settings. GitHubAPIURL overrides api.github.com.
	Cache         cache.Cache
	ListingTTL    time.Duration
	DefaultBranch string
	GitHubAPIURL  string

	// NewJira builds a Jira client. Defaults to jira.NewClient.
	NewJira func(jira.Config) (*jira.Client, error)
	// Supabase is probed by /integrations/status when set.
	Supabase StatusProber
}

// NewRouter returns the HTTP surface: public health and metrics endpoints and
// the bearer-protected management and integration routes.
func NewRouter(deps AppDeps) http.Handler {
	if deps.NewJira == nil {
		deps.NewJira = jira.NewClient
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/agents", handleListAgents(deps))
		r.Put("/agents/{id}/file", handleAttachFile(deps))
		r.Delete("/agents/{id}/file", handleDetachFile(deps))
		r.Post("/agents/{id}/invoke", handleInvoke(deps))
		r.Get("/agents/{id}/last", handleLastResponse(deps))
		r.Post("/chain", handleRunChain(deps))
		r.Get("/chain", handleLastChain(deps))
		r.Post("/export", handleExport(deps))
		r.Get("/interactions", handleListInteractions(deps))

		r.Get("/documents", handleListDocuments(deps))
		r.Post("/documents", handleUploadDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Post("/documents/sync", handleSyncDocuments(deps))
		r.Get("/teams", handleListTeams(deps))
		r.Post("/teams", handleCreateTeam(deps))
		r.Get("/session/team", handleGetSessionTeam(deps))
		r.Put("/session/team", handleSelectTeam(deps))

		r.Post("/github/connect", handleGitHubConnect(deps))
		r.Get("/github/branches", handleGitHubBranches(deps))
		r.Get("/github/contents", handleGitHubContents(deps))
		r.Post("/github/import", handleGitHubImport(deps))
		r.Post("/jira/connect", handleJiraConnect(deps))
		r.Get("/jira/projects", handleJiraProjects(deps))
		r.Get("/jira/issues", handleJiraIssues(deps))
		r.Post("/jira/import", handleJiraImport(deps))
		r.Get("/integrations/status", handleIntegrationsStatus(deps))
	})

	return r
}

// GitHubClient builds a client for the connected repository.
func (d AppDeps) GitHubClient() (*github.Client, error) {
	conn := d.State.GitHub()
	if !conn.Connected {
		return nil, fmt.Errorf("github: %w", ErrNotConnected)
	}
	return d.newGitHub(conn)
}

func (d AppDeps) newGitHub(conn github.Connection) (*github.Client, error) {
	if d.GitHubAPIURL != "" {
		return github.NewClientWithAPIURL(conn.URL, conn.Token, d.GitHubAPIURL, d.Cache, d.ListingTTL)
	}
	return github.NewClient(conn.URL, conn.Token, d.Cache, d.ListingTTL)
}

// JiraClient builds a client for the connected Jira site.
func (d AppDeps) JiraClient() (*jira.Client, error) {
	conn := d.State.Jira()
	if !conn.Connected {
		return nil, fmt.Errorf("jira: %w", ErrNotConnected)
	}
	newJira := d.NewJira
	if newJira == nil {
		newJira = jira.NewClient
	}
	return newJira(jira.Config{BaseURL: conn.BaseURL, Email: conn.Email, Token: conn.Token})
}

func (d AppDeps) branch(requested string) string {
	if requested != "" {
		return requested
	}
	if b := d.State.GitHub().Branch; b != "" {
		return b
	}
	if d.DefaultBranch != "" {
		return d.DefaultBranch
	}
	return "main"
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// adapterOK and adapterError write the {success, data|error} envelope used by
// the integration routes.
func adapterOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func adapterError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"success": false, "error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
