package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/agentflow/internal/documents"
	"github.com/kalambet/agentflow/internal/jobs"
	"github.com/kalambet/agentflow/internal/storage"
)

func documentStatus(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, documents.ErrTeamRequired):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, documents.ErrUnsupportedFile):
		return http.StatusUnsupportedMediaType, "invalid_request_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Documents.List(r.Context(), deps.State.TeamID())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if t := r.URL.Query().Get("type"); t != "" {
			filtered := docs[:0]
			for _, d := range docs {
				if d.Type == t {
					filtered = append(filtered, d)
				}
			}
			docs = filtered
		}
		if docs == nil {
			docs = []storage.Document{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleUploadDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		f, err := formFile(r, "file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if f == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}

		doc, err := deps.Documents.Upload(r.Context(), f.Name, f.Data, deps.State.TeamID())
		if err != nil {
			code, typ := documentStatus(err)
			httpError(w, code, typ, "upload failed: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Documents.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			code, typ := documentStatus(err)
			httpError(w, code, typ, "failed to delete document: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleSyncDocuments queues a background re-import of every document that
// came from the connected GitHub repository. At most one sync is queued at a time.
func handleSyncDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn := deps.State.GitHub()
		if !conn.Connected {
			httpError(w, http.StatusConflict, "invalid_request_error", "connect a GitHub repository first")
			return
		}
		id, queued, err := jobs.EnqueueOnce(deps.Jobs, documents.SyncJobType, map[string]string{"repo": conn.URL})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		status := "queued"
		if !queued {
			status = "already_queued"
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": status})
	}
}

func handleListTeams(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teams, err := deps.Documents.Teams(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list teams: %v", err)
			return
		}
		if teams == nil {
			teams = []storage.Team{}
		}
		writeJSON(w, http.StatusOK, teams)
	}
}

type teamRequest struct {
	Name   string `json:"name"`
	TeamID string `json:"team_id"`
}

func handleCreateTeam(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req teamRequest
		if err := decodeJSON(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		t, err := deps.Documents.CreateTeam(r.Context(), req.Name)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create team: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleGetSessionTeam(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"teams_enabled": deps.Documents.TeamsEnabled(),
			"team":          deps.State.Team(),
		})
	}
}

// handleSelectTeam sets the session team. An empty team_id clears it.
func handleSelectTeam(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req teamRequest
		if err := decodeJSON(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if req.TeamID == "" {
			deps.State.SelectTeam(nil)
			writeJSON(w, http.StatusOK, map[string]any{"team": nil})
			return
		}
		t, err := deps.Documents.Store().GetTeam(r.Context(), req.TeamID)
		if err != nil {
			code, typ := documentStatus(err)
			httpError(w, code, typ, "failed to select team: %v", err)
			return
		}
		deps.State.SelectTeam(&t)
		writeJSON(w, http.StatusOK, map[string]any{"team": t})
	}
}
