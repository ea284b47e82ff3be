package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/agentflow/internal/agent"
	"github.com/kalambet/agentflow/internal/storage"
)

// agentStatus maps orchestration errors to HTTP status codes.
func agentStatus(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrUnknownAgent):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, agent.ErrEmptyInput), errors.Is(err, agent.ErrChainTooShort), errors.Is(err, agent.ErrNoSeedFile):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "timeout_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// formFile reads the named multipart file part. It returns nil without error
// when the part is absent.
func formFile(r *http.Request, field string) (*agent.File, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", field, err)
	}
	return &agent.File{
		Name:        hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func handleListAgents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Invoker.Registry().List(false))
	}
}

func handleAttachFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
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

		reg := deps.Invoker.Registry()
		if err := reg.Attach(id, *f); err != nil {
			code, typ := agentStatus(err)
			httpError(w, code, typ, "%v", err)
			return
		}
		a, _ := reg.Get(id)
		writeJSON(w, http.StatusOK, a)
	}
}

func handleDetachFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Invoker.Registry().Detach(chi.URLParam(r, "id")); err != nil {
			code, typ := agentStatus(err)
			httpError(w, code, typ, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "detached"})
	}
}

type invokeRequest struct {
	Message string `json:"message"`
}

// handleInvoke accepts either a JSON body {"message"} or a multipart form
// with a message field and an optional file part.
func handleInvoke(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := agent.Request{AgentID: chi.URLParam(r, "id"), Team: deps.State.Team()}

		if isMultipart(r) {
			r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
			if err := r.ParseMultipartForm(maxUploadSize); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
				return
			}
			req.Message = r.FormValue("message")
			f, err := formFile(r, "file")
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			req.File = f
		} else {
			var body invokeRequest
			if err := decodeJSON(w, r, &body); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			req.Message = body.Message
		}

		res, err := deps.Invoker.Invoke(r.Context(), req)
		if err != nil {
			code, typ := agentStatus(err)
			httpError(w, code, typ, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleLastResponse(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, ok := deps.State.LastResponse(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no response recorded for agent %q", id)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type chainRequest struct {
	Agents []string `json:"agents"`
	Seed   struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	} `json:"seed"`
}

// handleRunChain accepts a multipart form (agents field, repeated or comma
// separated, plus a file part) or JSON {"agents", "seed": {"name","content"}}.
func handleRunChain(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		var seed *agent.File

		if isMultipart(r) {
			r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
			if err := r.ParseMultipartForm(maxUploadSize); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
				return
			}
			for _, v := range r.MultipartForm.Value["agents"] {
				ids = append(ids, splitList(v)...)
			}
			f, err := formFile(r, "file")
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			seed = f
		} else {
			var body chainRequest
			if err := decodeJSON(w, r, &body); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			ids = body.Agents
			if body.Seed.Content != "" {
				name := body.Seed.Name
				if name == "" {
					name = "input.txt"
				}
				seed = &agent.File{Name: name, ContentType: "text/plain", Data: []byte(body.Seed.Content)}
			}
		}

		run, err := deps.Invoker.RunChain(r.Context(), ids, seed, deps.State.Team())
		if err != nil {
			code, typ := agentStatus(err)
			httpError(w, code, typ, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleLastChain(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := deps.State.ChainResults()
		if results == nil {
			results = []agent.ChainResult{}
		}
		writeJSON(w, http.StatusOK, agent.ChainRun{Results: results, Output: agent.FormatChain(results)})
	}
}

type exportRequest struct {
	AgentID string `json:"agent_id"`
	Content string `json:"content"`
	// Source "chain" exports the last chain run instead of an agent response.
	Source string `json:"source"`
}

// handleExport converts agent output to a downloadable file. Content defaults
// to the agent's last response.
func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req exportRequest
		if err := decodeJSON(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		var a agent.Agent
		content := req.Content
		switch {
		case req.Source == "chain":
			results := deps.State.ChainResults()
			if len(results) == 0 {
				httpError(w, http.StatusNotFound, "not_found", "no chain run to export")
				return
			}
			a = agent.Agent{ID: "chain", Name: "Chain"}
			content = agent.FormatChain(results)
		case req.AgentID != "":
			var err error
			if a, err = deps.Invoker.Registry().Get(req.AgentID); err != nil {
				code, typ := agentStatus(err)
				httpError(w, code, typ, "%v", err)
				return
			}
			if content == "" {
				last, ok := deps.State.LastResponse(a.ID)
				if !ok {
					httpError(w, http.StatusNotFound, "not_found", "no response recorded for agent %q", a.ID)
					return
				}
				content = last.Response
			}
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "agent_id or source=chain is required")
			return
		}
		if strings.TrimSpace(content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "nothing to export")
			return
		}

		out := deps.Exporter.Export(a, content)
		w.Header().Set("Content-Type", out.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.FileName))
		w.Header().Set("X-Export-Format", out.Format)
		w.Header().Set("X-Export-Tier", out.Tier)
		w.WriteHeader(http.StatusOK)
		w.Write(out.Data)
	}
}

func handleListInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			writeJSON(w, http.StatusOK, []storage.Interaction{})
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		interactions, err := deps.History.ListInteractions(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, interactions)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
