package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/agentflow/internal/metrics"
	"github.com/kalambet/agentflow/internal/storage"
)

const (
	defaultTimeout  = 120 * time.Second
	maxResponseSize = 10 << 20
)

// HistoryStore persists invocation history. Implemented by storage.Store.
type HistoryStore interface {
	SaveInteraction(i storage.Interaction) error
}

// ResultSink receives the latest results for display. Implemented by session.State.
type ResultSink interface {
	SetLastResponse(r Result)
	SetChainResults(results []ChainResult)
}

// Request is a single-agent invocation.
type Request struct {
	AgentID string
	Message string
	// File overrides the agent's attached file when set.
	File *File
	// Team is sent as teamId/teamName/teamData when team scoping is enabled.
	Team *storage.Team
}

// Result is the normalized outcome of one webhook call.
type Result struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Response  string `json:"response"`
	Simulated bool   `json:"simulated"`
	// Cause explains why the response was simulated.
	Cause string `json:"cause,omitempty"`
}

// Options configures an Invoker. Zero values are valid.
type Options struct {
	Timeout      time.Duration
	TeamsEnabled bool
	History      HistoryStore
	Sink         ResultSink
	Metrics      *metrics.Metrics
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Invoker posts agent requests to their webhooks, falling back to a
// simulated response when the webhook is missing or fails.
type Invoker struct {
	registry     *Registry
	httpClient   *http.Client
	timeout      time.Duration
	teamsEnabled bool
	history      HistoryStore
	sink         ResultSink
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewInvoker returns an Invoker resolving agents from reg.
func NewInvoker(reg *Registry, opts Options) *Invoker {
	inv := &Invoker{
		registry:     reg,
		httpClient:   opts.HTTPClient,
		timeout:      opts.Timeout,
		teamsEnabled: opts.TeamsEnabled,
		history:      opts.History,
		sink:         opts.Sink,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
	if inv.httpClient == nil {
		inv.httpClient = &http.Client{}
	}
	if inv.timeout <= 0 {
		inv.timeout = defaultTimeout
	}
	if inv.logger == nil {
		inv.logger = slog.Default()
	}
	return inv
}

// Registry returns the registry the invoker resolves agents from.
func (inv *Invoker) Registry() *Registry {
	return inv.registry
}

// Invoke validates req, calls the agent webhook and records the result.
// Webhook failures never surface as errors; they produce a simulated Result.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (Result, error) {
	a, err := inv.registry.Get(req.AgentID)
	if err != nil {
		return Result{}, err
	}
	file := req.File
	if file == nil {
		file = a.File
	}
	if strings.TrimSpace(req.Message) == "" && file.Size() == 0 {
		return Result{}, ErrEmptyInput
	}

	res, err := inv.call(ctx, a, req.Message, file, req.Team)
	if err != nil {
		return Result{}, err
	}

	inv.record(storage.Interaction{
		Mode:     "single",
		Message:  req.Message,
		FileName: fileName(file),
	}, res)
	if inv.sink != nil {
		inv.sink.SetLastResponse(res)
	}
	if inv.metrics != nil {
		inv.metrics.AgentInvocations.WithLabelValues(a.ID, metrics.Outcome(nil, res.Simulated)).Inc()
	}
	return res, nil
}

// call performs the webhook round trip for a resolved agent. It only returns
// an error when ctx is done.
func (inv *Invoker) call(ctx context.Context, a Agent, message string, file *File, team *storage.Team) (Result, error) {
	res := Result{AgentID: a.ID, AgentName: a.Name}

	url := inv.registry.WebhookURL(a.ID)
	if url == "" {
		res.Cause = "no webhook configured"
	} else {
		body, err := inv.post(ctx, url, a.ID, message, file, team)
		if err == nil {
			res.Response = Normalize(body)
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		res.Cause = err.Error()
	}

	inv.logger.Warn("agent webhook unavailable, using simulated response",
		"agent", a.ID, "cause", res.Cause)
	res.Simulated = true
	res.Response = Simulate(a.ID, simulationInput(message, file))
	return res, nil
}

func (inv *Invoker) post(ctx context.Context, url, agentID, message string, file *File, team *storage.Team) ([]byte, error) {
	body, contentType, err := inv.buildMultipart(agentID, message, file, team)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.8")

	resp, err := inv.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, excerpt(string(respBody)))
	}
	if len(respBody) > maxResponseSize {
		return nil, fmt.Errorf("response exceeds %d bytes", maxResponseSize)
	}
	return respBody, nil
}

func (inv *Invoker) buildMultipart(agentID, message string, file *File, team *storage.Team) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("message", message); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("agent", agentID); err != nil {
		return nil, "", err
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, file.Name))
		ct := file.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
	}
	if inv.teamsEnabled && team != nil {
		teamData, err := json.Marshal(team)
		if err != nil {
			return nil, "", fmt.Errorf("marshaling team: %w", err)
		}
		for _, f := range [][2]string{{"teamId", team.ID}, {"teamName", team.Name}, {"teamData", string(teamData)}} {
			if err := w.WriteField(f[0], f[1]); err != nil {
				return nil, "", err
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// record saves an interaction row. History failures are logged, not returned.
func (inv *Invoker) record(ix storage.Interaction, res Result) {
	if inv.history == nil {
		return
	}
	ix.ID = uuid.New().String()
	ix.CreatedAt = time.Now().UTC()
	ix.AgentID = res.AgentID
	ix.Response = res.Response
	ix.Simulated = res.Simulated
	ix.Error = res.Cause
	if err := inv.history.SaveInteraction(ix); err != nil {
		inv.logger.Error("saving interaction", "agent", res.AgentID, "error", err)
	}
}

func fileName(f *File) string {
	if f == nil {
		return ""
	}
	return f.Name
}

func simulationInput(message string, file *File) string {
	if file == nil || !utf8.Valid(file.Data) {
		return message
	}
	if message == "" {
		return string(file.Data)
	}
	return message + "\n" + string(file.Data)
}
