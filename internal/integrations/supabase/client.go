package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/kalambet/agentflow/internal/storage"
)

const defaultTimeout = 30 * time.Second

// Client is a PostgREST client for the Supabase documents and teams tables.
// It satisfies documents.Store.
type Client struct {
	restURL    string
	key        string
	httpClient *http.Client
}

// NewClient creates a client for the project at projectURL (https://<ref>.supabase.co).
func NewClient(projectURL, key string) *Client {
	return &Client{
		restURL:    strings.TrimRight(projectURL, "/") + "/rest/v1",
		key:        key,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// row mirrors the documents table. team_id is null for global documents.
type row struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"document_type"`
	URL       string    `json:"document_url"`
	Text      string    `json:"document_text"`
	SHA       *string   `json:"sha"`
	TeamID    *string   `json:"team_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toRow(d storage.Document) row {
	return row{
		ID:        d.ID,
		Name:      d.Name,
		Type:      d.Type,
		URL:       d.URL,
		Text:      d.Text,
		SHA:       optional(d.SHA),
		TeamID:    optional(d.TeamID),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (r row) document() storage.Document {
	d := storage.Document{
		ID:        r.ID,
		Name:      r.Name,
		Type:      r.Type,
		URL:       r.URL,
		Text:      r.Text,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.SHA != nil {
		d.SHA = *r.SHA
	}
	if r.TeamID != nil {
		d.TeamID = *r.TeamID
	}
	return d
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (c *Client) CreateDocument(ctx context.Context, doc storage.Document) (storage.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().UTC().Truncate(time.Second)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	var rows []row
	if err := c.do(ctx, http.MethodPost, "/documents", nil, toRow(doc), &rows); err != nil {
		return storage.Document{}, fmt.Errorf("inserting document: %w", err)
	}
	if len(rows) == 0 {
		return doc, nil
	}
	return rows[0].document(), nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (storage.Document, error) {
	return c.findOne(ctx, url.Values{"id": {"eq." + id}})
}

// FindDocumentByURL returns the most recently updated document with url.
func (c *Client) FindDocumentByURL(ctx context.Context, docURL string) (storage.Document, error) {
	return c.findOne(ctx, url.Values{
		"document_url": {"eq." + docURL},
		"order":        {"updated_at.desc"},
	})
}

func (c *Client) findOne(ctx context.Context, q url.Values) (storage.Document, error) {
	q.Set("select", "*")
	q.Set("limit", "1")
	var rows []row
	if err := c.do(ctx, http.MethodGet, "/documents", q, nil, &rows); err != nil {
		return storage.Document{}, err
	}
	if len(rows) == 0 {
		return storage.Document{}, storage.ErrNotFound
	}
	return rows[0].document(), nil
}

func (c *Client) UpdateDocument(ctx context.Context, doc storage.Document) error {
	doc.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	patch := map[string]any{
		"name":          doc.Name,
		"document_type": doc.Type,
		"document_url":  doc.URL,
		"document_text": doc.Text,
		"sha":           optional(doc.SHA),
		"team_id":       optional(doc.TeamID),
		"updated_at":    doc.UpdatedAt,
	}
	var rows []row
	if err := c.do(ctx, http.MethodPatch, "/documents", url.Values{"id": {"eq." + doc.ID}}, patch, &rows); err != nil {
		return fmt.Errorf("updating document %s: %w", doc.ID, err)
	}
	if len(rows) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	var rows []row
	if err := c.do(ctx, http.MethodDelete, "/documents", url.Values{"id": {"eq." + id}}, nil, &rows); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if len(rows) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListDocuments applies the same scoping as the local store: a team sees its
// own rows plus global rows.
func (c *Client) ListDocuments(ctx context.Context, f storage.DocumentFilter) ([]storage.Document, error) {
	q := url.Values{
		"select": {"*"},
		"order":  {"created_at.desc,id.asc"},
	}
	if f.TeamID != "" {
		q.Set("or", fmt.Sprintf("(team_id.is.null,team_id.eq.%s)", f.TeamID))
	}
	if f.Type != "" {
		q.Set("document_type", "eq."+f.Type)
	}
	var rows []row
	if err := c.do(ctx, http.MethodGet, "/documents", q, nil, &rows); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	docs := make([]storage.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.document())
	}
	return docs, nil
}

func (c *Client) CreateTeam(ctx context.Context, name string) (storage.Team, error) {
	t := storage.Team{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	var rows []storage.Team
	if err := c.do(ctx, http.MethodPost, "/teams", nil, t, &rows); err != nil {
		return storage.Team{}, fmt.Errorf("creating team: %w", err)
	}
	if len(rows) == 0 {
		return t, nil
	}
	return rows[0], nil
}

func (c *Client) GetTeam(ctx context.Context, id string) (storage.Team, error) {
	var rows []storage.Team
	q := url.Values{"select": {"*"}, "id": {"eq." + id}, "limit": {"1"}}
	if err := c.do(ctx, http.MethodGet, "/teams", q, nil, &rows); err != nil {
		return storage.Team{}, fmt.Errorf("fetching team: %w", err)
	}
	if len(rows) == 0 {
		return storage.Team{}, storage.ErrNotFound
	}
	return rows[0], nil
}

func (c *Client) ListTeams(ctx context.Context) ([]storage.Team, error) {
	var rows []storage.Team
	q := url.Values{"select": {"*"}, "order": {"name.asc"}}
	if err := c.do(ctx, http.MethodGet, "/teams", q, nil, &rows); err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	return rows, nil
}

// Ping checks that the REST endpoint accepts the key.
func (c *Client) Ping(ctx context.Context) error {
	var rows []storage.Team
	return c.do(ctx, http.MethodGet, "/teams", url.Values{"select": {"id"}, "limit": {"1"}}, nil, &rows)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := c.restURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// APIError carries the PostgREST status and message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase returned %d: %s", e.Status, e.Message)
}

func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "message").String(); msg != "" {
		return msg
	}
	return strings.TrimSpace(string(body))
}
