package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const defaultTimeout = 30 * time.Second

// ErrInvalidURL is returned for a base URL that is not https://<subdomain>.atlassian.net.
var ErrInvalidURL = errors.New("jira base URL must look like https://<subdomain>.atlassian.net")

var baseURLPattern = regexp.MustCompile(`^https://[a-zA-Z0-9][a-zA-Z0-9-]*\.atlassian\.net/?$`)

// ValidateBaseURL checks raw and returns it without a trailing slash.
func ValidateBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !baseURLPattern.MatchString(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// Config is the connection settings for a Jira Cloud site.
type Config struct {
	BaseURL string `json:"base_url"`
	Email   string `json:"email"`
	Token   string `json:"-"`
}

// Client talks to the Jira Cloud REST API v3 with basic auth.
type Client struct {
	baseURL    string
	email      string
	token      string
	httpClient *http.Client
}

// NewClient validates cfg.BaseURL before returning a client, so a malformed
// URL never reaches the network.
func NewClient(cfg Config) (*Client, error) {
	base, err := ValidateBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Email == "" || cfg.Token == "" {
		return nil, errors.New("jira email and API token are required")
	}
	return &Client{
		baseURL:    base,
		email:      cfg.Email,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// NewClientWithBaseURL skips URL validation, for pointing at a test server.
func NewClientWithBaseURL(baseURL, email, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// BrowseURL is the human-facing URL of an issue, used as the document URL.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + key
}

type User struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Issue is the subset of issue fields agentflow imports.
type Issue struct {
	Key         string `json:"key"`
	Summary     string `json:"summary"`
	Status      string `json:"status"`
	IssueType   string `json:"issue_type"`
	Description string `json:"description"`
	// Acceptance holds acceptance-criteria style custom fields, flattened to text.
	Acceptance []string `json:"acceptance,omitempty"`
}

// Connect verifies credentials and returns the authenticated user.
func (c *Client) Connect(ctx context.Context) (User, error) {
	var u User
	if err := c.getJSON(ctx, "/rest/api/3/myself", nil, &u); err != nil {
		return User{}, fmt.Errorf("connecting to jira: %w", err)
	}
	return u, nil
}

func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var page struct {
		Values []Project `json:"values"`
	}
	q := url.Values{"maxResults": {"100"}, "orderBy": {"key"}}
	if err := c.getJSON(ctx, "/rest/api/3/project/search", q, &page); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return page.Values, nil
}

// SearchIssues runs a JQL query and returns up to 50 issues.
func (c *Client) SearchIssues(ctx context.Context, jql string) ([]Issue, error) {
	q := url.Values{
		"jql":        {jql},
		"maxResults": {"50"},
		"fields":     {"*all"},
		"expand":     {"names"},
	}
	body, err := c.get(ctx, "/rest/api/3/search/jql", q)
	if err != nil {
		return nil, fmt.Errorf("searching issues: %w", err)
	}
	res := gjson.ParseBytes(body)
	names := res.Get("names")
	var issues []Issue
	res.Get("issues").ForEach(func(_, v gjson.Result) bool {
		issues = append(issues, parseIssue(v, names))
		return true
	})
	return issues, nil
}

func (c *Client) Issue(ctx context.Context, key string) (Issue, error) {
	body, err := c.get(ctx, "/rest/api/3/issue/"+url.PathEscape(key), url.Values{"expand": {"names"}})
	if err != nil {
		return Issue{}, fmt.Errorf("fetching issue %s: %w", key, err)
	}
	res := gjson.ParseBytes(body)
	return parseIssue(res, res.Get("names")), nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	body, err := c.get(ctx, path, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// APIError carries the upstream status and Jira's own error text.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira returned %d: %s", e.Status, e.Message)
}

// errorMessage extracts Jira's errorMessages/errors text, or the raw body.
func errorMessage(body []byte) string {
	var msgs []string
	gjson.GetBytes(body, "errorMessages").ForEach(func(_, v gjson.Result) bool {
		msgs = append(msgs, v.String())
		return true
	})
	gjson.GetBytes(body, "errors").ForEach(func(k, v gjson.Result) bool {
		msgs = append(msgs, k.String()+": "+v.String())
		return true
	})
	if len(msgs) > 0 {
		return strings.Join(msgs, "; ")
	}
	return strings.TrimSpace(string(body))
}
