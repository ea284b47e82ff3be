package github

import (
	"context"
	"encoding/base64"
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

	"github.com/kalambet/agentflow/internal/cache"
)

const (
	defaultAPIURL  = "https://api.github.com"
	defaultTimeout = 30 * time.Second
)

// ErrInvalidRepoURL is returned for a URL that is not https://github.com/<owner>/<repo>.
var ErrInvalidRepoURL = errors.New("repository URL must look like https://github.com/<owner>/<repo>")

var repoURLPattern = regexp.MustCompile(`^https://github\.com/([A-Za-z0-9][A-Za-z0-9-]*)/([A-Za-z0-9._-]+?)(?:\.git)?/?$`)

// Repo identifies a GitHub repository.
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// ParseRepoURL extracts owner and name from a repository URL.
func ParseRepoURL(raw string) (Repo, error) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}
	return Repo{Owner: m[1], Name: m[2]}, nil
}

// Entry is one item of a directory listing.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "dir"
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

// File is a decoded file blob.
type File struct {
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

// Client reads repository contents with a personal access token.
// Directory listings are cached for listingTTL.
type Client struct {
	repo       Repo
	token      string
	apiURL     string
	httpClient *http.Client
	cache      cache.Cache
	listingTTL time.Duration
}

// NewClient creates a client for repoURL. c may be nil to disable listing cache.
func NewClient(repoURL, token string, c cache.Cache, listingTTL time.Duration) (*Client, error) {
	repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		repo:       repo,
		token:      token,
		apiURL:     defaultAPIURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		cache:      c,
		listingTTL: listingTTL,
	}, nil
}

// NewClientWithAPIURL creates a client against a custom API root (for testing).
func NewClientWithAPIURL(repoURL, token, apiURL string, c cache.Cache, listingTTL time.Duration) (*Client, error) {
	cl, err := NewClient(repoURL, token, c, listingTTL)
	if err != nil {
		return nil, err
	}
	cl.apiURL = strings.TrimRight(apiURL, "/")
	return cl, nil
}

func (c *Client) Repo() Repo { return c.repo }

// BlobURL is the browser URL of path on branch, used as the document URL.
func (c *Client) BlobURL(branch, path string) string {
	return fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", c.repo.Owner, c.repo.Name, branch, strings.TrimPrefix(path, "/"))
}

// Ping checks that the repository is reachable with the configured token.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, c.repoPath(""), nil)
	return err
}

// Branches lists the repository's branch names.
func (c *Client) Branches(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, c.repoPath("/branches"), url.Values{"per_page": {"100"}})
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	var names []string
	gjson.GetBytes(body, "#.name").ForEach(func(_, v gjson.Result) bool {
		names = append(names, v.String())
		return true
	})
	return names, nil
}

// Contents lists the directory at path on branch.
func (c *Client) Contents(ctx context.Context, branch, path string) ([]Entry, error) {
	path = strings.Trim(path, "/")
	key := fmt.Sprintf("github:%s:%s:%s", c.repo, branch, path)
	if c.cache != nil {
		if b, err := c.cache.Get(ctx, key); err == nil {
			var entries []Entry
			if json.Unmarshal(b, &entries) == nil {
				return entries, nil
			}
		}
	}

	body, err := c.get(ctx, c.contentsPath(path), url.Values{"ref": {branch}})
	if err != nil {
		return nil, fmt.Errorf("listing %q on %s: %w", path, branch, err)
	}
	if !gjson.ParseBytes(body).IsArray() {
		return nil, fmt.Errorf("%q on %s is not a directory", path, branch)
	}
	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding listing: %w", err)
	}

	if c.cache != nil && c.listingTTL > 0 {
		if b, err := json.Marshal(entries); err == nil {
			c.cache.Set(ctx, key, b, c.listingTTL)
		}
	}
	return entries, nil
}

// File fetches and decodes a single file.
func (c *Client) File(ctx context.Context, branch, path string) (File, error) {
	path = strings.Trim(path, "/")
	body, err := c.get(ctx, c.contentsPath(path), url.Values{"ref": {branch}})
	if err != nil {
		return File{}, fmt.Errorf("fetching %q on %s: %w", path, branch, err)
	}
	res := gjson.ParseBytes(body)
	if res.Get("type").String() != "file" {
		return File{}, fmt.Errorf("%q on %s is not a file", path, branch)
	}

	f := File{Path: res.Get("path").String(), SHA: res.Get("sha").String()}
	switch enc := res.Get("encoding").String(); enc {
	case "base64":
		raw := strings.ReplaceAll(res.Get("content").String(), "\n", "")
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return File{}, fmt.Errorf("decoding %q: %w", path, err)
		}
		f.Content = string(data)
	case "":
		f.Content = res.Get("content").String()
	default:
		return File{}, fmt.Errorf("unsupported encoding %q for %q", enc, path)
	}
	return f, nil
}

func (c *Client) repoPath(suffix string) string {
	return "/repos/" + url.PathEscape(c.repo.Owner) + "/" + url.PathEscape(c.repo.Name) + suffix
}

func (c *Client) contentsPath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return c.repoPath("/contents/" + strings.Join(segs, "/"))
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.apiURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

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
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return body, nil
}

// APIError carries the upstream status and GitHub's message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github returned %d: %s", e.Status, e.Message)
}
